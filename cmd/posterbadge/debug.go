package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	debugMinutes int
	debugDays    int
)

func init() {
	debugCmd := &cobra.Command{
		Use:   "debug",
		Short: "Capture and inspect engine traffic",
	}

	enableCmd := &cobra.Command{
		Use:   "enable",
		Short: "Start a time-boxed debug session",
		RunE:  runDebugEnable,
	}
	enableCmd.Flags().IntVar(&debugMinutes, "minutes", 30, "session length in minutes")
	debugCmd.AddCommand(enableCmd)

	debugCmd.AddCommand(&cobra.Command{
		Use:   "disable",
		Short: "End the debug session",
		RunE:  runDebugDisable,
	})
	debugCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the debug state and recent sessions",
		RunE:  runDebugStatus,
	})
	debugCmd.AddCommand(&cobra.Command{
		Use:   "summary JOB",
		Short: "Summarize captured requests of a job",
		Args:  cobra.ExactArgs(1),
		RunE:  runDebugSummary,
	})
	debugCmd.AddCommand(&cobra.Command{
		Use:   "log JOB",
		Short: "Print captured requests of a job as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE:  runDebugLog,
	})

	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove captured data older than --days",
		RunE:  runDebugCleanup,
	}
	cleanupCmd.Flags().IntVar(&debugDays, "days", 7, "retention in days")
	debugCmd.AddCommand(cleanupCmd)

	rootCmd.AddCommand(debugCmd)
}

func runDebugEnable(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	s, err := client.DebugEnable(cmd.Context(), debugMinutes)
	if err != nil {
		return err
	}
	fmt.Printf("Debug session %s enabled until %s\n", s.ID, s.ExpiresAt.Local().Format("15:04:05"))
	return nil
}

func runDebugDisable(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	if _, err := client.DebugDisable(cmd.Context()); err != nil {
		return err
	}
	fmt.Println("Debug capture disabled")
	return nil
}

func runDebugStatus(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	st, err := client.DebugStatus(cmd.Context())
	if err != nil {
		return err
	}

	if st.Enabled {
		fmt.Printf("Enabled: session %s, expires %s\n", st.SessionID, humanize.Time(*st.ExpiresAt))
		fmt.Printf("Jobs captured: %d\n", len(st.ActiveJobs))
	} else {
		fmt.Println("Disabled")
	}
	if len(st.RecentSessions) == 0 {
		return nil
	}

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tENABLED\tJOBS\tREQUESTS")
	for _, s := range st.RecentSessions {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", s.ID, humanize.Time(s.EnabledAt), len(s.JobIDs), humanize.Comma(int64(s.Requests)))
	}
	return w.Flush()
}

func runDebugSummary(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	s, err := client.DebugSummary(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Job %s: %s requests, %s ok, %s failed (%.1f%% success)\n",
		s.JobID, humanize.Comma(int64(s.TotalRequests)), humanize.Comma(int64(s.Successful)),
		humanize.Comma(int64(s.Failed)), s.SuccessRate)

	codes := make([]int, 0, len(s.StatusCodeHistogram))
	for code := range s.StatusCodeHistogram {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	fmt.Println("\nStatus codes:")
	for _, code := range codes {
		label := fmt.Sprint(code)
		if code == 0 {
			label = "none"
		}
		fmt.Printf("  %-6s %d\n", label, s.StatusCodeHistogram[code])
	}

	if len(s.FailurePatterns) > 0 {
		fmt.Println("\nFailure patterns:")
		for _, p := range s.FailurePatterns {
			fmt.Printf("  %4d  %s\n", p.Count, p.Message)
		}
	}
	fmt.Println("\nRecommendations:")
	for _, r := range s.Recommendations {
		fmt.Printf("  - %s\n", r)
	}
	return nil
}

func runDebugLog(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	data, err := client.DebugLog(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

func runDebugCleanup(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	n, err := client.DebugCleanup(cmd.Context(), debugDays)
	if err != nil {
		return err
	}
	fmt.Printf("Removed debug data of %d jobs\n", n)
	return nil
}
