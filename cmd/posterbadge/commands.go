package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/hochfrequenz/posterbadge/internal/app"
	"github.com/hochfrequenz/posterbadge/internal/config"
	"github.com/hochfrequenz/posterbadge/tui"
	"github.com/hochfrequenz/posterbadge/web/api"
	"github.com/spf13/cobra"
)

var (
	submitName   string
	submitBadges []string
	submitOwner  string
	submitLib    string
	submitForce  bool
	submitWatch  bool
	listStatus   string
	listOwner    string
	servePort    int
	tuiRefresh   time.Duration
)

func init() {
	// serve command
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator and API server",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)

	// submit command
	submitCmd := &cobra.Command{
		Use:   "submit ITEM...",
		Short: "Submit a batch of posters",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSubmit,
	}
	submitCmd.Flags().StringVar(&submitName, "name", "", "job name")
	submitCmd.Flags().StringSliceVar(&submitBadges, "badges", nil, "badge types or presets")
	submitCmd.Flags().StringVar(&submitOwner, "owner", "", "job owner")
	submitCmd.Flags().StringVar(&submitLib, "library", "", "library id used to skip processed items")
	submitCmd.Flags().BoolVar(&submitForce, "force", false, "process items even if already enhanced")
	submitCmd.Flags().BoolVar(&submitWatch, "watch", false, "follow progress after submitting")
	rootCmd.AddCommand(submitCmd)

	// list command
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE:  runList,
	}
	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by status (comma separated, or active)")
	listCmd.Flags().StringVar(&listOwner, "owner", "", "filter by owner")
	rootCmd.AddCommand(listCmd)

	// show command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "show JOB",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE:  runShow,
	})

	// results command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "results JOB",
		Short: "Show the item results of a job",
		Args:  cobra.ExactArgs(1),
		RunE:  runResults,
	})

	// control commands
	for _, action := range []string{"pause", "resume", "cancel", "restart"} {
		rootCmd.AddCommand(&cobra.Command{
			Use:   action + " JOB",
			Short: strings.ToUpper(action[:1]) + action[1:] + " a job",
			Args:  cobra.ExactArgs(1),
			RunE:  runControl(action),
		})
	}

	// delete command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "delete JOB",
		Short: "Delete a finished job",
		Args:  cobra.ExactArgs(1),
		RunE:  runDelete,
	})

	// watch command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "watch JOB...",
		Short: "Follow live progress of jobs",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runWatch,
	})

	// tui command
	tuiCmd := &cobra.Command{
		Use:   "tui",
		Short: "Launch TUI dashboard",
		RunE:  runTUI,
	}
	tuiCmd.Flags().DurationVar(&tuiRefresh, "refresh", 2*time.Second, "refresh interval")
	rootCmd.AddCommand(tuiCmd)
}

func loadConfig() (*config.Config, error) {
	if dir, err := os.Getwd(); err == nil {
		if path, err := config.LoadDotEnv(dir); err != nil {
			return nil, err
		} else if path != "" {
			log.Printf("loaded environment from %s", path)
		}
	}
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

// newClient returns an API client for --server, falling back to the configured address
func newClient() (*api.Client, error) {
	if serverURL != "" {
		return api.NewClient(serverURL), nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return api.NewClient(cfg.ServerURL()), nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Web.Port = servePort
	}

	a, err := app.New(cfg, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Serving on http://%s\n", cfg.Addr())
	return a.Run(ctx, true)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	id, err := client.CreateJob(cmd.Context(), api.CreateJobRequest{
		Name:       submitName,
		ItemIDs:    args,
		BadgeTypes: submitBadges,
		Owner:      submitOwner,
		LibraryID:  submitLib,
		Force:      submitForce,
	})
	if err != nil {
		return err
	}
	fmt.Println(id)
	if submitWatch {
		return watchJobs(cmd, client.BaseURL(), []string{id})
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	var statuses []string
	if listStatus != "" {
		statuses = strings.Split(listStatus, ",")
	}
	jobs, err := client.ListJobs(cmd.Context(), statuses...)
	if err != nil {
		return err
	}
	if listOwner != "" {
		filtered := jobs[:0]
		for _, j := range jobs {
			if j.Owner == listOwner {
				filtered = append(filtered, j)
			}
		}
		jobs = filtered
	}
	if len(jobs) == 0 {
		fmt.Println("No jobs")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tPROGRESS\tFAILED\tCREATED")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.0f%%\t%d\t%s\n",
			j.ID, j.Name, j.Status, j.Percentage(), j.FailedItems, humanize.Time(j.CreatedAt))
	}
	return w.Flush()
}

func runShow(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	j, err := client.GetJob(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%s\n", j.ID)
	fmt.Fprintf(w, "Name:\t%s\n", j.Name)
	fmt.Fprintf(w, "Status:\t%s\n", j.Status)
	if j.Owner != "" {
		fmt.Fprintf(w, "Owner:\t%s\n", j.Owner)
	}
	fmt.Fprintf(w, "Badges:\t%s\n", strings.Join(j.BadgeTypes, ", "))
	if j.LibraryID != "" {
		fmt.Fprintf(w, "Library:\t%s\n", j.LibraryID)
	}
	fmt.Fprintf(w, "Items:\t%s total, %s completed, %s failed, %s skipped\n",
		humanize.Comma(int64(j.TotalItems)), humanize.Comma(int64(j.CompletedItems)),
		humanize.Comma(int64(j.FailedItems)), humanize.Comma(int64(j.SkippedItems)))
	fmt.Fprintf(w, "Progress:\t%.1f%%\n", j.Percentage())
	if j.QueuePosition > 0 {
		fmt.Fprintf(w, "Queue position:\t%d\n", j.QueuePosition)
	}
	fmt.Fprintf(w, "Created:\t%s\n", humanize.Time(j.CreatedAt))
	if j.StartedAt != nil {
		fmt.Fprintf(w, "Started:\t%s\n", humanize.Time(*j.StartedAt))
	}
	if j.PausedAt != nil {
		fmt.Fprintf(w, "Paused:\t%s\n", humanize.Time(*j.PausedAt))
	}
	if j.CompletedAt != nil {
		fmt.Fprintf(w, "Finished:\t%s\n", humanize.Time(*j.CompletedAt))
	}
	if j.ErrorMessage != "" {
		fmt.Fprintf(w, "Error:\t%s\n", j.ErrorMessage)
	}
	return w.Flush()
}

func runResults(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	results, err := client.Results(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("No results yet")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ITEM\tOUTCOME\tDURATION\tDETAIL")
	for _, r := range results {
		detail := r.ArtifactRef
		if r.ErrorMessage != "" {
			detail = r.ErrorMessage
		}
		d := time.Duration(r.DurationMS) * time.Millisecond
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ItemID, r.Outcome, d, detail)
	}
	return w.Flush()
}

func runControl(action string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		res, err := client.Control(cmd.Context(), args[0], action)
		if err != nil {
			return err
		}
		if res.RequestedStatus != "" {
			fmt.Printf("%s requested for job %s (currently %s)\n", action, args[0], res.Status)
		} else {
			fmt.Printf("Job %s is now %s\n", args[0], res.Status)
		}
		return nil
	}
}

func runDelete(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	if err := client.DeleteJob(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted job %s\n", args[0])
	return nil
}

func runTUI(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	model := tui.NewModel(tui.ModelConfig{
		Client:          client,
		RefreshInterval: tuiRefresh,
	})
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err = p.Run()
	return err
}
