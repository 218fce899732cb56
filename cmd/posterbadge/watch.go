package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hochfrequenz/posterbadge/internal/config"
	"github.com/hochfrequenz/posterbadge/internal/progress"
	"github.com/spf13/cobra"
)

func runWatch(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	return watchJobs(cmd, client.BaseURL(), args)
}

// watchJobs prints progress of every job until all of them finish or the
// user interrupts.
func watchJobs(cmd *cobra.Command, baseURL string, jobIDs []string) error {
	policy := progress.DefaultRetryPolicy()
	if cfg, err := loadConfig(); err == nil {
		policy = retryPolicy(cfg)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watchers := progress.NewWatchers(baseURL, policy)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs []error

	for _, id := range jobIDs {
		w, err := watchers.Watch(ctx, id)
		if errors.Is(err, progress.ErrAlreadyWatching) {
			continue
		}
		if err != nil {
			return err
		}
		wg.Add(1)
		go func(id string, w *progress.Watcher) {
			defer wg.Done()
			for msg := range w.Updates() {
				printUpdate(msg, len(jobIDs) > 1)
			}
			if err := w.Err(); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("job %s: %w", id, err))
				mu.Unlock()
			}
		}(id, w)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func retryPolicy(cfg *config.Config) progress.RetryPolicy {
	policy := progress.DefaultRetryPolicy()
	if cfg.Progress.RetryDelay.Duration > 0 {
		policy.Delay = cfg.Progress.RetryDelay.Duration
	}
	if cfg.Progress.RetryAttempts > 0 {
		policy.MaxAttempts = cfg.Progress.RetryAttempts
	}
	return policy
}

func printUpdate(msg progress.Message, prefix bool) {
	lead := ""
	if prefix {
		lead = shortJobID(msg.JobID) + " "
	}

	switch msg.Type {
	case progress.TypeProgressUpdate:
		p, err := msg.Progress()
		if err != nil {
			return
		}
		line := fmt.Sprintf("%s%5.1f%%  %s/%s done, %s failed",
			lead, p.ProgressPercentage,
			humanize.Comma(int64(p.Processed())), humanize.Comma(int64(p.TotalPosters)),
			humanize.Comma(int64(p.FailedPosters)))
		if p.CurrentPoster != nil {
			line += "  current " + *p.CurrentPoster
		}
		if p.EstimatedCompletion != nil {
			line += "  eta " + humanize.Time(*p.EstimatedCompletion)
			line += " (" + p.EstimatedCompletion.Format(time.Kitchen) + ")"
		}
		fmt.Println(line)
	case progress.TypeStatusUpdate:
		s, err := msg.Status()
		if err != nil {
			return
		}
		fmt.Printf("%sstatus: %s\n", lead, s.Status)
	}
}

func shortJobID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
