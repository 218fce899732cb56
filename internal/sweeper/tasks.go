package sweeper

import (
	"context"
	"fmt"
	"log"

	"github.com/hochfrequenz/posterbadge/internal/domain"
	"github.com/hochfrequenz/posterbadge/internal/orchestrator"
)

// Task names
const (
	StuckCheckTask   = "stuck_check"
	DebugCleanupTask = "debug_cleanup"
)

// StuckJobs finds and restarts jobs that stopped making progress.
// *orchestrator.Orchestrator implements it.
type StuckJobs interface {
	StuckJobs(ctx context.Context) ([]*domain.Job, error)
	Restart(ctx context.Context, id string) (orchestrator.ControlResult, error)
}

// Cleaner prunes debug captures. *debugcapture.Capture implements it.
type Cleaner interface {
	Cleanup(olderThanDays int) (int, error)
}

// StuckCheck logs stuck jobs and, with autoRestart, re-enqueues them
func StuckCheck(schedule string, jobs StuckJobs, autoRestart bool) Task {
	return Task{
		Name: StuckCheckTask,
		Cron: schedule,
		Run: func(ctx context.Context) error {
			stuck, err := jobs.StuckJobs(ctx)
			if err != nil {
				return fmt.Errorf("list stuck jobs: %w", err)
			}
			for _, job := range stuck {
				log.Printf("job %s is stuck: %s since %s", job.ID, job.Status, job.UpdatedAt.Format("15:04:05"))
				if !autoRestart {
					continue
				}
				if _, err := jobs.Restart(ctx, job.ID); err != nil {
					log.Printf("restart stuck job %s: %v", job.ID, err)
					continue
				}
				log.Printf("restarted stuck job %s", job.ID)
			}
			return nil
		},
	}
}

// DebugCleanup removes debug captures older than retentionDays
func DebugCleanup(schedule string, c Cleaner, retentionDays int) Task {
	return Task{
		Name: DebugCleanupTask,
		Cron: schedule,
		Run: func(ctx context.Context) error {
			n, err := c.Cleanup(retentionDays)
			if err != nil {
				return err
			}
			if n > 0 {
				log.Printf("removed %d debug captures older than %d days", n, retentionDays)
			}
			return nil
		},
	}
}
