package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hochfrequenz/posterbadge/internal/domain"
)

// TransitionOptions narrows and annotates a status change
type TransitionOptions struct {
	// From restricts the accepted source states. Empty accepts every state
	// the state machine allows for the target.
	From         []domain.JobStatus
	ErrorMessage string
}

// TransitionJob moves a job to a new status if the state machine allows it.
// The update is guarded on the status read inside the same transaction so a
// concurrent writer can never be overwritten.
func (s *Store) TransitionJob(ctx context.Context, id string, to domain.JobStatus, opts TransitionOptions) (*domain.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var current string
	if err := tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, id).Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
		}
		return nil, err
	}

	from := domain.JobStatus(current)
	if !domain.CanTransition(from, to) || (len(opts.From) > 0 && !containsStatus(opts.From, from)) {
		return nil, fmt.Errorf("%w: %s -> %s for job %s", domain.ErrInvalidTransition, from, to, id)
	}

	now := formatTime(s.now())
	set := []string{"status = ?", "updated_at = ?"}
	args := []interface{}{string(to), now}

	switch to {
	case domain.JobProcessing:
		set = append(set, "started_at = COALESCE(started_at, ?)", "paused_at = NULL")
		args = append(args, now)
	case domain.JobPaused:
		set = append(set, "paused_at = ?")
		args = append(args, now)
	case domain.JobQueued:
		set = append(set, "paused_at = NULL")
	case domain.JobFailed:
		set = append(set, "completed_at = ?", "paused_at = NULL", "error_message = ?")
		args = append(args, now, nullString(opts.ErrorMessage))
	case domain.JobCompleted, domain.JobCancelled:
		set = append(set, "completed_at = ?", "paused_at = NULL")
		args = append(args, now)
	}

	args = append(args, id, current)
	res, err := tx.ExecContext(ctx,
		`UPDATE jobs SET `+strings.Join(set, ", ")+` WHERE id = ? AND status = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("transition job %s to %s: %w", id, to, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, fmt.Errorf("%w: job %s changed concurrently", domain.ErrInvalidTransition, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetJob(ctx, id)
}

// ClaimNextQueued moves the oldest queued job to processing and returns it.
// It returns nil when no job is waiting.
func (s *Store) ClaimNextQueued(ctx context.Context) (*domain.Job, error) {
	for {
		var id string
		err := s.db.QueryRowContext(ctx,
			`SELECT id FROM jobs WHERE status = ? ORDER BY created_at, id LIMIT 1`,
			string(domain.JobQueued)).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		job, err := s.TransitionJob(ctx, id, domain.JobProcessing, TransitionOptions{
			From: []domain.JobStatus{domain.JobQueued},
		})
		if errors.Is(err, domain.ErrInvalidTransition) {
			// another claimant won, try the next one
			continue
		}
		return job, err
	}
}

// Heartbeat refreshes updated_at of a processing job so it is not considered orphaned
func (s *Store) Heartbeat(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET updated_at = ? WHERE id = ? AND status = ?`,
		formatTime(s.now()), id, string(domain.JobProcessing))
	if err != nil {
		return fmt.Errorf("heartbeat job %s: %w", id, err)
	}
	return nil
}

// StaleJobs returns jobs in the given status whose updated_at is older than cutoff
func (s *Store) StaleJobs(ctx context.Context, status domain.JobStatus, cutoff time.Time) ([]*domain.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = ? AND updated_at < ? ORDER BY created_at, id`,
		string(status), formatTime(cutoff))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func containsStatus(list []domain.JobStatus, s domain.JobStatus) bool {
	for _, candidate := range list {
		if candidate == s {
			return true
		}
	}
	return false
}
