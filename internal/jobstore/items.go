package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hochfrequenz/posterbadge/internal/domain"
)

// RecordItemResult writes the outcome of one item and bumps the job counters
// in a single transaction. It refuses writes for jobs that are not processing,
// for items that already have a result, and for writes that would push
// completed+failed past total.
func (s *Store) RecordItemResult(ctx context.Context, res domain.ItemResult) (*domain.Job, error) {
	switch res.Outcome {
	case domain.OutcomeSuccess, domain.OutcomeFailure, domain.OutcomeSkipped:
	default:
		return nil, fmt.Errorf("%w: unknown outcome %q", domain.ErrValidation, res.Outcome)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var status string
	var total, completed, failed int
	err = tx.QueryRowContext(ctx,
		`SELECT status, total_items, completed_items, failed_items FROM jobs WHERE id = ?`, res.JobID,
	).Scan(&status, &total, &completed, &failed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", res.JobID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if domain.JobStatus(status) != domain.JobProcessing {
		return nil, fmt.Errorf("%w: job %s is %s", domain.ErrJobNotActive, res.JobID, status)
	}
	if completed+failed+1 > total {
		return nil, fmt.Errorf("%w: job %s already has %d of %d results", domain.ErrInvariant, res.JobID, completed+failed, total)
	}

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM item_results WHERE job_id = ? AND item_id = ?`, res.JobID, res.ItemID,
	).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if exists > 0 {
		return nil, fmt.Errorf("%w: job %s item %s", domain.ErrDuplicateResult, res.JobID, res.ItemID)
	}

	if res.CreatedAt.IsZero() {
		res.CreatedAt = s.now()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO item_results (job_id, item_id, outcome, error_message, artifact_ref, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		res.JobID,
		res.ItemID,
		string(res.Outcome),
		nullString(res.ErrorMessage),
		nullString(res.ArtifactRef),
		res.Duration.Milliseconds(),
		formatTime(res.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert item result %s/%s: %w", res.JobID, res.ItemID, err)
	}

	counter := "completed_items = completed_items + 1"
	switch res.Outcome {
	case domain.OutcomeFailure:
		counter = "failed_items = failed_items + 1"
	case domain.OutcomeSkipped:
		counter = "completed_items = completed_items + 1, skipped_items = skipped_items + 1"
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE jobs SET `+counter+`, updated_at = ? WHERE id = ?`,
		formatTime(s.now()), res.JobID)
	if err != nil {
		return nil, fmt.Errorf("update counters of job %s: %w", res.JobID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetJob(ctx, res.JobID)
}

// ListItemResults returns the results of a job in the order they were recorded
func (s *Store) ListItemResults(ctx context.Context, jobID string) ([]domain.ItemResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, item_id, outcome, error_message, artifact_ref, duration_ms, created_at
		FROM item_results WHERE job_id = ? ORDER BY id
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.ItemResult
	for rows.Next() {
		var r domain.ItemResult
		var outcome, createdAt string
		var errorMessage, artifactRef sql.NullString
		var durationMs int64

		if err := rows.Scan(&r.JobID, &r.ItemID, &outcome, &errorMessage, &artifactRef, &durationMs, &createdAt); err != nil {
			return nil, err
		}
		r.Outcome = domain.Outcome(outcome)
		r.ErrorMessage = errorMessage.String
		r.ArtifactRef = artifactRef.String
		r.Duration = time.Duration(durationMs) * time.Millisecond
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// RecordedItemIDs returns the set of items of a job that already have a result
func (s *Store) RecordedItemIDs(ctx context.Context, jobID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT item_id FROM item_results WHERE job_id = ?`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recorded := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		recorded[id] = true
	}
	return recorded, rows.Err()
}
