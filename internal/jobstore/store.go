// Package jobstore provides SQLite-backed persistence for batch jobs, their
// per-item results and the processed-item records the reconciler reads.
package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hochfrequenz/posterbadge/internal/domain"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed job persistence
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// SQLite allows a single writer; one connection also keeps ":memory:" databases shared
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateJob inserts a new job. The job must be queued with no recorded items.
func (s *Store) CreateJob(ctx context.Context, job *domain.Job) error {
	if job.Status == "" {
		job.Status = domain.JobQueued
	}
	if job.Status != domain.JobQueued {
		return fmt.Errorf("%w: new job must be queued, got %s", domain.ErrValidation, job.Status)
	}
	if job.TotalItems != len(job.ItemIDs) {
		return fmt.Errorf("%w: total_items %d does not match %d item ids", domain.ErrValidation, job.TotalItems, len(job.ItemIDs))
	}

	badgesJSON, err := json.Marshal(job.BadgeTypes)
	if err != nil {
		return err
	}
	itemsJSON, err := json.Marshal(job.ItemIDs)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, name, status, badge_types, item_ids, library_id, force_reprocess, owner, total_items, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID,
		job.Name,
		string(job.Status),
		string(badgesJSON),
		string(itemsJSON),
		nullString(job.LibraryID),
		job.Force,
		job.Owner,
		job.TotalItems,
		formatTime(job.CreatedAt),
		formatTime(job.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
		}
		return nil, err
	}

	if job.Status == domain.JobQueued {
		positions, err := s.queuePositions(ctx)
		if err != nil {
			return nil, err
		}
		job.QueuePosition = positions[job.ID]
	}
	return job, nil
}

// ListOptions specifies filters for listing jobs
type ListOptions struct {
	Statuses []domain.JobStatus
	Owner    string
	Limit    int
}

// ListJobs returns jobs matching the given options, newest first
func (s *Store) ListJobs(ctx context.Context, opts ListOptions) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	var args []interface{}

	if len(opts.Statuses) > 0 {
		query += " AND status IN (" + placeholders(len(opts.Statuses)) + ")"
		for _, st := range opts.Statuses {
			args = append(args, string(st))
		}
	}
	if opts.Owner != "" {
		query += " AND owner = ?"
		args = append(args, opts.Owner)
	}

	query += " ORDER BY created_at DESC, id"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
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
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var positions map[string]int
	for _, job := range jobs {
		if job.Status != domain.JobQueued {
			continue
		}
		if positions == nil {
			if positions, err = s.queuePositions(ctx); err != nil {
				return nil, err
			}
		}
		job.QueuePosition = positions[job.ID]
	}

	return jobs, nil
}

// ActiveJobs returns every job that is queued, processing or paused
func (s *Store) ActiveJobs(ctx context.Context) ([]*domain.Job, error) {
	return s.ListJobs(ctx, ListOptions{Statuses: domain.ActiveStatuses})
}

// DeleteJob removes a terminal job together with its item results
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if !job.Status.IsTerminal() {
		return fmt.Errorf("%w: cannot delete %s job %s", domain.ErrInvalidTransition, job.Status, id)
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// queuePositions returns the 1-based position of every queued job, oldest first
func (s *Store) queuePositions(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM jobs WHERE status = ? ORDER BY created_at, id`, string(domain.JobQueued))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	positions := make(map[string]int)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		positions[id] = len(positions) + 1
	}
	return positions, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
