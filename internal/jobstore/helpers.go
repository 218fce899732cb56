package jobstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hochfrequenz/posterbadge/internal/domain"
)

const jobColumns = `id, name, status, badge_types, item_ids, library_id, force_reprocess, owner,
	total_items, completed_items, failed_items, skipped_items, error_message,
	created_at, updated_at, started_at, paused_at, completed_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var job domain.Job
	var status, badgesJSON, itemsJSON, createdAt, updatedAt string
	var libraryID, errorMessage, startedAt, pausedAt, completedAt sql.NullString

	err := row.Scan(
		&job.ID, &job.Name, &status, &badgesJSON, &itemsJSON, &libraryID, &job.Force, &job.Owner,
		&job.TotalItems, &job.CompletedItems, &job.FailedItems, &job.SkippedItems, &errorMessage,
		&createdAt, &updatedAt, &startedAt, &pausedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Status = domain.JobStatus(status)
	job.LibraryID = libraryID.String
	job.ErrorMessage = errorMessage.String

	if err := json.Unmarshal([]byte(badgesJSON), &job.BadgeTypes); err != nil {
		return nil, fmt.Errorf("decode badge_types of job %s: %w", job.ID, err)
	}
	if err := json.Unmarshal([]byte(itemsJSON), &job.ItemIDs); err != nil {
		return nil, fmt.Errorf("decode item_ids of job %s: %w", job.ID, err)
	}

	if job.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if job.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if job.StartedAt, err = parseNullTime(startedAt); err != nil {
		return nil, err
	}
	if job.PausedAt, err = parseNullTime(pausedAt); err != nil {
		return nil, err
	}
	if job.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, err
	}

	return &job, nil
}

// timeLayout is fixed width so stored timestamps sort lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
