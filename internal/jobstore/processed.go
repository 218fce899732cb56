package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hochfrequenz/posterbadge/internal/domain"
)

// UpsertProcessedItem records the latest processing outcome of an item.
// processing_count grows by one on every call.
func (s *Store) UpsertProcessedItem(ctx context.Context, item domain.ProcessedItem) error {
	badgesJSON, err := json.Marshal(item.BadgeTypes)
	if err != nil {
		return err
	}
	if item.LastProcessedAt.IsZero() {
		item.LastProcessedAt = s.now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO processed_items (library_id, item_id, last_status, last_processed_at, processing_count, last_error, badge_types)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(library_id, item_id) DO UPDATE SET
			last_status = excluded.last_status,
			last_processed_at = excluded.last_processed_at,
			processing_count = processed_items.processing_count + 1,
			last_error = excluded.last_error,
			badge_types = excluded.badge_types
	`,
		item.LibraryID,
		item.ItemID,
		string(item.LastStatus),
		formatTime(item.LastProcessedAt),
		nullString(item.LastError),
		string(badgesJSON),
	)
	if err != nil {
		return fmt.Errorf("upsert processed item %s/%s: %w", item.LibraryID, item.ItemID, err)
	}
	return nil
}

// GetProcessedItem returns the processing record of one item
func (s *Store) GetProcessedItem(ctx context.Context, libraryID, itemID string) (*domain.ProcessedItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT library_id, item_id, last_status, last_processed_at, processing_count, last_error, badge_types
		FROM processed_items WHERE library_id = ? AND item_id = ?
	`, libraryID, itemID)

	item, err := scanProcessedItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("processed item %s/%s: %w", libraryID, itemID, domain.ErrNotFound)
	}
	return item, err
}

// ListProcessedItems returns the records of a library, optionally filtered by status
func (s *Store) ListProcessedItems(ctx context.Context, libraryID string, statuses ...domain.ProcessedStatus) ([]domain.ProcessedItem, error) {
	query := `
		SELECT library_id, item_id, last_status, last_processed_at, processing_count, last_error, badge_types
		FROM processed_items WHERE library_id = ?`
	args := []interface{}{libraryID}
	if len(statuses) > 0 {
		query += " AND last_status IN (" + placeholders(len(statuses)) + ")"
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	query += " ORDER BY item_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.ProcessedItem
	for rows.Next() {
		item, err := scanProcessedItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// SuccessfulItems returns the ids of items in a library whose last run succeeded
// fully or partially. It backs the reconciler's fast path.
func (s *Store) SuccessfulItems(ctx context.Context, libraryID string) ([]string, error) {
	items, err := s.ListProcessedItems(ctx, libraryID, domain.ProcessedSuccess, domain.ProcessedPartialSuccess)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ItemID
	}
	return ids, nil
}

func scanProcessedItem(row rowScanner) (*domain.ProcessedItem, error) {
	var item domain.ProcessedItem
	var status, processedAt string
	var lastError, badgesJSON sql.NullString

	if err := row.Scan(&item.LibraryID, &item.ItemID, &status, &processedAt, &item.ProcessingCount, &lastError, &badgesJSON); err != nil {
		return nil, err
	}
	item.LastStatus = domain.ProcessedStatus(status)
	item.LastError = lastError.String

	var err error
	if item.LastProcessedAt, err = parseTime(processedAt); err != nil {
		return nil, err
	}
	if badgesJSON.Valid && badgesJSON.String != "" && badgesJSON.String != "null" {
		if err := json.Unmarshal([]byte(badgesJSON.String), &item.BadgeTypes); err != nil {
			return nil, err
		}
	}
	return &item, nil
}
