package domain

import (
	"fmt"
	"time"
)

// Job is one batch enhancement request spanning one or more items
type Job struct {
	ID             string
	Name           string
	Status         JobStatus
	BadgeTypes     []string
	ItemIDs        []string
	LibraryID      string
	Force          bool
	Owner          string
	TotalItems     int
	CompletedItems int
	FailedItems    int
	SkippedItems   int
	ErrorMessage   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	StartedAt      *time.Time
	PausedAt       *time.Time
	CompletedAt    *time.Time

	// QueuePosition is computed on read for queued jobs (1-based), 0 otherwise
	QueuePosition int
}

// Processed returns the number of items with a recorded result
func (j *Job) Processed() int {
	return j.CompletedItems + j.FailedItems
}

// Remaining returns the number of items still without a result
func (j *Job) Remaining() int {
	if r := j.TotalItems - j.Processed(); r > 0 {
		return r
	}
	return 0
}

// Percentage returns (completed+failed)/total*100
func (j *Job) Percentage() float64 {
	return Percentage(j.Processed(), j.TotalItems)
}

// CheckInvariant verifies completed+failed <= total
func (j *Job) CheckInvariant() error {
	if j.CompletedItems < 0 || j.FailedItems < 0 || j.Processed() > j.TotalItems {
		return fmt.Errorf("%w: job %s completed=%d failed=%d total=%d",
			ErrInvariant, j.ID, j.CompletedItems, j.FailedItems, j.TotalItems)
	}
	return nil
}

// Percentage computes the share of processed items, rounded to two decimals
func Percentage(processed, total int) float64 {
	if total <= 0 {
		return 0
	}
	pct := float64(processed) / float64(total) * 100
	if pct > 100 {
		pct = 100
	}
	return float64(int(pct*100+0.5)) / 100
}

// ItemResult is the recorded outcome of processing a single item within a job
type ItemResult struct {
	JobID        string
	ItemID       string
	Outcome      Outcome
	ErrorMessage string
	ArtifactRef  string
	Duration     time.Duration
	CreatedAt    time.Time
}

// ProcessedItem tracks the last processing state of an item across jobs
type ProcessedItem struct {
	LibraryID       string
	ItemID          string
	LastStatus      ProcessedStatus
	LastProcessedAt time.Time
	ProcessingCount int
	LastError       string
	BadgeTypes      []string
}
