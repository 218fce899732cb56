package domain

import "time"

// ProgressSnapshot is the derived state of a job after an item result or a
// status change. It is produced by the orchestrator and consumed by observers.
type ProgressSnapshot struct {
	JobID       string
	Status      JobStatus
	Total       int
	Completed   int
	Failed      int
	CurrentItem string
	// LastItemDuration is how long the most recent item took, zero for status-only snapshots
	LastItemDuration time.Duration
	At               time.Time
}

// Processed returns completed+failed
func (p ProgressSnapshot) Processed() int {
	return p.Completed + p.Failed
}

// SnapshotOf builds a status snapshot from a stored job
func SnapshotOf(j *Job) ProgressSnapshot {
	return ProgressSnapshot{
		JobID:     j.ID,
		Status:    j.Status,
		Total:     j.TotalItems,
		Completed: j.CompletedItems,
		Failed:    j.FailedItems,
		At:        time.Now(),
	}
}
