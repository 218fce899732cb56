package domain

import "time"

// JobHeader carries the fields every job view shares
type JobHeader struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Status         JobStatus `json:"status"`
	Owner          string    `json:"owner"`
	BadgeTypes     []string  `json:"badge_types"`
	LibraryID      string    `json:"library_id,omitempty"`
	TotalItems     int       `json:"total_items"`
	CompletedItems int       `json:"completed_items"`
	FailedItems    int       `json:"failed_items"`
	SkippedItems   int       `json:"skipped_items"`
	CreatedAt      time.Time `json:"created_at"`
}

// JobView is a job rendered as the variant matching its status. Each variant
// only carries the fields that are meaningful in that state.
type JobView interface {
	Header() JobHeader
	isJobView()
}

// QueuedJob is a job waiting for a worker
type QueuedJob struct {
	JobHeader
	QueuePosition int       `json:"queue_position"`
	QueuedSince   time.Time `json:"queued_since"`
}

// ActiveJob is a job bound to a worker, processing or paused
type ActiveJob struct {
	JobHeader
	ProgressPercentage float64    `json:"progress_percentage"`
	StartedAt          time.Time  `json:"started_at"`
	PausedAt           *time.Time `json:"paused_at,omitempty"`
}

// FinishedJob is a job in a terminal state
type FinishedJob struct {
	JobHeader
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  time.Time  `json:"completed_at"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

func (v QueuedJob) Header() JobHeader   { return v.JobHeader }
func (v ActiveJob) Header() JobHeader   { return v.JobHeader }
func (v FinishedJob) Header() JobHeader { return v.JobHeader }

func (QueuedJob) isJobView()   {}
func (ActiveJob) isJobView()   {}
func (FinishedJob) isJobView() {}

// View converts a stored job into its status-specific variant
func (j *Job) View() JobView {
	h := JobHeader{
		ID:             j.ID,
		Name:           j.Name,
		Status:         j.Status,
		Owner:          j.Owner,
		BadgeTypes:     j.BadgeTypes,
		LibraryID:      j.LibraryID,
		TotalItems:     j.TotalItems,
		CompletedItems: j.CompletedItems,
		FailedItems:    j.FailedItems,
		SkippedItems:   j.SkippedItems,
		CreatedAt:      j.CreatedAt,
	}
	if h.BadgeTypes == nil {
		h.BadgeTypes = []string{}
	}

	switch j.Status {
	case JobQueued:
		return QueuedJob{JobHeader: h, QueuePosition: j.QueuePosition, QueuedSince: j.UpdatedAt}
	case JobProcessing, JobPaused:
		v := ActiveJob{JobHeader: h, ProgressPercentage: j.Percentage()}
		if j.StartedAt != nil {
			v.StartedAt = *j.StartedAt
		}
		if j.Status == JobPaused {
			v.PausedAt = j.PausedAt
		}
		return v
	default:
		v := FinishedJob{JobHeader: h, StartedAt: j.StartedAt}
		if j.CompletedAt != nil {
			v.CompletedAt = *j.CompletedAt
		}
		if j.Status == JobFailed {
			v.ErrorMessage = j.ErrorMessage
		}
		return v
	}
}
