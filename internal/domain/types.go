package domain

// JobStatus represents the lifecycle state of a batch job
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobPaused     JobStatus = "paused"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// AllJobStatuses lists every status in lifecycle order
var AllJobStatuses = []JobStatus{JobQueued, JobProcessing, JobPaused, JobCompleted, JobFailed, JobCancelled}

// ActiveStatuses are the statuses a job can be observed in while work is pending
var ActiveStatuses = []JobStatus{JobQueued, JobProcessing, JobPaused}

// transitions lists the allowed target states per source state.
// queued -> queued is the restart of a stuck job. processing -> queued and
// paused -> queued are recovery paths for jobs whose worker is gone.
var transitions = map[JobStatus][]JobStatus{
	JobQueued:     {JobProcessing, JobQueued, JobCancelled},
	JobProcessing: {JobPaused, JobCancelled, JobCompleted, JobFailed, JobQueued},
	JobPaused:     {JobProcessing, JobCancelled, JobQueued},
}

// IsTerminal reports whether no further transitions are allowed
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// IsActive reports whether the job still has pending work
func (s JobStatus) IsActive() bool {
	return s == JobQueued || s == JobProcessing || s == JobPaused
}

// Valid reports whether s is a known status
func (s JobStatus) Valid() bool {
	for _, known := range AllJobStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// CanTransition reports whether the state machine allows from -> to
func CanTransition(from, to JobStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// SourcesFor returns every status that may transition into to
func SourcesFor(to JobStatus) []JobStatus {
	var from []JobStatus
	for _, s := range AllJobStatuses {
		if CanTransition(s, to) {
			from = append(from, s)
		}
	}
	return from
}

// Outcome is the recorded result of processing one item
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	// OutcomeSkipped marks items that were already processed before the job ran.
	// Skipped items count toward completed_items.
	OutcomeSkipped Outcome = "skipped"
)

// ProcessedStatus is the last known processing state of an item in a library
type ProcessedStatus string

const (
	ProcessedSuccess        ProcessedStatus = "success"
	ProcessedPartialSuccess ProcessedStatus = "partial_success"
	ProcessedFailure        ProcessedStatus = "failure"
)

// CountsAsDone reports whether the reconciler may skip an item in this state
func (s ProcessedStatus) CountsAsDone() bool {
	return s == ProcessedSuccess || s == ProcessedPartialSuccess
}
