// Package progress fans out live job progress to any number of observers.
// Messages flow from the orchestrator through a Broadcaster to in-process
// subscriptions and over WebSocket connections to Watcher clients.
package progress

import (
	"encoding/json"
	"time"

	"github.com/hochfrequenz/posterbadge/internal/domain"
)

// Message type constants
const (
	TypeProgressUpdate = "progress_update"
	TypeStatusUpdate   = "status_update"
)

// Message is one update on a job's progress channel. Seq grows by one per
// message and job; observers drop anything not newer than what they have.
type Message struct {
	Type  string          `json:"type"`
	JobID string          `json:"job_id"`
	Seq   uint64          `json:"seq"`
	Data  json.RawMessage `json:"data"`
}

// ProgressData is the payload of a progress_update message
type ProgressData struct {
	TotalPosters        int        `json:"total_posters"`
	CompletedPosters    int        `json:"completed_posters"`
	FailedPosters       int        `json:"failed_posters"`
	ProgressPercentage  float64    `json:"progress_percentage"`
	EstimatedCompletion *time.Time `json:"estimated_completion"`
	CurrentPoster       *string    `json:"current_poster"`
}

// Processed returns completed+failed
func (p ProgressData) Processed() int {
	return p.CompletedPosters + p.FailedPosters
}

// StatusData is the payload of a status_update message
type StatusData struct {
	Status domain.JobStatus `json:"status"`
}

func newMessage(msgType, jobID string, seq uint64, data interface{}) (Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: msgType, JobID: jobID, Seq: seq, Data: raw}, nil
}

// Progress decodes the payload of a progress_update message
func (m Message) Progress() (ProgressData, error) {
	var p ProgressData
	err := json.Unmarshal(m.Data, &p)
	return p, err
}

// Status decodes the payload of a status_update message
func (m Message) Status() (StatusData, error) {
	var s StatusData
	err := json.Unmarshal(m.Data, &s)
	return s, err
}
