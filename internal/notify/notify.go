package notify

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hochfrequenz/posterbadge/internal/domain"
)

// NotificationType represents the type of notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Notification represents a notification to be sent
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
	JobID   string  // Optional job reference
	URL     string  // Optional link to the job
	Fields  []Field // Optional key/value details
}

// Field is one detail line of a notification
type Field struct {
	Name  string
	Value string
}

// FieldSummary joins the fields into a single "name: value" line
func (n Notification) FieldSummary() string {
	parts := make([]string, 0, len(n.Fields))
	for _, f := range n.Fields {
		parts = append(parts, f.Name+": "+f.Value)
	}
	return strings.Join(parts, ", ")
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(n Notification) error
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send sends the notification to all notifiers
func (m *MultiNotifier) Send(n Notification) error {
	var lastErr error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(n Notification) error { return nil }

// ForJob builds the notification sent when a job reaches a terminal state
func ForJob(job *domain.Job) Notification {
	n := Notification{JobID: job.ID}
	name := job.Name
	if name == "" {
		name = job.ID
	}

	switch job.Status {
	case domain.JobCompleted:
		n.Title = "Poster batch completed"
		n.Type = NotifySuccess
		if job.FailedItems > 0 {
			n.Type = NotifyWarning
		}
		n.Message = fmt.Sprintf("%s: %d of %d posters enhanced, %d failed, %d skipped",
			name, job.CompletedItems-job.SkippedItems, job.TotalItems, job.FailedItems, job.SkippedItems)
	case domain.JobFailed:
		n.Title = "Poster batch failed"
		n.Type = NotifyError
		n.Message = fmt.Sprintf("%s: %s", name, job.ErrorMessage)
	case domain.JobCancelled:
		n.Title = "Poster batch cancelled"
		n.Type = NotifyInfo
		n.Message = fmt.Sprintf("%s: cancelled after %d of %d posters", name, job.Processed(), job.TotalItems)
	default:
		n.Title = "Poster batch " + string(job.Status)
		n.Type = NotifyInfo
		n.Message = name
	}

	n.Fields = []Field{
		{Name: "Enhanced", Value: strconv.Itoa(job.CompletedItems - job.SkippedItems)},
		{Name: "Failed", Value: strconv.Itoa(job.FailedItems)},
		{Name: "Skipped", Value: strconv.Itoa(job.SkippedItems)},
		{Name: "Badges", Value: strings.Join(job.BadgeTypes, ", ")},
	}
	return n
}
