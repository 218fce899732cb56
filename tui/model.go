// Package tui renders a live job dashboard in the terminal.
package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/hochfrequenz/posterbadge/web/api"
)

// Tab selects which jobs are listed
type Tab int

const (
	TabActive Tab = iota
	TabFinished
)

// Client is the server API the dashboard uses. *api.Client implements it.
type Client interface {
	ListJobs(ctx context.Context, statuses ...string) ([]api.JobResponse, error)
	Control(ctx context.Context, id, action string) (*api.ControlResponse, error)
}

// Model is the TUI application model
type Model struct {
	client  Client
	refresh time.Duration

	// Data
	jobs []api.JobResponse

	// UI state
	width       int
	height      int
	activeTab   Tab
	selectedRow int
	flash       string
	err         error

	// Refresh
	lastRefresh time.Time
}

// ModelConfig holds the dependencies of the TUI model
type ModelConfig struct {
	Client          Client
	RefreshInterval time.Duration
}

// NewModel creates a new TUI model
func NewModel(cfg ModelConfig) Model {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 2 * time.Second
	}
	return Model{
		client:  cfg.Client,
		refresh: cfg.RefreshInterval,
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.fetchCmd(),
		m.tickCmd(),
	)
}

// TickMsg triggers a refresh
type TickMsg time.Time

// JobsMsg carries a fresh job list
type JobsMsg struct {
	Jobs []api.JobResponse
	Err  error
}

// ControlMsg reports the outcome of a control action
type ControlMsg struct {
	JobID  string
	Action string
	Result *api.ControlResponse
	Err    error
}

func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m Model) fetchCmd() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		jobs, err := client.ListJobs(ctx)
		return JobsMsg{Jobs: jobs, Err: err}
	}
}

func (m Model) controlCmd(id, action string) tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		res, err := client.Control(ctx, id, action)
		return ControlMsg{JobID: id, Action: action, Result: res, Err: err}
	}
}

// visible returns the jobs shown on the active tab
func (m Model) visible() []api.JobResponse {
	var out []api.JobResponse
	for _, j := range m.jobs {
		if j.Status.IsActive() == (m.activeTab == TabActive) {
			out = append(out, j)
		}
	}
	return out
}

// selected returns the highlighted job
func (m Model) selected() (api.JobResponse, bool) {
	jobs := m.visible()
	if m.selectedRow < 0 || m.selectedRow >= len(jobs) {
		return api.JobResponse{}, false
	}
	return jobs[m.selectedRow], true
}
