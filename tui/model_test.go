package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/hochfrequenz/posterbadge/internal/domain"
	"github.com/hochfrequenz/posterbadge/internal/orchestrator"
	"github.com/hochfrequenz/posterbadge/web/api"
)

type fakeClient struct {
	jobs     []api.JobResponse
	listErr  error
	controls []string
}

func (f *fakeClient) ListJobs(ctx context.Context, statuses ...string) ([]api.JobResponse, error) {
	return f.jobs, f.listErr
}

func (f *fakeClient) Control(ctx context.Context, id, action string) (*api.ControlResponse, error) {
	f.controls = append(f.controls, action+" "+id)
	if action == "resume" {
		return nil, errors.New("conflict")
	}
	return &api.ControlResponse{ControlResult: orchestrator.ControlResult{
		Success:         true,
		Status:          domain.JobProcessing,
		RequestedStatus: domain.JobPaused,
	}}, nil
}

func jobResp(id, name string, status domain.JobStatus, total, done, failed int) api.JobResponse {
	return api.JobResponse{JobHeader: domain.JobHeader{
		ID: id, Name: name, Status: status,
		TotalItems: total, CompletedItems: done, FailedItems: failed,
	}}
}

func sampleJobs() []api.JobResponse {
	finished := time.Now().Add(-time.Hour)
	done := jobResp("job-done-0001", "finished batch", domain.JobFailed, 4, 2, 2)
	done.CompletedAt = &finished
	done.ErrorMessage = "store fault"
	return []api.JobResponse{
		jobResp("job-run-0001", "running batch", domain.JobProcessing, 10, 4, 1),
		jobResp("job-que-0001", "waiting batch", domain.JobQueued, 3, 0, 0),
		done,
	}
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func loaded(t *testing.T, client *fakeClient) Model {
	t.Helper()
	m := NewModel(ModelConfig{Client: client})
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 140, Height: 40})
	m, _ = update(t, m, JobsMsg{Jobs: client.jobs})
	return m
}

func TestNewModel(t *testing.T) {
	m := NewModel(ModelConfig{Client: &fakeClient{}})
	if m.refresh != 2*time.Second {
		t.Errorf("refresh = %s, want 2s", m.refresh)
	}
	if m.activeTab != TabActive {
		t.Errorf("activeTab = %d, want %d", m.activeTab, TabActive)
	}
	if m.View() != "Loading..." {
		t.Errorf("View() before size = %q", m.View())
	}
}

func TestModel_TabsFilterJobs(t *testing.T) {
	m := loaded(t, &fakeClient{jobs: sampleJobs()})

	if got := len(m.visible()); got != 2 {
		t.Errorf("active tab shows %d jobs, want 2", got)
	}
	view := m.View()
	for _, want := range []string{"running batch", "waiting batch", "#0 in queue", "Processing: 1", "Finished: 1"} {
		if !strings.Contains(view, want) {
			t.Errorf("active view missing %q", want)
		}
	}
	if strings.Contains(view, "finished batch") {
		t.Error("active view lists a finished job")
	}

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	if m.activeTab != TabFinished {
		t.Fatalf("activeTab = %d, want %d", m.activeTab, TabFinished)
	}
	view = m.View()
	if !strings.Contains(view, "finished batch") || !strings.Contains(view, "store fault") {
		t.Errorf("finished view = %q", view)
	}
	if !strings.Contains(view, "1 hour ago") {
		t.Error("finished view missing relative time")
	}
}

func TestModel_Navigation(t *testing.T) {
	m := loaded(t, &fakeClient{jobs: sampleJobs()})

	m, _ = update(t, m, key("j"))
	m, _ = update(t, m, key("j"))
	if m.selectedRow != 1 {
		t.Errorf("selectedRow = %d, want 1 (clamped)", m.selectedRow)
	}
	m, _ = update(t, m, key("k"))
	m, _ = update(t, m, key("k"))
	if m.selectedRow != 0 {
		t.Errorf("selectedRow = %d, want 0", m.selectedRow)
	}

	// a shorter list clamps the selection
	m, _ = update(t, m, key("j"))
	m, _ = update(t, m, JobsMsg{Jobs: sampleJobs()[:1]})
	if m.selectedRow != 0 {
		t.Errorf("selectedRow after shrink = %d, want 0", m.selectedRow)
	}
}

func TestModel_ControlActions(t *testing.T) {
	client := &fakeClient{jobs: sampleJobs()}
	m := loaded(t, client)

	m, cmd := update(t, m, key("p"))
	if cmd == nil {
		t.Fatal("pause produced no command")
	}
	msg := cmd()
	ctl, ok := msg.(ControlMsg)
	if !ok {
		t.Fatalf("command returned %T, want ControlMsg", msg)
	}
	if len(client.controls) != 1 || client.controls[0] != "pause job-run-0001" {
		t.Errorf("controls = %v", client.controls)
	}

	m, cmd = update(t, m, ctl)
	if !strings.Contains(m.flash, "paused requested") {
		t.Errorf("flash = %q", m.flash)
	}
	if cmd == nil {
		t.Error("successful control should trigger a refresh")
	}

	_, cmd = update(t, m, key("u"))
	m, _ = update(t, m, cmd())
	if !strings.Contains(m.flash, "failed: conflict") {
		t.Errorf("flash = %q", m.flash)
	}
}

func TestModel_RefreshError(t *testing.T) {
	client := &fakeClient{jobs: sampleJobs()}
	m := loaded(t, client)

	m, _ = update(t, m, JobsMsg{Err: errors.New("connection refused")})
	if len(m.jobs) != 3 {
		t.Errorf("jobs dropped on error: %d", len(m.jobs))
	}
	if !strings.Contains(m.View(), "refresh failed: connection refused") {
		t.Error("view does not show the refresh error")
	}
}

func TestProgressBar(t *testing.T) {
	tests := []struct {
		pct    float64
		filled int
	}{
		{0, 0},
		{50, 5},
		{100, 10},
		{150, 10},
	}
	for _, tt := range tests {
		bar := progressBar(tt.pct, 10)
		if got := strings.Count(bar, "█"); got != tt.filled {
			t.Errorf("progressBar(%v) filled = %d, want %d", tt.pct, got, tt.filled)
		}
	}
}
