package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// actionKeys maps keys to control actions on the selected job
var actionKeys = map[string]string{
	"p": "pause",
	"u": "resume",
	"c": "cancel",
	"R": "restart",
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		key := msg.String()
		switch key {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.fetchCmd()
		case "j", "down":
			if m.selectedRow < len(m.visible())-1 {
				m.selectedRow++
			}
		case "k", "up":
			if m.selectedRow > 0 {
				m.selectedRow--
			}
		case "tab":
			m.activeTab = (m.activeTab + 1) % 2
			m.selectedRow = 0
		}
		if action, ok := actionKeys[key]; ok {
			job, ok := m.selected()
			if !ok {
				return m, nil
			}
			m.flash = fmt.Sprintf("%s %s...", action, shortID(job.ID))
			return m, m.controlCmd(job.ID, action)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case TickMsg:
		return m, tea.Batch(m.fetchCmd(), m.tickCmd())

	case JobsMsg:
		m.err = msg.Err
		if msg.Err == nil {
			m.jobs = msg.Jobs
			m.lastRefresh = time.Now()
			if n := len(m.visible()); m.selectedRow >= n {
				m.selectedRow = n - 1
			}
			if m.selectedRow < 0 {
				m.selectedRow = 0
			}
		}

	case ControlMsg:
		if msg.Err != nil {
			m.flash = fmt.Sprintf("%s %s failed: %v", msg.Action, shortID(msg.JobID), msg.Err)
			return m, nil
		}
		if msg.Result.RequestedStatus != "" {
			m.flash = fmt.Sprintf("%s %s: %s requested", msg.Action, shortID(msg.JobID), msg.Result.RequestedStatus)
		} else {
			m.flash = fmt.Sprintf("%s %s: now %s", msg.Action, shortID(msg.JobID), msg.Result.Status)
		}
		return m, m.fetchCmd()
	}

	return m, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
