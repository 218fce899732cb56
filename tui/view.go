package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/hochfrequenz/posterbadge/internal/domain"
	"github.com/hochfrequenz/posterbadge/web/api"
)

var (
	headerStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	runningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	queuedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	tabActiveStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Underline(true)

	tabInactiveStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("244"))

	dimmedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	counts := map[domain.JobStatus]int{}
	for _, j := range m.jobs {
		counts[j.Status]++
	}
	header := fmt.Sprintf(" posterbadge │ Processing: %d │ Paused: %d │ Queued: %d │ Finished: %d ",
		counts[domain.JobProcessing], counts[domain.JobPaused], counts[domain.JobQueued],
		counts[domain.JobCompleted]+counts[domain.JobFailed]+counts[domain.JobCancelled])
	b.WriteString(headerStyle.Width(m.width).Render(header))
	b.WriteString("\n")

	b.WriteString(m.renderTabs())
	b.WriteString("\n")

	b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderJobs()))
	b.WriteString("\n")

	b.WriteString(m.renderStatusBar())
	return b.String()
}

func (m Model) renderTabs() string {
	names := []string{"Active", "Finished"}
	parts := make([]string, len(names))
	for i, name := range names {
		if Tab(i) == m.activeTab {
			parts[i] = tabActiveStyle.Render(name)
		} else {
			parts[i] = tabInactiveStyle.Render(name)
		}
	}
	return " " + strings.Join(parts, "  ")
}

func (m Model) renderJobs() string {
	jobs := m.visible()
	if len(jobs) == 0 {
		if m.activeTab == TabActive {
			return dimmedStyle.Render("No active jobs")
		}
		return dimmedStyle.Render("No finished jobs")
	}

	var b strings.Builder
	for i, j := range jobs {
		line := m.renderJob(j)
		if i == m.selectedRow {
			line = selectedStyle.Render("▸ ") + line
		} else {
			line = "  " + line
		}
		b.WriteString(line)
		if i < len(jobs)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (m Model) renderJob(j api.JobResponse) string {
	status := statusStyle(j.Status).Render(fmt.Sprintf("%-10s", j.Status))
	counts := fmt.Sprintf("%s/%s", humanize.Comma(int64(j.CompletedItems+j.FailedItems)), humanize.Comma(int64(j.TotalItems)))
	if j.FailedItems > 0 {
		counts += warningStyle.Render(fmt.Sprintf(" (%d failed)", j.FailedItems))
	}

	var detail string
	switch j.Status {
	case domain.JobQueued:
		detail = fmt.Sprintf("#%d in queue", j.QueuePosition)
	case domain.JobProcessing, domain.JobPaused:
		detail = progressBar(j.Percentage(), 20)
	default:
		if j.CompletedAt != nil {
			detail = "finished " + humanize.Time(*j.CompletedAt)
		}
		if j.ErrorMessage != "" {
			detail += errorStyle.Render(" " + j.ErrorMessage)
		}
	}

	return fmt.Sprintf("%s %s %-24s %s  %s", shortID(j.ID), status, truncate(j.Name, 24), counts, detail)
}

func (m Model) renderStatusBar() string {
	var parts []string
	if m.err != nil {
		parts = append(parts, errorStyle.Render("refresh failed: "+m.err.Error()))
	} else if !m.lastRefresh.IsZero() {
		parts = append(parts, dimmedStyle.Render("updated "+humanize.Time(m.lastRefresh)))
	}
	if m.flash != "" {
		parts = append(parts, m.flash)
	}
	parts = append(parts, dimmedStyle.Render("tab switch · j/k move · p pause · u resume · c cancel · R restart · r refresh · q quit"))
	return strings.Join(parts, "  ")
}

func statusStyle(s domain.JobStatus) lipgloss.Style {
	switch s {
	case domain.JobProcessing, domain.JobCompleted:
		return runningStyle
	case domain.JobPaused:
		return warningStyle
	case domain.JobFailed:
		return errorStyle
	default:
		return queuedStyle
	}
}

// progressBar renders pct (0..100) as a bar of the given width
func progressBar(pct float64, width int) string {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	filled := int(pct / 100 * float64(width))
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + fmt.Sprintf("] %5.1f%%", pct)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
