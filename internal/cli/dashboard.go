package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/thumbgen/tracker/internal/model"
	"github.com/thumbgen/tracker/internal/realtime"
	"github.com/thumbgen/tracker/internal/tracker"
)

// dashboardActions is what the dashboard can ask of the tracking engine.
type dashboardActions interface {
	Remove(key string) bool
	Download(job model.TrackedJob) (string, error)
	Teardown()
}

type snapshotMsg []model.TrackedJob

type connectionMsg struct {
	state realtime.State
	err   error
}

type submitMsg struct {
	result *tracker.SubmitResult
	err    error
}

type downloadMsg struct {
	file string
	path string
	err  error
}

type dashboardModel struct {
	actions dashboardActions

	jobs    []model.TrackedJob
	cursor  int
	conn    realtime.State
	connErr error
	status  string
	spinner spinner.Model
	width   int

	quitting bool
}

var (
	dashTitleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	dashMutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	dashErrorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	dashOKStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	dashWorkStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dashSelStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("230")).Background(lipgloss.Color("62")).Bold(true)
	dashPanelStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	dashHeaderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Underline(true)
)

func newDashboardModel(actions dashboardActions) dashboardModel {
	return dashboardModel{
		actions: actions,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
	}
}

func (m dashboardModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case snapshotMsg:
		m.jobs = msg
		if m.cursor > len(m.jobs)-1 {
			m.cursor = len(m.jobs) - 1
		}
		if m.cursor < 0 {
			m.cursor = 0
		}
		return m, nil
	case connectionMsg:
		m.conn = msg.state
		m.connErr = msg.err
		return m, nil
	case submitMsg:
		m.status = submitStatus(msg.result, msg.err)
		return m, nil
	case downloadMsg:
		if msg.err != nil {
			m.status = "download failed: " + msg.err.Error()
		} else {
			m.status = "saved " + msg.path
		}
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		return m.updateKeys(msg)
	}
	return m, nil
}

func (m dashboardModel) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		if !m.quitting {
			m.quitting = true
			m.actions.Teardown()
		}
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil
	case "down", "j":
		if m.cursor < len(m.jobs)-1 {
			m.cursor++
		}
		return m, nil
	case "x", "delete":
		job, ok := m.selected()
		if !ok {
			m.status = "nothing to remove"
			return m, nil
		}
		if m.actions.Remove(job.Key()) {
			m.status = "stopped tracking " + job.FileName
		}
		return m, nil
	case "d", "enter":
		job, ok := m.selected()
		if !ok {
			return m, nil
		}
		if job.Status != model.JobStatusCompleted || job.ThumbnailURL == "" {
			m.status = job.FileName + " has no thumbnail yet"
			return m, nil
		}
		m.status = "downloading " + job.FileName + "..."
		actions := m.actions
		return m, func() tea.Msg {
			p, err := actions.Download(job)
			return downloadMsg{file: job.FileName, path: p, err: err}
		}
	}
	return m, nil
}

func (m dashboardModel) selected() (model.TrackedJob, bool) {
	if m.cursor < 0 || m.cursor >= len(m.jobs) {
		return model.TrackedJob{}, false
	}
	return m.jobs[m.cursor], true
}

func (m dashboardModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(dashTitleStyle.Render("thumbtrack") + "  " + m.connectionLabel() + "\n")
	b.WriteString(dashMutedStyle.Render(summarize(m.jobs)) + "\n\n")

	var rows strings.Builder
	rows.WriteString(dashHeaderStyle.Render(fmt.Sprintf("  %-32s %-6s %-11s %s", "FILE", "KIND", "STATUS", "RESULT")) + "\n")
	if len(m.jobs) == 0 {
		rows.WriteString(dashMutedStyle.Render("  (no jobs tracked)"))
	}
	for i, job := range m.jobs {
		line := fmt.Sprintf("%-32s %-6s %-11s %s", truncate(job.FileName, 32), job.MediaKind, job.Status, m.result(job))
		if i == m.cursor {
			rows.WriteString(dashSelStyle.Render("> "+line) + "\n")
			continue
		}
		rows.WriteString("  " + m.statusStyle(job.Status).Render(line) + "\n")
	}
	b.WriteString(dashPanelStyle.Render(strings.TrimRight(rows.String(), "\n")) + "\n")

	if m.status != "" {
		b.WriteString(m.status + "\n")
	}
	b.WriteString(dashMutedStyle.Render("up/down: select  d: download  x: remove  q: quit"))
	return b.String()
}

func (m dashboardModel) connectionLabel() string {
	label := m.conn.String()
	switch m.conn {
	case realtime.StateConnected:
		return dashOKStyle.Render("● " + label)
	case realtime.StateConnecting, realtime.StateReconnecting:
		return dashWorkStyle.Render(m.spinner.View() + " " + label)
	case realtime.StateDisconnected:
		if m.connErr != nil {
			return dashErrorStyle.Render("○ " + label + ": " + m.connErr.Error())
		}
		return dashErrorStyle.Render("○ " + label)
	}
	return dashMutedStyle.Render("○ " + label)
}

func (m dashboardModel) result(job model.TrackedJob) string {
	switch job.Status {
	case model.JobStatusCompleted:
		return job.ThumbnailURL
	case model.JobStatusFailed:
		return job.Error
	}
	return m.spinner.View()
}

func (m dashboardModel) statusStyle(s model.JobStatus) lipgloss.Style {
	switch s {
	case model.JobStatusCompleted:
		return dashOKStyle
	case model.JobStatusFailed:
		return dashErrorStyle
	case model.JobStatusProcessing:
		return dashWorkStyle
	}
	return lipgloss.NewStyle()
}

// summarize counts jobs per status, in lifecycle order.
func summarize(jobs []model.TrackedJob) string {
	counts := make(map[model.JobStatus]int)
	for _, j := range jobs {
		counts[j.Status]++
	}
	order := []model.JobStatus{
		model.JobStatusPending,
		model.JobStatusQueued,
		model.JobStatusProcessing,
		model.JobStatusCompleted,
		model.JobStatusFailed,
	}
	parts := []string{fmt.Sprintf("%d jobs", len(jobs))}
	for _, s := range order {
		if counts[s] > 0 {
			parts = append(parts, fmt.Sprintf("%s %d", s, counts[s]))
		}
	}
	return strings.Join(parts, " | ")
}

func submitStatus(result *tracker.SubmitResult, err error) string {
	if err != nil {
		return "upload failed: " + err.Error()
	}
	if result == nil {
		return ""
	}
	msg := fmt.Sprintf("uploaded %d file(s)", len(result.LocalIDs))
	for _, r := range result.Rejected {
		msg += fmt.Sprintf("; rejected %s (%s)", r.Name, r.Reason)
	}
	return msg
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
