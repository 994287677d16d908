// Package tui renders a live status view of the current run for
// `status --watch`.
package tui

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"pushramp/internal/detach"
	"pushramp/internal/results"
)

const (
	tickEvery   = 2 * time.Second
	historyKeep = 500
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	idleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	staleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	alarmStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// StatusSource reports the host's current run state.
type StatusSource interface {
	Status() (detach.Status, error)
}

type tickMsg time.Time

// snapshotMsg carries one refresh of on-disk state into the model.
type snapshotMsg struct {
	status  detach.Status
	err     error
	row     results.Row
	haveRow bool
	health  results.HealthRow
	haveHP  bool
	streak  int
}

// Model is the bubbletea model behind the watch view.
type Model struct {
	source    StatusSource
	root      string
	threshold float64

	vp         viewport.Model
	history    []string
	snap       snapshotMsg
	wrap       bool
	autoscroll bool
	width      int
	height     int
}

// NewModel builds the watch model over the results root.
func NewModel(source StatusSource, resultsRoot string, threshold float64) Model {
	if threshold <= 0 {
		threshold = 95
	}
	return Model{
		source:     source,
		root:       resultsRoot,
		threshold:  threshold,
		vp:         viewport.New(0, 0),
		autoscroll: true,
	}
}

// Watch runs the view until the user quits.
func Watch(source StatusSource, resultsRoot string, threshold float64) error {
	p := tea.NewProgram(NewModel(source, resultsRoot, threshold), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refresh, tick())
}

func tick() tea.Cmd {
	return tea.Tick(tickEvery, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// refresh reads the run record, the latest table rows, and the trailing
// below-threshold streak from disk.
func (m Model) refresh() tea.Msg {
	snap := snapshotMsg{}
	snap.status, snap.err = m.source.Status()
	if snap.err != nil || snap.status.ScenarioID == "" || snap.status.ScenarioID == detach.AllScenarios {
		return snap
	}
	bundle := results.Bundle{Dir: filepath.Join(m.root, snap.status.ScenarioID)}
	if row, ok := results.LastRow(bundle.ResultsPath()); ok {
		snap.row = row
		snap.haveRow = true
	}
	if hp, ok := results.LastHealthRow(bundle.HealthPath()); ok {
		snap.health = hp
		snap.haveHP = true
	}
	snap.streak = trailingStreak(bundle.ResultsPath(), m.threshold)
	return snap
}

// trailingStreak counts consecutive most-recent rows with a present
// success rate below the threshold. An absent rate breaks the streak.
func trailingStreak(path string, threshold float64) int {
	rows, err := results.ReadTable(path)
	if err != nil {
		return 0
	}
	streak := 0
	for i := len(rows) - 1; i >= 0; i-- {
		rate := rows[i].SuccessRate()
		if rate == nil || *rate >= threshold {
			break
		}
		streak++
	}
	return streak
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.vp.Width = msg.Width
		m.vp.Height = max(msg.Height-8, 1)
		m.refreshViewport()
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "w":
			m.wrap = !m.wrap
			m.refreshViewport()
		case "s":
			m.autoscroll = !m.autoscroll
			if m.autoscroll {
				m.vp.GotoBottom()
			}
		case "j", "down":
			m.vp.LineDown(1)
		case "k", "up":
			m.vp.LineUp(1)
		}
	case tickMsg:
		return m, tea.Batch(m.refresh, tick())
	case snapshotMsg:
		m.snap = msg
		if msg.haveRow {
			m.history = append(m.history, rowLine(msg.row))
			if len(m.history) > historyKeep {
				m.history = m.history[len(m.history)-historyKeep:]
			}
			m.refreshViewport()
		}
	}
	return m, nil
}

func (m *Model) refreshViewport() {
	lines := m.history
	if m.wrap && m.vp.Width > 0 {
		wrapped := make([]string, len(lines))
		for i, l := range lines {
			wrapped[i] = wordwrap.String(l, m.vp.Width)
		}
		lines = wrapped
	}
	m.vp.SetContent(strings.Join(lines, "\n"))
	if m.autoscroll {
		m.vp.GotoBottom()
	}
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("pushramp status"))
	b.WriteString("\n")
	b.WriteString(m.renderState())
	b.WriteString("\n")
	b.WriteString(m.renderLatest())
	b.WriteString("\n")
	b.WriteString(strings.Repeat("─", max(m.width, 20)))
	b.WriteString("\n")
	b.WriteString(m.vp.View())
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("q quit  s autoscroll  w wrap  j/k scroll"))
	return b.String()
}

func (m Model) renderState() string {
	if m.snap.err != nil {
		return alarmStyle.Render("state error: " + m.snap.err.Error())
	}
	st := m.snap.status
	switch st.State {
	case detach.StateRunning:
		return runningStyle.Render(fmt.Sprintf("RUNNING %s pid=%d since %s",
			st.ScenarioID, st.PID, st.StartedAt.Format(time.RFC3339)))
	case detach.StateFinished:
		return staleStyle.Render(fmt.Sprintf("FINISHED %s (stale record, pid %d gone)", st.ScenarioID, st.PID))
	case detach.StateDone:
		return doneStyle.Render(fmt.Sprintf("DONE %s at %s", st.ScenarioID, st.FinishedAt.Format(time.RFC3339)))
	default:
		return idleStyle.Render("IDLE")
	}
}

func (m Model) renderLatest() string {
	if !m.snap.haveRow {
		return dimStyle.Render("no results yet")
	}
	line := rowLine(m.snap.row)
	if m.snap.streak > 0 {
		line += "  " + alarmStyle.Render(fmt.Sprintf("below %.0f%% x%d", m.threshold, m.snap.streak))
	}
	if m.snap.haveHP && m.snap.health.Event != "" {
		line += "  " + alarmStyle.Render("event="+m.snap.health.Event)
	}
	return line
}

func rowLine(row results.Row) string {
	parts := []string{row.Timestamp.Format("15:04:05")}
	for _, col := range results.Columns {
		v := row.Value(col)
		if v == nil {
			parts = append(parts, col+"=-")
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%.1f", col, *v))
	}
	return strings.Join(parts, " ")
}
