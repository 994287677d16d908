package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"pushramp/internal/detach"
	"pushramp/internal/results"
)

type fakeSource struct{ status detach.Status }

func (f fakeSource) Status() (detach.Status, error) { return f.status, nil }

func row(rate float64) results.Row {
	r := results.NewRow(time.Unix(0, 0).UTC())
	r.Set("success_rate", rate)
	r.Set("p95_ms", 42)
	return r
}

func TestViewShowsRunState(t *testing.T) {
	src := fakeSource{status: detach.Status{State: detach.StateRunning, ScenarioID: "C2", PID: 77, StartedAt: time.Unix(0, 0).UTC()}}
	m := NewModel(src, t.TempDir(), 95)
	mi, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 30})
	m = mi.(Model)
	mi, _ = m.Update(snapshotMsg{status: src.status, row: row(99), haveRow: true})
	m = mi.(Model)

	view := m.View()
	if !strings.Contains(view, "RUNNING C2") {
		t.Fatalf("run state missing from view:\n%s", view)
	}
	if !strings.Contains(view, "success_rate=99.0") {
		t.Fatalf("latest row missing from view:\n%s", view)
	}
}

func TestViewFlagsStreak(t *testing.T) {
	m := NewModel(fakeSource{}, t.TempDir(), 95)
	mi, _ := m.Update(snapshotMsg{row: row(80), haveRow: true, streak: 2})
	m = mi.(Model)
	if !strings.Contains(m.View(), "below 95% x2") {
		t.Fatalf("streak warning missing:\n%s", m.View())
	}
}

func TestQuitKeys(t *testing.T) {
	m := NewModel(fakeSource{}, t.TempDir(), 95)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if msg := cmd(); msg != tea.Quit() {
		t.Fatalf("expected tea.Quit, got %T", msg)
	}
}

func TestScrollToggle(t *testing.T) {
	m := NewModel(fakeSource{}, t.TempDir(), 95)
	m.vp.Height = 1
	m.vp.Width = 40
	for _, r := range []float64{99, 98} {
		mi, _ := m.Update(snapshotMsg{row: row(r), haveRow: true})
		m = mi.(Model)
	}
	if m.vp.YOffset != 1 {
		t.Fatalf("expected autoscroll to bottom, YOffset=%d", m.vp.YOffset)
	}
	mi, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'s'}})
	m = mi.(Model)
	if m.autoscroll {
		t.Fatal("autoscroll should be off")
	}
	mi, _ = m.Update(snapshotMsg{row: row(97), haveRow: true})
	m = mi.(Model)
	if m.vp.YOffset != 1 {
		t.Fatalf("expected YOffset unchanged, got %d", m.vp.YOffset)
	}
}

func TestTrailingStreakReadsTable(t *testing.T) {
	dir := t.TempDir()
	bundle, err := results.Open(dir, "C1")
	if err != nil {
		t.Fatalf("open bundle: %v", err)
	}
	w, err := results.NewTableWriter(bundle.ResultsPath())
	if err != nil {
		t.Fatalf("writer: %v", err)
	}
	for _, rate := range []float64{99, 80, 80} {
		if err := w.WriteRow(row(rate)); err != nil {
			t.Fatalf("write row: %v", err)
		}
	}
	w.Close()

	if got := trailingStreak(bundle.ResultsPath(), 95); got != 2 {
		t.Fatalf("streak = %d, want 2", got)
	}
	if got := trailingStreak(bundle.ResultsPath(), 50); got != 0 {
		t.Fatalf("streak = %d, want 0", got)
	}
}
