package results

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"pushramp/internal/scenario"
)

func TestFinalizeWritesSummaryBeforeDone(t *testing.T) {
	root := t.TempDir()
	b, err := Open(root, "C0")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	spec := scenario.Spec{ID: "C0"}
	sum := Summarize(spec, nil, "completed")
	at := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	if err := b.Finalize(sum, at); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	ts, done := b.Done()
	if !done {
		t.Fatal("DONE marker missing")
	}
	if !ts.Equal(at) {
		t.Fatalf("DONE timestamp %v, want %v", ts, at)
	}
	if _, err := os.Stat(b.SummaryPath()); err != nil {
		t.Fatalf("DONE exists without summary: %v", err)
	}
}

func TestFinalizeIsRepeatable(t *testing.T) {
	root := t.TempDir()
	b, err := Open(root, "C1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sum := Summarize(scenario.Spec{ID: "C1"}, nil, "completed")
	if err := b.Finalize(sum, time.Now()); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	// Deleting the summary and re-running Finalize must recreate both
	// artifacts together, leaving no partial state.
	if err := os.Remove(b.SummaryPath()); err != nil {
		t.Fatalf("remove summary: %v", err)
	}
	if err := b.Finalize(sum, time.Now()); err != nil {
		t.Fatalf("re-Finalize: %v", err)
	}
	if _, err := os.Stat(b.SummaryPath()); err != nil {
		t.Fatalf("summary not recreated: %v", err)
	}
	if _, done := b.Done(); !done {
		t.Fatal("DONE not recreated")
	}
}

func TestCopyDir(t *testing.T) {
	root := t.TempDir()
	b, err := Open(root, "C2")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := os.WriteFile(b.ResultsPath(), []byte("timestamp\n"), 0644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	if err := b.Finalize(Summarize(scenario.Spec{ID: "C2"}, nil, "completed"), time.Now()); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	dst := filepath.Join(t.TempDir(), "archive", "C2")
	if err := CopyDir(b.Dir, dst); err != nil {
		t.Fatalf("CopyDir: %v", err)
	}
	for _, name := range []string{"results.csv", "summary.txt", "DONE"} {
		if _, err := os.Stat(filepath.Join(dst, name)); err != nil {
			t.Errorf("copied bundle missing %s: %v", name, err)
		}
	}
}

func TestSuiteMarkers(t *testing.T) {
	root := t.TempDir()
	if _, ok := AllDone(root); ok {
		t.Fatal("ALL_DONE should not exist yet")
	}
	at := time.Date(2026, 8, 30, 13, 0, 0, 0, time.UTC)
	if err := WriteAllDone(root, at); err != nil {
		t.Fatalf("WriteAllDone: %v", err)
	}
	ts, ok := AllDone(root)
	if !ok || !ts.Equal(at) {
		t.Fatalf("AllDone = %v %v", ts, ok)
	}
}
