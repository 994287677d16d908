package detach

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"pushramp/internal/results"
)

// copiedMarker guards the one-shot bundle copy.
const copiedMarker = "COPIED"

// Watcher waits for a run to finish and archives its bundle exactly once.
// It runs as its own detached task, independent of the run itself.
type Watcher struct {
	root     string
	dest     string
	interval time.Duration
	log      *slog.Logger
}

// NewWatcher polls the results root every interval for completion.
func NewWatcher(resultsRoot, dest string, interval time.Duration, log *slog.Logger) *Watcher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Watcher{root: resultsRoot, dest: dest, interval: interval, log: log}
}

// Watch blocks until the scenario's DONE marker (or ALL_DONE for
// AllScenarios) appears, then copies the bundle to the destination. A
// marker in the destination makes the copy idempotent: a second watcher
// run against the same destination copies nothing.
func (w *Watcher) Watch(ctx context.Context, id string) error {
	for !w.finished(id) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.interval):
		}
	}
	return w.archive(id)
}

func (w *Watcher) finished(id string) bool {
	if id == AllScenarios {
		_, ok := results.AllDone(w.root)
		return ok
	}
	bundle := results.Bundle{Dir: filepath.Join(w.root, id)}
	_, ok := bundle.Done()
	return ok
}

func (w *Watcher) archive(id string) error {
	marker := filepath.Join(w.dest, copiedMarker)
	if _, err := os.Stat(marker); err == nil {
		w.log.Info("bundle already archived", "dest", w.dest)
		return nil
	}
	if err := os.MkdirAll(w.dest, 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}

	src := w.root
	dst := w.dest
	if id != AllScenarios {
		src = filepath.Join(w.root, id)
		dst = filepath.Join(w.dest, id)
	}
	if err := results.CopyDir(src, dst); err != nil {
		return fmt.Errorf("archive bundle: %w", err)
	}
	stamp := time.Now().UTC().Format(time.RFC3339) + "\n"
	if err := os.WriteFile(marker, []byte(stamp), 0o644); err != nil {
		return fmt.Errorf("write archive marker: %w", err)
	}
	w.log.Info("bundle archived", "scenario", id, "dest", w.dest)
	return nil
}
