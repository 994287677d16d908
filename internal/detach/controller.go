// Package detach launches runs that outlive the session, inspects their
// state from on-disk artifacts, and fetches finished result bundles.
package detach

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"pushramp/internal/results"
	"pushramp/internal/runstate"
)

// AllScenarios selects the whole suite instead of one scenario.
const AllScenarios = "ALL"

// Execution states derived from on-disk artifacts.
const (
	StateIdle     = "idle"
	StateRunning  = "running"
	StateFinished = "finished"
	StateDone     = "done"
)

// Status is a point-in-time view of the host's run state. It is computed
// from the run record, DONE markers, and process liveness only.
type Status struct {
	State      string
	ScenarioID string
	PID        int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Controller manages detached runs on this host.
type Controller struct {
	store *runstate.Store
	root  string
	log   *slog.Logger
}

// NewController wires a controller over the results root.
func NewController(store *runstate.Store, resultsRoot string, log *slog.Logger) *Controller {
	return &Controller{store: store, root: resultsRoot, log: log}
}

// Launch re-execs this binary with args in its own session so the run
// survives the launching terminal. Output goes to a launch log under the
// results root. The host is claimed under the launcher's pid before any
// process is spawned, then the record is rebound to the child, which
// adopts it on startup. A busy host spawns nothing.
func (c *Controller) Launch(ctx context.Context, id string, args []string) (runstate.Record, error) {
	self, err := os.Executable()
	if err != nil {
		return runstate.Record{}, fmt.Errorf("resolve executable: %w", err)
	}
	if err := os.MkdirAll(c.root, 0o755); err != nil {
		return runstate.Record{}, fmt.Errorf("create results root: %w", err)
	}

	claim, err := c.store.AcquireFor(id, os.Getpid())
	if err != nil {
		return runstate.Record{}, fmt.Errorf("claim host: %w", err)
	}

	logPath := filepath.Join(c.root, fmt.Sprintf("launch-%s.log", id))
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		c.store.Release(claim.RunID)
		return runstate.Record{}, fmt.Errorf("open launch log: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(self, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		c.store.Release(claim.RunID)
		return runstate.Record{}, fmt.Errorf("start detached run: %w", err)
	}
	pid := cmd.Process.Pid
	cmd.Process.Release()

	rec, err := c.store.Rebind(claim.RunID, pid)
	if err != nil {
		// The claim was lost under us; the child must not keep running
		// against a host someone else now owns.
		syscall.Kill(pid, syscall.SIGTERM)
		return runstate.Record{}, fmt.Errorf("record detached run: %w", err)
	}
	c.log.Info("detached run started", "scenario", id, "pid", pid, "log", logPath)
	return rec, nil
}

// Status derives the current state without touching any process beyond a
// liveness probe. A record pointing at a dead PID is reported finished,
// never silently discarded.
func (c *Controller) Status() (Status, error) {
	rec, err := c.store.Current()
	switch {
	case err == nil:
		st := Status{ScenarioID: rec.ScenarioID, PID: rec.PID, StartedAt: rec.StartedAt}
		if c.store.Alive(rec) {
			st.State = StateRunning
		} else {
			st.State = StateFinished
		}
		return st, nil
	case errors.Is(err, runstate.ErrNotFound):
	default:
		return Status{}, err
	}

	if ts, ok := results.AllDone(c.root); ok {
		return Status{State: StateDone, ScenarioID: AllScenarios, FinishedAt: ts}, nil
	}
	if id, ts, ok := c.latestDone(); ok {
		return Status{State: StateDone, ScenarioID: id, FinishedAt: ts}, nil
	}
	return Status{State: StateIdle}, nil
}

// latestDone scans scenario bundles for the most recent DONE marker.
func (c *Controller) latestDone() (string, time.Time, bool) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return "", time.Time{}, false
	}
	var bestID string
	var bestTS time.Time
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		bundle := results.Bundle{Dir: filepath.Join(c.root, e.Name())}
		if ts, ok := bundle.Done(); ok && ts.After(bestTS) {
			bestID = e.Name()
			bestTS = ts
		}
	}
	return bestID, bestTS, bestID != ""
}

// FollowLogs streams the run's log to w, tailing appended lines until ctx
// is cancelled or the run's DONE marker appears.
func (c *Controller) FollowLogs(ctx context.Context, id string, w io.Writer) error {
	path := results.SuiteLogPath(c.root)
	var donePath string
	if id != AllScenarios {
		bundle := results.Bundle{Dir: filepath.Join(c.root, id)}
		path = bundle.MonitorLogPath()
		donePath = bundle.DonePath()
	} else {
		donePath = results.AllDonePath(c.root)
	}

	var offset int64
	for {
		offset = copyTail(path, offset, w)
		if _, err := os.Stat(donePath); err == nil {
			copyTail(path, offset, w)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// copyTail writes bytes past offset to w, tolerating a not-yet-created
// file, and returns the new offset.
func copyTail(path string, offset int64, w io.Writer) int64 {
	f, err := os.Open(path)
	if err != nil {
		return offset
	}
	defer f.Close()
	if _, err := f.Seek(offset, 0); err != nil {
		return offset
	}
	n, _ := io.Copy(w, f)
	return offset + n
}

// FetchResults copies the named scenario bundles to dst. With
// AllScenarios, every bundle under the results root is copied.
func (c *Controller) FetchResults(ids []string, dst string) error {
	if len(ids) == 1 && ids[0] == AllScenarios {
		entries, err := os.ReadDir(c.root)
		if err != nil {
			return fmt.Errorf("list results: %w", err)
		}
		ids = ids[:0]
		for _, e := range entries {
			if e.IsDir() {
				ids = append(ids, e.Name())
			}
		}
	}
	for _, id := range ids {
		src := filepath.Join(c.root, id)
		if _, err := os.Stat(src); err != nil {
			return fmt.Errorf("bundle %s: %w", id, err)
		}
		if err := results.CopyDir(src, filepath.Join(dst, id)); err != nil {
			return fmt.Errorf("copy %s: %w", id, err)
		}
		c.log.Info("bundle fetched", "scenario", id, "dest", dst)
	}
	return nil
}

// Cleanup removes a stale run record and transient monitor artifacts. A
// record with a live PID is left alone.
func (c *Controller) Cleanup() error {
	rec, err := c.store.Current()
	switch {
	case errors.Is(err, runstate.ErrNotFound):
	case err != nil:
		return err
	case c.store.Alive(rec):
		return fmt.Errorf("run %s still alive (pid %d)", rec.ScenarioID, rec.PID)
	default:
		if err := c.store.Clear(); err != nil {
			return fmt.Errorf("clear stale record: %w", err)
		}
		c.log.Info("stale run record removed", "scenario", rec.ScenarioID, "pid", rec.PID)
	}

	entries, err := os.ReadDir(c.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		marker := filepath.Join(c.root, e.Name(), "monitor.alive")
		if err := os.Remove(marker); err != nil && !os.IsNotExist(err) {
			c.log.Warn("marker removal failed", "path", marker, "error", err)
		}
	}
	return nil
}
