// Package runstate tracks which scenario run, if any, owns the host.
//
// The Record file is the single RUNNING marker: its presence plus a liveness
// check against the recorded PID is the sole source of truth for "is
// anything running". At most one record exists per store at any time.
package runstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// Record holds the identity of the active run.
type Record struct {
	RunID      string    `json:"run_id"`
	ScenarioID string    `json:"scenario_id"`
	PID        int       `json:"pid"`
	StartedAt  time.Time `json:"started_at"`
}

// ErrBusy is returned by Acquire when a live run already owns the host.
var ErrBusy = errors.New("another run is active")

// ErrNotFound is returned when no record exists.
var ErrNotFound = errors.New("no active run record")

// Prober answers whether the process with the given PID is alive.
type Prober interface {
	Alive(pid int) bool
}

// ProcProber checks liveness with a null signal.
type ProcProber struct{}

// Alive reports whether pid exists and is signalable.
func (ProcProber) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

// Store persists the run record as a single JSON file.
type Store struct {
	path   string
	prober Prober
}

// NewStore returns a store rooted at dir. A nil prober defaults to
// ProcProber.
func NewStore(dir string, prober Prober) *Store {
	if prober == nil {
		prober = ProcProber{}
	}
	return &Store{path: filepath.Join(dir, "running.json"), prober: prober}
}

// Acquire claims the host for a run owned by the current process.
func (s *Store) Acquire(scenarioID string) (Record, error) {
	return s.AcquireFor(scenarioID, os.Getpid())
}

// AcquireFor claims the host for a run owned by pid. It fails with ErrBusy
// while a different live process holds the record; a record already owned by
// pid is adopted (the detached launcher writes it before the child's runner
// starts); a stale record left by a dead process is replaced.
func (s *Store) AcquireFor(scenarioID string, pid int) (Record, error) {
	if cur, err := s.Current(); err == nil {
		switch {
		case cur.PID == pid:
			return cur, nil
		case s.prober.Alive(cur.PID):
			return Record{}, fmt.Errorf("%w: scenario %s pid %d", ErrBusy, cur.ScenarioID, cur.PID)
		}
		// Dead owner: the stale record is replaced below.
	}
	rec := Record{
		RunID:      uuid.New().String(),
		ScenarioID: scenarioID,
		PID:        pid,
		StartedAt:  time.Now().UTC(),
	}
	if err := s.write(rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Rebind transfers the record owned by runID to a new pid. The launcher
// claims the host under its own pid before spawning, then rebinds the
// record to the child.
func (s *Store) Rebind(runID string, pid int) (Record, error) {
	cur, err := s.Current()
	if err != nil {
		return Record{}, err
	}
	if cur.RunID != runID {
		return Record{}, fmt.Errorf("record no longer owned by run %s: %w", runID, ErrNotFound)
	}
	cur.PID = pid
	if err := s.write(cur); err != nil {
		return Record{}, err
	}
	return cur, nil
}

// Current returns the persisted record, or ErrNotFound.
func (s *Store) Current() (Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("corrupt run record: %w", err)
	}
	return rec, nil
}

// Alive reports whether the record's owning process is still alive.
func (s *Store) Alive(rec Record) bool {
	return s.prober.Alive(rec.PID)
}

// Release clears the record if runID still owns it. Releasing a record that
// was already replaced is not an error.
func (s *Store) Release(runID string) error {
	cur, err := s.Current()
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if cur.RunID != runID {
		return nil
	}
	return os.Remove(s.path)
}

// Clear removes the record unconditionally. Used by cleanup for stale
// records.
func (s *Store) Clear() error {
	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *Store) write(rec Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
