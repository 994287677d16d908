package runstate

import (
	"errors"
	"os"
	"testing"
)

// fakeProber marks a fixed set of PIDs as alive.
type fakeProber map[int]bool

func (f fakeProber) Alive(pid int) bool { return f[pid] }

func TestAcquireRelease(t *testing.T) {
	s := NewStore(t.TempDir(), fakeProber{os.Getpid(): true})
	rec, err := s.Acquire("C1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if rec.ScenarioID != "C1" || rec.PID != os.Getpid() || rec.RunID == "" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	cur, err := s.Current()
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if cur.RunID != rec.RunID {
		t.Fatalf("current %+v != acquired %+v", cur, rec)
	}

	if err := s.Release(rec.RunID); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := s.Current(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after release, got %v", err)
	}
}

func TestAcquireBusyWhileOwnerAlive(t *testing.T) {
	s := NewStore(t.TempDir(), fakeProber{4242: true})
	if _, err := s.AcquireFor("C1", 4242); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if _, err := s.AcquireFor("C2", 4343); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
}

func TestAcquireReplacesStaleRecord(t *testing.T) {
	s := NewStore(t.TempDir(), fakeProber{4343: true})
	first, err := s.AcquireFor("C1", 4242) // 4242 is dead per prober
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	second, err := s.AcquireFor("C2", 4343)
	if err != nil {
		t.Fatalf("acquire over stale record: %v", err)
	}
	if second.RunID == first.RunID {
		t.Fatal("stale record not replaced")
	}
	cur, _ := s.Current()
	if cur.ScenarioID != "C2" {
		t.Fatalf("current record: %+v", cur)
	}
}

func TestAcquireAdoptsOwnRecord(t *testing.T) {
	s := NewStore(t.TempDir(), fakeProber{4242: true})
	first, err := s.AcquireFor("C1", 4242)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	// The detached launcher writes the record before the child runner
	// starts; the child's own acquire must adopt, not fail.
	adopted, err := s.AcquireFor("C1", 4242)
	if err != nil {
		t.Fatalf("adopt: %v", err)
	}
	if adopted.RunID != first.RunID {
		t.Fatalf("adoption created a new record: %s != %s", adopted.RunID, first.RunID)
	}
}

func TestRebindTransfersOwnership(t *testing.T) {
	s := NewStore(t.TempDir(), fakeProber{os.Getpid(): true, 5000: true})
	rec, err := s.Acquire("C1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	bound, err := s.Rebind(rec.RunID, 5000)
	if err != nil {
		t.Fatalf("Rebind: %v", err)
	}
	if bound.PID != 5000 || bound.RunID != rec.RunID {
		t.Fatalf("unexpected rebound record: %+v", bound)
	}
	cur, err := s.Current()
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if cur.PID != 5000 {
		t.Fatalf("rebind not persisted: %+v", cur)
	}

	// A record replaced since the claim cannot be rebound.
	if _, err := s.Rebind("not-the-run-id", 6000); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for a foreign run id, got %v", err)
	}
}

func TestReleaseIgnoresForeignRecord(t *testing.T) {
	s := NewStore(t.TempDir(), fakeProber{4242: true})
	rec, err := s.AcquireFor("C1", 4242)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := s.Release("some-other-run"); err != nil {
		t.Fatalf("Release foreign id: %v", err)
	}
	cur, err := s.Current()
	if err != nil || cur.RunID != rec.RunID {
		t.Fatalf("record should survive foreign release: %+v %v", cur, err)
	}
}

func TestClear(t *testing.T) {
	s := NewStore(t.TempDir(), fakeProber{})
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear on empty store: %v", err)
	}
	if _, err := s.AcquireFor("C1", 1); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := s.Current(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after clear, got %v", err)
	}
}
