package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"pushramp/internal/logging"
	"pushramp/internal/metrics"
	"pushramp/internal/results"
	"pushramp/internal/runstate"
	"pushramp/internal/scenario"
)

type fakeProber struct{ alive map[int]bool }

func (f fakeProber) Alive(pid int) bool { return f.alive[pid] }

type fakeLoad struct {
	mu      sync.Mutex
	applied []int
	err     error
}

func (f *fakeLoad) SetLoad(n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.applied = append(f.applied, n)
	return nil
}

type fakeSource struct {
	mu        sync.Mutex
	success   float64
	pollErr   error
	count     int
	polls     int
	discovers int
}

func (f *fakeSource) Poll(ctx context.Context) (results.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.pollErr != nil {
		return results.Row{}, f.pollErr
	}
	row := results.NewRow(time.Now().UTC())
	row.Set("success_rate", f.success)
	row.Set("p95_ms", 12.5)
	return row, nil
}

func (f *fakeSource) DiscoveredCount(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discovers++
	return f.count, nil
}

type fakeMonitor struct {
	mu      sync.Mutex
	started bool
	stopped bool
	last    *results.HealthRow
}

func (f *fakeMonitor) Start(ctx context.Context, bundle results.Bundle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeMonitor) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeMonitor) LastRow() *results.HealthRow {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func testSpec(d, poll time.Duration) scenario.Spec {
	return scenario.Spec{
		ID:           "T1",
		Endpoint:     scenario.ClusterIP,
		Nodes:        3,
		Jobs:         scenario.JobsAll,
		Interval:     time.Second,
		PollInterval: poll,
		Duration:     d,
		Purpose:      "runner test",
	}
}

func newTestRunner(t *testing.T, spec scenario.Spec, load LoadController, source MetricSource, mon HealthMonitor, rule *metrics.StopRule) (*Runner, *runstate.Store, string) {
	t.Helper()
	root := t.TempDir()
	store := runstate.NewStore(t.TempDir(), fakeProber{alive: map[int]bool{os.Getpid(): true}})
	opts := Options{
		ResultsRoot:        root,
		ConvergenceProbe:   5 * time.Millisecond,
		ConvergenceMaxWait: 50 * time.Millisecond,
	}
	return New(spec, load, source, mon, store, rule, opts, logging.New()), store, root
}

func TestRunnerCompletes(t *testing.T) {
	load := &fakeLoad{}
	source := &fakeSource{success: 99, count: 3}
	mon := &fakeMonitor{}
	spec := testSpec(100*time.Millisecond, 20*time.Millisecond)
	r, store, root := newTestRunner(t, spec, load, source, mon, nil)

	out, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Status != StatusCompleted {
		t.Fatalf("expected completed, got %+v", out)
	}
	if out.FinalSuccessRate == nil || *out.FinalSuccessRate != 99 {
		t.Fatalf("final success rate not carried: %+v", out.FinalSuccessRate)
	}
	if len(load.applied) != 1 || load.applied[0] != 3 {
		t.Fatalf("unexpected load applications: %v", load.applied)
	}
	if !mon.started || !mon.stopped {
		t.Fatalf("monitor lifecycle: started=%v stopped=%v", mon.started, mon.stopped)
	}

	bundle, _ := results.Open(root, spec.ID)
	if _, ok := bundle.Done(); !ok {
		t.Fatal("DONE marker missing")
	}
	if _, err := os.Stat(bundle.SummaryPath()); err != nil {
		t.Fatalf("summary missing: %v", err)
	}
	rows, err := results.ReadTable(bundle.ResultsPath())
	if err != nil {
		t.Fatalf("read results: %v", err)
	}
	// floor(duration/poll) rows, plus or minus one for timer skew.
	want := int(spec.Duration / spec.PollInterval)
	if len(rows) < want-1 || len(rows) > want+1 {
		t.Fatalf("expected about %d rows, got %d", want, len(rows))
	}
	if _, err := store.Current(); !errors.Is(err, runstate.ErrNotFound) {
		t.Fatalf("run record not released: %v", err)
	}
}

func TestRunnerProceedsPastConvergenceBound(t *testing.T) {
	load := &fakeLoad{}
	source := &fakeSource{success: 99, count: 0} // never converges
	mon := &fakeMonitor{}
	r, _, _ := newTestRunner(t, testSpec(30*time.Millisecond, 10*time.Millisecond), load, source, mon, nil)

	start := time.Now()
	out, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Status != StatusCompleted {
		t.Fatalf("expected completed despite unconverged discovery, got %+v", out)
	}
	if source.discovers < 2 {
		t.Fatalf("expected repeated discovery probes, got %d", source.discovers)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("convergence bound not honored: %s", elapsed)
	}
}

func TestRunnerStopsEarly(t *testing.T) {
	load := &fakeLoad{}
	source := &fakeSource{success: 50, count: 3}
	mon := &fakeMonitor{}
	rule := metrics.NewStopRule(95, 3)
	spec := testSpec(10*time.Second, 10*time.Millisecond)
	r, _, root := newTestRunner(t, spec, load, source, mon, rule)

	out, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Status != StatusStoppedEarly {
		t.Fatalf("expected early stop, got %+v", out)
	}
	if out.Reason != metrics.StopReasonSuccessRate {
		t.Fatalf("unexpected reason %q", out.Reason)
	}
	if source.polls != 3 {
		t.Fatalf("expected exactly 3 polls before stop, got %d", source.polls)
	}
	bundle, _ := results.Open(root, spec.ID)
	if _, ok := bundle.Done(); !ok {
		t.Fatal("early-stopped run must still finalize")
	}
}

func TestRunnerFinalizesOnCancel(t *testing.T) {
	load := &fakeLoad{}
	source := &fakeSource{success: 99, count: 3}
	mon := &fakeMonitor{}
	spec := testSpec(time.Hour, 10*time.Millisecond)
	r, store, root := newTestRunner(t, spec, load, source, mon, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(40 * time.Millisecond)
		cancel()
	}()
	out, err := r.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Status != StatusStoppedEarly || out.Reason != "cancelled" {
		t.Fatalf("expected cancelled outcome, got %+v", out)
	}
	bundle, _ := results.Open(root, spec.ID)
	if _, ok := bundle.Done(); !ok {
		t.Fatal("cancelled run must still finalize")
	}
	if !mon.stopped {
		t.Fatal("monitor not stopped on cancel")
	}
	if _, err := store.Current(); !errors.Is(err, runstate.ErrNotFound) {
		t.Fatalf("run record not released on cancel: %v", err)
	}
}

func TestRunnerApplyFailureIsFailed(t *testing.T) {
	load := &fakeLoad{err: fmt.Errorf("targets dir unwritable")}
	source := &fakeSource{}
	mon := &fakeMonitor{}
	spec := testSpec(time.Second, 10*time.Millisecond)
	r, _, root := newTestRunner(t, spec, load, source, mon, nil)

	out, err := r.Run(context.Background())
	if err == nil {
		t.Fatal("expected apply error")
	}
	if out.Status != StatusFailed {
		t.Fatalf("expected failed, got %+v", out)
	}
	bundle, _ := results.Open(root, spec.ID)
	if _, ok := bundle.Done(); !ok {
		t.Fatal("failed run must still produce summary and DONE")
	}
}

func TestRunnerBusyHost(t *testing.T) {
	load := &fakeLoad{}
	source := &fakeSource{count: 3}
	mon := &fakeMonitor{}
	spec := testSpec(time.Second, 10*time.Millisecond)

	root := t.TempDir()
	otherPID := os.Getpid() + 1
	store := runstate.NewStore(t.TempDir(), fakeProber{alive: map[int]bool{otherPID: true}})
	if _, err := store.AcquireFor("OTHER", otherPID); err != nil {
		t.Fatalf("seed record: %v", err)
	}
	r := New(spec, load, source, mon, store, nil, Options{ResultsRoot: root}, logging.New())

	out, err := r.Run(context.Background())
	if !errors.Is(err, runstate.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if out.Status != StatusFailed {
		t.Fatalf("expected failed outcome, got %+v", out)
	}
	if mon.started {
		t.Fatal("monitor must not start when the host is busy")
	}
}

func TestRunnerAdoptsSequenceRecord(t *testing.T) {
	load := &fakeLoad{}
	source := &fakeSource{success: 99, count: 3}
	mon := &fakeMonitor{}
	spec := testSpec(60*time.Millisecond, 20*time.Millisecond)
	r, store, _ := newTestRunner(t, spec, load, source, mon, nil)

	// A sequencer in this process already holds the host for the whole
	// sequence; the runner adopts that record and must leave it in place.
	seqRec, err := store.AcquireFor("ALL", os.Getpid())
	if err != nil {
		t.Fatalf("seed sequence record: %v", err)
	}

	out, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Status != StatusCompleted {
		t.Fatalf("expected completed, got %+v", out)
	}
	cur, err := store.Current()
	if err != nil {
		t.Fatalf("sequence record released by scenario runner: %v", err)
	}
	if cur.RunID != seqRec.RunID || cur.ScenarioID != "ALL" {
		t.Fatalf("sequence record replaced: %+v", cur)
	}
}
