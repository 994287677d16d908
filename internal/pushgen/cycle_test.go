package pushgen

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"pushramp/internal/config"
	"pushramp/internal/logging"
	"pushramp/internal/scenario"
)

type fakePusher struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakePusher) Push(_ context.Context, cycle int, job, instance string, payload []byte) PushResult {
	f.mu.Lock()
	f.calls = append(f.calls, job+"/"+instance)
	f.mu.Unlock()
	return PushResult{
		Timestamp: time.Now().UTC(), Cycle: cycle, Job: job, Instance: instance,
		StatusCode: 202, LatencyMS: 1.5, PayloadBytes: len(payload),
	}
}

var cycleJobs = []config.PushJob{
	{Name: "node-exporter", PayloadFile: "n.txt", InstanceType: "node-ip"},
	{Name: "oci_lens_pod_metrics", PayloadFile: "p.txt", InstanceType: "pod-name", ClusterLevel: true},
}

func TestDriverFanOut(t *testing.T) {
	spec := scenario.Spec{
		ID: "T1", Nodes: 3, Jobs: scenario.JobsNodeCluster,
		Interval: 10 * time.Millisecond, Duration: 20 * time.Millisecond,
	}
	fp := &fakePusher{}
	dir := t.TempDir()
	payloads := map[string][]byte{"node-exporter": []byte("x"), "oci_lens_pod_metrics": []byte("y")}
	d := NewDriver(spec, fp, nil, cycleJobs, payloads, 10, dir, logging.New())

	if got := d.PushesPerCycle(); got != 4 {
		t.Fatalf("PushesPerCycle = %d, want 4 (3 node + 1 cluster)", got)
	}
	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// 2 cycles x 4 pushes.
	if len(fp.calls) != 8 {
		t.Fatalf("expected 8 pushes, got %d", len(fp.calls))
	}

	data, err := os.ReadFile(filepath.Join(dir, "pushes.csv"))
	if err != nil {
		t.Fatalf("read pushes.csv: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 9 { // header + 8
		t.Fatalf("pushes.csv has %d lines, want 9", len(lines))
	}
}

func TestDriverCancellationPreemptsSleep(t *testing.T) {
	spec := scenario.Spec{
		ID: "T2", Nodes: 1, Jobs: scenario.JobsNode,
		Interval: 10 * time.Second, Duration: time.Hour,
	}
	fp := &fakePusher{}
	d := NewDriver(spec, fp, nil, cycleJobs, map[string][]byte{"node-exporter": []byte("x")},
		10, t.TempDir(), logging.New())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected context error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancellation did not preempt the inter-cycle sleep")
	}
}

func TestFilterJobs(t *testing.T) {
	cases := []struct {
		filter scenario.JobFilter
		want   int
	}{
		{scenario.JobsAll, 2},
		{scenario.JobsNodeCluster, 2},
		{scenario.JobsNode, 1},
		{scenario.JobsCluster, 1},
		{"node-exporter", 1},
		{"node-exporter,oci_lens_pod_metrics", 2},
		{"nope", 0},
	}
	for _, tc := range cases {
		if got := len(FilterJobs(cycleJobs, tc.filter)); got != tc.want {
			t.Errorf("FilterJobs(%q) = %d jobs, want %d", tc.filter, got, tc.want)
		}
	}
}
