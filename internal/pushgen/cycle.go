package pushgen

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"pushramp/internal/config"
	"pushramp/internal/loadgen"
	"pushramp/internal/results"
	"pushramp/internal/scenario"
)

// clusterInstance labels the single cluster-level push per cycle.
const clusterInstance = "pod-node-mapper-stress-test"

// Driver runs the push loop for one scenario: every interval it fans out one
// push per node per node-level job plus one per cluster-level job, jittered
// and bounded by a concurrency limit.
type Driver struct {
	spec        scenario.Spec
	pusher      Pusher
	prober      Prober
	nodeJobs    []config.PushJob
	clusterJobs []config.PushJob
	payloads    map[string][]byte
	nodes       []loadgen.NodeIdentity
	maxInflight int
	outDir      string
	log         *slog.Logger
}

// NewDriver assembles a driver for spec. Payloads must already be loaded
// (and inflated for P-scenarios).
func NewDriver(spec scenario.Spec, pusher Pusher, prober Prober, jobs []config.PushJob,
	payloads map[string][]byte, maxInflight int, outDir string, log *slog.Logger) *Driver {

	d := &Driver{
		spec:        spec,
		pusher:      pusher,
		prober:      prober,
		payloads:    payloads,
		nodes:       loadgen.Identities(spec.Nodes),
		maxInflight: maxInflight,
		outDir:      outDir,
		log:         log,
	}
	for _, job := range FilterJobs(jobs, spec.Jobs) {
		if job.ClusterLevel {
			d.clusterJobs = append(d.clusterJobs, job)
		} else {
			d.nodeJobs = append(d.nodeJobs, job)
		}
	}
	return d
}

// FilterJobs selects the job categories named by the scenario's filter. The
// filter is either a class keyword or a comma-separated list of job names.
func FilterJobs(jobs []config.PushJob, filter scenario.JobFilter) []config.PushJob {
	var out []config.PushJob
	switch filter {
	case scenario.JobsAll, scenario.JobsNodeCluster, "":
		return jobs
	case scenario.JobsNode:
		for _, j := range jobs {
			if !j.ClusterLevel {
				out = append(out, j)
			}
		}
	case scenario.JobsCluster:
		for _, j := range jobs {
			if j.ClusterLevel {
				out = append(out, j)
			}
		}
	default:
		names := map[string]bool{}
		for _, n := range splitComma(string(filter)) {
			names[n] = true
		}
		for _, j := range jobs {
			if names[j.Name] {
				out = append(out, j)
			}
		}
	}
	return out
}

func splitComma(s string) []string {
	var parts []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if p := s[start:i]; p != "" {
				parts = append(parts, p)
			}
			start = i + 1
		}
	}
	return parts
}

// PushesPerCycle returns the fan-out width of one cycle.
func (d *Driver) PushesPerCycle() int {
	return len(d.nodeJobs)*len(d.nodes) + len(d.clusterJobs)
}

// Run executes the push cycles until the scenario duration elapses or ctx is
// cancelled. Per-push detail and probe samples are written as CSV into the
// driver's output directory.
func (d *Driver) Run(ctx context.Context) error {
	pushCSV, err := newCSV(filepath.Join(d.outDir, "pushes.csv"),
		[]string{"timestamp", "cycle", "job", "instance", "status_code", "latency_ms", "payload_bytes", "error"})
	if err != nil {
		return err
	}
	defer pushCSV.close()
	probeCSV, err := newCSV(filepath.Join(d.outDir, "probes.csv"),
		[]string{"timestamp", "cycle", "response_bytes", "response_time_ms", "status_code", "error"})
	if err != nil {
		return err
	}
	defer probeCSV.close()

	cycles := int(d.spec.Duration / d.spec.Interval)
	if cycles < 1 {
		cycles = 1
	}
	d.log.Info("push driver starting",
		"scenario", d.spec.ID, "cycles", cycles, "pushes_per_cycle", d.PushesPerCycle(),
		"interval", d.spec.Interval, "jitter", d.spec.Jitter)

	for cycle := 1; cycle <= cycles; cycle++ {
		if ctx.Err() != nil {
			d.log.Info("push driver stopping early", "cycle", cycle-1)
			return ctx.Err()
		}
		start := time.Now()
		pushResults := d.runCycle(ctx, cycle)
		elapsed := time.Since(start)

		for _, r := range pushResults {
			pushCSV.write([]string{
				r.Timestamp.Format(time.RFC3339),
				strconv.Itoa(r.Cycle), r.Job, r.Instance,
				strconv.Itoa(r.StatusCode),
				strconv.FormatFloat(r.LatencyMS, 'f', 2, 64),
				strconv.Itoa(r.PayloadBytes), r.Err,
			})
		}
		d.logCycle(cycle, pushResults, elapsed)

		if d.prober != nil && (cycle == 1 || cycle == cycles || cycle%5 == 0) {
			p := d.prober.Probe(ctx, cycle)
			probeCSV.write([]string{
				p.Timestamp.Format(time.RFC3339),
				strconv.Itoa(p.Cycle),
				strconv.Itoa(p.ResponseBytes),
				strconv.FormatFloat(p.ResponseTimeMS, 'f', 2, 64),
				strconv.Itoa(p.StatusCode), p.Err,
			})
		}

		if cycle < cycles {
			wait := d.spec.Interval - elapsed
			if wait > 0 && !sleepCtx(ctx, wait) {
				d.log.Info("push driver stopping early", "cycle", cycle)
				return ctx.Err()
			}
		}
	}
	return nil
}

// runCycle fans out all pushes for one cycle and gathers their results.
func (d *Driver) runCycle(ctx context.Context, cycle int) []PushResult {
	type task struct {
		job      config.PushJob
		instance string
	}
	var tasks []task
	for _, node := range d.nodes {
		for _, job := range d.nodeJobs {
			instance := node.Name
			if job.InstanceType == "node-ip" {
				instance = node.IP
			}
			tasks = append(tasks, task{job: job, instance: instance})
		}
	}
	for _, job := range d.clusterJobs {
		tasks = append(tasks, task{job: job, instance: clusterInstance})
	}

	sem := make(chan struct{}, d.maxInflight)
	out := make([]PushResult, len(tasks))
	var wg sync.WaitGroup
	for i, tk := range tasks {
		wg.Add(1)
		go func(i int, tk task) {
			defer wg.Done()
			if d.spec.Jitter > 0 {
				delay := time.Duration(rand.Float64() * float64(d.spec.Jitter))
				if !sleepCtx(ctx, delay) {
					out[i] = PushResult{Timestamp: time.Now().UTC(), Cycle: cycle,
						Job: tk.job.Name, Instance: tk.instance, Err: "cancelled"}
					return
				}
			}
			sem <- struct{}{}
			defer func() { <-sem }()
			out[i] = d.pusher.Push(ctx, cycle, tk.job.Name, tk.instance, d.payloads[tk.job.Name])
		}(i, tk)
	}
	wg.Wait()
	return out
}

func (d *Driver) logCycle(cycle int, rs []PushResult, elapsed time.Duration) {
	var ok int
	lats := make([]float64, 0, len(rs))
	for _, r := range rs {
		if r.OK() {
			ok++
		}
		lats = append(lats, r.LatencyMS)
	}
	var maxLat float64
	for _, l := range lats {
		if l > maxLat {
			maxLat = l
		}
	}
	d.log.Info(fmt.Sprintf("cycle %d", cycle),
		"pushes", len(rs), "ok", ok, "err", len(rs)-ok,
		"p50_ms", fmt.Sprintf("%.1f", results.Percentile(lats, 50)),
		"p95_ms", fmt.Sprintf("%.1f", results.Percentile(lats, 95)),
		"max_ms", fmt.Sprintf("%.1f", maxLat),
		"cycle_time", elapsed.Round(100*time.Millisecond))
}

// sleepCtx sleeps for d unless ctx is cancelled first. Returns false on
// cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// csvFile is a small append writer used for per-push and probe detail.
type csvFile struct {
	file *os.File
	csv  *csv.Writer
}

func newCSV(path string, header []string) (*csvFile, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	c := &csvFile{file: f, csv: csv.NewWriter(f)}
	if err := c.csv.Write(header); err != nil {
		f.Close()
		return nil, err
	}
	c.csv.Flush()
	return c, nil
}

func (c *csvFile) write(rec []string) {
	c.csv.Write(rec)
	c.csv.Flush()
}

func (c *csvFile) close() {
	c.csv.Flush()
	c.file.Close()
}
