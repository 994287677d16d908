// Package runner drives one scenario end to end: acquire the run record,
// apply load, wait for convergence, collect metrics on the poll cadence,
// and finalize the results bundle no matter how the run ends.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"pushramp/internal/metrics"
	"pushramp/internal/results"
	"pushramp/internal/runstate"
	"pushramp/internal/scenario"
)

// Run outcomes.
const (
	StatusCompleted    = "completed"
	StatusStoppedEarly = "stopped_early"
	StatusFailed       = "failed"
)

// Outcome is the terminal state of one scenario run.
type Outcome struct {
	Status           string
	Reason           string
	Elapsed          time.Duration
	FinalSuccessRate *float64
}

// LoadController applies a node count to the scrape universe.
type LoadController interface {
	SetLoad(nodes int) error
}

// MetricSource produces one results row per poll and reports how many
// stress targets the backend currently sees.
type MetricSource interface {
	Poll(ctx context.Context) (results.Row, error)
	DiscoveredCount(ctx context.Context) (int, error)
}

// HealthMonitor samples workload health in the background for the
// duration of the run.
type HealthMonitor interface {
	Start(ctx context.Context, bundle results.Bundle) error
	Stop()
	LastRow() *results.HealthRow
}

// Options tune runner timing. Zero values fall back to defaults.
type Options struct {
	ResultsRoot        string
	ConvergenceProbe   time.Duration
	ConvergenceMaxWait time.Duration
	// ExtraSinks receive every poll row in addition to the bundle's CSV
	// table (e.g. a GreptimeDB mirror).
	ExtraSinks []results.RowWriter
}

// Runner executes a single scenario.
type Runner struct {
	spec    scenario.Spec
	load    LoadController
	source  MetricSource
	monitor HealthMonitor
	store   *runstate.Store
	rule    *metrics.StopRule
	opts    Options
	log     *slog.Logger
}

// New wires a runner. rule may be nil to disable early stopping.
func New(spec scenario.Spec, load LoadController, source MetricSource, monitor HealthMonitor, store *runstate.Store, rule *metrics.StopRule, opts Options, log *slog.Logger) *Runner {
	if opts.ConvergenceProbe <= 0 {
		opts.ConvergenceProbe = 10 * time.Second
	}
	if opts.ConvergenceMaxWait <= 0 {
		opts.ConvergenceMaxWait = 180 * time.Second
	}
	return &Runner{spec: spec, load: load, source: source, monitor: monitor, store: store, rule: rule, opts: opts, log: log}
}

// Run executes the scenario. The bundle is finalized with a summary and
// DONE marker on every exit path, including cancellation and failure.
func (r *Runner) Run(ctx context.Context) (outcome Outcome, err error) {
	started := time.Now()
	r.log.Info("scenario starting", "scenario", r.spec.ID, "nodes", r.spec.Nodes, "duration", r.spec.Duration)

	bundle, err := results.Open(r.opts.ResultsRoot, r.spec.ID)
	if err != nil {
		return Outcome{Status: StatusFailed, Reason: err.Error()}, err
	}

	// Acquire claims the host, or adopts a record already owned by this
	// process: the detached launcher writes one naming this scenario, and
	// the suite sequencer holds one for the whole sequence. A sequence
	// record is released by the sequencer, not here.
	rec, err := r.store.Acquire(r.spec.ID)
	if err != nil {
		return Outcome{Status: StatusFailed, Reason: err.Error()}, fmt.Errorf("acquire run record: %w", err)
	}
	ownsRecord := rec.ScenarioID == r.spec.ID

	table, err := results.NewTableWriter(bundle.ResultsPath())
	if err != nil {
		if ownsRecord {
			r.store.Release(rec.RunID)
		}
		return Outcome{Status: StatusFailed, Reason: err.Error()}, err
	}
	var writer results.RowWriter = table
	if len(r.opts.ExtraSinks) > 0 {
		writer = append(results.MultiRowWriter{table}, r.opts.ExtraSinks...)
	}

	if err := r.monitor.Start(ctx, bundle); err != nil {
		table.Close()
		if ownsRecord {
			r.store.Release(rec.RunID)
		}
		return Outcome{Status: StatusFailed, Reason: err.Error()}, fmt.Errorf("start health monitor: %w", err)
	}

	var rows []results.Row
	defer func() {
		r.monitor.Stop()
		table.Close()
		outcome.Elapsed = time.Since(started)
		label := outcome.Status
		if outcome.Reason != "" {
			label = outcome.Status + ": " + outcome.Reason
		}
		sum := results.Summarize(r.spec, rows, label)
		outcome.FinalSuccessRate = sum.FinalSuccessRate
		if ferr := bundle.Finalize(sum, time.Now()); ferr != nil {
			r.log.Error("finalize failed", "scenario", r.spec.ID, "error", ferr)
			if err == nil {
				err = ferr
			}
		}
		if ownsRecord {
			if rerr := r.store.Release(rec.RunID); rerr != nil {
				r.log.Warn("release run record failed", "error", rerr)
			}
		}
		r.log.Info("scenario finished", "scenario", r.spec.ID, "status", outcome.Status, "rows", len(rows), "elapsed", outcome.Elapsed)
	}()

	if err := r.load.SetLoad(r.spec.Nodes); err != nil {
		return Outcome{Status: StatusFailed, Reason: err.Error()}, fmt.Errorf("apply load: %w", err)
	}

	if err := r.converge(ctx); err != nil {
		return Outcome{Status: StatusFailed, Reason: err.Error()}, err
	}

	rows, outcome = r.collect(ctx, writer)
	return outcome, nil
}

// converge waits until the backend discovers the expected node count,
// probing on a fixed cadence. Hitting the wait bound is a warning, not a
// failure; the run proceeds with whatever converged.
func (r *Runner) converge(ctx context.Context) error {
	if r.spec.Nodes <= 0 {
		return nil
	}
	deadline := time.Now().Add(r.opts.ConvergenceMaxWait)
	for {
		count, err := r.source.DiscoveredCount(ctx)
		if err != nil {
			r.log.Warn("discovery probe failed", "error", err)
		} else if count >= r.spec.Nodes {
			r.log.Info("target count converged", "discovered", count, "expected", r.spec.Nodes)
			return nil
		} else {
			r.log.Info("waiting for convergence", "discovered", count, "expected", r.spec.Nodes)
		}
		if time.Now().After(deadline) {
			r.log.Warn("convergence wait bound reached, proceeding", "expected", r.spec.Nodes)
			return nil
		}
		if !sleepCtx(ctx, r.opts.ConvergenceProbe) {
			return ctx.Err()
		}
	}
}

// collect runs the poll loop until the scenario duration elapses, the
// stop rule fires, or the context is cancelled.
func (r *Runner) collect(ctx context.Context, writer results.RowWriter) ([]results.Row, Outcome) {
	var rows []results.Row
	end := time.Now().Add(r.spec.Duration)
	for {
		if !sleepCtx(ctx, r.spec.PollInterval) {
			return rows, Outcome{Status: StatusStoppedEarly, Reason: "cancelled"}
		}
		row, err := r.source.Poll(ctx)
		if err != nil {
			r.log.Warn("poll failed", "error", err)
		} else {
			if err := writer.WriteRow(row); err != nil {
				r.log.Error("results row write failed", "error", err)
			}
			rows = append(rows, row)
			if r.rule != nil {
				dec := r.rule.Evaluate(row, r.monitor.LastRow())
				if dec.Warning != "" {
					r.log.Warn("health warning", "warning", dec.Warning)
				}
				if dec.Stop {
					r.log.Warn("stop rule fired", "reason", dec.Reason, "detail", dec.Detail, "streak", r.rule.Streak())
					return rows, Outcome{Status: StatusStoppedEarly, Reason: dec.Reason}
				}
			}
		}
		if time.Now().After(end) {
			return rows, Outcome{Status: StatusCompleted}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
