// Package suite sequences scenario runs: drain and settle between
// scenarios, keep going past failures, and optionally append a soak run
// at the largest load size that held the success bar.
package suite

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"pushramp/internal/logging"
	"pushramp/internal/results"
	"pushramp/internal/runner"
	"pushramp/internal/runstate"
	"pushramp/internal/scenario"
)

// HostID names the run record held for a whole sequence. Per-scenario
// runners adopt it; only the sequencer releases it.
const HostID = "ALL"

// ScenarioRunner executes one resolved scenario and reports its outcome.
type ScenarioRunner func(ctx context.Context, spec scenario.Spec) (runner.Outcome, error)

// Result records one sequenced scenario.
type Result struct {
	ScenarioID string
	Outcome    runner.Outcome
	Err        error
}

// Options tune sequencing. Zero values fall back to defaults.
type Options struct {
	Settle       time.Duration
	SoakDuration time.Duration
	QualifyRate  float64
}

// Sequencer runs a list of scenarios in declared order.
type Sequencer struct {
	run   ScenarioRunner
	load  runner.LoadController
	store *runstate.Store
	root  string
	opts  Options
	log   *slog.Logger
}

// New wires a sequencer writing suite artifacts under resultsRoot. store
// may be nil when the caller enforces single-flight itself.
func New(run ScenarioRunner, load runner.LoadController, store *runstate.Store, resultsRoot string, opts Options, log *slog.Logger) *Sequencer {
	if opts.Settle <= 0 {
		opts.Settle = 90 * time.Second
	}
	if opts.SoakDuration <= 0 {
		opts.SoakDuration = 8 * time.Hour
	}
	if opts.QualifyRate <= 0 {
		opts.QualifyRate = 95
	}
	return &Sequencer{run: run, load: load, store: store, root: resultsRoot, opts: opts, log: log}
}

// Run sequences ids in order. Ids strictly before resumeFrom are skipped;
// a resumed sequence drains before its first scenario. Failures are
// recorded and the sequence continues. With includeSoak, a soak run is
// appended at the largest node count whose run held the qualify rate.
func (s *Sequencer) Run(ctx context.Context, ids []string, resumeFrom string, includeSoak bool) ([]Result, error) {
	logFile, err := os.OpenFile(results.SuiteLogPath(s.root), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open suite log: %w", err)
	}
	defer logFile.Close()
	suiteLog := logging.NewWriter(logFile)

	specs, err := s.resolve(ids, resumeFrom)
	if err != nil {
		return nil, err
	}
	resumed := resumeFrom != "" && len(specs) > 0 && len(specs) < len(ids)

	// The sequencer owns the host for the entire sequence, settle windows
	// included; per-scenario runners adopt this record rather than cycling
	// their own. A record the detached launcher pre-wrote for this process
	// is adopted the same way.
	if s.store != nil {
		rec, err := s.store.Acquire(HostID)
		if err != nil {
			return nil, fmt.Errorf("acquire host record: %w", err)
		}
		defer func() {
			if rerr := s.store.Release(rec.RunID); rerr != nil {
				s.log.Warn("release host record failed", "error", rerr)
			}
		}()
	}

	var out []Result
	bestQualifying := 0
	for i, spec := range specs {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		if i > 0 || resumed {
			if err := s.drainAndSettle(ctx, suiteLog); err != nil {
				return out, err
			}
		}
		suiteLog.Info("scenario starting", "scenario", spec.ID, "nodes", spec.Nodes)
		outcome, runErr := s.run(ctx, spec)
		res := Result{ScenarioID: spec.ID, Outcome: outcome, Err: runErr}
		out = append(out, res)
		if runErr != nil {
			suiteLog.Error("scenario failed, continuing", "scenario", spec.ID, "error", runErr)
			continue
		}
		suiteLog.Info("scenario finished", "scenario", spec.ID,
			"status", outcome.Status, "elapsed", outcome.Elapsed)
		if qualifies(spec, outcome, s.opts.QualifyRate) && spec.Nodes > bestQualifying {
			bestQualifying = spec.Nodes
		}
	}

	if includeSoak && bestQualifying > 0 {
		if err := s.drainAndSettle(ctx, suiteLog); err != nil {
			return out, err
		}
		soak := scenario.Soak(bestQualifying, s.opts.SoakDuration)
		suiteLog.Info("soak starting", "nodes", soak.Nodes, "duration", soak.Duration)
		outcome, runErr := s.run(ctx, soak)
		out = append(out, Result{ScenarioID: soak.ID, Outcome: outcome, Err: runErr})
		if runErr != nil {
			suiteLog.Error("soak failed", "error", runErr)
		}
	} else if includeSoak {
		suiteLog.Warn("no scenario qualified for soak, skipping")
	}

	if err := s.drain(suiteLog); err != nil {
		suiteLog.Warn("final drain failed", "error", err)
	}
	if err := results.WriteAllDone(s.root, time.Now()); err != nil {
		return out, fmt.Errorf("write completion marker: %w", err)
	}
	suiteLog.Info("suite finished", "scenarios", len(out))
	return out, nil
}

func (s *Sequencer) resolve(ids []string, resumeFrom string) ([]scenario.Spec, error) {
	skip := resumeFrom != ""
	var specs []scenario.Spec
	for _, id := range ids {
		if skip {
			if id != resumeFrom {
				continue
			}
			skip = false
		}
		spec, err := scenario.Lookup(id)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", id, err)
		}
		specs = append(specs, spec)
	}
	if resumeFrom != "" && skip {
		return nil, fmt.Errorf("resume scenario %s not in sequence", resumeFrom)
	}
	return specs, nil
}

func (s *Sequencer) drain(log *slog.Logger) error {
	log.Info("draining load")
	return s.load.SetLoad(0)
}

func (s *Sequencer) drainAndSettle(ctx context.Context, log *slog.Logger) error {
	if err := s.drain(log); err != nil {
		return fmt.Errorf("drain: %w", err)
	}
	log.Info("settling", "wait", s.opts.Settle)
	t := time.NewTimer(s.opts.Settle)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func qualifies(spec scenario.Spec, outcome runner.Outcome, rate float64) bool {
	return spec.Nodes > 0 &&
		outcome.Status == runner.StatusCompleted &&
		outcome.FinalSuccessRate != nil &&
		*outcome.FinalSuccessRate >= rate
}
