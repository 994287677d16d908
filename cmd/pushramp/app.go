package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"pushramp/internal/config"
	"pushramp/internal/health"
	"pushramp/internal/loadgen"
	"pushramp/internal/logging"
	"pushramp/internal/metrics"
	"pushramp/internal/pushgen"
	"pushramp/internal/results"
	"pushramp/internal/runner"
	"pushramp/internal/runstate"
	"pushramp/internal/scenario"
)

const monitorInterval = 10 * time.Second

func loadConfig() (*config.Config, error) {
	return config.Load(configPath, schemaPath)
}

func newStore(cfg *config.Config) *runstate.Store {
	return runstate.NewStore(cfg.Paths.ResultsDir, runstate.ProcProber{})
}

func endpointFor(cfg *config.Config, spec scenario.Spec) (string, error) {
	switch spec.Endpoint {
	case scenario.Ingress:
		if cfg.Endpoints.Ingress == "" {
			return "", fmt.Errorf("scenario %s needs endpoints.ingress", spec.ID)
		}
		return cfg.Endpoints.Ingress, nil
	default:
		if cfg.Endpoints.ClusterIP == "" {
			return "", fmt.Errorf("scenario %s needs endpoints.clusterip", spec.ID)
		}
		return cfg.Endpoints.ClusterIP, nil
	}
}

// newDriver assembles the push fan-out for spec, with pod payloads
// inflated for multiplier scenarios.
func newDriver(cfg *config.Config, spec scenario.Spec, log *slog.Logger) (*pushgen.Driver, error) {
	endpoint, err := endpointFor(cfg, spec)
	if err != nil {
		return nil, err
	}
	payloads, err := pushgen.LoadPayloads(cfg.Paths.PayloadsDir, cfg.PushJobs)
	if err != nil {
		return nil, err
	}
	if spec.PodMultiplier > 1 {
		for _, job := range cfg.PushJobs {
			if job.ClusterLevel {
				payloads[job.Name] = pushgen.InflatePodPayload(payloads[job.Name], spec.PodMultiplier)
			}
		}
	}
	pusher := pushgen.NewHTTPPusher(endpoint, cfg.MaxInflight)
	outDir := filepath.Join(cfg.Paths.ResultsDir, spec.ID)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}
	return pushgen.NewDriver(spec, pusher, pusher, cfg.PushJobs, payloads, cfg.MaxInflight, outDir, log), nil
}

func newRunner(cfg *config.Config, spec scenario.Spec, store *runstate.Store, log *slog.Logger) (*runner.Runner, error) {
	poller, err := metrics.NewPoller(cfg.Endpoints.Prometheus, log)
	if err != nil {
		return nil, err
	}
	client := health.NewLocalClient(cfg.MonitorLog)
	monitor := health.NewMonitor(client, cfg.MonitorTarget, monitorInterval, log)
	rule := metrics.NewStopRule(cfg.StopRule.SuccessThreshold, cfg.StopRule.MaxConsecutive)

	opts := runner.Options{
		ResultsRoot:        cfg.Paths.ResultsDir,
		ConvergenceProbe:   cfg.ConvergenceProbe(),
		ConvergenceMaxWait: cfg.ConvergenceMaxWait(),
	}
	if ep := os.Getenv("PUSHRAMP_GREPTIME_ENDPOINT"); ep != "" {
		gw, err := results.NewGreptimeWriter(ep, "public", spec.ID, log)
		if err != nil {
			return nil, fmt.Errorf("init greptime sink: %w", err)
		}
		opts.ExtraSinks = append(opts.ExtraSinks, gw)
	}
	return runner.New(spec, loadController(cfg, log), poller, monitor, store, rule, opts, log), nil
}

func loadController(cfg *config.Config, log *slog.Logger) *loadgen.Controller {
	return loadgen.NewController(cfg.Paths.TargetsDir, cfg.PushJobs, log)
}

// runScenario executes one scenario with the push driver running alongside
// the collection loop. The driver stops when the run ends, early or not.
func runScenario(ctx context.Context, cfg *config.Config, spec scenario.Spec, log *slog.Logger) (runner.Outcome, error) {
	driver, err := newDriver(cfg, spec, log)
	if err != nil {
		return runner.Outcome{}, err
	}
	run, err := newRunner(cfg, spec, newStore(cfg), log)
	if err != nil {
		return runner.Outcome{}, err
	}

	dctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := driver.Run(dctx); err != nil && dctx.Err() == nil {
			log.Warn("push driver exited", "scenario", spec.ID, "error", err)
		}
	}()

	out, err := run.Run(ctx)
	cancel()
	wg.Wait()
	return out, err
}

func newLogger() *slog.Logger {
	return logging.New()
}
