package health

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"pushramp/internal/logging"
	"pushramp/internal/results"
)

// maxErrorLinesPerSample bounds how many error lines one sample logs.
const maxErrorLinesPerSample = 5

// aliveMarker is touched on every sample so an outside observer can tell
// the monitor loop is still running. The loop removes it on exit.
const aliveMarker = "monitor.alive"

// Monitor samples the target on a fixed interval and appends health rows
// to the scenario bundle. One Monitor serves one scenario run.
type Monitor struct {
	client   Client
	target   string
	interval time.Duration
	log      *slog.Logger

	mu       sync.Mutex
	last     *results.HealthRow
	restarts int
	started  bool

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logFile *os.File
}

// NewMonitor builds a monitor for target sampling every interval.
func NewMonitor(client Client, target string, interval time.Duration, log *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{client: client, target: target, interval: interval, log: log}
}

// Start launches the sampling goroutine writing into bundle. It returns an
// error if the bundle files cannot be opened or Start was already called.
func (m *Monitor) Start(ctx context.Context, bundle results.Bundle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return fmt.Errorf("monitor already started")
	}

	writer, err := results.NewHealthWriter(bundle.HealthPath())
	if err != nil {
		return fmt.Errorf("open health table: %w", err)
	}
	logFile, err := os.OpenFile(bundle.MonitorLogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		writer.Close()
		return fmt.Errorf("open monitor log: %w", err)
	}
	m.logFile = logFile
	runLog := logging.NewWriter(logFile)

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.started = true

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer os.Remove(bundle.Join(aliveMarker))
		defer writer.Close()
		m.loop(ctx, bundle, writer, runLog)
	}()
	return nil
}

// Stop cancels the sampling loop and returns only after the final write
// has completed. Safe to call more than once.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	m.mu.Lock()
	if m.logFile != nil {
		m.logFile.Close()
		m.logFile = nil
	}
	m.mu.Unlock()
}

// LastRow returns the most recent sample, or nil before the first one.
func (m *Monitor) LastRow() *results.HealthRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return nil
	}
	row := *m.last
	return &row
}

func (m *Monitor) loop(ctx context.Context, bundle results.Bundle, writer *results.HealthWriter, runLog *slog.Logger) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	since := time.Now()
	m.sample(ctx, bundle, writer, runLog, since)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sampleStart := time.Now()
			m.sample(ctx, bundle, writer, runLog, since)
			since = sampleStart
		}
	}
}

func (m *Monitor) sample(ctx context.Context, bundle results.Bundle, writer *results.HealthWriter, runLog *slog.Logger, since time.Time) {
	row := results.HealthRow{
		Timestamp: time.Now().UTC(),
		CPUMillis: results.UnknownValue,
		MemBytes:  results.UnknownValue,
		Restarts:  results.UnknownValue,
	}

	if usage, err := m.client.ResourceUsage(ctx, m.target); err == nil {
		row.CPUMillis = usage.CPUMillis
		row.MemBytes = usage.MemBytes
	} else {
		runLog.Warn("resource usage unavailable", "target", m.target, "error", err)
	}

	if restarts, err := m.client.RestartCount(ctx, m.target); err == nil {
		row.Restarts = restarts
		m.mu.Lock()
		prev := m.restarts
		m.restarts = restarts
		m.mu.Unlock()
		if restarts > prev {
			row.Event = results.HealthEventRestart
			runLog.Warn("target restarted", "target", m.target, "restarts", restarts)
		}
	} else {
		runLog.Warn("restart count unavailable", "target", m.target, "error", err)
	}

	lines, err := m.client.RecentErrorLines(ctx, m.target, since)
	if err != nil {
		runLog.Warn("error line scan failed", "target", m.target, "error", err)
	}
	row.ErrorLines = len(lines)
	for i, line := range lines {
		if i >= maxErrorLinesPerSample {
			runLog.Warn("error lines truncated", "total", len(lines))
			break
		}
		runLog.Warn("target error line", "line", line)
		if IsOOMLine(line) {
			row.Event = results.HealthEventOOM
		}
	}

	if err := writer.WriteRow(row); err != nil {
		runLog.Error("health row write failed", "error", err)
	}
	m.touchAlive(bundle, runLog)

	m.mu.Lock()
	m.last = &row
	m.mu.Unlock()
}

func (m *Monitor) touchAlive(bundle results.Bundle, runLog *slog.Logger) {
	path := bundle.Join(aliveMarker)
	stamp := time.Now().UTC().Format(time.RFC3339) + "\n"
	if err := os.WriteFile(path, []byte(stamp), 0o644); err != nil {
		runLog.Warn("alive marker write failed", "error", err)
	}
}
