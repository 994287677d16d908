// Package health samples the monitored workload in the background and
// appends to the per-scenario health table.
package health

import (
	"bufio"
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Usage is one resource sample. UnknownValue fields mean the sample could
// not be taken.
type Usage struct {
	CPUMillis int64
	MemBytes  int64
}

// Client is the typed view of the monitored workload. The monitor never
// parses raw tool output; implementations do.
type Client interface {
	ResourceUsage(ctx context.Context, target string) (Usage, error)
	RestartCount(ctx context.Context, target string) (int, error)
	RecentErrorLines(ctx context.Context, target string, since time.Time) ([]string, error)
}

// errorPatterns mark a log line as error-indicating.
var errorPatterns = []string{"error", "panic", "oom", "out of memory", "killed"}

// oomPatterns mark an abnormal-termination transition.
var oomPatterns = []string{"oomkilled", "oom-kill", "out of memory"}

// LocalClient observes a process on this host by command-line match, using
// gopsutil for resource usage and a log file tail for error lines.
type LocalClient struct {
	logPath string

	mu        sync.Mutex
	lastPID   int32
	restarts  int
	logOffset int64
}

// NewLocalClient builds a client scanning logPath for error lines. An empty
// logPath disables the scan.
func NewLocalClient(logPath string) *LocalClient {
	return &LocalClient{logPath: logPath}
}

// ResourceUsage reports CPU and memory for the first process matching
// target.
func (c *LocalClient) ResourceUsage(ctx context.Context, target string) (Usage, error) {
	proc, err := c.find(ctx, target)
	if err != nil {
		return Usage{}, err
	}
	usage := Usage{}
	if pct, err := proc.CPUPercentWithContext(ctx); err == nil {
		// Percent of one core; 100% == 1000 millicores.
		usage.CPUMillis = int64(pct * 10)
	}
	if mi, err := proc.MemoryInfoWithContext(ctx); err == nil {
		usage.MemBytes = int64(mi.RSS)
	}
	return usage, nil
}

// RestartCount counts observed PID changes for the target since this client
// was created.
func (c *LocalClient) RestartCount(ctx context.Context, target string) (int, error) {
	proc, err := c.find(ctx, target)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastPID != 0 && proc.Pid != c.lastPID {
		c.restarts++
	}
	c.lastPID = proc.Pid
	return c.restarts, nil
}

// RecentErrorLines returns error-indicating log lines appended since the
// previous call.
func (c *LocalClient) RecentErrorLines(ctx context.Context, target string, since time.Time) ([]string, error) {
	if c.logPath == "" {
		return nil, nil
	}
	f, err := os.Open(c.logPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	c.mu.Lock()
	offset := c.logOffset
	c.mu.Unlock()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() < offset {
		// Log rotated; start over.
		offset = 0
	}
	if _, err := f.Seek(offset, 0); err != nil {
		return nil, err
	}

	var matches []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		offset += int64(len(line)) + 1
		lower := strings.ToLower(line)
		for _, pat := range errorPatterns {
			if strings.Contains(lower, pat) {
				matches = append(matches, line)
				break
			}
		}
	}
	c.mu.Lock()
	c.logOffset = offset
	c.mu.Unlock()
	return matches, scanner.Err()
}

func (c *LocalClient) find(ctx context.Context, target string) (*process.Process, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err == nil && strings.Contains(name, target) {
			return p, nil
		}
		cmd, err := p.CmdlineWithContext(ctx)
		if err == nil && strings.Contains(cmd, target) {
			return p, nil
		}
	}
	return nil, &NotRunningError{Target: target}
}

// NotRunningError reports that no process matched the target.
type NotRunningError struct {
	Target string
}

func (e *NotRunningError) Error() string {
	return "no process matching " + e.Target
}

// IsOOMLine reports whether a log line signals an out-of-memory kill.
func IsOOMLine(line string) bool {
	lower := strings.ToLower(line)
	for _, pat := range oomPatterns {
		if strings.Contains(lower, pat) {
			return true
		}
	}
	return false
}
