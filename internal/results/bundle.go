package results

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Bundle is the per-scenario results directory: results table, health table,
// monitor log, summary report, and the DONE marker. Owned by the runner
// until Finalize, read-only after.
type Bundle struct {
	Dir string
}

// Open ensures the per-scenario directory exists under root.
func Open(root, scenarioID string) (Bundle, error) {
	dir := filepath.Join(root, scenarioID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Bundle{}, fmt.Errorf("create bundle dir: %w", err)
	}
	return Bundle{Dir: dir}, nil
}

func (b Bundle) ResultsPath() string    { return filepath.Join(b.Dir, "results.csv") }
func (b Bundle) HealthPath() string     { return filepath.Join(b.Dir, "health.csv") }
func (b Bundle) MonitorLogPath() string { return filepath.Join(b.Dir, "monitor.log") }
func (b Bundle) SummaryPath() string    { return filepath.Join(b.Dir, "summary.txt") }
func (b Bundle) DonePath() string       { return filepath.Join(b.Dir, "DONE") }

// Join resolves a file name inside the bundle directory.
func (b Bundle) Join(name string) string { return filepath.Join(b.Dir, name) }

// Finalize writes the summary report and then the DONE marker. The marker is
// written last so DONE never exists without a consistent summary; re-running
// Finalize recreates both together.
func (b Bundle) Finalize(sum *Summary, completedAt time.Time) error {
	if err := os.WriteFile(b.SummaryPath(), []byte(sum.Render()), 0644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	stamp := completedAt.UTC().Format(time.RFC3339) + "\n"
	if err := os.WriteFile(b.DonePath(), []byte(stamp), 0644); err != nil {
		return fmt.Errorf("write done marker: %w", err)
	}
	return nil
}

// Done reports whether the bundle carries a DONE marker and its timestamp.
func (b Bundle) Done() (time.Time, bool) {
	data, err := os.ReadFile(b.DonePath())
	if err != nil {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(string(data)))
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// Suite-level artifacts live directly under the results root.

// SuiteLogPath returns the suite master log path under root.
func SuiteLogPath(root string) string { return filepath.Join(root, "suite.log") }

// AllDonePath returns the suite completion marker path under root.
func AllDonePath(root string) string { return filepath.Join(root, "ALL_DONE") }

// WriteAllDone stamps the suite completion marker.
func WriteAllDone(root string, at time.Time) error {
	return os.WriteFile(AllDonePath(root), []byte(at.UTC().Format(time.RFC3339)+"\n"), 0644)
}

// AllDone reports the suite completion marker, if present.
func AllDone(root string) (time.Time, bool) {
	data, err := os.ReadFile(AllDonePath(root))
	if err != nil {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(string(data)))
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// CopyDir copies a bundle directory tree to dst. Used by result fetch and
// the completion watcher.
func CopyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
