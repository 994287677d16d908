// Package loadgen applies a target-set of a given size to the scrape
// configuration of the system under test.
package loadgen

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"pushramp/internal/config"
)

// NodeIdentity is one stable simulated node. Identities are a pure function
// of the index, so re-applying the same size yields the same target set.
type NodeIdentity struct {
	IP   string
	Name string
}

// Identities generates n stable node identities.
func Identities(n int) []NodeIdentity {
	nodes := make([]NodeIdentity, n)
	for i := 0; i < n; i++ {
		subnet := 10 + i/254
		host := 1 + i%254
		nodes[i] = NodeIdentity{
			IP:   fmt.Sprintf("10.0.%d.%d", subnet, host),
			Name: fmt.Sprintf("stress-node-%04d", i),
		}
	}
	return nodes
}

// TargetGroup is one file-SD entry: an ordered target list plus identity
// labels.
type TargetGroup struct {
	Targets []string          `json:"targets"`
	Labels  map[string]string `json:"labels"`
}

// ApplyError reports a failed target-set mutation. Fatal to the current
// scenario only; the sequencer records it and moves on.
type ApplyError struct {
	Job string
	Err error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply targets for job %s: %v", e.Job, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

// Controller mutates the shared target configuration. Only one controller
// mutates it at a time; callers serialize through the runner and sequencer.
type Controller struct {
	dir         string
	jobs        []config.PushJob
	lastApplied int
	log         *slog.Logger
}

// NewController returns a controller writing file-SD JSON under dir.
func NewController(dir string, jobs []config.PushJob, log *slog.Logger) *Controller {
	return &Controller{dir: dir, jobs: jobs, lastApplied: -1, log: log}
}

// SetLoad writes, for every job category, an ordered list of target
// descriptors for n nodes. n==0 is the drain operation and always yields
// empty lists, never an error. The call is idempotent and returns without
// waiting for the scrape layer to converge.
func (c *Controller) SetLoad(n int) error {
	if n < 0 {
		return &ApplyError{Job: "", Err: fmt.Errorf("negative load size %d", n)}
	}
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return &ApplyError{Job: "", Err: err}
	}
	nodes := Identities(n)
	for _, job := range c.jobs {
		groups := c.groupsFor(job, nodes)
		if err := c.writeGroups(job.Name, groups); err != nil {
			return &ApplyError{Job: job.Name, Err: err}
		}
	}
	c.lastApplied = n
	c.log.Info("target set applied", "nodes", n, "jobs", len(c.jobs))
	return nil
}

// LastApplied returns the last successfully applied size, or -1.
func (c *Controller) LastApplied() int { return c.lastApplied }

func (c *Controller) groupsFor(job config.PushJob, nodes []NodeIdentity) []TargetGroup {
	groups := make([]TargetGroup, 0, len(nodes))
	if job.ClusterLevel {
		if len(nodes) == 0 {
			return groups
		}
		return append(groups, TargetGroup{
			Targets: []string{"pod-node-mapper-stress-test"},
			Labels:  map[string]string{"job": job.Name, "instance": "pod-node-mapper-stress-test"},
		})
	}
	for _, node := range nodes {
		instance := node.Name
		target := node.Name
		if job.InstanceType == "node-ip" {
			instance = node.IP
			target = node.IP
			if job.Port > 0 {
				target = fmt.Sprintf("%s:%d", node.IP, job.Port)
			}
		}
		groups = append(groups, TargetGroup{
			Targets: []string{target},
			Labels:  map[string]string{"job": job.Name, "instance": instance},
		})
	}
	return groups
}

// writeGroups writes atomically via rename so the scrape layer never reads a
// half-written list.
func (c *Controller) writeGroups(jobName string, groups []TargetGroup) error {
	data, err := json.MarshalIndent(groups, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(c.dir, jobName+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
