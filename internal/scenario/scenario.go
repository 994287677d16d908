package scenario

import (
	"errors"
	"fmt"
	"time"
)

// EndpointClass selects which pushgateway endpoint a scenario drives.
type EndpointClass string

const (
	ClusterIP EndpointClass = "clusterip"
	Ingress   EndpointClass = "ingress"
)

// JobFilter selects the job categories a scenario pushes.
type JobFilter string

const (
	JobsAll         JobFilter = "all"
	JobsNode        JobFilter = "node"
	JobsCluster     JobFilter = "cluster"
	JobsNodeCluster JobFilter = "node+cluster"
)

// Spec describes one load scenario. Specs are immutable once looked up.
type Spec struct {
	ID            string
	Endpoint      EndpointClass
	Nodes         int
	Jobs          JobFilter
	Jitter        time.Duration
	Interval      time.Duration // push cadence
	PollInterval  time.Duration // metric poll cadence
	Duration      time.Duration
	PodMultiplier int
	Purpose       string
}

// ErrNotFound is returned by Lookup for an unknown scenario id.
var ErrNotFound = errors.New("scenario not found")

// SoakID identifies the caller-parametrized soak scenario.
const SoakID = "SOAK"

// table holds the built-in scenarios in declared execution order.
var table = []Spec{
	{ID: "C0", Endpoint: ClusterIP, Nodes: 10, Jobs: JobsNodeCluster, Jitter: 5 * time.Second,
		Interval: 60 * time.Second, PollInterval: 30 * time.Second, Duration: 5 * time.Minute,
		Purpose: "Sanity check: baseline latency and series counts at trivial load."},
	{ID: "C1", Endpoint: ClusterIP, Nodes: 100, Jobs: JobsNodeCluster, Jitter: 10 * time.Second,
		Interval: 60 * time.Second, PollInterval: 30 * time.Second, Duration: 10 * time.Minute,
		Purpose: "First ramp step over ClusterIP."},
	{ID: "C2", Endpoint: ClusterIP, Nodes: 250, Jobs: JobsNodeCluster, Jitter: 15 * time.Second,
		Interval: 60 * time.Second, PollInterval: 30 * time.Second, Duration: 10 * time.Minute,
		Purpose: "Quarter-scale ramp over ClusterIP."},
	{ID: "C3", Endpoint: ClusterIP, Nodes: 500, Jobs: JobsNodeCluster, Jitter: 20 * time.Second,
		Interval: 60 * time.Second, PollInterval: 30 * time.Second, Duration: 15 * time.Minute,
		Purpose: "Half-scale ramp over ClusterIP."},
	{ID: "C4", Endpoint: ClusterIP, Nodes: 750, Jobs: JobsNodeCluster, Jitter: 20 * time.Second,
		Interval: 60 * time.Second, PollInterval: 30 * time.Second, Duration: 15 * time.Minute,
		Purpose: "Three-quarter-scale ramp over ClusterIP."},
	{ID: "C5", Endpoint: ClusterIP, Nodes: 1000, Jobs: JobsNodeCluster, Jitter: 30 * time.Second,
		Interval: 60 * time.Second, PollInterval: 30 * time.Second, Duration: 20 * time.Minute,
		Purpose: "Full-scale ramp over ClusterIP."},
	{ID: "I1", Endpoint: Ingress, Nodes: 100, Jobs: JobsNodeCluster, Jitter: 10 * time.Second,
		Interval: 60 * time.Second, PollInterval: 30 * time.Second, Duration: 10 * time.Minute,
		Purpose: "First ramp step through the TLS ingress."},
	{ID: "I2", Endpoint: Ingress, Nodes: 250, Jobs: JobsNodeCluster, Jitter: 15 * time.Second,
		Interval: 60 * time.Second, PollInterval: 30 * time.Second, Duration: 10 * time.Minute,
		Purpose: "Quarter-scale ramp through the TLS ingress."},
	{ID: "I3", Endpoint: Ingress, Nodes: 500, Jobs: JobsNodeCluster, Jitter: 20 * time.Second,
		Interval: 60 * time.Second, PollInterval: 30 * time.Second, Duration: 15 * time.Minute,
		Purpose: "Half-scale ramp through the TLS ingress."},
	{ID: "N1", Endpoint: ClusterIP, Nodes: 1000, Jobs: JobsNode, Jitter: 0,
		Interval: 60 * time.Second, PollInterval: 30 * time.Second, Duration: 20 * time.Minute,
		Purpose: "Spike test: all nodes push simultaneously, no jitter."},
	{ID: "P1", Endpoint: ClusterIP, Nodes: 0, Jobs: JobsCluster, Jitter: 0, PodMultiplier: 10,
		Interval: 60 * time.Second, PollInterval: 30 * time.Second, Duration: 15 * time.Minute,
		Purpose: "Pod-metrics cardinality: payload inflated 10x."},
	{ID: "P2", Endpoint: ClusterIP, Nodes: 0, Jobs: JobsCluster, Jitter: 0, PodMultiplier: 50,
		Interval: 60 * time.Second, PollInterval: 30 * time.Second, Duration: 30 * time.Minute,
		Purpose: "Pod-metrics cardinality: payload inflated 50x."},
}

// soakBase is the template the soak overlay is built from. It never appears
// in the table, so List and Lookup stay unaware of it.
var soakBase = Spec{
	ID:           SoakID,
	Endpoint:     ClusterIP,
	Jobs:         JobsNodeCluster,
	Jitter:       30 * time.Second,
	Interval:     60 * time.Second,
	PollInterval: 60 * time.Second,
}

// Lookup returns the spec for id or ErrNotFound.
func Lookup(id string) (Spec, error) {
	for _, s := range table {
		if s.ID == id {
			return s, nil
		}
	}
	return Spec{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// List returns all built-in scenarios in declared order.
func List() []Spec {
	out := make([]Spec, len(table))
	copy(out, table)
	return out
}

// IDs returns the built-in scenario ids in declared order.
func IDs() []string {
	ids := make([]string, len(table))
	for i, s := range table {
		ids[i] = s.ID
	}
	return ids
}

// Soak builds a long-duration scenario at a caller-supplied size without
// adding a table row.
func Soak(nodes int, duration time.Duration) Spec {
	s := soakBase
	s.Nodes = nodes
	s.Duration = duration
	s.Purpose = fmt.Sprintf("Soak: hold %d nodes for %s to detect slow degradation.", nodes, duration)
	return s
}
