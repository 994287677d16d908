// Package metrics polls the monitoring backend for the fixed set of
// experiment metrics and evaluates the early-stop policy.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"pushramp/internal/results"
)

// queryTimeout bounds each individual metric query.
const queryTimeout = 10 * time.Second

// promAPI is the slice of the Prometheus v1 API the poller consumes.
// v1.API satisfies it; tests substitute a fake.
type promAPI interface {
	Query(ctx context.Context, query string, ts time.Time, opts ...v1.Option) (model.Value, v1.Warnings, error)
}

// Query binds a results column to a PromQL expression.
type Query struct {
	Column string
	Expr   string
}

// DefaultQueries returns the fixed ordered query set for the pushgateway
// under test. One query per results column.
func DefaultQueries() []Query {
	return []Query{
		{"success_rate", `sum(rate(pushgateway_http_requests_total{handler="push",code=~"2.."}[2m])) / sum(rate(pushgateway_http_requests_total{handler="push"}[2m])) * 100`},
		{"p50_ms", `histogram_quantile(0.5, sum(rate(pushgateway_http_request_duration_seconds_bucket{handler="push"}[2m])) by (le)) * 1000`},
		{"p95_ms", `histogram_quantile(0.95, sum(rate(pushgateway_http_request_duration_seconds_bucket{handler="push"}[2m])) by (le)) * 1000`},
		{"max_ms", `max_over_time(pushgateway_http_request_duration_seconds{handler="push",quantile="1"}[2m]) * 1000`},
		{"push_rate", `sum(rate(pushgateway_http_requests_total{handler="push"}[2m]))`},
		{"active_series", `count({__name__=~".+",job!=""})`},
		{"memory_bytes", `process_resident_memory_bytes{job="pushgateway"}`},
		{"cpu_rate", `rate(process_cpu_seconds_total{job="pushgateway"}[2m])`},
		{"scrape_duration_ms", `scrape_duration_seconds{job="pushgateway"} * 1000`},
		{"samples_scraped", `scrape_samples_scraped{job="pushgateway"}`},
	}
}

// discoveredQuery counts stress targets the scrape layer has picked up.
const discoveredQuery = `count(up{instance=~"stress-node-.*|10\\.0\\..*"})`

// Poller queries the backend once per tick and produces one results row
// per poll. Persisting rows is the caller's concern.
type Poller struct {
	api     promAPI
	queries []Query
	log     *slog.Logger
}

// NewPoller connects to the Prometheus HTTP API at promURL.
func NewPoller(promURL string, log *slog.Logger) (*Poller, error) {
	client, err := api.NewClient(api.Config{Address: promURL})
	if err != nil {
		return nil, fmt.Errorf("create prometheus client: %w", err)
	}
	return &Poller{
		api:     v1.NewAPI(client),
		queries: DefaultQueries(),
		log:     log,
	}, nil
}

// Poll issues all queries for one tick, attributed to a single timestamp.
// A failed or empty query yields an absent value for that field only and
// never aborts the poll.
func (p *Poller) Poll(ctx context.Context) (results.Row, error) {
	row := results.NewRow(time.Now().UTC())
	for _, q := range p.queries {
		v, ok := p.queryScalar(ctx, q.Expr)
		if ok {
			row.Set(q.Column, v)
		}
	}
	return row, nil
}

// DiscoveredCount reports how many stress targets the backend currently
// sees. Used by the convergence wait.
func (p *Poller) DiscoveredCount(ctx context.Context) (int, error) {
	v, ok := p.queryScalar(ctx, discoveredQuery)
	if !ok {
		// No data is a valid answer while targets are still propagating.
		return 0, nil
	}
	return int(v), nil
}

// queryScalar executes one query with its own timeout and extracts a single
// scalar. The second return is false when the metric is absent or the query
// failed; absence of data is distinct from an error and logged differently.
func (p *Poller) queryScalar(ctx context.Context, expr string) (float64, bool) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	result, warnings, err := p.api.Query(ctx, expr, time.Now())
	if err != nil {
		p.log.Warn("metric query failed", "query", expr, "error", err)
		return 0, false
	}
	if len(warnings) > 0 {
		p.log.Debug("metric query warnings", "query", expr, "warnings", warnings)
	}

	switch result.Type() {
	case model.ValVector:
		vector := result.(model.Vector)
		if len(vector) == 0 {
			return 0, false
		}
		v := float64(vector[0].Value)
		if v != v { // NaN, e.g. histogram_quantile over an empty range
			return 0, false
		}
		return v, true
	case model.ValScalar:
		v := float64(result.(*model.Scalar).Value)
		if v != v {
			return 0, false
		}
		return v, true
	default:
		p.log.Warn("unexpected query result type", "query", expr, "type", result.Type())
		return 0, false
	}
}
