package results

import (
	"context"
	"log/slog"
	"math"

	greptime "github.com/GreptimeTeam/greptimedb-ingester-go"
	ingesterContext "github.com/GreptimeTeam/greptimedb-ingester-go/context"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table/types"
)

// GreptimeWriter mirrors poll rows into a GreptimeDB table so long ramp runs
// can be graphed without post-processing the CSV. Optional; enabled when
// GREPTIMEDB_ENDPOINT is set.
type GreptimeWriter struct {
	client     greptime.Client
	db         string
	table      string
	scenarioID string
	log        *slog.Logger
}

// NewGreptimeWriter connects to GreptimeDB and auto-creates the results table.
func NewGreptimeWriter(endpoint, database, scenarioID string, log *slog.Logger) (*GreptimeWriter, error) {
	ctx := ingesterContext.NewContext(context.Background())
	client, err := greptime.NewClient(ctx, &greptime.Config{
		Endpoint: endpoint,
	})
	if err != nil {
		return nil, err
	}

	ddl := `
CREATE TABLE IF NOT EXISTS pushramp_results (
  scenario_id STRING TAG,
  success_rate DOUBLE,
  p50_ms DOUBLE,
  p95_ms DOUBLE,
  max_ms DOUBLE,
  push_rate DOUBLE,
  active_series DOUBLE,
  memory_bytes DOUBLE,
  cpu_rate DOUBLE,
  scrape_duration_ms DOUBLE,
  samples_scraped DOUBLE,
  ts TIMESTAMP TIME INDEX
) WITH (ttl='90d')
`
	if _, err := client.SQL(ctx, ddl); err != nil {
		return nil, err
	}

	return &GreptimeWriter{
		client:     client,
		db:         database,
		table:      "pushramp_results",
		scenarioID: scenarioID,
		log:        log,
	}, nil
}

// WriteRow inserts a single poll row. Absent values are stored as NaN.
func (w *GreptimeWriter) WriteRow(row Row) error {
	ctx := ingesterContext.NewContext(context.Background())

	tbl := table.New(w.table)
	tbl.AddTagColumn("scenario_id", types.StringType, 0)
	for _, col := range Columns {
		tbl.AddFieldColumn(col, types.Float64Type)
	}
	tbl.SetTimeIndex("ts", types.TimestampType)

	tbl.AppendTagValue("scenario_id", w.scenarioID)
	for i, col := range Columns {
		v := math.NaN()
		if row.Values[i] != nil {
			v = *row.Values[i]
		}
		tbl.AppendFieldValue(col, v)
	}
	tbl.AppendTimeIndex(row.Timestamp)

	if err := w.client.Write(ctx, w.db, []*table.Table{tbl}); err != nil {
		w.log.Warn("greptime write failed", "error", err)
		return err
	}
	return nil
}
