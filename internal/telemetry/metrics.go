package telemetry

import (
	"context"
	"time"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

// opKey tags a recorded measurement with the tree operation it came
// from, so the exported views can be broken down per-operation instead
// of only a single aggregate count.
var opKey = tag.MustNewKey("tree_op")

var (
	executeLatency = stats.Float64("treekeep/execute_latency_ms", "latency of an Execute RPC", stats.UnitMilliseconds)
	executeCount   = stats.Int64("treekeep/execute_count", "number of Execute RPCs", stats.UnitDimensionless)
)

// Views are the opencensus views treekeep registers in addition to the
// ocgrpc.DefaultServerViews every RPC already gets: a per-tree-operation
// breakdown that the generic RPC-level stats handler can't produce.
var Views = []*view.View{
	{
		Name:        "treekeep/execute_latency_ms",
		Measure:     executeLatency,
		Description: "distribution of Execute RPC latency by tree operation",
		TagKeys:     []tag.Key{opKey},
		Aggregation: view.Distribution(0, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000),
	},
	{
		Name:        "treekeep/execute_count",
		Measure:     executeCount,
		Description: "count of Execute RPCs by tree operation",
		TagKeys:     []tag.Key{opKey},
		Aggregation: view.Count(),
	},
}

// RegisterViews installs Views with opencensus. Call once at process
// startup alongside view.Register(ocgrpc.DefaultServerViews...).
func RegisterViews() error {
	return view.Register(Views...)
}

// RecordExecute records one Execute RPC's outcome for the op breakdown,
// tagging the measurement with the tree operation name.
func RecordExecute(ctx context.Context, op string, start time.Time) {
	ctx, err := tag.New(ctx, tag.Upsert(opKey, op))
	if err != nil {
		return
	}
	stats.Record(ctx, executeCount.M(1), executeLatency.M(float64(time.Since(start).Microseconds())/1000))
}
