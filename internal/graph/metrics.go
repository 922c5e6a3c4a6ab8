package graph

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/chicify/socialgraph/internal/graph"

// Instruments are created against the global meter provider, which delegates
// to whatever provider telemetry.Init installs later.
var (
	meter = otel.Meter(meterName)

	transitionsTotal   = int64Counter("graph_transitions_total", "Relationship transitions applied.")
	conflictsTotal     = int64Counter("graph_conflicts_total", "Transitions rejected because the pair was already in the requested state.")
	compensationsTotal = int64Counter("graph_compensations_total", "Edge rollbacks attempted after a counter failure.")
	faultsTotal        = int64Counter("graph_consistency_faults_total", "Transitions whose compensation failed.")
	clampsTotal        = int64Counter("graph_counter_clamps_total", "Counter decrements clamped at zero.")
	repairsTotal       = int64Counter("graph_counter_repairs_total", "Counters overwritten by the reconciliation sweep.")
)

func int64Counter(name, help string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(help))
	if err != nil {
		return noop.Int64Counter{}
	}
	return c
}

func kindAttrs(kind Kind, extra ...attribute.KeyValue) metric.MeasurementOption {
	return metric.WithAttributes(append([]attribute.KeyValue{attribute.String("kind", string(kind))}, extra...)...)
}
