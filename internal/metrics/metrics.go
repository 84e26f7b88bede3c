package metrics

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Pipeline Prometheus metrics.
var (
	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docq",
			Name:      "queries_total",
			Help:      "Total number of executed queries",
		},
		[]string{"kind", "status"}, // kind: lookup / collection / aggregate
	)

	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docq",
			Name:      "query_duration_seconds",
			Help:      "Query execution duration in seconds, includes navigation loading",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"kind"},
	)

	DocumentsMaterializedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docq",
			Name:      "documents_materialized_total",
			Help:      "Documents turned into entities or projections",
		},
		[]string{"collection"},
	)

	ConversionFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docq",
			Name:      "conversion_failures_total",
			Help:      "Stored values that could not be converted and were defaulted",
		},
		[]string{"entity", "field"},
	)

	NavigationLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docq",
			Name:      "navigation_loads_total",
			Help:      "Related-data loads by kind",
		},
		[]string{"kind"}, // include / subcollection / reference / lazy
	)

	WritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docq",
			Name:      "writes_total",
			Help:      "Committed document writes",
		},
		[]string{"op"},
	)

	TrackedEntities = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "docq",
			Name:      "tracked_entities",
			Help:      "Entities held by open session identity maps",
		},
	)
)

// Register adds every docq collector to reg. Collectors already present on
// reg are left as they are, so Register may be called more than once.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		QueriesTotal, QueryDuration, DocumentsMaterializedTotal, ConversionFailuresTotal,
		NavigationLoadsTotal, WritesTotal, TrackedEntities,
		httpRequestDuration, httpRequestsTotal,
	} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) && are.ExistingCollector == c {
				continue
			}
			return fmt.Errorf("register metric: %w", err)
		}
	}
	return nil
}
