// Package metrics holds the prometheus collectors of the customer record
// manager. Collectors register with the default registry on import.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	ResultOK    = "ok"
	ResultError = "error"
)

var (
	// Mutations counts store mutations by operation and result.
	Mutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crm",
		Name:      "mutations_total",
		Help:      "Customer store mutations by operation and result",
	}, []string{"op", "result"})

	// PersistenceFailures counts failed snapshot writes by backend and stage.
	PersistenceFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crm",
		Name:      "persistence_failures_total",
		Help:      "Failed snapshot writes by backend and stage",
	}, []string{"backend", "stage"})

	// LoadDegraded counts snapshot loads that fell back to an empty set
	// because the snapshot was present but unreadable.
	LoadDegraded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crm",
		Name:      "snapshot_load_degraded_total",
		Help:      "Snapshot loads degraded to an empty record set",
	}, []string{"backend"})

	// LiveRecords tracks the size of the live set.
	LiveRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "crm",
		Name:      "live_records",
		Help:      "Number of live customer records",
	})
)

// ObserveMutation records the outcome of a store mutation.
func ObserveMutation(op string, err error) {
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	Mutations.WithLabelValues(op, result).Inc()
}
