package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the sync-engine counters. Pass a nil registerer to keep
// the metrics unregistered (tests).
type Metrics struct {
	Saves         *prometheus.CounterVec
	DeltaRecords  *prometheus.CounterVec
	RemoteRetries prometheus.Counter
	RemoteErrors  prometheus.Counter
	HealedRecords *prometheus.CounterVec
	Rejections    *prometheus.CounterVec
}

// Save result label values.
const (
	SaveApplied = "applied"
	SaveNoop    = "noop"
)

// NewMetrics constructs and registers the counter set.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Saves: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cyltrack",
			Subsystem: "store",
			Name:      "saves_total",
			Help:      "Save operations by result.",
		}, []string{"result"}),
		DeltaRecords: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cyltrack",
			Subsystem: "store",
			Name:      "delta_records_total",
			Help:      "Changed records pushed to the remote store, by entity kind.",
		}, []string{"kind"}),
		RemoteRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: "cyltrack",
			Subsystem: "store",
			Name:      "remote_retries_total",
			Help:      "Background retry attempts after a failed remote push.",
		}),
		RemoteErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: "cyltrack",
			Subsystem: "store",
			Name:      "remote_errors_total",
			Help:      "Remote pushes that exhausted their retries.",
		}),
		HealedRecords: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cyltrack",
			Subsystem: "sanitize",
			Name:      "healed_records_total",
			Help:      "Healing repairs performed during section loads, by entity kind.",
		}, []string{"kind"}),
		Rejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cyltrack",
			Subsystem: "lifecycle",
			Name:      "rejections_total",
			Help:      "Operations rejected by a business-rule guard, by code.",
		}, []string{"code"}),
	}
}
