// Package metrics defines the Prometheus collectors shared across the
// sync pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsSynced counts normalized records emitted to the sink.
	RecordsSynced = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "glucosync",
		Name:      "records_synced_total",
		Help:      "Number of normalized records emitted to the sink",
	}, []string{"provider"})

	// SyncErrors counts failed sync cycles.
	SyncErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "glucosync",
		Name:      "sync_errors_total",
		Help:      "Number of sync cycles that ended in failure",
	}, []string{"provider"})

	// SyncCycles counts completed sync cycles regardless of outcome.
	SyncCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "glucosync",
		Name:      "sync_cycles_total",
		Help:      "Number of sync cycles run",
	}, []string{"provider"})

	// TokenAcquisitions counts provider logins, by outcome.
	TokenAcquisitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "glucosync",
		Name:      "token_acquisitions_total",
		Help:      "Number of provider authentications",
	}, []string{"provider", "outcome"})

	// SyncDuration observes wall time of a full sync cycle.
	SyncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "glucosync",
		Name:      "sync_duration_seconds",
		Help:      "Duration of a full sync cycle",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"provider"})

	// RecordsSkipped counts provider rows dropped for malformed payloads.
	RecordsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "glucosync",
		Name:      "records_skipped_total",
		Help:      "Number of provider rows skipped as unmappable",
	}, []string{"provider"})

	// SchedulerRestarts counts supervisor restarts of crashed provider loops.
	SchedulerRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "glucosync",
		Name:      "scheduler_restarts_total",
		Help:      "Number of times a provider loop was restarted after a crash",
	}, []string{"provider"})
)
