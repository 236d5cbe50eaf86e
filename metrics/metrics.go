/*
Package metrics exposes Prometheus collectors for the snapshot engine.

PURPOSE:
  Operational visibility into snapshot writes, backfill progress, blacklisting,
  cache rollbacks and circuit-breaker state. Scraped via the /metrics endpoint
  registered in api/server.go.

DESIGN:
  Counters for cumulative events, gauges for instantaneous state. All
  collectors are registered against the default registry via promauto; the
  HTTP handler is promhttp.Handler().
*/
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Snapshot store
	SnapshotWritesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "snapshot_writes_total",
		Help: "Snapshots written successfully.",
	})
	SnapshotWriteFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "snapshot_write_failures_total",
		Help: "Snapshot writes that failed.",
	})
	SnapshotLatestScansTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "snapshot_latest_scans_total",
		Help: "Directory scans performed to resolve the latest snapshot (cache misses).",
	})

	// Backfill engine
	BackfillJobsStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backfill_jobs_started_total",
		Help: "Backfill jobs accepted for processing.",
	})
	BackfillJobsCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backfill_jobs_completed_total",
		Help: "Backfill jobs reaching a terminal state, by status.",
	}, []string{"status"})
	BackfillPeriodsSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backfill_periods_skipped_total",
		Help: "Period/district units skipped because analytics already existed.",
	})
	DistrictsBlacklistedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backfill_districts_blacklisted_total",
		Help: "Districts blacklisted after consecutive failures.",
	})
	ActiveBackfillJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backfill_jobs_active",
		Help: "Backfill jobs currently processing.",
	})

	// Cache updates
	CacheUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cache_updates_total",
		Help: "Cache entries updated in place.",
	})
	CacheRollbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cache_rollbacks_total",
		Help: "Cache updates rolled back after a failed write.",
	})

	// Reconciliation orchestration
	ReconciliationsScheduledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reconciliations_scheduled_total",
		Help: "Reconciliations scheduled at month transitions.",
	})
	BreakerOpenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circuit_breaker_open_total",
		Help: "Circuit breaker transitions to open, by operation.",
	}, []string{"operation"})
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alerts_sent_total",
		Help: "Alerts emitted, by severity.",
	}, []string{"severity"})
)
