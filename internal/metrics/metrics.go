// Package metrics holds Prometheus instruments that are used across the
// daemon.  All collectors are registered with the global registry, so
// importing this package in main.go is enough to expose them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	//
	// Tenant cache
	//

	ActiveTenants = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_tenants",
			Help: "Number of tenants currently loaded in memory.",
		})

	TenantLoadTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenant_load_total",
			Help: "Cumulative number of tenants successfully loaded.",
		})

	TenantLoadErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenant_load_errors_total",
			Help: "Cumulative number of tenant load errors.",
		})

	TenantEvictTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenant_evict_total",
			Help: "Cumulative number of tenants evicted from the cache.",
		})

	//
	// Ledger
	//

	StickersIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stickers_issued_total",
			Help: "Discount tokens issued, by kind.",
		}, []string{"kind"})

	StickersRedeemedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stickers_redeemed_total",
			Help: "Discount tokens redeemed exactly once.",
		})

	StickerCapRejectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sticker_cap_rejects_total",
			Help: "Issuances rejected because the tenant discount cap would be exceeded.",
		})

	PointsAwardedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "points_awarded_total",
			Help: "Points appended to the ledger, by kind.",
		}, []string{"kind"})

	//
	// Outbound sync
	//

	SyncAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_attempts_total",
			Help: "Sync records claimed and pushed to the CRM, successful or not.",
		})

	SyncCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_completed_total",
			Help: "Sync records that reached the completed state.",
		})

	SyncRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_retries_total",
			Help: "Sync attempts that failed and were scheduled for retry.",
		})

	SyncDeadTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_dead_total",
			Help: "Sync records that exhausted retries and require operator replay.",
		})

	SyncRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_run_duration_seconds",
			Help:    "Wall time of one per-tenant sync run.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		})

	//
	// Notifications
	//

	NotifyDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_dropped_total",
			Help: "Domain events dropped because the notification buffer was full.",
		})
)

func init() {
	prometheus.MustRegister(
		ActiveTenants,
		TenantLoadTotal,
		TenantLoadErrorsTotal,
		TenantEvictTotal,
		StickersIssuedTotal,
		StickersRedeemedTotal,
		StickerCapRejectsTotal,
		PointsAwardedTotal,
		SyncAttemptsTotal,
		SyncCompletedTotal,
		SyncRetriesTotal,
		SyncDeadTotal,
		SyncRunDuration,
		NotifyDroppedTotal,
	)
}
