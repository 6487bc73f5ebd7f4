// Package metrics holds the prometheus collectors exported by the deposit watcher.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DepositsDetected counts candidates written to the pending store
	DepositsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deposit_detected_total",
		Help: "Candidate deposits observed by chain monitors",
	}, []string{"chain", "contract_call"})

	// DepositsCredited counts deposits credited to the ledger
	DepositsCredited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deposit_credited_total",
		Help: "Deposits credited to the internal ledger",
	}, []string{"chain", "currency"})

	// DepositsAlreadyProcessed counts ledger idempotency rejections
	DepositsAlreadyProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deposit_already_processed_total",
		Help: "Deposits discarded because the ledger had already credited them",
	}, []string{"chain"})

	// DepositsFailed counts deposits the chain reported as failed
	DepositsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deposit_failed_total",
		Help: "Pending deposits resolved as failed on chain",
	}, []string{"chain"})

	// PendingStuck counts pending entries flagged for manual review
	PendingStuck = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deposit_pending_stuck_total",
		Help: "Pending deposits flagged after exceeding the maximum pending age",
	}, []string{"chain"})

	// PendingEntries tracks the size of the pending store at the last sweep
	PendingEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "deposit_pending_entries",
		Help: "Entries in the pending store at the last verifier sweep",
	})

	// VerifierSweepDuration observes verifier sweep latency
	VerifierSweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "deposit_verifier_sweep_seconds",
		Help:    "Duration of confirmation verifier sweeps",
		Buckets: prometheus.DefBuckets,
	})

	// ProviderHandles tracks cached chain provider handles
	ProviderHandles = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "deposit_provider_handles",
		Help: "Cached chain provider handles by transport",
	}, []string{"chain", "transport"})

	// ActiveMonitors tracks live deposit monitors by chain
	ActiveMonitors = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "deposit_active_monitors",
		Help: "Deposit monitors currently bound to a session or inside the grace window",
	}, []string{"chain"})

	// MonitorSelfStops counts monitors that stopped themselves after exhausting retries
	MonitorSelfStops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deposit_monitor_self_stops_total",
		Help: "Monitors that stopped after persistent provider failure",
	}, []string{"chain"})

	// HTTPRequestsTotal counts HTTP requests served
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests served",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration observes HTTP latency
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)
