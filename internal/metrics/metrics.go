// SPDX-License-Identifier: MIT
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Transfer metrics
	transfersInitiated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warmline_transfers_initiated_total",
		Help: "Transfers initiated by mode",
	}, []string{"mode"}) // mode=agent|phone

	transfersCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warmline_transfers_completed_total",
		Help: "Transfers completed by mode",
	}, []string{"mode"})

	transfersAborted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warmline_transfers_aborted_total",
		Help: "Transfers aborted by reason class",
	}, []string{"reason"}) // reason=user|timeout|failure

	transfersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "warmline_transfers_active",
		Help: "Transfers currently attached to a session",
	})

	transferFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warmline_transfer_failures_total",
		Help: "Transfer precondition and infrastructure failures by kind",
	}, []string{"kind"})

	summariesDegraded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "warmline_summaries_degraded_total",
		Help: "Transfers that proceeded with an empty summary",
	})

	// Signal metrics
	signalsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warmline_signals_published_total",
		Help: "Signals published by kind",
	}, []string{"kind"})

	signalsDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "warmline_signals_duplicate_total",
		Help: "Signal publishes suppressed by the dedup key",
	})

	signalsStale = promauto.NewCounter(prometheus.CounterOpts{
		Name: "warmline_signals_stale_total",
		Help: "Signals discarded because their TTL had elapsed",
	})

	// Session metrics
	holdToggles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warmline_hold_toggles_total",
		Help: "Caller hold state changes",
	}, []string{"state"}) // state=on|off

	// Bridge metrics
	bridgeJoins = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warmline_bridge_joins_total",
		Help: "Conference bridge join attempts by outcome",
	}, []string{"outcome"}) // outcome=success|failure|restart

	credentialRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warmline_credential_refreshes_total",
		Help: "Bridge credential refresh attempts by outcome",
	}, []string{"outcome"}) // outcome=success|failure

	// HTTP metrics
	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "warmline_http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	httpRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "warmline_http_requests_in_flight",
		Help: "HTTP requests currently being served",
	})

	upstreamRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "warmline_upstream_request_duration_seconds",
		Help:    "Collaborator request latency by service and operation",
		Buckets: prometheus.DefBuckets,
	}, []string{"service", "operation"})
)

func IncTransferInitiated(mode string) { transfersInitiated.WithLabelValues(mode).Inc() }
func IncTransferCompleted(mode string) { transfersCompleted.WithLabelValues(mode).Inc() }
func IncTransferAborted(reason string) { transfersAborted.WithLabelValues(reason).Inc() }
func IncTransferFailure(kind string)   { transferFailures.WithLabelValues(kind).Inc() }
func IncActiveTransfers()              { transfersActive.Inc() }
func DecActiveTransfers()              { transfersActive.Dec() }
func IncSummaryDegraded()              { summariesDegraded.Inc() }

func IncSignalPublished(kind string) { signalsPublished.WithLabelValues(kind).Inc() }
func IncSignalDuplicate()            { signalsDuplicate.Inc() }
func IncSignalStale()                { signalsStale.Inc() }

func IncHoldToggle(on bool) {
	if on {
		holdToggles.WithLabelValues("on").Inc()
	} else {
		holdToggles.WithLabelValues("off").Inc()
	}
}

func IncBridgeJoin(outcome string)        { bridgeJoins.WithLabelValues(outcome).Inc() }
func IncCredentialRefresh(outcome string) { credentialRefreshes.WithLabelValues(outcome).Inc() }

func ObserveHTTPRequest(method, path, status string, seconds float64) {
	httpRequestDuration.WithLabelValues(method, path, status).Observe(seconds)
}
func IncHTTPInFlight() { httpRequestsInFlight.Inc() }
func DecHTTPInFlight() { httpRequestsInFlight.Dec() }

func ObserveUpstreamRequest(service, operation string, seconds float64) {
	upstreamRequestDuration.WithLabelValues(service, operation).Observe(seconds)
}
