package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skillsy_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "skillsy_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	TransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skillsy_credit_transfers_total",
			Help: "Credit transfers by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	CreditsTransferred = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skillsy_credits_transferred_total",
			Help: "Sum of credits moved by committed transfers",
		},
		[]string{"kind"},
	)

	SettlementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skillsy_settlements_total",
			Help: "Session completion attempts by outcome",
		},
		[]string{"outcome"},
	)

	AccountsOpenedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "skillsy_accounts_opened_total",
			Help: "Credit accounts initialized at signup",
		},
	)

	ReconcilerRedrivesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skillsy_reconciler_redrives_total",
			Help: "Settlement re-drives attempted by the reconciler",
		},
		[]string{"outcome"},
	)
)

func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}

func RecordTransfer(kind, outcome string, amount decimal.Decimal) {
	TransfersTotal.WithLabelValues(kind, outcome).Inc()
	if outcome == "success" {
		CreditsTransferred.WithLabelValues(kind).Add(amount.InexactFloat64())
	}
}

func RecordSettlement(outcome string) {
	SettlementsTotal.WithLabelValues(outcome).Inc()
}

func RecordAccountOpened() {
	AccountsOpenedTotal.Inc()
}

func RecordRedrive(outcome string) {
	ReconcilerRedrivesTotal.WithLabelValues(outcome).Inc()
}
