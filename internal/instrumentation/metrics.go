// Package instrumentation defines the Prometheus metrics of the settlement
// service.
package instrumentation

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the settlement service.
type Metrics struct {
	TransitionsTotal  *prometheus.CounterVec
	TransitionLatency *prometheus.HistogramVec

	BetVolume      prometheus.Counter
	SharesIssued   prometheus.Counter
	PayoutVolume   prometheus.Counter
	FeeVolume      prometheus.Counter
	MarketsOpened  prometheus.Counter
	MarketsSettled prometheus.Counter

	LockContention prometheus.Counter
	ErrorsTotal    *prometheus.CounterVec

	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec
	WSClients    prometheus.Gauge

	MarketsArchived prometheus.Counter
}

// NewMetrics creates the metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TransitionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "polysettle_transitions_total",
			Help: "Settlement transitions by operation and result kind",
		}, []string{"operation", "result"}),

		TransitionLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "polysettle_transition_seconds",
			Help:    "Time to apply a settlement transition",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"operation"}),

		BetVolume: f.NewCounter(prometheus.CounterOpts{
			Name: "polysettle_bet_volume_units_total",
			Help: "Sum of accepted bet amounts in minimal units",
		}),
		SharesIssued: f.NewCounter(prometheus.CounterOpts{
			Name: "polysettle_shares_issued_total",
			Help: "Shares issued by the bonding curve",
		}),
		PayoutVolume: f.NewCounter(prometheus.CounterOpts{
			Name: "polysettle_payout_units_total",
			Help: "Sum of claimed payouts in minimal units",
		}),
		FeeVolume: f.NewCounter(prometheus.CounterOpts{
			Name: "polysettle_fee_units_total",
			Help: "Sum of withdrawn operator fees in minimal units",
		}),
		MarketsOpened: f.NewCounter(prometheus.CounterOpts{
			Name: "polysettle_markets_opened_total",
			Help: "Markets created",
		}),
		MarketsSettled: f.NewCounter(prometheus.CounterOpts{
			Name: "polysettle_markets_settled_total",
			Help: "Markets resolved",
		}),

		LockContention: f.NewCounter(prometheus.CounterOpts{
			Name: "polysettle_lock_contention_total",
			Help: "Transitions rejected because the market lock was held",
		}),
		ErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "polysettle_errors_total",
			Help: "Non-fatal errors by component and type",
		}, []string{"component", "error_type"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "polysettle_http_requests_total",
			Help: "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		HTTPLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "polysettle_http_request_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		WSClients: f.NewGauge(prometheus.GaugeOpts{
			Name: "polysettle_ws_clients",
			Help: "Connected websocket clients",
		}),

		MarketsArchived: f.NewCounter(prometheus.CounterOpts{
			Name: "polysettle_markets_archived_total",
			Help: "Settled markets written to cold storage",
		}),
	}
}

// RecordTransition counts a transition and observes its latency. result is
// "ok" or the error kind.
func (m *Metrics) RecordTransition(operation, result string, elapsed time.Duration) {
	m.TransitionsTotal.WithLabelValues(operation, result).Inc()
	m.TransitionLatency.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// RecordBet adds an accepted bet.
func (m *Metrics) RecordBet(amount, shares uint64) {
	m.BetVolume.Add(float64(amount))
	m.SharesIssued.Add(float64(shares))
}

// RecordPayout adds a claimed payout.
func (m *Metrics) RecordPayout(amount uint64) {
	m.PayoutVolume.Add(float64(amount))
}

// RecordFee adds a withdrawn fee.
func (m *Metrics) RecordFee(amount uint64) {
	m.FeeVolume.Add(float64(amount))
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// RecordArchived adds markets copied to cold storage.
func (m *Metrics) RecordArchived(n int64) {
	m.MarketsArchived.Add(float64(n))
}

// RecordHTTP counts a served request.
func (m *Metrics) RecordHTTP(method, route string, status int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, statusText(status)).Inc()
	m.HTTPLatency.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func statusText(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
