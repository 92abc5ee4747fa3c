// Package metrics holds the Prometheus collectors of the trading core.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "exchange"

// Metrics groups the collectors. A nil *Metrics records nothing, so
// components can be built without one in tests.
type Metrics struct {
	OrdersPlaced    *prometheus.CounterVec
	OrdersCancelled prometheus.Counter
	OrdersProcessed *prometheus.CounterVec
	TradesExecuted  prometheus.Counter
	TradedVolume    prometheus.Counter
	MatchFailures   prometheus.Counter
	MatchDuration   prometheus.Histogram

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg. A nil reg uses a
// fresh private registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		OrdersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_placed_total",
			Help:      "Orders accepted by placement, by side",
		}, []string{"side"}),
		OrdersCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_cancelled_total",
			Help:      "Orders cancelled by their owner",
		}),
		OrdersProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "daemon",
			Name:      "orders_processed_total",
			Help:      "Orders taken off the intake queue, by outcome",
		}, []string{"outcome"}),
		TradesExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "daemon",
			Name:      "trades_executed_total",
			Help:      "Trades produced by the matching engine",
		}),
		TradedVolume: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "daemon",
			Name:      "traded_base_volume_total",
			Help:      "Base asset quantity traded",
		}),
		MatchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "daemon",
			Name:      "match_failures_total",
			Help:      "Daemon iterations that failed and were rolled back",
		}),
		MatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "daemon",
			Name:      "match_duration_seconds",
			Help:      "Time spent matching and persisting one order",
			Buckets:   prometheus.DefBuckets,
		}),
		gatherer: reg,
	}
	reg.MustRegister(
		m.OrdersPlaced,
		m.OrdersCancelled,
		m.OrdersProcessed,
		m.TradesExecuted,
		m.TradedVolume,
		m.MatchFailures,
		m.MatchDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) OrderPlaced(side string) {
	if m == nil {
		return
	}
	m.OrdersPlaced.WithLabelValues(side).Inc()
}

func (m *Metrics) OrderCancelled() {
	if m == nil {
		return
	}
	m.OrdersCancelled.Inc()
}

// OrderProcessed records one daemon iteration
func (m *Metrics) OrderProcessed(outcome string, trades int, volume float64, took time.Duration) {
	if m == nil {
		return
	}
	m.OrdersProcessed.WithLabelValues(outcome).Inc()
	m.TradesExecuted.Add(float64(trades))
	m.TradedVolume.Add(volume)
	m.MatchDuration.Observe(took.Seconds())
}

func (m *Metrics) MatchFailed() {
	if m == nil {
		return
	}
	m.MatchFailures.Inc()
}
