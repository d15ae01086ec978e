// Package telemetry wires the exchange simulator's structured logging and
// Prometheus metrics, the two ambient concerns spec.md is silent on but
// which every retrieved trading-system example carries regardless (e.g.
// the paper-broker execution service's counter/histogram vectors).
package telemetry

import (
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ConfigureLogging sets the global zerolog logger's level and output
// format, the way the retrieved pack's services configure zerolog at
// process startup rather than behind a hand-rolled wrapper.
func ConfigureLogging(level, format string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var writer = os.Stderr
	if format == "console" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: writer, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
		return
	}
	log.Logger = zerolog.New(writer).With().Timestamp().Logger()
}

// Metrics bundles the counters and gauges the pipeline and facade
// instrument themselves with: orders submitted/rejected/cancelled,
// trades executed, subscriber evictions, and the three queue depths.
type Metrics struct {
	registry *prometheus.Registry

	OrdersSubmitted   *prometheus.CounterVec
	OrdersRejected    prometheus.Counter
	OrdersCancelled   prometheus.Counter
	TradesExecuted    prometheus.Counter
	SubscriberEvicted *prometheus.CounterVec
	QueueDepth        *prometheus.GaugeVec
}

// NewMetrics constructs a Metrics bundle registered against its own
// registry, rather than the global default registry, so a process that
// embeds the simulator more than once (as the test suite does) never
// hits a duplicate-registration panic.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		OrdersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "xchange_orders_submitted_total",
			Help: "Total number of orders submitted, by side.",
		}, []string{"side"}),
		OrdersRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xchange_orders_rejected_total",
			Help: "Total number of orders rejected (e.g. MARKET against an empty book).",
		}),
		OrdersCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xchange_orders_cancelled_total",
			Help: "Total number of successful cancellations.",
		}),
		TradesExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xchange_trades_executed_total",
			Help: "Total number of matches executed across all instruments.",
		}),
		SubscriberEvicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "xchange_subscriber_evictions_total",
			Help: "Total number of subscribers evicted after a delivery failure, by queue.",
		}, []string{"queue"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "xchange_queue_depth",
			Help: "Current number of items buffered in a pipeline queue.",
		}, []string{"queue"}),
	}

	registry.MustRegister(
		m.OrdersSubmitted,
		m.OrdersRejected,
		m.OrdersCancelled,
		m.TradesExecuted,
		m.SubscriberEvicted,
		m.QueueDepth,
	)
	return m
}

// Handler exposes the registry's /metrics endpoint for an HTTP server to
// mount, mirroring the pack's promhttp.HandlerFor usage.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveQueueDepths is a convenience a cmd/ harness can poll on an
// interval to publish live queue-length gauges, since Go channels don't
// push depth changes on their own.
func (m *Metrics) ObserveQueueDepths(submitted, orderUpdates, marketData int) {
	m.QueueDepth.WithLabelValues("submitted_order").Set(float64(submitted))
	m.QueueDepth.WithLabelValues("order_update").Set(float64(orderUpdates))
	m.QueueDepth.WithLabelValues("market_data").Set(float64(marketData))
}
