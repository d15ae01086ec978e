package telemetry

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistersWithoutPanicking(t *testing.T) {
	require.NotPanics(t, func() {
		NewMetrics()
	})
}

func TestMetricsHandlerServesRegisteredCounters(t *testing.T) {
	m := NewMetrics()
	m.OrdersSubmitted.WithLabelValues("BUY").Inc()
	m.TradesExecuted.Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "xchange_orders_submitted_total")
	assert.Contains(t, rec.Body.String(), "xchange_trades_executed_total")
}

func TestObserveQueueDepthsSetsGauges(t *testing.T) {
	m := NewMetrics()
	m.ObserveQueueDepths(10, 20, 30)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	assert.Contains(t, rec.Body.String(), "xchange_queue_depth")
}

func TestConfigureLoggingFallsBackOnInvalidLevel(t *testing.T) {
	require.NotPanics(t, func() {
		ConfigureLogging("not-a-level", "console")
	})
}
