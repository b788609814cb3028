package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterCounter(t *testing.T) {
	r := NewRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_events_total",
		Help: "Total relayed events",
	})

	require.NoError(t, r.RegisterCounter("session", "relay_events_total", counter))

	// Same key twice is rejected
	err := r.RegisterCounter("session", "relay_events_total", counter)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistry_RegisterGauge(t *testing.T) {
	r := NewRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_active_sessions",
		Help: "Active subscription sessions",
	})

	assert.NoError(t, r.RegisterGauge("session", "relay_active_sessions", gauge))
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_dropped_total",
		Help: "Dropped events",
	})
	require.NoError(t, r.RegisterCounter("broker", "relay_dropped_total", counter))

	assert.True(t, r.Unregister("broker", "relay_dropped_total"))
	assert.False(t, r.Unregister("broker", "relay_dropped_total"))

	// Re-registration works after unregister
	assert.NoError(t, r.RegisterCounter("broker", "relay_dropped_total", counter))
}

func TestRegistry_Handler(t *testing.T) {
	r := NewRegistry()
	assert.NotNil(t, r.Handler())
	assert.NotNil(t, r.PrometheusRegistry())
}
