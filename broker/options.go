package broker

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Scl-Ywr/confession-wall-sub003/metric"
)

// Option is a functional option for configuring the Adapter
type Option func(*Adapter) error

// WithLogger sets a custom logger for the adapter
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) error {
		if logger != nil {
			a.logger = logger
		}
		return nil
	}
}

// WithName sets the client name reported to the broker
func WithName(name string) Option {
	return func(a *Adapter) error {
		a.clientName = name
		return nil
	}
}

// WithReconnectStep sets the per-attempt backoff step.
// The reconnect delay is min(attempt*step, maxBackoff).
func WithReconnectStep(step time.Duration) Option {
	return func(a *Adapter) error {
		if step > 0 {
			a.reconnectStep = step
		}
		return nil
	}
}

// WithMaxBackoff caps the reconnect backoff delay
func WithMaxBackoff(d time.Duration) Option {
	return func(a *Adapter) error {
		if d > 0 {
			a.maxBackoff = d
		}
		return nil
	}
}

// WithMaxReconnects sets the maximum reconnection attempts (-1 for infinite)
func WithMaxReconnects(max int) Option {
	return func(a *Adapter) error {
		a.maxReconnects = max
		return nil
	}
}

// WithTimeout sets the connection timeout
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) error {
		if d > 0 {
			a.timeout = d
		}
		return nil
	}
}

// WithDrainTimeout sets the timeout for draining on close
func WithDrainTimeout(d time.Duration) Option {
	return func(a *Adapter) error {
		if d > 0 {
			a.drainTimeout = d
		}
		return nil
	}
}

// WithDisconnectCallback sets a callback for disconnection events
func WithDisconnectCallback(fn func(error)) Option {
	return func(a *Adapter) error {
		a.onDisconnect = fn
		return nil
	}
}

// WithReconnectCallback sets a callback for reconnection events
func WithReconnectCallback(fn func()) Option {
	return func(a *Adapter) error {
		a.onReconnect = fn
		return nil
	}
}

// adapterMetrics holds the adapter's Prometheus instruments
type adapterMetrics struct {
	published       prometheus.Counter
	publishFailures prometheus.Counter
	delivered       prometheus.Counter
	reconnects      prometheus.Counter
}

// WithMetrics registers broker metrics with the given registry
func WithMetrics(registry *metric.Registry) Option {
	return func(a *Adapter) error {
		if registry == nil {
			return nil
		}

		m := &adapterMetrics{
			published: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "broker_published_total",
				Help: "Envelopes published to the broker",
			}),
			publishFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "broker_publish_failures_total",
				Help: "Publishes dropped because the connection was unavailable",
			}),
			delivered: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "broker_delivered_total",
				Help: "Handler deliveries fanned out from the broker",
			}),
			reconnects: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "broker_reconnects_total",
				Help: "Broker reconnections observed",
			}),
		}

		for name, c := range map[string]prometheus.Counter{
			"broker_published_total":        m.published,
			"broker_publish_failures_total": m.publishFailures,
			"broker_delivered_total":        m.delivered,
			"broker_reconnects_total":       m.reconnects,
		} {
			if err := registry.RegisterCounter("broker", name, c); err != nil {
				return err
			}
		}

		a.metrics = m
		return nil
	}
}
