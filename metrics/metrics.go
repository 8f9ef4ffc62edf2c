// Package metrics records endpoint invocations as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/next-trace/scg-micro/contract/transport"
	"github.com/next-trace/scg-micro/servicekit"
)

const namespace = "scg_micro"

// Outcome label values.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

var defaultBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

// Metrics holds the invocation collectors.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
// Collectors already registered with reg are reused.
func New(reg prometheus.Registerer) (*Metrics, error) {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "endpoint",
		Name:      "requests_total",
		Help:      "Endpoint invocations by outcome.",
	}, []string{"service", "endpoint", "outcome"})

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "endpoint",
		Name:      "duration_seconds",
		Help:      "Endpoint invocation latency.",
		Buckets:   defaultBuckets,
	}, []string{"service", "endpoint"})

	m := &Metrics{requests: requests, duration: duration}

	var err error
	if m.requests, err = register(reg, requests); err != nil {
		return nil, err
	}

	if m.duration, err = register(reg, duration); err != nil {
		return nil, err
	}

	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}

		return c, err
	}

	return c, nil
}

// Middleware counts and times every invocation.
func (m *Metrics) Middleware() servicekit.Middleware {
	return func(next servicekit.Invoker) servicekit.Invoker {
		return func(ctx context.Context, req transport.Request) (servicekit.Result, error) {
			info, _ := servicekit.EndpointFromContext(ctx)
			start := time.Now()

			res, err := next(ctx, req)

			outcome := OutcomeOK
			if err != nil {
				outcome = OutcomeError
			}

			m.duration.WithLabelValues(info.Service, info.Endpoint).Observe(time.Since(start).Seconds())
			m.requests.WithLabelValues(info.Service, info.Endpoint, outcome).Inc()

			return res, err
		}
	}
}

// Handler exposes the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
