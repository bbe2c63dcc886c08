// Package metrics exports admission decisions as Prometheus metrics.
//
// Metrics:
//   - ratekit_admission_checks_total: checks by limiter and result
//   - ratekit_admission_units_total: units requested by limiter and result
//   - ratekit_admission_check_duration_seconds: time spent in Allow/AllowN
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SmitUplenchwar2687/ratekit/internal/limiter"
)

const namespace = "ratekit"

// Result label values.
const (
	ResultAllowed = "allowed"
	ResultDenied  = "denied"
)

// Collector owns a registry and the admission metrics registered on it.
type Collector struct {
	registry *prometheus.Registry

	checks   *prometheus.CounterVec
	units    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewCollector creates a collector. A nil registry gets a fresh one, so
// several collectors never clash on the global default registry.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	f := promauto.With(registry)

	return &Collector{
		registry: registry,
		checks: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "admission_checks_total",
				Help:      "Total number of admission checks",
			},
			[]string{"limiter", "result"},
		),
		units: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "admission_units_total",
				Help:      "Total number of units requested",
			},
			[]string{"limiter", "result"},
		),
		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "admission_check_duration_seconds",
				Help:      "Time spent deciding admission, including time blocked in a leaky bucket",
				Buckets:   []float64{1e-6, 1e-5, 1e-4, 1e-3, 0.01, 0.1, 1, 10},
			},
			[]string{"limiter"},
		),
	}
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

// Observe records one decision for units requested from the named limiter.
func (c *Collector) Observe(name string, units uint64, allowed bool, took time.Duration) {
	result := ResultDenied
	if allowed {
		result = ResultAllowed
	}
	c.checks.WithLabelValues(name, result).Inc()
	c.units.WithLabelValues(name, result).Add(float64(units))
	c.duration.WithLabelValues(name).Observe(took.Seconds())
}

// Instrument wraps lim so that every decision is observed under name.
// The wrapper implements limiter.NLimiter exactly when lim does.
func (c *Collector) Instrument(name string, lim limiter.Limiter) limiter.Limiter {
	base := instrumented{c: c, name: name, lim: lim}
	if nl, ok := lim.(limiter.NLimiter); ok {
		return &instrumentedN{instrumented: base, nl: nl}
	}
	return &base
}

type instrumented struct {
	c    *Collector
	name string
	lim  limiter.Limiter
}

func (i *instrumented) Allow() bool {
	start := time.Now()
	ok := i.lim.Allow()
	i.c.Observe(i.name, 1, ok, time.Since(start))
	return ok
}

// Unwrap returns the wrapped limiter.
func (i *instrumented) Unwrap() limiter.Limiter {
	return i.lim
}

type instrumentedN struct {
	instrumented
	nl limiter.NLimiter
}

func (i *instrumentedN) AllowN(n uint64) bool {
	start := time.Now()
	ok := i.nl.AllowN(n)
	i.c.Observe(i.name, n, ok, time.Since(start))
	return ok
}
