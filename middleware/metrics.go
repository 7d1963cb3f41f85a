package middleware

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pumped-fn/storion"
)

// Metrics exports factory and instance lifecycle metrics to prometheus
type Metrics struct {
	Created  *prometheus.CounterVec
	Failed   *prometheus.CounterVec
	Disposed *prometheus.CounterVec
	Live     *prometheus.GaugeVec
	Duration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	labels := []string{"name", "type"}

	m := &Metrics{
		Created: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "factory_created_total",
				Help:      "Total number of successful factory invocations",
			},
			labels,
		),
		Failed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "factory_failed_total",
				Help:      "Total number of failed factory invocations",
			},
			labels,
		),
		Disposed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "instances_disposed_total",
				Help:      "Total number of disposed store instances",
			},
			[]string{"name"},
		),
		Live: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "instances_live",
				Help:      "Number of store instances not yet disposed",
			},
			[]string{"name"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "factory_duration_seconds",
				Help:      "Factory invocation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			labels,
		),
	}

	for _, c := range []prometheus.Collector{m.Created, m.Failed, m.Disposed, m.Live, m.Duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Middleware returns the resolver middleware feeding the collectors
func (m *Metrics) Middleware() storion.Middleware {
	return func(ctx *storion.MiddlewareContext) (any, error) {
		name, kind := ctx.DisplayName, string(ctx.Type)

		timer := prometheus.NewTimer(m.Duration.WithLabelValues(name, kind))
		result, err := ctx.Next()
		timer.ObserveDuration()

		if err != nil {
			m.Failed.WithLabelValues(name, kind).Inc()
			return result, err
		}
		m.Created.WithLabelValues(name, kind).Inc()

		if inst, ok := result.(storion.AnyInstance); ok {
			m.Live.WithLabelValues(name).Inc()
			inst.OnDispose(func() {
				m.Live.WithLabelValues(name).Dec()
				m.Disposed.WithLabelValues(name).Inc()
			})
		}
		return result, nil
	}
}
