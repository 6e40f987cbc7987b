// Package prommetrics implements o11y.MetricsProvider on the Prometheus client
// library and serves the collected metrics over HTTP.
package prommetrics

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tsarna/rxmsg/pkg/rxmsg/o11y"
)

// Provider hands out Prometheus-backed instruments registered on its own
// registry. The label names of an instrument are fixed by its first use;
// later calls fill missing labels with "" and ignore unknown ones.
type Provider struct {
	registry  *prometheus.Registry
	namespace string
	handler   http.Handler
}

// NewProvider creates a Provider with a fresh registry that also exports the
// Go runtime and process collectors. namespace prefixes every metric name.
func NewProvider(namespace string) *Provider {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewGoCollector())

	return &Provider{
		registry:  registry,
		namespace: namespace,
		handler:   promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Provider) Handler() http.Handler {
	return p.handler
}

// Registry exposes the underlying registry, mainly for tests.
func (p *Provider) Registry() *prometheus.Registry {
	return p.registry
}

func (p *Provider) Counter(name string) o11y.Counter {
	return &counter{lazyVec: lazyVec[*prometheus.CounterVec]{
		create: func(labels []string) *prometheus.CounterVec {
			return prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: p.namespace,
				Name:      name,
				Help:      name,
			}, labels)
		},
		registry: p.registry,
	}}
}

func (p *Provider) Histogram(name string) o11y.Histogram {
	return &histogram{lazyVec: lazyVec[*prometheus.HistogramVec]{
		create: func(labels []string) *prometheus.HistogramVec {
			return prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: p.namespace,
				Name:      name,
				Help:      name,
				Buckets:   prometheus.DefBuckets,
			}, labels)
		},
		registry: p.registry,
	}}
}

func (p *Provider) Gauge(name string) o11y.Gauge {
	return &gauge{lazyVec: lazyVec[*prometheus.GaugeVec]{
		create: func(labels []string) *prometheus.GaugeVec {
			return prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: p.namespace,
				Name:      name,
				Help:      name,
			}, labels)
		},
		registry: p.registry,
	}}
}

type vec interface {
	prometheus.Collector
	*prometheus.CounterVec | *prometheus.HistogramVec | *prometheus.GaugeVec
}

// lazyVec creates and registers its collector on first use, once the label
// names are known.
type lazyVec[V vec] struct {
	create   func(labels []string) V
	registry *prometheus.Registry

	once   sync.Once
	vec    V
	labels []string
}

func (l *lazyVec[V]) get(labels []o11y.Label) (V, []string) {
	l.once.Do(func() {
		names := make([]string, len(labels))
		for i, label := range labels {
			names[i] = label.Key
		}
		slices.Sort(names)
		names = slices.Compact(names)

		l.labels = names
		l.vec = l.create(names)
		if err := l.registry.Register(l.vec); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				if existing, ok := are.ExistingCollector.(V); ok {
					l.vec = existing
				}
			}
		}
	})
	return l.vec, l.values(labels)
}

func (l *lazyVec[V]) values(labels []o11y.Label) []string {
	values := make([]string, len(l.labels))
	for i, name := range l.labels {
		for _, label := range labels {
			if label.Key == name {
				values[i] = label.Value
			}
		}
	}
	return values
}

type counter struct {
	lazyVec[*prometheus.CounterVec]
}

func (c *counter) Add(_ context.Context, value int64, labels ...o11y.Label) {
	vec, values := c.get(labels)
	vec.WithLabelValues(values...).Add(float64(value))
}

type histogram struct {
	lazyVec[*prometheus.HistogramVec]
}

func (h *histogram) Record(_ context.Context, value float64, labels ...o11y.Label) {
	vec, values := h.get(labels)
	vec.WithLabelValues(values...).Observe(value)
}

type gauge struct {
	lazyVec[*prometheus.GaugeVec]
}

func (g *gauge) Set(_ context.Context, value float64, labels ...o11y.Label) {
	vec, values := g.get(labels)
	vec.WithLabelValues(values...).Set(value)
}
