// Package otel implements the rxmsg o11y interfaces on OpenTelemetry. It uses
// the global meter and tracer providers, so the host process decides where the
// data is exported.
package otel

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/tsarna/rxmsg/pkg/rxmsg/o11y"
)

// Provider implements o11y.MetricsProvider and o11y.TracingProvider.
type Provider struct {
	meter  metric.Meter
	tracer trace.Tracer
}

// NewProvider returns a Provider whose instruments are scoped to serviceName.
func NewProvider(serviceName, serviceVersion string) *Provider {
	return &Provider{
		meter:  otel.Meter(serviceName, metric.WithInstrumentationVersion(serviceVersion)),
		tracer: otel.Tracer(serviceName, trace.WithInstrumentationVersion(serviceVersion)),
	}
}

func attrs(labels []o11y.Label) []attribute.KeyValue {
	kv := make([]attribute.KeyValue, len(labels))
	for i, label := range labels {
		kv[i] = attribute.String(label.Key, label.Value)
	}
	return kv
}

func (p *Provider) Counter(name string) o11y.Counter {
	counter, _ := p.meter.Int64Counter(name)
	return &counterInstrument{counter: counter}
}

func (p *Provider) Histogram(name string) o11y.Histogram {
	histogram, _ := p.meter.Float64Histogram(name)
	return &histogramInstrument{histogram: histogram}
}

// Gauge is backed by an UpDownCounter; Set adds the difference from the last
// value recorded for the same label set.
func (p *Provider) Gauge(name string) o11y.Gauge {
	gauge, _ := p.meter.Float64UpDownCounter(name)
	return &gaugeInstrument{gauge: gauge, last: make(map[string]float64)}
}

func (p *Provider) StartSpan(ctx context.Context, name string) (context.Context, o11y.Span) {
	ctx, span := p.tracer.Start(ctx, name)
	return ctx, &spanAdapter{span: span}
}

type counterInstrument struct {
	counter metric.Int64Counter
}

func (c *counterInstrument) Add(ctx context.Context, value int64, labels ...o11y.Label) {
	c.counter.Add(ctx, value, metric.WithAttributes(attrs(labels)...))
}

type histogramInstrument struct {
	histogram metric.Float64Histogram
}

func (h *histogramInstrument) Record(ctx context.Context, value float64, labels ...o11y.Label) {
	h.histogram.Record(ctx, value, metric.WithAttributes(attrs(labels)...))
}

type gaugeInstrument struct {
	gauge metric.Float64UpDownCounter

	mu   sync.Mutex
	last map[string]float64
}

func labelKey(labels []o11y.Label) string {
	parts := make([]string, len(labels))
	for i, label := range labels {
		parts[i] = label.Key + "=" + label.Value
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func (g *gaugeInstrument) Set(ctx context.Context, value float64, labels ...o11y.Label) {
	key := labelKey(labels)

	g.mu.Lock()
	delta := value - g.last[key]
	g.last[key] = value
	g.mu.Unlock()

	if delta != 0 {
		g.gauge.Add(ctx, delta, metric.WithAttributes(attrs(labels)...))
	}
}

type spanAdapter struct {
	span trace.Span
}

func (s *spanAdapter) SetAttributes(labels ...o11y.Label) {
	s.span.SetAttributes(attrs(labels)...)
}

func (s *spanAdapter) SetStatus(code o11y.SpanStatusCode, description string) {
	switch code {
	case o11y.SpanStatusOK:
		s.span.SetStatus(codes.Ok, description)
	case o11y.SpanStatusError:
		s.span.SetStatus(codes.Error, description)
	default:
		s.span.SetStatus(codes.Unset, description)
	}
}

func (s *spanAdapter) End() {
	s.span.End()
}
