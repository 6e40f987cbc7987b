// Package o11y defines the metrics and tracing abstractions used by rxmsg
// clients and servers. Implementations live in the otel and prommetrics
// packages; a nil provider disables collection.
package o11y

import (
	"context"
)

// Config bundles the optional observability providers for a component.
type Config struct {
	MetricsProvider MetricsProvider
	TracingProvider TracingProvider
	ServiceName     string
	ServiceVersion  string
}

// MetricsProvider abstracts metrics collection (OpenTelemetry, Prometheus, ...).
type MetricsProvider interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
	Gauge(name string) Gauge
}

// TracingProvider abstracts distributed tracing.
type TracingProvider interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
}

// Counter is a monotonically increasing metric.
type Counter interface {
	Add(ctx context.Context, value int64, labels ...Label)
}

// Histogram records a distribution of values.
type Histogram interface {
	Record(ctx context.Context, value float64, labels ...Label)
}

// Gauge is a value that can go up and down.
type Gauge interface {
	Set(ctx context.Context, value float64, labels ...Label)
}

// Span is a unit of work in a trace.
type Span interface {
	SetAttributes(labels ...Label)
	SetStatus(code SpanStatusCode, description string)
	End()
}

// Label is a key-value pair attached to a metric or span.
type Label struct {
	Key   string
	Value string
}

// L is shorthand for Label{Key: key, Value: value}.
func L(key, value string) Label {
	return Label{Key: key, Value: value}
}

type SpanStatusCode int

const (
	SpanStatusUnset SpanStatusCode = iota
	SpanStatusOK
	SpanStatusError
)

// StartSpan starts a span on tp, or returns a no-op span when tp is nil.
func StartSpan(ctx context.Context, tp TracingProvider, name string, labels ...Label) (context.Context, Span) {
	if tp == nil {
		return ctx, noopSpan{}
	}
	ctx, span := tp.StartSpan(ctx, name)
	if len(labels) > 0 {
		span.SetAttributes(labels...)
	}
	return ctx, span
}

// EndSpan sets the span status from err and ends it.
func EndSpan(span Span, err error) {
	if err != nil {
		span.SetStatus(SpanStatusError, err.Error())
	} else {
		span.SetStatus(SpanStatusOK, "")
	}
	span.End()
}

type noopSpan struct{}

func (noopSpan) SetAttributes(...Label)           {}
func (noopSpan) SetStatus(SpanStatusCode, string) {}
func (noopSpan) End()                             {}
