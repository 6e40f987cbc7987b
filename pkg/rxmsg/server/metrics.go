package server

import (
	"context"
	"time"

	"github.com/tsarna/rxmsg/pkg/rxmsg/o11y"
)

// ServerMetrics defines the metrics collected by a server. A nil
// *ServerMetrics records nothing.
type ServerMetrics struct {
	activeConnections  o11y.Gauge
	totalConnections   o11y.Counter
	connectionDuration o11y.Histogram
	acceptErrors       o11y.Counter

	messagesReceived o11y.Counter
	responsesSent    o11y.Counter

	publishes         o11y.Counter
	publishDeliveries o11y.Counter
	publishErrors     o11y.Counter
	publishDropped    o11y.Counter
	subscribers       o11y.Gauge
}

// NewServerMetrics creates the server instruments on provider. It returns nil
// when provider is nil.
func NewServerMetrics(provider o11y.MetricsProvider) *ServerMetrics {
	if provider == nil {
		return nil
	}

	return &ServerMetrics{
		activeConnections:  provider.Gauge("rxmsg_server_active_connections"),
		totalConnections:   provider.Counter("rxmsg_server_connections_total"),
		connectionDuration: provider.Histogram("rxmsg_server_connection_duration_seconds"),
		acceptErrors:       provider.Counter("rxmsg_server_accept_errors_total"),

		messagesReceived: provider.Counter("rxmsg_server_messages_received_total"),
		responsesSent:    provider.Counter("rxmsg_server_responses_sent_total"),

		publishes:         provider.Counter("rxmsg_server_publishes_total"),
		publishDeliveries: provider.Counter("rxmsg_server_publish_deliveries_total"),
		publishErrors:     provider.Counter("rxmsg_server_publish_errors_total"),
		publishDropped:    provider.Counter("rxmsg_server_publish_dropped_total"),
		subscribers:       provider.Gauge("rxmsg_server_subscribers"),
	}
}

func (m *ServerMetrics) RecordConnectionStart(ctx context.Context, active int) {
	if m == nil {
		return
	}
	m.totalConnections.Add(ctx, 1)
	m.activeConnections.Set(ctx, float64(active))
}

func (m *ServerMetrics) RecordConnectionEnd(ctx context.Context, active int, duration time.Duration) {
	if m == nil {
		return
	}
	m.activeConnections.Set(ctx, float64(active))
	m.connectionDuration.Record(ctx, duration.Seconds())
}

func (m *ServerMetrics) RecordAcceptError(ctx context.Context) {
	if m == nil {
		return
	}
	m.acceptErrors.Add(ctx, 1)
}

func (m *ServerMetrics) RecordMessageReceived(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.messagesReceived.Add(ctx, 1, o11y.L("kind", kind))
}

func (m *ServerMetrics) RecordResponse(ctx context.Context, isError bool) {
	if m == nil {
		return
	}
	status := "ok"
	if isError {
		status = "error"
	}
	m.responsesSent.Add(ctx, 1, o11y.L("status", status))
}

// RecordPublish records one publish call and its fan-out outcome.
func (m *ServerMetrics) RecordPublish(ctx context.Context, delivered, failed int) {
	if m == nil {
		return
	}
	m.publishes.Add(ctx, 1)
	m.publishDeliveries.Add(ctx, int64(delivered))
	if failed > 0 {
		m.publishErrors.Add(ctx, int64(failed))
	}
}

// RecordPublishDropped records a publication removed by a publish transform.
func (m *ServerMetrics) RecordPublishDropped(ctx context.Context) {
	if m == nil {
		return
	}
	m.publishDropped.Add(ctx, 1)
}

func (m *ServerMetrics) RecordSubscribers(ctx context.Context, channel string, count int) {
	if m == nil {
		return
	}
	m.subscribers.Set(ctx, float64(count), o11y.L("channel", channel))
}
