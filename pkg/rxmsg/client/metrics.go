package client

import (
	"context"
	"time"

	"github.com/tsarna/rxmsg/pkg/rxmsg/o11y"
)

// ClientMetrics holds the instruments recorded by a client. A nil
// *ClientMetrics records nothing.
type ClientMetrics struct {
	connects       o11y.Counter
	connectErrors  o11y.Counter
	disconnects    o11y.Counter
	reconnectDelay o11y.Histogram

	messagesSent   o11y.Counter
	sendRetries    o11y.Counter
	queuedMessages o11y.Gauge

	requests        o11y.Counter
	requestDuration o11y.Histogram
	requestErrors   o11y.Counter
}

// NewClientMetrics creates the client instruments on provider. It returns nil
// when provider is nil.
func NewClientMetrics(provider o11y.MetricsProvider) *ClientMetrics {
	if provider == nil {
		return nil
	}

	return &ClientMetrics{
		connects:       provider.Counter("rxmsg_client_connects_total"),
		connectErrors:  provider.Counter("rxmsg_client_connect_errors_total"),
		disconnects:    provider.Counter("rxmsg_client_disconnects_total"),
		reconnectDelay: provider.Histogram("rxmsg_client_reconnect_delay_seconds"),

		messagesSent:   provider.Counter("rxmsg_client_messages_sent_total"),
		sendRetries:    provider.Counter("rxmsg_client_send_retries_total"),
		queuedMessages: provider.Gauge("rxmsg_client_queued_messages"),

		requests:        provider.Counter("rxmsg_client_requests_total"),
		requestDuration: provider.Histogram("rxmsg_client_request_duration_seconds"),
		requestErrors:   provider.Counter("rxmsg_client_request_errors_total"),
	}
}

func (m *ClientMetrics) RecordConnect(ctx context.Context) {
	if m == nil {
		return
	}
	m.connects.Add(ctx, 1)
}

func (m *ClientMetrics) RecordConnectError(ctx context.Context) {
	if m == nil {
		return
	}
	m.connectErrors.Add(ctx, 1)
}

// RecordClose records a lost connection and the delay before the next attempt.
func (m *ClientMetrics) RecordClose(ctx context.Context, reconnectIn time.Duration) {
	if m == nil {
		return
	}
	m.disconnects.Add(ctx, 1)
	m.reconnectDelay.Record(ctx, reconnectIn.Seconds())
}

func (m *ClientMetrics) RecordSent(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.messagesSent.Add(ctx, 1, o11y.L("kind", kind))
}

func (m *ClientMetrics) RecordSendRetry(ctx context.Context) {
	if m == nil {
		return
	}
	m.sendRetries.Add(ctx, 1)
}

func (m *ClientMetrics) RecordQueued(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.queuedMessages.Set(ctx, float64(n))
}

// RecordRequest counts a request or subscribe call and returns a function that
// records its completion.
func (m *ClientMetrics) RecordRequest(ctx context.Context, kind string) func(error) {
	if m == nil {
		return func(error) {}
	}

	start := time.Now()
	m.requests.Add(ctx, 1, o11y.L("kind", kind))

	return func(err error) {
		m.requestDuration.Record(ctx, time.Since(start).Seconds(), o11y.L("kind", kind))
		if err != nil {
			m.requestErrors.Add(ctx, 1, o11y.L("kind", kind))
		}
	}
}
