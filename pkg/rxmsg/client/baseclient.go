package client

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tsarna/rxmsg/pkg/rxmsg/backoff"
	"github.com/tsarna/rxmsg/pkg/rxmsg/feed"
	"github.com/tsarna/rxmsg/pkg/rxmsg/o11y"
	"github.com/tsarna/rxmsg/pkg/rxmsg/wire"
	"go.uber.org/zap"
)

// BaseClient is a message session over a Connector. It queues messages while
// disconnected, retries failed writes and correlates requests with responses.
//
// Transport failures are never reported to callers; they only delay delivery.
type BaseClient struct {
	connector *Connector
	logger    *zap.Logger
	metrics   *ClientMetrics
	tracer    o11y.TracingProvider

	inbound *feed.Feed[wire.Message]
	data    *feed.Feed[wire.Message]

	nextID atomic.Int64

	mu           sync.Mutex
	socket       *wire.Socket
	detachSocket func()
	queue        []outbound
	retry        *backoff.Tracker
}

type outbound struct {
	msg  wire.Message
	done chan error
}

// BaseClientOptions configures a BaseClient.
type BaseClientOptions struct {
	Logger    *zap.Logger
	Metrics   *ClientMetrics
	Tracing   o11y.TracingProvider
	SendRetry backoff.Algorithm
}

// NewBaseClient creates a session driven by connector's lifecycle events.
func NewBaseClient(connector *Connector, opts BaseClientOptions) *BaseClient {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	inbound := feed.New[wire.Message]()
	c := &BaseClient{
		connector: connector,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		tracer:    opts.Tracing,
		inbound:   inbound,
		data: feed.Filter(inbound, func(m wire.Message) bool {
			return m.Kind == wire.KindData
		}),
		retry: backoff.NewTracker(opts.SendRetry),
	}
	connector.Events().Subscribe(c.onEvent)
	return c
}

func (c *BaseClient) onEvent(ev Event) {
	switch ev.Type {
	case EventConnect:
		c.mu.Lock()
		defer c.mu.Unlock()

		c.socket = ev.Socket
		c.detachSocket = ev.Socket.Messages().Subscribe(c.inbound.Publish)

		queued := c.queue
		c.queue = nil
		if len(queued) > 0 {
			c.logger.Debug("Flushing queued messages", zap.Int("count", len(queued)))
		}
		for _, e := range queued {
			c.writeLocked(e)
		}
		c.metrics.RecordQueued(context.Background(), len(c.queue))

	case EventClose:
		c.mu.Lock()
		defer c.mu.Unlock()
		c.dropSocketLocked()

	case EventError:
		c.logger.Debug("Transport error", zap.Error(ev.Err))
	}
}

// Connect starts connecting. It returns the result of the first dial attempt;
// on failure the session keeps reconnecting in the background.
func (c *BaseClient) Connect(ctx context.Context) error {
	_, err := c.connector.Connect(ctx, 0)
	return err
}

// Disconnect closes the connection and stops reconnecting. Queued messages
// stay queued until the next Connect, and later sends are queued with them.
func (c *BaseClient) Disconnect(ctx context.Context) error {
	err := c.connector.Disconnect(ctx)

	// the connector emits no close event for a socket it closes itself
	c.mu.Lock()
	if c.socket != nil && c.socket != c.connector.Socket() {
		c.dropSocketLocked()
	}
	c.mu.Unlock()
	return err
}

func (c *BaseClient) dropSocketLocked() {
	c.socket = nil
	if c.detachSocket != nil {
		c.detachSocket()
		c.detachSocket = nil
	}
}

// Events is the connection lifecycle stream.
func (c *BaseClient) Events() *feed.Feed[Event] {
	return c.connector.Events()
}

// Messages is the stream of inbound Data messages.
func (c *BaseClient) Messages() *feed.Feed[wire.Message] {
	return c.data
}

// AllMessages is the stream of every inbound message.
func (c *BaseClient) AllMessages() *feed.Feed[wire.Message] {
	return c.inbound
}

// Pending reports the number of messages waiting for a connection.
func (c *BaseClient) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Send delivers m, queueing it while disconnected and retrying failed writes.
// It returns once the message has been written, or with an error if the
// message can never be written (it cannot be encoded or is too large).
//
// ctx bounds only the wait: a message that is queued or being retried stays
// in flight after ctx ends.
func (c *BaseClient) Send(ctx context.Context, m wire.Message) error {
	e := outbound{msg: m, done: make(chan error, 1)}
	c.dispatch(e)

	select {
	case err := <-e.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *BaseClient) dispatch(e outbound) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.socket == nil {
		c.queue = append(c.queue, e)
		c.metrics.RecordQueued(context.Background(), len(c.queue))
		return
	}
	c.writeLocked(e)
}

func permanent(err error) bool {
	return errors.Is(err, wire.ErrUnencodable) || errors.Is(err, wire.ErrFrameTooLarge)
}

func (c *BaseClient) writeLocked(e outbound) {
	err := c.socket.Send(context.Background(), e.msg)
	switch {
	case err == nil:
		c.retry.Reset()
		c.metrics.RecordSent(context.Background(), e.msg.Kind.String())
		e.done <- nil
	case permanent(err):
		c.logger.Error("Dropping message that cannot be sent",
			zap.Stringer("kind", e.msg.Kind),
			zap.String("channel", e.msg.ChannelName()),
			zap.Error(err))
		e.done <- err
	default:
		delay := c.retry.Next()
		c.logger.Warn("Send failed, retrying",
			zap.Stringer("kind", e.msg.Kind),
			zap.String("channel", e.msg.ChannelName()),
			zap.Duration("retry_in", delay),
			zap.Error(err))
		c.metrics.RecordSendRetry(context.Background())
		time.AfterFunc(delay, func() { c.dispatch(e) })
	}
}

// Request sends m as a Request and waits for the Response with the same
// correlation id. A correlation id is assigned if m has none. A response
// carrying an error is returned as a *wire.TypedError.
func (c *BaseClient) Request(ctx context.Context, m wire.Message) (wire.Message, error) {
	m.Kind = wire.KindRequest
	return c.call(ctx, m)
}

// Subscribe sends m as a Subscribe and waits for the server's acknowledgement.
func (c *BaseClient) Subscribe(ctx context.Context, m wire.Message) (wire.Message, error) {
	m.Kind = wire.KindSubscribe
	return c.call(ctx, m)
}

// Unsubscribe sends m as an Unsubscribe and waits for the acknowledgement.
func (c *BaseClient) Unsubscribe(ctx context.Context, m wire.Message) (wire.Message, error) {
	m.Kind = wire.KindUnsubscribe
	return c.call(ctx, m)
}

func (c *BaseClient) call(ctx context.Context, m wire.Message) (resp wire.Message, err error) {
	if m.CorrelationID == nil {
		m.CorrelationID = wire.ID(c.nextID.Add(1))
	}
	id := *m.CorrelationID

	ctx, span := o11y.StartSpan(ctx, c.tracer, "rxmsg.client."+m.Kind.String(),
		o11y.L("channel", m.ChannelName()),
		o11y.L("correlation_id", strconv.FormatInt(id, 10)))
	done := c.metrics.RecordRequest(ctx, m.Kind.String())
	defer func() {
		done(err)
		o11y.EndSpan(span, err)
	}()

	result := make(chan wire.Message, 1)
	var once sync.Once
	unsubscribe := c.inbound.Subscribe(func(in wire.Message) {
		if got, ok := in.ID(); ok && got == id {
			once.Do(func() { result <- in })
		}
	})
	defer unsubscribe()

	if err := c.Send(ctx, m); err != nil {
		return wire.Message{}, err
	}

	select {
	case resp = <-result:
	case <-ctx.Done():
		return wire.Message{}, ctx.Err()
	}

	if resp.Error != nil {
		return resp, wire.FromErrorData(*resp.Error)
	}
	return resp, nil
}
