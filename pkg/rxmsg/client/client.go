package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tsarna/rxmsg/pkg/rxmsg/feed"
	"github.com/tsarna/rxmsg/pkg/rxmsg/wire"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// resubscribeTimeout bounds the re-registration of cached channels after a
// reconnect.
const resubscribeTimeout = 30 * time.Second

// Client is a channel-oriented view of a BaseClient. Every operation stamps
// the channel name on the outgoing message.
type Client struct {
	base   *BaseClient
	logger *zap.Logger

	mu       sync.Mutex
	channels map[string]*feed.Feed[wire.Message]
	group    singleflight.Group
}

// NewChannelClient wraps base.
func NewChannelClient(base *BaseClient, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		base:     base,
		logger:   logger,
		channels: make(map[string]*feed.Feed[wire.Message]),
	}
	base.Events().Subscribe(c.onEvent)
	return c
}

// onEvent registers every cached channel again on a new connection, since the
// server forgets a connection's subscriptions when it ends.
func (c *Client) onEvent(ev Event) {
	if ev.Type != EventConnect {
		return
	}

	c.mu.Lock()
	channels := make([]string, 0, len(c.channels))
	for channel := range c.channels {
		channels = append(channels, channel)
	}
	c.mu.Unlock()

	if len(channels) > 0 {
		go c.resubscribe(channels)
	}
}

func (c *Client) resubscribe(channels []string) {
	ctx, cancel := context.WithTimeout(context.Background(), resubscribeTimeout)
	defer cancel()

	var g errgroup.Group
	for _, channel := range channels {
		g.Go(func() error {
			if c.cached(channel) == nil {
				return nil
			}
			if _, err := c.base.Subscribe(ctx, wire.Message{Channel: wire.Str(channel)}); err != nil {
				c.logger.Warn("Resubscribe failed", zap.String("channel", channel), zap.Error(err))
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err == nil {
		c.logger.Debug("Resubscribed", zap.Int("channels", len(channels)))
	}
}

// Base returns the underlying session.
func (c *Client) Base() *BaseClient {
	return c.base
}

func (c *Client) Connect(ctx context.Context) error {
	return c.base.Connect(ctx)
}

// Disconnect closes the connection and stops reconnecting. Calling it from an
// Events handler deadlocks; use a goroutine.
func (c *Client) Disconnect(ctx context.Context) error {
	return c.base.Disconnect(ctx)
}

func (c *Client) Events() *feed.Feed[Event] {
	return c.base.Events()
}

// Send publishes data on channel without waiting for any reply.
func (c *Client) Send(ctx context.Context, channel string, data any) error {
	return c.base.Send(ctx, wire.NewData(channel, data))
}

// Request sends data to channel and waits for the response.
func (c *Client) Request(ctx context.Context, channel string, data any) (wire.Message, error) {
	return c.base.Request(ctx, wire.Message{Channel: wire.Str(channel), Payload: data})
}

// Subscribe registers interest in channel with the server and returns the feed
// of Data messages for it. Repeated and concurrent calls for one channel share
// a single registration and return the same feed. The registration is renewed
// on every reconnect until Unsubscribe.
//
// ctx bounds only this caller's wait. When the call being shared ends because
// another caller's context did, Subscribe tries again under ctx.
func (c *Client) Subscribe(ctx context.Context, channel string) (*feed.Feed[wire.Message], error) {
	for {
		if f := c.cached(channel); f != nil {
			return f, nil
		}

		result := c.group.DoChan(channel, func() (any, error) {
			return c.subscribe(ctx, channel)
		})

		select {
		case r := <-result:
			if r.Err == nil {
				return r.Val.(*feed.Feed[wire.Message]), nil
			}
			if isContextError(r.Err) && ctx.Err() == nil {
				continue
			}
			return nil, r.Err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (c *Client) subscribe(ctx context.Context, channel string) (*feed.Feed[wire.Message], error) {
	if f := c.cached(channel); f != nil {
		return f, nil
	}

	// the filter exists before the server registers us, so nothing
	// published right after the acknowledgement is missed
	f := feed.Filter(c.base.Messages(), func(m wire.Message) bool {
		return m.HasChannel() && *m.Channel == channel
	})

	if _, err := c.base.Subscribe(ctx, wire.Message{Channel: wire.Str(channel)}); err != nil {
		f.Close()
		return nil, err
	}

	c.mu.Lock()
	c.channels[channel] = f
	c.mu.Unlock()

	c.logger.Debug("Subscribed", zap.String("channel", channel))
	return f, nil
}

func (c *Client) cached(channel string) *feed.Feed[wire.Message] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channels[channel]
}

// Unsubscribe stops local delivery for channel, closes its feed and asks the
// server to remove the registration.
func (c *Client) Unsubscribe(ctx context.Context, channel string) error {
	c.mu.Lock()
	f, ok := c.channels[channel]
	delete(c.channels, channel)
	c.mu.Unlock()

	if ok {
		f.Close()
	}

	_, err := c.base.Unsubscribe(ctx, wire.Message{Channel: wire.Str(channel)})
	if err == nil {
		c.logger.Debug("Unsubscribed", zap.String("channel", channel))
	}
	return err
}
