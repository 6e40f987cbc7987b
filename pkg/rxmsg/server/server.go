package server

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/alphadose/haxmap"
	"github.com/tsarna/rxmsg/pkg/rxmsg/feed"
	"github.com/tsarna/rxmsg/pkg/rxmsg/o11y"
	"github.com/tsarna/rxmsg/pkg/rxmsg/transform"
	"github.com/tsarna/rxmsg/pkg/rxmsg/wire"
	"go.uber.org/zap"
)

// ChannelSource is the set of inbound feeds for one channel.
type ChannelSource struct {
	name         string
	data         *feed.Feed[Incoming]
	requests     *feed.Feed[*IncomingRequest]
	subscribes   *feed.Feed[*IncomingRequest]
	unsubscribes *feed.Feed[*IncomingRequest]
}

func (c *ChannelSource) Name() string                               { return c.name }
func (c *ChannelSource) Data() *feed.Feed[Incoming]                 { return c.data }
func (c *ChannelSource) Requests() *feed.Feed[*IncomingRequest]     { return c.requests }
func (c *ChannelSource) Subscribes() *feed.Feed[*IncomingRequest]   { return c.subscribes }
func (c *ChannelSource) Unsubscribes() *feed.Feed[*IncomingRequest] { return c.unsubscribes }

func onChannel[T any](name string, channelOf func(T) *string) func(T) bool {
	return func(v T) bool {
		c := channelOf(v)
		return c != nil && *c == name
	}
}

func incomingChannel(in Incoming) *string       { return in.Message.Channel }
func requestChannel(r *IncomingRequest) *string { return r.Message.Channel }

// Server is a channel-aware server. It acknowledges Subscribe and Unsubscribe
// requests, keeps the subscriber registry and publishes to subscribers.
type Server struct {
	*BaseServer

	transforms []transform.PublishTransformFunc

	channelsLock sync.RWMutex
	channels     *haxmap.Map[string, *ChannelSource]

	registry *registry
}

// NewServer wraps base. Subscription handling starts immediately.
func NewServer(base *BaseServer, transforms ...transform.PublishTransformFunc) *Server {
	s := &Server{
		BaseServer: base,
		transforms: transforms,
		channels:   haxmap.New[string, *ChannelSource](),
		registry:   newRegistry(),
	}

	base.Subscribes().Subscribe(s.handleSubscribe)
	base.Unsubscribes().Subscribe(s.handleUnsubscribe)
	base.Disconnects().Subscribe(s.handleDisconnect)
	return s
}

// Channel returns the feeds for name, filtered from the server-wide feeds.
// Messages without a channel or with an empty channel never appear. Repeated
// calls with the same name return the same ChannelSource.
func (s *Server) Channel(name string) *ChannelSource {
	s.channelsLock.RLock()
	src, ok := s.channels.Get(name)
	s.channelsLock.RUnlock()
	if ok {
		return src
	}

	s.channelsLock.Lock()
	defer s.channelsLock.Unlock()
	if src, ok := s.channels.Get(name); ok {
		return src
	}

	src = &ChannelSource{name: name}
	if name != "" {
		src.data = feed.Filter(s.Data(), onChannel(name, incomingChannel))
		src.requests = feed.Filter(s.Requests(), onChannel(name, requestChannel))
		src.subscribes = feed.Filter(s.Subscribes(), onChannel(name, requestChannel))
		src.unsubscribes = feed.Filter(s.Unsubscribes(), onChannel(name, requestChannel))
	} else {
		src.data = feed.New[Incoming]()
		src.requests = feed.New[*IncomingRequest]()
		src.subscribes = feed.New[*IncomingRequest]()
		src.unsubscribes = feed.New[*IncomingRequest]()
	}
	s.channels.Set(name, src)
	return src
}

func (s *Server) handleSubscribe(r *IncomingRequest) {
	channel := r.Message.ChannelName()
	if channel == "" {
		s.logger.Debug("Ignoring subscribe without channel", zap.String("socket_id", r.Socket.ID()))
		return
	}

	n := s.registry.add(channel, r.Socket)
	s.metrics.RecordSubscribers(context.Background(), channel, n)
	s.logger.Debug("Subscribed",
		zap.String("channel", channel),
		zap.String("socket_id", r.Socket.ID()),
		zap.Int("subscribers", n))

	if err := r.Respond(context.Background(), nil); err != nil {
		s.logger.Debug("Failed to acknowledge subscribe", zap.String("channel", channel), zap.Error(err))
	}
}

func (s *Server) handleUnsubscribe(r *IncomingRequest) {
	channel := r.Message.ChannelName()
	if channel == "" {
		s.logger.Debug("Ignoring unsubscribe without channel", zap.String("socket_id", r.Socket.ID()))
		return
	}

	n := s.registry.remove(channel, r.Socket)
	s.metrics.RecordSubscribers(context.Background(), channel, n)
	s.logger.Debug("Unsubscribed",
		zap.String("channel", channel),
		zap.String("socket_id", r.Socket.ID()),
		zap.Int("subscribers", n))

	if err := r.Respond(context.Background(), nil); err != nil {
		s.logger.Debug("Failed to acknowledge unsubscribe", zap.String("channel", channel), zap.Error(err))
	}
}

func (s *Server) handleDisconnect(sock *wire.Socket) {
	for channel, n := range s.registry.removeAll(sock) {
		s.metrics.RecordSubscribers(context.Background(), channel, n)
		s.logger.Debug("Removed closed connection from channel",
			zap.String("channel", channel),
			zap.String("socket_id", sock.ID()))
	}
}

// Subscribers returns the number of connections subscribed to channel.
func (s *Server) Subscribers(channel string) int {
	return s.registry.count(channel)
}

// Publish sends data as a Data message on channel to every connection
// subscribed at the time of the call. Publishing to a channel without
// subscribers does nothing. Per-connection failures are logged and returned
// joined; they do not stop delivery to the other subscribers.
func (s *Server) Publish(ctx context.Context, channel string, data any) (err error) {
	targets := s.registry.snapshot(channel)

	ctx, span := o11y.StartSpan(ctx, s.tracer, "rxmsg.server.publish",
		o11y.L("channel", channel),
		o11y.L("subscribers", strconv.Itoa(len(targets))))
	defer func() { o11y.EndSpan(span, err) }()

	if len(targets) == 0 {
		return nil
	}

	p := transform.Apply(s.transforms, &transform.Publication{Ctx: ctx, Channel: channel, Payload: data})
	if p == nil {
		s.logger.Debug("Publication dropped by transform", zap.String("channel", channel))
		s.metrics.RecordPublishDropped(ctx)
		return nil
	}

	msg := wire.NewData(p.Channel, p.Payload)

	var errs []error
	for _, sock := range targets {
		if sendErr := sock.Send(ctx, msg); sendErr != nil {
			s.logger.Warn("Publish to subscriber failed",
				zap.String("channel", channel),
				zap.String("socket_id", sock.ID()),
				zap.Error(sendErr))
			errs = append(errs, fmt.Errorf("socket %s: %w", sock.ID(), sendErr))
		}
	}

	s.metrics.RecordPublish(ctx, len(targets)-len(errs), len(errs))
	return errors.Join(errs...)
}
