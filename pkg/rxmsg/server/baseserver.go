package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/tsarna/rxmsg/pkg/rxmsg/feed"
	"github.com/tsarna/rxmsg/pkg/rxmsg/o11y"
	"github.com/tsarna/rxmsg/pkg/rxmsg/wire"
	"go.uber.org/zap"
)

// ErrServerClosed is returned by Serve and Listen after Close.
var ErrServerClosed = errors.New("server: closed")

// BaseServer accepts connections and merges every inbound message into one
// stream, partitioned by kind into Data, Requests, Subscribes and Unsubscribes.
type BaseServer struct {
	logger     *zap.Logger
	metrics    *ServerMetrics
	tracer     o11y.TracingProvider
	tlsConfig  *tls.Config
	socketOpts wire.SocketOptions

	inbound      *feed.Feed[Incoming]
	data         *feed.Feed[Incoming]
	requests     *feed.Feed[*IncomingRequest]
	subscribes   *feed.Feed[*IncomingRequest]
	unsubscribes *feed.Feed[*IncomingRequest]
	disconnects  *feed.Feed[*wire.Socket]

	listenerMu sync.Mutex
	listener   net.Listener

	// connection tracking for shutdown
	connections  map[string]*wire.Socket
	connMutex    sync.RWMutex
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// BaseServerOptions configures a BaseServer.
type BaseServerOptions struct {
	Logger *zap.Logger
	// TLS, when set, makes Listen and ListenAddr create TLS listeners.
	TLS          *tls.Config
	Limits       wire.Limits
	WriteTimeout time.Duration
	Metrics      *ServerMetrics
	Tracing      o11y.TracingProvider
}

// NewBaseServer creates an acceptor. It does not listen until Listen, ListenAddr
// or Serve is called.
func NewBaseServer(opts BaseServerOptions) *BaseServer {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	s := &BaseServer{
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		tracer:    opts.Tracing,
		tlsConfig: opts.TLS,
		socketOpts: wire.SocketOptions{
			Logger:       opts.Logger,
			Limits:       opts.Limits,
			WriteTimeout: opts.WriteTimeout,
		},
		inbound:     feed.New[Incoming](),
		disconnects: feed.New[*wire.Socket](),
		connections: make(map[string]*wire.Socket),
		shutdown:    make(chan struct{}),
	}

	s.data = feed.Filter(s.inbound, ofKind(wire.KindData))
	s.requests = s.partition(wire.KindRequest)
	s.subscribes = s.partition(wire.KindSubscribe)
	s.unsubscribes = s.partition(wire.KindUnsubscribe)
	return s
}

func ofKind(kind wire.Kind) func(Incoming) bool {
	return func(in Incoming) bool {
		return in.Message.Kind == kind
	}
}

func (s *BaseServer) partition(kind wire.Kind) *feed.Feed[*IncomingRequest] {
	return feed.Map(feed.Filter(s.inbound, ofKind(kind)), func(in Incoming) *IncomingRequest {
		return &IncomingRequest{Incoming: in, metrics: s.metrics}
	})
}

// Data is the stream of Data messages from all connections.
func (s *BaseServer) Data() *feed.Feed[Incoming] { return s.data }

// Requests is the stream of Request messages from all connections.
func (s *BaseServer) Requests() *feed.Feed[*IncomingRequest] { return s.requests }

// Subscribes is the stream of Subscribe messages from all connections.
func (s *BaseServer) Subscribes() *feed.Feed[*IncomingRequest] { return s.subscribes }

// Unsubscribes is the stream of Unsubscribe messages from all connections.
func (s *BaseServer) Unsubscribes() *feed.Feed[*IncomingRequest] { return s.unsubscribes }

// Disconnects publishes each connection once its read loop has ended.
func (s *BaseServer) Disconnects() *feed.Feed[*wire.Socket] { return s.disconnects }

// Listen binds to port on all interfaces and starts accepting in the
// background. It returns once the socket is bound. Port 0 picks a free port;
// see Addr.
func (s *BaseServer) Listen(port int) error {
	return s.ListenAddr(fmt.Sprintf(":%d", port))
}

// ListenAddr is Listen for an explicit address.
func (s *BaseServer) ListenAddr(addr string) error {
	select {
	case <-s.shutdown:
		return ErrServerClosed
	default:
	}

	var (
		l   net.Listener
		err error
	)
	if s.tlsConfig != nil {
		l, err = tls.Listen("tcp", addr, s.tlsConfig)
	} else {
		l, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	if err := s.setListener(l); err != nil {
		l.Close()
		return err
	}

	go s.acceptLoop(l)
	return nil
}

// Serve accepts connections on l until Close is called or l fails. It always
// returns a non-nil error; after Close it returns ErrServerClosed.
func (s *BaseServer) Serve(l net.Listener) error {
	if err := s.setListener(l); err != nil {
		return err
	}
	return s.acceptLoop(l)
}

func (s *BaseServer) setListener(l net.Listener) error {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	select {
	case <-s.shutdown:
		return ErrServerClosed
	default:
	}
	if s.listener != nil {
		return fmt.Errorf("server is already listening on %s", s.listener.Addr())
	}
	s.listener = l
	s.logger.Info("Listening", zap.Stringer("addr", l.Addr()))
	return nil
}

// Addr returns the bound address, or nil before Listen or Serve.
func (s *BaseServer) Addr() net.Addr {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *BaseServer) acceptLoop(l net.Listener) error {
	var tempDelay time.Duration
	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return ErrServerClosed
			default:
			}

			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay = min(2*tempDelay, time.Second)
				}
				s.logger.Warn("Accept error, retrying", zap.Error(err), zap.Duration("retry_in", tempDelay))
				s.metrics.RecordAcceptError(context.Background())
				time.Sleep(tempDelay)
				continue
			}

			s.logger.Error("Accept failed", zap.Error(err))
			s.metrics.RecordAcceptError(context.Background())
			return err
		}
		tempDelay = 0

		go s.handleConn(conn)
	}
}

func (s *BaseServer) handleConn(conn net.Conn) {
	sock := wire.NewSocket(conn, s.socketOpts)
	started := time.Now()

	s.connMutex.Lock()
	select {
	case <-s.shutdown:
		s.connMutex.Unlock()
		s.logger.Debug("Rejecting new connection due to shutdown")
		sock.Close()
		return
	default:
	}
	s.connections[sock.ID()] = sock
	connCount := len(s.connections)
	s.connMutex.Unlock()

	s.logger.Debug("Connection accepted",
		zap.String("socket_id", sock.ID()),
		zap.Stringer("remote_addr", sock.RemoteAddr()),
		zap.Int("active_connections", connCount))
	s.metrics.RecordConnectionStart(context.Background(), connCount)

	detach := sock.Messages().Subscribe(func(m wire.Message) {
		s.metrics.RecordMessageReceived(context.Background(), m.Kind.String())
		s.inbound.Publish(Incoming{Message: m, Socket: sock})
	})

	err := sock.Serve()
	detach()

	s.connMutex.RLock()
	connCount = len(s.connections) - 1
	s.connMutex.RUnlock()

	fields := []zap.Field{
		zap.String("socket_id", sock.ID()),
		zap.Int("active_connections", connCount),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	s.logger.Debug("Connection closed", fields...)
	s.metrics.RecordConnectionEnd(context.Background(), connCount, time.Since(started))

	s.disconnects.Publish(sock)

	// Close waits on this, so it comes after the disconnect handlers ran
	s.connMutex.Lock()
	delete(s.connections, sock.ID())
	s.connMutex.Unlock()
}

// Close stops accepting, closes every connection and waits until their read
// loops have finished or ctx ends.
func (s *BaseServer) Close(ctx context.Context) error {
	var closeErr error
	s.shutdownOnce.Do(func() {
		s.logger.Info("Shutting down")

		s.listenerMu.Lock()
		close(s.shutdown)
		l := s.listener
		s.listenerMu.Unlock()

		if l != nil {
			if err := l.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				closeErr = err
			}
		}

		s.connMutex.RLock()
		connections := make([]*wire.Socket, 0, len(s.connections))
		for _, sock := range s.connections {
			connections = append(connections, sock)
		}
		s.connMutex.RUnlock()

		if len(connections) > 0 {
			s.logger.Info("Closing active connections", zap.Int("connection_count", len(connections)))
		}
		for _, sock := range connections {
			sock.Close()
		}
	})

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		remaining := s.ConnectionCount()
		if remaining == 0 {
			return closeErr
		}

		select {
		case <-ctx.Done():
			s.logger.Warn("Shutdown timeout reached with active connections",
				zap.Int("remaining_connections", remaining))
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ConnectionCount returns the number of open connections.
func (s *BaseServer) ConnectionCount() int {
	s.connMutex.RLock()
	defer s.connMutex.RUnlock()
	return len(s.connections)
}
