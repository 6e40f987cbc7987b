package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/tsarna/rxmsg/pkg/rxmsg/backoff"
	"github.com/tsarna/rxmsg/pkg/rxmsg/feed"
	"github.com/tsarna/rxmsg/pkg/rxmsg/wire"
	"go.uber.org/zap"
)

// ErrDisconnected is returned by a pending Connect when Disconnect is called.
var ErrDisconnected = errors.New("client: disconnected")

// EventType identifies a connection lifecycle transition.
type EventType int

const (
	EventConnect EventType = iota
	EventError
	EventClose
)

func (t EventType) String() string {
	switch t {
	case EventConnect:
		return "connect"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event is one lifecycle transition. Socket is set for EventConnect and Err
// for EventError.
type Event struct {
	Type   EventType
	Socket *wire.Socket
	Err    error
}

// ConnectOptions describes where and how to dial. TLS is used iff TLS is
// non-nil.
type ConnectOptions struct {
	Host        string
	Port        int
	TLS         *tls.Config
	DialTimeout time.Duration
}

// Address returns host:port.
func (o ConnectOptions) Address() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

// Connector owns at most one outbound socket at a time. When the socket ends,
// or a dial fails, it emits error and close events and dials again after the
// next delay of its reconnect sequence.
//
// Events are delivered in order on Events. The connect event is published
// before the socket starts reading, so subscribers attached in the handler see
// every inbound message.
type Connector struct {
	opts       ConnectOptions
	socketOpts wire.SocketOptions
	logger     *zap.Logger
	metrics    *ClientMetrics

	events *feed.Feed[Event]
	emitMu sync.Mutex

	mu         sync.Mutex
	generation uint64
	session    context.Context
	cancel     context.CancelFunc
	timer      *time.Timer
	socket     *wire.Socket
	served     chan struct{}
	reconnect  *backoff.Tracker
}

type dialResult struct {
	socket *wire.Socket
	err    error
}

// NewConnector creates a Connector. A nil reconnect algorithm reconnects
// immediately.
func NewConnector(opts ConnectOptions, reconnect backoff.Algorithm, socketOpts wire.SocketOptions, metrics *ClientMetrics) *Connector {
	if socketOpts.Logger == nil {
		socketOpts.Logger = zap.NewNop()
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 30 * time.Second
	}

	return &Connector{
		opts:       opts,
		socketOpts: socketOpts,
		logger:     socketOpts.Logger.With(zap.String("address", opts.Address())),
		metrics:    metrics,
		events:     feed.New[Event](),
		reconnect:  backoff.NewTracker(reconnect),
	}
}

// Events is the ordered lifecycle event stream. Handlers run on the
// connector's goroutine and must not call Disconnect directly, since
// Disconnect waits for the handler to return; start it on a new goroutine.
func (c *Connector) Events() *feed.Feed[Event] {
	return c.events
}

// Socket returns the live socket, or nil while disconnected.
func (c *Connector) Socket() *wire.Socket {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.socket
}

// Connect dials after delay and returns the connected socket, or the dial
// error. A failed dial still schedules reconnection in the background, so the
// connection is eventually established even when the first attempt fails.
// ctx bounds only the wait.
func (c *Connector) Connect(ctx context.Context, delay time.Duration) (*wire.Socket, error) {
	c.mu.Lock()
	if c.socket != nil {
		s := c.socket
		c.mu.Unlock()
		return s, nil
	}
	if c.session == nil {
		c.session, c.cancel = context.WithCancel(context.Background())
	}
	session := c.session
	result := make(chan dialResult, 1)
	c.scheduleLocked(c.generation, delay, result)
	c.mu.Unlock()

	select {
	case r := <-result:
		return r.socket, r.err
	case <-session.Done():
		return nil, ErrDisconnected
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Connector) scheduleLocked(gen uint64, delay time.Duration, result chan<- dialResult) {
	if c.timer != nil {
		c.timer.Stop()
	}
	session := c.session
	c.timer = time.AfterFunc(delay, func() {
		c.dial(session, gen, result)
	})
}

func deliver(result chan<- dialResult, r dialResult) {
	if result != nil {
		result <- r
	}
}

func (c *Connector) dialConn(ctx context.Context) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()

	if c.opts.TLS != nil {
		d := &tls.Dialer{Config: c.opts.TLS}
		return d.DialContext(ctx, "tcp", c.opts.Address())
	}
	var d net.Dialer
	return d.DialContext(ctx, "tcp", c.opts.Address())
}

func (c *Connector) dial(session context.Context, gen uint64, result chan<- dialResult) {
	c.logger.Debug("Dialing")
	conn, err := c.dialConn(session)

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		deliver(result, dialResult{err: ErrDisconnected})
		return
	}

	if err != nil && c.socket != nil {
		existing := c.socket
		c.mu.Unlock()
		deliver(result, dialResult{socket: existing})
		return
	}

	if err != nil {
		delay := c.reconnect.Next()
		c.mu.Unlock()

		c.logger.Debug("Dial failed", zap.Error(err), zap.Duration("retry_in", delay))
		c.metrics.RecordConnectError(context.Background())
		c.emit(gen, Event{Type: EventError, Err: err})
		c.emit(gen, Event{Type: EventClose})
		c.metrics.RecordClose(context.Background(), delay)
		deliver(result, dialResult{err: err})
		c.rescheduleAfterClose(gen, delay)
		return
	}

	if existing := c.socket; existing != nil {
		// a concurrent attempt won
		c.mu.Unlock()
		conn.Close()
		deliver(result, dialResult{socket: existing})
		return
	}

	sock := wire.NewSocket(conn, c.socketOpts)
	served := make(chan struct{})
	c.socket = sock
	c.served = served
	c.reconnect.Reset()
	c.mu.Unlock()

	c.logger.Info("Connected", zap.String("socket_id", sock.ID()))
	c.metrics.RecordConnect(context.Background())
	c.emit(gen, Event{Type: EventConnect, Socket: sock})
	deliver(result, dialResult{socket: sock})

	go func() {
		err := sock.Serve()
		close(served)
		c.handleClose(gen, sock, err)
	}()
}

func (c *Connector) handleClose(gen uint64, sock *wire.Socket, err error) {
	c.mu.Lock()
	if gen != c.generation || c.socket != sock {
		c.mu.Unlock()
		return
	}
	c.socket = nil
	c.served = nil
	delay := c.reconnect.Next()
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("Connection lost", zap.Error(err), zap.Duration("reconnect_in", delay))
		c.emit(gen, Event{Type: EventError, Err: err})
	} else {
		c.logger.Info("Connection closed", zap.Duration("reconnect_in", delay))
	}
	c.emit(gen, Event{Type: EventClose})
	c.metrics.RecordClose(context.Background(), delay)
	c.rescheduleAfterClose(gen, delay)
}

func (c *Connector) rescheduleAfterClose(gen uint64, delay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return
	}
	c.scheduleLocked(gen, delay, nil)
}

// emit publishes ev unless Disconnect has been called since gen was current.
func (c *Connector) emit(gen uint64, ev Event) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	current := gen == c.generation
	c.mu.Unlock()
	if current {
		c.events.Publish(ev)
	}
}

// Disconnect cancels any scheduled or in-flight dial, closes the socket and
// waits for its read loop to finish. No events are emitted once it returns.
// It is safe to call when already disconnected, but not from an Events
// handler: it waits for the event being delivered and would block forever.
func (c *Connector) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	c.generation++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.session, c.cancel = nil, nil
	sock, served := c.socket, c.served
	c.socket, c.served = nil, nil
	c.reconnect.Reset()
	c.mu.Unlock()

	if sock != nil {
		c.logger.Info("Disconnecting", zap.String("socket_id", sock.ID()))
		sock.Close()
	}

	// wait out an emit that started before the generation changed
	c.emitMu.Lock()
	c.emitMu.Unlock()

	if served != nil {
		select {
		case <-served:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
