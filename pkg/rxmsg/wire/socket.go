package wire

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tsarna/rxmsg/pkg/rxmsg/feed"
	"go.uber.org/zap"
)

// SocketOptions configures a Socket. The zero value is usable.
type SocketOptions struct {
	Logger *zap.Logger
	Limits Limits

	// WriteTimeout bounds each Send when the caller's context has no deadline.
	// Zero means no timeout.
	WriteTimeout time.Duration
}

// Socket is a message-framed, bidirectional connection. Outbound messages are
// written with Send; inbound messages are published on Messages by Serve.
//
// Send is safe for concurrent use. Frames written by concurrent senders never
// interleave.
type Socket struct {
	id           string
	conn         net.Conn
	logger       *zap.Logger
	limits       Limits
	writeTimeout time.Duration

	messages *feed.Feed[Message]

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}

	errMu sync.Mutex
	err   error
}

// NewSocket wraps conn. The socket does not read until Serve is called.
func NewSocket(conn net.Conn, opts SocketOptions) *Socket {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Limits.MaxFrameBytes == 0 {
		opts.Limits = DefaultLimits()
	}

	id := uuid.NewString()
	return &Socket{
		id:           id,
		conn:         conn,
		logger:       opts.Logger.With(zap.String("socket_id", id), zap.Stringer("remote", conn.RemoteAddr())),
		limits:       opts.Limits,
		writeTimeout: opts.WriteTimeout,
		messages:     feed.New[Message](),
		closed:       make(chan struct{}),
	}
}

// ID returns the unique identifier assigned to this socket.
func (s *Socket) ID() string {
	return s.id
}

func (s *Socket) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// Messages is the stream of decoded inbound messages.
func (s *Socket) Messages() *feed.Feed[Message] {
	return s.messages
}

// Send encodes m and writes it as one frame. The context bounds the write; if
// it expires mid-frame the socket is closed since the stream can no longer be
// framed.
func (s *Socket) Send(ctx context.Context, m Message) error {
	body, err := Encode(m)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	select {
	case <-s.closed:
		return ErrSocketClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline, ok := ctx.Deadline()
	if !ok && s.writeTimeout > 0 {
		deadline = time.Now().Add(s.writeTimeout)
	}
	_ = s.conn.SetWriteDeadline(deadline)
	defer s.conn.SetWriteDeadline(time.Time{})

	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetWriteDeadline(time.Now())
	})
	defer stop()

	if err := WriteFrame(s.conn, body, s.limits); err != nil {
		if errors.Is(err, ErrFrameTooLarge) {
			return err
		}
		s.logger.Debug("Write failed, closing socket", zap.Error(err))
		s.fail(err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if ok && errors.Is(err, os.ErrDeadlineExceeded) {
			return context.DeadlineExceeded
		}
		return err
	}
	return nil
}

// Serve reads frames until the connection ends, publishing every decodable
// message on Messages. Records that fail to decode are logged and skipped.
// A frame over the size limit ends the connection.
//
// Serve closes the socket before returning. The returned error is nil for a
// clean end of stream or a local Close.
func (s *Socket) Serve() error {
	defer s.messages.Close()
	defer s.Close()

	for {
		body, err := ReadFrame(s.conn, s.limits)
		if err != nil {
			return s.readFailed(err)
		}

		m, err := Decode(body)
		if err != nil {
			s.logger.Warn("Dropping undecodable message", zap.Error(err), zap.Int("bytes", len(body)))
			continue
		}

		s.messages.Publish(m)
	}
}

func (s *Socket) readFailed(err error) error {
	select {
	case <-s.closed:
		return s.Err()
	default:
	}

	if errors.Is(err, io.EOF) {
		s.logger.Debug("Connection closed by peer")
		return nil
	}

	s.logger.Debug("Read failed", zap.Error(err))
	s.setErr(err)
	return err
}

func (s *Socket) fail(err error) {
	s.setErr(err)
	s.Close()
}

func (s *Socket) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Err returns the error that ended the connection, if any.
func (s *Socket) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close closes the underlying connection. It is idempotent.
func (s *Socket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.conn.Close()
	})
	return err
}

// Done is closed once the socket has been closed.
func (s *Socket) Done() <-chan struct{} {
	return s.closed
}
