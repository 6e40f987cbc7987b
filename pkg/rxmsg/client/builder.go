package client

import (
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/tsarna/rxmsg/pkg/rxmsg/backoff"
	"github.com/tsarna/rxmsg/pkg/rxmsg/o11y"
	"github.com/tsarna/rxmsg/pkg/rxmsg/wire"
	"go.uber.org/zap"
)

const (
	DefaultDialTimeout  = 30 * time.Second
	DefaultWriteTimeout = 10 * time.Second
)

// ClientBuilder provides a fluent interface for building clients.
type ClientBuilder struct {
	host         string
	port         int
	tlsConfig    *tls.Config
	dialTimeout  time.Duration
	writeTimeout time.Duration
	limits       wire.Limits
	reconnect    backoff.Algorithm
	sendRetry    backoff.Algorithm
	logger       *zap.Logger
	metrics      o11y.MetricsProvider
	tracing      o11y.TracingProvider
}

// NewClient creates a client builder.
func NewClient() *ClientBuilder {
	return &ClientBuilder{
		dialTimeout:  DefaultDialTimeout,
		writeTimeout: DefaultWriteTimeout,
		limits:       wire.DefaultLimits(),
		logger:       zap.NewNop(),
	}
}

func (b *ClientBuilder) WithHost(host string) *ClientBuilder {
	b.host = host
	return b
}

func (b *ClientBuilder) WithPort(port int) *ClientBuilder {
	b.port = port
	return b
}

// WithAddress sets host and port from a "host:port" string. An unparseable
// address leaves the builder invalid.
func (b *ClientBuilder) WithAddress(address string) *ClientBuilder {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		b.host, b.port = "", 0
		return b
	}
	b.host = host
	b.port, _ = strconv.Atoi(port)
	return b
}

// WithTLSConfig makes the client dial with TLS.
func (b *ClientBuilder) WithTLSConfig(config *tls.Config) *ClientBuilder {
	b.tlsConfig = config
	return b
}

func (b *ClientBuilder) WithDialTimeout(timeout time.Duration) *ClientBuilder {
	if timeout > 0 {
		b.dialTimeout = timeout
	}
	return b
}

// WithWriteTimeout bounds each frame write. Zero disables the timeout.
func (b *ClientBuilder) WithWriteTimeout(timeout time.Duration) *ClientBuilder {
	if timeout >= 0 {
		b.writeTimeout = timeout
	}
	return b
}

func (b *ClientBuilder) WithLimits(limits wire.Limits) *ClientBuilder {
	b.limits = limits
	return b
}

// WithReconnect sets the delay sequence used between connection attempts.
// Without one the client reconnects immediately.
func (b *ClientBuilder) WithReconnect(algorithm backoff.Algorithm) *ClientBuilder {
	b.reconnect = algorithm
	return b
}

// WithSendRetry sets the delay sequence used between write retries.
func (b *ClientBuilder) WithSendRetry(algorithm backoff.Algorithm) *ClientBuilder {
	b.sendRetry = algorithm
	return b
}

func (b *ClientBuilder) WithLogger(logger *zap.Logger) *ClientBuilder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

func (b *ClientBuilder) WithMetrics(provider o11y.MetricsProvider) *ClientBuilder {
	b.metrics = provider
	return b
}

func (b *ClientBuilder) WithTracing(provider o11y.TracingProvider) *ClientBuilder {
	b.tracing = provider
	return b
}

// Build creates the client. It does not connect.
func (b *ClientBuilder) Build() (*Client, error) {
	if err := b.IsValid(); err != nil {
		return nil, err
	}

	metrics := NewClientMetrics(b.metrics)
	connector := NewConnector(
		ConnectOptions{
			Host:        b.host,
			Port:        b.port,
			TLS:         b.tlsConfig,
			DialTimeout: b.dialTimeout,
		},
		b.reconnect,
		wire.SocketOptions{
			Logger:       b.logger,
			Limits:       b.limits,
			WriteTimeout: b.writeTimeout,
		},
		metrics,
	)

	base := NewBaseClient(connector, BaseClientOptions{
		Logger:    b.logger,
		Metrics:   metrics,
		Tracing:   b.tracing,
		SendRetry: b.sendRetry,
	})

	return NewChannelClient(base, b.logger), nil
}

// IsValid checks that all required configuration is present.
func (b *ClientBuilder) IsValid() error {
	if b.host == "" {
		return fmt.Errorf("host is required")
	}
	if b.port <= 0 || b.port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", b.port)
	}

	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	if b.dialTimeout <= 0 {
		b.dialTimeout = DefaultDialTimeout
	}
	if b.limits.MaxFrameBytes == 0 {
		b.limits = wire.DefaultLimits()
	}

	return nil
}
