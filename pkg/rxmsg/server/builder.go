package server

import (
	"crypto/tls"
	"fmt"
	"time"

	"github.com/tsarna/rxmsg/pkg/rxmsg/o11y"
	"github.com/tsarna/rxmsg/pkg/rxmsg/transform"
	"github.com/tsarna/rxmsg/pkg/rxmsg/wire"
	"go.uber.org/zap"
)

const DefaultWriteTimeout = 10 * time.Second

// ServerBuilder provides a fluent interface for building channel servers.
type ServerBuilder struct {
	logger       *zap.Logger
	tlsConfig    *tls.Config
	limits       wire.Limits
	writeTimeout time.Duration
	metrics      o11y.MetricsProvider
	tracing      o11y.TracingProvider
	transforms   []transform.PublishTransformFunc
}

// NewServerBuilder creates a server builder with defaults.
func NewServerBuilder() *ServerBuilder {
	return &ServerBuilder{
		logger:       zap.NewNop(),
		limits:       wire.DefaultLimits(),
		writeTimeout: DefaultWriteTimeout,
	}
}

func (b *ServerBuilder) WithLogger(logger *zap.Logger) *ServerBuilder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// WithTLSConfig makes Listen create a TLS listener. The config must carry at
// least one certificate.
func (b *ServerBuilder) WithTLSConfig(config *tls.Config) *ServerBuilder {
	b.tlsConfig = config
	return b
}

func (b *ServerBuilder) WithLimits(limits wire.Limits) *ServerBuilder {
	b.limits = limits
	return b
}

// WithWriteTimeout bounds each frame write to a connection. Zero disables it.
func (b *ServerBuilder) WithWriteTimeout(timeout time.Duration) *ServerBuilder {
	if timeout >= 0 {
		b.writeTimeout = timeout
	}
	return b
}

func (b *ServerBuilder) WithMetrics(provider o11y.MetricsProvider) *ServerBuilder {
	b.metrics = provider
	return b
}

func (b *ServerBuilder) WithTracing(provider o11y.TracingProvider) *ServerBuilder {
	b.tracing = provider
	return b
}

// WithPublishTransforms appends transforms applied by Publish, in order.
func (b *ServerBuilder) WithPublishTransforms(transforms ...transform.PublishTransformFunc) *ServerBuilder {
	b.transforms = append(b.transforms, transforms...)
	return b
}

// Build creates the server. It does not listen.
func (b *ServerBuilder) Build() (*Server, error) {
	if err := b.IsValid(); err != nil {
		return nil, err
	}

	base := NewBaseServer(BaseServerOptions{
		Logger:       b.logger,
		TLS:          b.tlsConfig,
		Limits:       b.limits,
		WriteTimeout: b.writeTimeout,
		Metrics:      NewServerMetrics(b.metrics),
		Tracing:      b.tracing,
	})
	return NewServer(base, b.transforms...), nil
}

// IsValid checks the configuration.
func (b *ServerBuilder) IsValid() error {
	if b.tlsConfig != nil && len(b.tlsConfig.Certificates) == 0 && b.tlsConfig.GetCertificate == nil {
		return fmt.Errorf("TLS config has no certificate")
	}
	for i, t := range b.transforms {
		if t == nil {
			return fmt.Errorf("publish transform %d is nil", i)
		}
	}

	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	if b.limits.MaxFrameBytes == 0 {
		b.limits = wire.DefaultLimits()
	}
	return nil
}
