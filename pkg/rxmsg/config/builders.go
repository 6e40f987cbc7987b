package config

import (
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/tsarna/rxmsg/pkg/rxmsg/client"
	"github.com/tsarna/rxmsg/pkg/rxmsg/server"
	"go.uber.org/zap"
)

// DefaultShutdownTimeout bounds how long a server waits for connections to
// finish on shutdown.
const DefaultShutdownTimeout = 5 * time.Second

func (c *Config) optionalDuration(expr hcl.Expression, apply func(time.Duration)) hcl.Diagnostics {
	if !IsExpressionProvided(expr) {
		return nil
	}
	d, diags := c.ParseDuration(expr)
	if !diags.HasErrors() {
		apply(d)
	}
	return diags
}

func tlsDiagnostic(err error, subject *hcl.Range) hcl.Diagnostics {
	return hcl.Diagnostics{&hcl.Diagnostic{
		Severity: hcl.DiagError,
		Summary:  "Failed to load TLS configuration",
		Detail:   err.Error(),
		Subject:  subject,
	}}
}

// ServerBuilder returns a builder configured from the server block. Logger,
// metrics and tracing are left to the caller.
func (c *Config) ServerBuilder(logger *zap.Logger) (*server.ServerBuilder, hcl.Diagnostics) {
	d := c.Server
	if d == nil {
		return nil, hcl.Diagnostics{&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Missing server block",
			Detail:   "The configuration has no server block",
		}}
	}

	b := server.NewServerBuilder().WithLogger(logger).WithLimits(limits(d.MaxFrameBytes))

	diags := c.optionalDuration(d.WriteTimeout, func(v time.Duration) { b.WithWriteTimeout(v) })

	if d.TLS != nil {
		tlsConfig, err := d.TLS.ServerConfig()
		if err != nil {
			return nil, diags.Extend(tlsDiagnostic(err, &d.TLS.DefRange))
		}
		b.WithTLSConfig(tlsConfig)
	}

	for _, t := range d.Transforms {
		fn, tDiags := t.Build(c, logger)
		diags = diags.Extend(tDiags)
		if fn != nil {
			b.WithPublishTransforms(fn)
		}
	}

	if diags.HasErrors() {
		return nil, diags
	}
	return b, diags
}

// ShutdownTimeout returns the server block's shutdown_timeout or the default.
func (c *Config) ShutdownTimeout() (time.Duration, hcl.Diagnostics) {
	timeout := DefaultShutdownTimeout
	if c.Server == nil {
		return timeout, nil
	}
	diags := c.optionalDuration(c.Server.ShutdownWait, func(v time.Duration) { timeout = v })
	return timeout, diags
}

// ClientBuilder returns a builder configured from the client block.
func (c *Config) ClientBuilder(logger *zap.Logger) (*client.ClientBuilder, hcl.Diagnostics) {
	d := c.Client
	if d == nil {
		return nil, hcl.Diagnostics{&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Missing client block",
			Detail:   "The configuration has no client block",
		}}
	}

	host, port, _ := d.HostPort()
	b := client.NewClient().
		WithHost(host).
		WithPort(port).
		WithLogger(logger).
		WithLimits(limits(d.MaxFrameBytes))

	var diags hcl.Diagnostics
	diags = diags.Extend(c.optionalDuration(d.DialTimeout, func(v time.Duration) { b.WithDialTimeout(v) }))
	diags = diags.Extend(c.optionalDuration(d.WriteTimeout, func(v time.Duration) { b.WithWriteTimeout(v) }))

	if d.TLS != nil {
		tlsConfig, err := d.TLS.ClientConfig()
		if err != nil {
			return nil, diags.Extend(tlsDiagnostic(err, &d.TLS.DefRange))
		}
		b.WithTLSConfig(tlsConfig)
	}

	if d.Reconnect != nil {
		algorithm, err := d.Reconnect.Build()
		if err != nil {
			diags = diags.Extend(d.Reconnect.validate())
		}
		b.WithReconnect(algorithm)
	}
	if d.SendRetry != nil {
		algorithm, err := d.SendRetry.Build()
		if err != nil {
			diags = diags.Extend(d.SendRetry.validate())
		}
		b.WithSendRetry(algorithm)
	}

	if diags.HasErrors() {
		return nil, diags
	}
	return b, diags
}
