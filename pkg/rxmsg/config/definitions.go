package config

import (
	"fmt"
	"net"
	"strconv"

	"github.com/hashicorp/hcl/v2"
	"github.com/tsarna/rxmsg/pkg/rxmsg/wire"
)

type LoggingDefinition struct {
	Level      string    `hcl:"level,optional"`
	File       string    `hcl:"file,optional"`
	MaxSizeMB  int       `hcl:"max_size_mb,optional"`
	MaxBackups int       `hcl:"max_backups,optional"`
	MaxAgeDays int       `hcl:"max_age_days,optional"`
	Compress   bool      `hcl:"compress,optional"`
	DefRange   hcl.Range `hcl:",def_range"`
}

func (d *LoggingDefinition) validate(*Config) hcl.Diagnostics {
	switch d.Level {
	case "", "debug", "info", "warn", "warning", "error":
		return nil
	}
	return hcl.Diagnostics{&hcl.Diagnostic{
		Severity: hcl.DiagError,
		Summary:  "Invalid log level",
		Detail:   fmt.Sprintf("Log level must be one of debug, info, warn or error, got %q", d.Level),
		Subject:  &d.DefRange,
	}}
}

type ServerDefinition struct {
	Listen        string                 `hcl:"listen,optional"`
	Port          *int                   `hcl:"port,optional"`
	WriteTimeout  hcl.Expression         `hcl:"write_timeout,optional"`
	MaxFrameBytes *int                   `hcl:"max_frame_bytes,optional"`
	ShutdownWait  hcl.Expression         `hcl:"shutdown_timeout,optional"`
	Relay         *bool                  `hcl:"relay,optional"`
	EchoChannels  []string               `hcl:"echo_channels,optional"`
	TLS           *TLSDefinition         `hcl:"tls,block"`
	Transforms    []*TransformDefinition `hcl:"publish_transform,block"`
	DefRange      hcl.Range              `hcl:",def_range"`
}

// Address is the listen address, from listen or port.
func (d *ServerDefinition) Address() string {
	if d.Listen != "" {
		return d.Listen
	}
	if d.Port != nil {
		return ":" + strconv.Itoa(*d.Port)
	}
	return ""
}

// RelayEnabled reports whether inbound Data messages are republished to the
// channel's subscribers. It defaults to true.
func (d *ServerDefinition) RelayEnabled() bool {
	return d.Relay == nil || *d.Relay
}

func (d *ServerDefinition) validate(c *Config) hcl.Diagnostics {
	var diags hcl.Diagnostics

	switch {
	case d.Listen == "" && d.Port == nil:
		diags = diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Missing listen address",
			Detail:   "A server block needs either port or listen",
			Subject:  &d.DefRange,
		})
	case d.Listen != "" && d.Port != nil:
		diags = diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Conflicting listen address",
			Detail:   "Only one of port and listen may be set",
			Subject:  &d.DefRange,
		})
	case d.Port != nil && (*d.Port < 0 || *d.Port > 65535):
		diags = diags.Append(invalidPort(*d.Port, &d.DefRange))
	}

	diags = diags.Extend(validateFrameBytes(d.MaxFrameBytes, &d.DefRange))
	if d.TLS != nil {
		diags = diags.Extend(d.TLS.validate(true))
	}
	for _, t := range d.Transforms {
		diags = diags.Extend(t.validate(c))
	}
	return diags
}

type ClientDefinition struct {
	Address       string             `hcl:"address,optional"`
	Host          string             `hcl:"host,optional"`
	Port          *int               `hcl:"port,optional"`
	DialTimeout   hcl.Expression     `hcl:"dial_timeout,optional"`
	WriteTimeout  hcl.Expression     `hcl:"write_timeout,optional"`
	MaxFrameBytes *int               `hcl:"max_frame_bytes,optional"`
	TLS           *TLSDefinition     `hcl:"tls,block"`
	Reconnect     *BackoffDefinition `hcl:"reconnect,block"`
	SendRetry     *BackoffDefinition `hcl:"send_retry,block"`
	DefRange      hcl.Range          `hcl:",def_range"`
}

// HostPort returns the server address as host and port.
func (d *ClientDefinition) HostPort() (string, int, error) {
	if d.Address != "" {
		host, port, err := net.SplitHostPort(d.Address)
		if err != nil {
			return "", 0, err
		}
		p, err := strconv.Atoi(port)
		if err != nil {
			return "", 0, fmt.Errorf("invalid port in %q: %w", d.Address, err)
		}
		return host, p, nil
	}
	if d.Port == nil {
		return d.Host, 0, nil
	}
	return d.Host, *d.Port, nil
}

func (d *ClientDefinition) validate(*Config) hcl.Diagnostics {
	var diags hcl.Diagnostics

	if d.Address != "" && (d.Host != "" || d.Port != nil) {
		diags = diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Conflicting server address",
			Detail:   "Use either address or host and port",
			Subject:  &d.DefRange,
		})
	} else if host, port, err := d.HostPort(); err != nil {
		diags = diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid server address",
			Detail:   err.Error(),
			Subject:  &d.DefRange,
		})
	} else if host == "" {
		diags = diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Missing server host",
			Detail:   "A client block needs address, or host and port",
			Subject:  &d.DefRange,
		})
	} else if port <= 0 || port > 65535 {
		diags = diags.Append(invalidPort(port, &d.DefRange))
	}

	diags = diags.Extend(validateFrameBytes(d.MaxFrameBytes, &d.DefRange))
	if d.TLS != nil {
		diags = diags.Extend(d.TLS.validate(false))
	}
	if d.Reconnect != nil {
		diags = diags.Extend(d.Reconnect.validate())
	}
	if d.SendRetry != nil {
		diags = diags.Extend(d.SendRetry.validate())
	}
	return diags
}

type MetricsDefinition struct {
	Provider    string    `hcl:"provider"`
	Listen      string    `hcl:"listen,optional"`
	Path        string    `hcl:"path,optional"`
	Namespace   string    `hcl:"namespace,optional"`
	ServiceName string    `hcl:"service_name,optional"`
	DefRange    hcl.Range `hcl:",def_range"`
}

const (
	MetricsProviderPrometheus = "prometheus"
	MetricsProviderOtel       = "otel"

	DefaultMetricsPath = "/metrics"
)

// MetricsPath is the HTTP path the Prometheus handler is served on.
func (d *MetricsDefinition) MetricsPath() string {
	if d.Path == "" {
		return DefaultMetricsPath
	}
	return d.Path
}

func (d *MetricsDefinition) validate(*Config) hcl.Diagnostics {
	switch d.Provider {
	case MetricsProviderPrometheus:
		if d.Listen == "" {
			return hcl.Diagnostics{&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Missing metrics listen address",
				Detail:   "The prometheus provider needs a listen address for its scrape endpoint",
				Subject:  &d.DefRange,
			}}
		}
	case MetricsProviderOtel:
	default:
		return hcl.Diagnostics{&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid metrics provider",
			Detail:   fmt.Sprintf("Metrics provider must be %q or %q, got %q", MetricsProviderPrometheus, MetricsProviderOtel, d.Provider),
			Subject:  &d.DefRange,
		}}
	}
	return nil
}

func invalidPort(port int, subject *hcl.Range) *hcl.Diagnostic {
	return &hcl.Diagnostic{
		Severity: hcl.DiagError,
		Summary:  "Invalid port",
		Detail:   fmt.Sprintf("Port must be between 1 and 65535, got %d", port),
		Subject:  subject,
	}
}

func validateFrameBytes(n *int, subject *hcl.Range) hcl.Diagnostics {
	if n == nil || *n > 0 {
		return nil
	}
	return hcl.Diagnostics{&hcl.Diagnostic{
		Severity: hcl.DiagError,
		Summary:  "Invalid max_frame_bytes",
		Detail:   fmt.Sprintf("max_frame_bytes must be positive, got %d", *n),
		Subject:  subject,
	}}
}

func limits(n *int) wire.Limits {
	if n == nil {
		return wire.DefaultLimits()
	}
	return wire.Limits{MaxFrameBytes: uint32(*n)}
}
