// Package config loads rxmsg process configuration from HCL files.
//
// A configuration holds at most one of each top-level block:
//
//	logging {
//	  level = "debug"
//	  file  = "/var/log/rxmsg.log"
//	}
//
//	server {
//	  port          = 7000
//	  write_timeout = "10s"
//
//	  tls {
//	    cert_file = "server.pem"
//	    key_file  = "server.key"
//	  }
//
//	  publish_transform "drop_pattern" { pattern = "internal/#" }
//	}
//
//	client {
//	  address = "localhost:7000"
//
//	  reconnect {
//	    algorithm = "exponential"
//	    to        = 10000
//	  }
//	}
//
//	metrics {
//	  provider = "prometheus"
//	  listen   = ":9100"
//	}
//
// Expressions can use env.NAME, the functions listed in
// GetStandardLibraryFunctions and user functions declared with `function`
// blocks.
package config

import (
	"fmt"
	"maps"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"go.uber.org/zap"
)

type ConfigBuilder struct {
	logger  *zap.Logger
	sources []any
}

// Config is a decoded configuration. Blocks that were not present are nil.
type Config struct {
	Logger    *zap.Logger
	Functions map[string]function.Function
	Constants map[string]cty.Value
	evalCtx   *hcl.EvalContext

	Logging *LoggingDefinition
	Server  *ServerDefinition
	Client  *ClientDefinition
	Metrics *MetricsDefinition
}

var configSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "logging"},
		{Type: "server"},
		{Type: "client"},
		{Type: "metrics"},
	},
}

func NewConfig() *ConfigBuilder {
	return &ConfigBuilder{
		logger:  zap.NewNop(),
		sources: make([]any, 0),
	}
}

func (cb *ConfigBuilder) WithLogger(logger *zap.Logger) *ConfigBuilder {
	if logger != nil {
		cb.logger = logger
	}
	return cb
}

// WithSources adds file paths, directories or []byte HCL sources.
func (cb *ConfigBuilder) WithSources(sources ...any) *ConfigBuilder {
	cb.sources = append(cb.sources, sources...)
	return cb
}

// Build parses and decodes every source. Blocks may be spread over several
// sources but each block type may appear only once overall.
func (cb *ConfigBuilder) Build() (*Config, hcl.Diagnostics) {
	config := &Config{
		Logger:    cb.logger,
		Functions: GetStandardLibraryFunctions(),
		Constants: map[string]cty.Value{
			"env": GetEnvObject(),
		},
	}
	config.evalCtx = &hcl.EvalContext{
		Functions: config.Functions,
		Variables: config.Constants,
	}

	bodies, diags := ParseConfigFiles(cb.sources...)
	if diags.HasErrors() {
		return nil, diags
	}

	userFuncs, bodies, funcDiags := config.ExtractUserFunctions(bodies)
	diags = diags.Extend(funcDiags)
	if diags.HasErrors() {
		return nil, diags
	}
	maps.Copy(config.Functions, userFuncs)

	for _, body := range bodies {
		content, contentDiags := body.Content(configSchema)
		diags = diags.Extend(contentDiags)
		if content == nil {
			continue
		}

		for _, block := range content.Blocks {
			diags = diags.Extend(config.processBlock(block))
		}
	}
	if diags.HasErrors() {
		return nil, diags
	}

	return config, diags
}

func (c *Config) processBlock(block *hcl.Block) hcl.Diagnostics {
	switch block.Type {
	case "logging":
		if c.Logging != nil {
			return duplicateBlock(block, c.Logging.DefRange)
		}
		def := &LoggingDefinition{}
		diags := c.decode(block, def)
		if !diags.HasErrors() {
			c.Logging = def
		}
		return diags

	case "server":
		if c.Server != nil {
			return duplicateBlock(block, c.Server.DefRange)
		}
		def := &ServerDefinition{}
		diags := c.decode(block, def)
		if !diags.HasErrors() {
			c.Server = def
		}
		return diags

	case "client":
		if c.Client != nil {
			return duplicateBlock(block, c.Client.DefRange)
		}
		def := &ClientDefinition{}
		diags := c.decode(block, def)
		if !diags.HasErrors() {
			c.Client = def
		}
		return diags

	case "metrics":
		if c.Metrics != nil {
			return duplicateBlock(block, c.Metrics.DefRange)
		}
		def := &MetricsDefinition{}
		diags := c.decode(block, def)
		if !diags.HasErrors() {
			c.Metrics = def
		}
		return diags
	}
	return nil
}

type validator interface {
	validate(c *Config) hcl.Diagnostics
}

func (c *Config) decode(block *hcl.Block, def validator) hcl.Diagnostics {
	diags := gohcl.DecodeBody(block.Body, c.evalCtx, def)
	if diags.HasErrors() {
		return diags
	}
	return diags.Extend(def.validate(c))
}

func duplicateBlock(block *hcl.Block, existing hcl.Range) hcl.Diagnostics {
	return hcl.Diagnostics{&hcl.Diagnostic{
		Severity: hcl.DiagError,
		Summary:  fmt.Sprintf("Duplicate %s block", block.Type),
		Detail:   fmt.Sprintf("A %s block is already defined at %s", block.Type, existing),
		Subject:  &block.DefRange,
	}}
}

// EvalContext returns the context used to evaluate expressions.
func (c *Config) EvalContext() *hcl.EvalContext {
	return c.evalCtx
}
