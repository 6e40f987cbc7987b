package config

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/tsarna/rxmsg/pkg/rxmsg/transform"
	"go.uber.org/zap"
)

// TransformDefinition is a publish_transform block. The label selects the
// transform:
//
//	publish_transform "drop_pattern" { pattern = "debug/#" }
//	publish_transform "only_pattern" { pattern = "public/+" }
//	publish_transform "drop_prefix"  { prefix = "_" }
//	publish_transform "rate_limit"   { interval = "500ms" }
//	publish_transform "jq"           { query = "{channel: $channel, data: .}" }
type TransformDefinition struct {
	Type     string         `hcl:",label"`
	Pattern  string         `hcl:"pattern,optional"`
	Prefix   string         `hcl:"prefix,optional"`
	Query    string         `hcl:"query,optional"`
	Interval hcl.Expression `hcl:"interval,optional"`
	DefRange hcl.Range      `hcl:",def_range"`
}

func (d *TransformDefinition) validate(c *Config) hcl.Diagnostics {
	_, diags := d.Build(c, nil)
	return diags
}

// Build creates the transform.
func (d *TransformDefinition) Build(c *Config, logger *zap.Logger) (transform.PublishTransformFunc, hcl.Diagnostics) {
	missing := func(attr string) hcl.Diagnostics {
		return hcl.Diagnostics{&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Missing required argument",
			Detail:   fmt.Sprintf("The %s transform needs %s", d.Type, attr),
			Subject:  &d.DefRange,
		}}
	}

	switch d.Type {
	case "drop_pattern":
		if d.Pattern == "" {
			return nil, missing("pattern")
		}
		return transform.DropChannelPattern(d.Pattern), nil

	case "only_pattern":
		if d.Pattern == "" {
			return nil, missing("pattern")
		}
		return transform.OnlyChannelPattern(d.Pattern), nil

	case "drop_prefix":
		if d.Prefix == "" {
			return nil, missing("prefix")
		}
		return transform.DropChannelPrefix(d.Prefix), nil

	case "rate_limit":
		if !IsExpressionProvided(d.Interval) {
			return nil, missing("interval")
		}
		interval, diags := c.ParseDuration(d.Interval)
		if diags.HasErrors() {
			return nil, diags
		}
		return transform.RateLimitByChannel(interval), diags

	case "jq":
		if d.Query == "" {
			return nil, missing("query")
		}
		fn, err := transform.JqTransform(d.Query, logger)
		if err != nil {
			return nil, hcl.Diagnostics{&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid jq query",
				Detail:   err.Error(),
				Subject:  &d.DefRange,
			}}
		}
		return fn, nil

	default:
		return nil, hcl.Diagnostics{&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid publish transform",
			Detail:   fmt.Sprintf("Unknown publish transform type %q", d.Type),
			Subject:  &d.DefRange,
		}}
	}
}
