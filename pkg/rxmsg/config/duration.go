package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/sosodev/duration"
	"github.com/zclconf/go-cty/cty"
)

// IsExpressionProvided reports whether an optional attribute was set. gohcl
// fills missing optional expressions with an empty, zero-length expression.
func IsExpressionProvided(expr hcl.Expression) bool {
	return expr != nil && expr.Range().End.Byte > expr.Range().Start.Byte
}

// ParseDuration evaluates expr as a duration. Numbers are seconds, strings
// starting with "P" are ISO 8601 durations and other strings use Go syntax
// ("1.5s", "10m").
func (c *Config) ParseDuration(expr hcl.Expression) (time.Duration, hcl.Diagnostics) {
	val, diags := expr.Value(c.evalCtx)
	if diags.HasErrors() {
		return 0, diags
	}

	invalid := func(summary, detail string) (time.Duration, hcl.Diagnostics) {
		return 0, diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  summary,
			Detail:   detail,
			Subject:  expr.Range().Ptr(),
		})
	}

	if val.IsNull() || !val.IsKnown() {
		return invalid("Invalid duration", "Duration must not be null")
	}

	var d time.Duration
	switch val.Type() {
	case cty.Number:
		bf := val.AsBigFloat()
		if bf.Sign() < 0 {
			return invalid("Invalid duration", "Duration must be positive")
		}
		seconds, _ := bf.Float64()
		d = time.Duration(seconds * float64(time.Second))

	case cty.String:
		str := strings.TrimSpace(val.AsString())
		if strings.HasPrefix(str, "P") {
			iso, err := duration.Parse(str)
			if err != nil {
				return invalid("Invalid ISO 8601 duration",
					fmt.Sprintf("Failed to parse ISO 8601 duration '%s': %v", str, err))
			}
			d = iso.ToTimeDuration()
		} else {
			var err error
			d, err = time.ParseDuration(str)
			if err != nil {
				return invalid("Invalid duration format",
					fmt.Sprintf("Failed to parse duration '%s': %v. Expected a number (seconds), ISO 8601 duration (e.g., 'PT5M'), or Go duration (e.g., '5m')", str, err))
			}
		}
		if d < 0 {
			return invalid("Invalid duration", "Duration must be positive")
		}

	default:
		return invalid("Invalid duration type",
			fmt.Sprintf("Duration must be a number (seconds) or string, got %s", val.Type().FriendlyName()))
	}

	return d, diags
}
