package config

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/tsarna/rxmsg/pkg/rxmsg/backoff"
)

// BackoffDefinition is a reconnect or send_retry block. Values are in
// milliseconds; unset bounds take the algorithm's defaults.
type BackoffDefinition struct {
	Algorithm string    `hcl:"algorithm"`
	Value     *float64  `hcl:"value,optional"`
	From      *float64  `hcl:"from,optional"`
	To        *float64  `hcl:"to,optional"`
	Factor    *float64  `hcl:"factor,optional"`
	Base      *float64  `hcl:"base,optional"`
	DefRange  hcl.Range `hcl:",def_range"`
}

func (d *BackoffDefinition) validate() hcl.Diagnostics {
	if _, err := d.Build(); err != nil {
		return hcl.Diagnostics{&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid backoff",
			Detail:   err.Error(),
			Subject:  &d.DefRange,
		}}
	}
	return nil
}

func orZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// Build returns the delay sequence described by the block.
func (d *BackoffDefinition) Build() (backoff.Algorithm, error) {
	for name, v := range map[string]*float64{
		"value": d.Value, "from": d.From, "to": d.To, "factor": d.Factor, "base": d.Base,
	} {
		if v != nil && *v < 0 {
			return nil, fmt.Errorf("%s must not be negative", name)
		}
	}
	if d.From != nil && d.To != nil && *d.From > *d.To {
		return nil, fmt.Errorf("from (%v) must not exceed to (%v)", *d.From, *d.To)
	}

	switch d.Algorithm {
	case "constant":
		if d.Value == nil {
			return nil, fmt.Errorf("constant backoff needs value")
		}
		return backoff.Constant(*d.Value), nil

	case "linear":
		return backoff.Linear(backoff.LinearOptions{
			From:   orZero(d.From),
			To:     orZero(d.To),
			Factor: orZero(d.Factor),
		}), nil

	case "exponential":
		return backoff.Exponential(backoff.ExponentialOptions{
			From:     orZero(d.From),
			FromZero: d.From != nil && *d.From == 0,
			To:       orZero(d.To),
			Base:     orZero(d.Base),
			Factor:   orZero(d.Factor),
		}), nil

	case "random":
		return backoff.Random(backoff.RandomOptions{
			From: orZero(d.From),
			To:   orZero(d.To),
		}), nil

	default:
		return nil, fmt.Errorf("unknown backoff algorithm %q, expected constant, linear, exponential or random", d.Algorithm)
	}
}
