// Package backoff generates successive retry and reconnect delays.
//
// An Algorithm is a factory: every call returns a fresh Cursor positioned at
// the start of its sequence. Cursors are unbounded and never fail; once a
// growing sequence reaches its ceiling it yields the ceiling forever.
//
// Option values are expressed in milliseconds, Cursor values as time.Duration.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Default bounds shared by every algorithm.
const (
	DefaultFrom = 0
	DefaultTo   = 5000

	DefaultLinearFactor = 500

	DefaultExponentialFrom   = 1
	DefaultExponentialBase   = 2
	DefaultExponentialFactor = 1
)

// Cursor is a stateful position in a delay sequence.
type Cursor interface {
	Next() time.Duration
}

// Algorithm creates a new Cursor at the start of its sequence.
type Algorithm func() Cursor

// CursorFunc adapts a function to the Cursor interface.
type CursorFunc func() time.Duration

func (f CursorFunc) Next() time.Duration {
	return f()
}

func ms(v float64) time.Duration {
	return time.Duration(v * float64(time.Millisecond))
}

// Constant always yields v milliseconds.
func Constant(v float64) Algorithm {
	return func() Cursor {
		return CursorFunc(func() time.Duration {
			return ms(v)
		})
	}
}

// LinearOptions configures Linear. Zero To and Factor take their defaults.
type LinearOptions struct {
	From   float64
	To     float64
	Factor float64
}

func (o LinearOptions) withDefaults() LinearOptions {
	if o.To == 0 {
		o.To = DefaultTo
	}
	if o.Factor == 0 {
		o.Factor = DefaultLinearFactor
	}
	return o
}

type linearCursor struct {
	opts    LinearOptions
	current float64
}

func (c *linearCursor) Next() time.Duration {
	if c.current >= c.opts.To {
		return ms(c.opts.To)
	}
	v := c.current
	c.current += c.opts.Factor
	return ms(v)
}

// Linear yields From, From+Factor, From+2*Factor, ... while the value is below
// To, then To forever.
func Linear(opts LinearOptions) Algorithm {
	opts = opts.withDefaults()
	return func() Cursor {
		return &linearCursor{opts: opts, current: opts.From}
	}
}

// ExponentialOptions configures Exponential. From defaults to 1; set FromZero
// to use a zero offset.
type ExponentialOptions struct {
	From     float64
	FromZero bool
	To       float64
	Base     float64
	Factor   float64
}

func (o ExponentialOptions) withDefaults() ExponentialOptions {
	if o.From == 0 && !o.FromZero {
		o.From = DefaultExponentialFrom
	}
	if o.To == 0 {
		o.To = DefaultTo
	}
	if o.Base == 0 {
		o.Base = DefaultExponentialBase
	}
	if o.Factor == 0 {
		o.Factor = DefaultExponentialFactor
	}
	return o
}

type exponentialCursor struct {
	opts        ExponentialOptions
	accumulator float64
	current     float64
}

func (c *exponentialCursor) Next() time.Duration {
	if c.current >= c.opts.To {
		return ms(c.opts.To)
	}
	v := c.current
	c.accumulator *= c.opts.Base
	c.current = c.accumulator + c.opts.From - 1
	return ms(v)
}

// Exponential yields From first, then Factor*Base^n+From-1 for n = 1, 2, ...
// until the value reaches To. After that it yields To forever.
func Exponential(opts ExponentialOptions) Algorithm {
	opts = opts.withDefaults()
	return func() Cursor {
		return &exponentialCursor{
			opts:        opts,
			accumulator: opts.Factor,
			current:     opts.From,
		}
	}
}

// RandomOptions configures Random. To defaults to 5000.
type RandomOptions struct {
	From float64
	To   float64
}

// Random yields a uniformly distributed whole number of milliseconds in
// [From, To] on every pull.
func Random(opts RandomOptions) Algorithm {
	if opts.To == 0 {
		opts.To = DefaultTo
	}
	return func() Cursor {
		return CursorFunc(func() time.Duration {
			return ms(math.Round(rand.Float64()*(opts.To-opts.From) + opts.From))
		})
	}
}

// Tracker owns at most one live Cursor for one concern (reconnect or send
// retry). The cursor is created lazily on the first failure and discarded on
// success. A Tracker is not safe for concurrent use.
type Tracker struct {
	algorithm Algorithm
	cursor    Cursor
}

// NewTracker returns a Tracker for algorithm. A nil algorithm yields zero delays.
func NewTracker(algorithm Algorithm) *Tracker {
	return &Tracker{algorithm: algorithm}
}

// Next returns the next delay, creating the cursor if none is alive.
func (t *Tracker) Next() time.Duration {
	if t.algorithm == nil {
		return 0
	}
	if t.cursor == nil {
		t.cursor = t.algorithm()
	}
	return t.cursor.Next()
}

// Reset discards the live cursor.
func (t *Tracker) Reset() {
	t.cursor = nil
}

// Active reports whether a cursor is alive.
func (t *Tracker) Active() bool {
	return t.cursor != nil
}
