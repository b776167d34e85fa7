package reconnect

import (
	"math"
	"time"
)

// Backoff holds the reconnection schedule.
type Backoff struct {
	Initial     time.Duration `mapstructure:"initial"`   // interval after a successful open
	Threshold   time.Duration `mapstructure:"threshold"` // intervals up to this jump straight to Default
	Default     time.Duration `mapstructure:"default"`
	Decay       float64       `mapstructure:"decay"`
	Max         time.Duration `mapstructure:"max"` // 0: unbounded
	MaxAttempts int           `mapstructure:"maxAttempts"`
}

func DefaultBackoff() Backoff {
	return Backoff{
		Initial:     time.Second,
		Threshold:   time.Second,
		Default:     2 * time.Second,
		Decay:       1.5,
		Max:         30 * time.Second,
		MaxAttempts: 10,
	}
}

func (b Backoff) normalize() Backoff {
	d := DefaultBackoff()
	if b.Initial <= 0 {
		b.Initial = d.Initial
	}
	if b.Threshold <= 0 {
		b.Threshold = d.Threshold
	}
	if b.Default <= 0 {
		b.Default = d.Default
	}
	if b.Decay < 1 {
		b.Decay = d.Decay
	}
	if b.MaxAttempts <= 0 {
		b.MaxAttempts = d.MaxAttempts
	}
	return b
}

// Next is the wait before the next attempt, given the current interval and
// the number of closes seen so far (before counting this one).
func (b Backoff) Next(interval time.Duration, attempts int) time.Duration {
	var next time.Duration
	if interval <= b.Threshold {
		next = b.Default
	} else {
		next = time.Duration(float64(interval) * math.Floor(math.Pow(b.Decay, float64(attempts))))
	}
	if b.Max > 0 && next > b.Max {
		next = b.Max
	}
	return next
}

// Exhausted reports whether attempts, counted after a close, leaves no retry.
func (b Backoff) Exhausted(attempts int) bool {
	return attempts >= b.MaxAttempts
}
