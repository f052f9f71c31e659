// Package clock abstracts time so the depth tracker, RSI tracker,
// rate-limit controller, and engine tick loop can be driven deterministically
// in tests instead of depending on ambient global timers.
package clock

import "time"

// Clock is the abstraction every timer-driven component depends on instead
// of calling time.Now/time.After/time.NewTicker directly.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker mirrors the subset of *time.Ticker consumers need.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Real is the production Clock backed by the standard library.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (Real) NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }
