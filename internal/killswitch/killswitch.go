// Package killswitch holds the cooldown bookkeeping that keeps the engine
// from resubmitting a market-close order every tick while the exchange is
// still processing the first one (§4.9). The kill-switch decision itself
// lives in the engine's stop-loss handling and is evaluated fresh every
// tick regardless of cooldown state; this package only tracks the timer,
// for one symbol.
package killswitch

import (
	"sync"
	"time"

	"swing-core/internal/clock"
)

// Cooldown is the kill-switch cooldown timer.
type Cooldown struct {
	window time.Duration
	clock  clock.Clock

	mu     sync.Mutex
	active bool
	until  time.Time
	reason string
}

// New constructs a Cooldown with the given window.
func New(window time.Duration, clk clock.Clock) *Cooldown {
	return &Cooldown{window: window, clock: clk}
}

// Trigger marks the cooldown active for window from now.
func (c *Cooldown) Trigger(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = true
	c.until = c.clock.Now().Add(c.window)
	c.reason = reason
}

// Active reports whether the cooldown is still in effect, clearing it once
// the window has passed.
func (c *Cooldown) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return false
	}
	if c.clock.Now().After(c.until) {
		c.active = false
		c.reason = ""
		return false
	}
	return true
}

// Reason returns the reason passed to the most recent Trigger call, empty
// if the cooldown is not active.
func (c *Cooldown) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active || c.clock.Now().After(c.until) {
		return ""
	}
	return c.reason
}
