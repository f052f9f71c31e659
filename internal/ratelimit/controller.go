// Package ratelimit implements the cycle-level rate-limit controller
// (§4.3): a per-tick run/skip/paused decision driven by venue backoff
// signals. Distinct from the transport-level token-bucket throttling an
// exchange adapter applies to its own REST calls (see exchange.TokenBucket),
// which never calls into this package.
package ratelimit

import (
	"sync"
	"time"

	"swing-core/internal/clock"
)

// Decision is the per-tick verdict beforeCycle() returns.
type Decision string

const (
	DecisionRun    Decision = "run"
	DecisionSkip   Decision = "skip"
	DecisionPaused Decision = "paused"
)

const (
	defaultInitialPause = 2 * time.Second
	defaultCeiling      = 5 * time.Minute
)

// Config bounds the exponential pause window.
type Config struct {
	InitialPause time.Duration
	Ceiling      time.Duration
}

func (c *Config) applyDefaults() {
	if c.InitialPause == 0 {
		c.InitialPause = defaultInitialPause
	}
	if c.Ceiling == 0 {
		c.Ceiling = defaultCeiling
	}
}

// Controller is the rate-limit controller.
type Controller struct {
	cfg   Config
	clock clock.Clock

	mu            sync.Mutex
	backoffCount  int
	pauseUntil    time.Time
	freshBackoff  bool
}

func New(cfg Config, clk clock.Clock) *Controller {
	cfg.applyDefaults()
	return &Controller{cfg: cfg, clock: clk}
}

// RegisterRateLimit records a venue rate-limit signal (§7 RateLimit taxon):
// increments the backoff counter and sets an exponential pause window
// bounded at the configured ceiling.
func (c *Controller) RegisterRateLimit(source string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.backoffCount++
	pause := c.cfg.InitialPause * time.Duration(1<<uint(min(c.backoffCount-1, 20)))
	if pause > c.cfg.Ceiling {
		pause = c.cfg.Ceiling
	}
	c.pauseUntil = c.clock.Now().Add(pause)
	c.freshBackoff = true
}

// BeforeCycle returns the decision for the upcoming tick.
func (c *Controller) BeforeCycle() Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if now.Before(c.pauseUntil) {
		return DecisionPaused
	}
	if c.freshBackoff {
		c.freshBackoff = false
		return DecisionSkip
	}
	return DecisionRun
}

// OnCycleComplete resets counters on a clean cycle, or compounds the
// backoff otherwise.
func (c *Controller) OnCycleComplete(hadRateLimit bool) {
	if hadRateLimit {
		c.RegisterRateLimit("cycle")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backoffCount = 0
	c.pauseUntil = time.Time{}
	c.freshBackoff = false
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
