package ratelimit

import (
	"testing"
	"time"

	"swing-core/internal/clock"
)

func TestBeforeCycleRunsByDefault(t *testing.T) {
	t.Parallel()
	fc := clock.NewFake(time.Unix(0, 0))
	c := New(Config{}, fc)

	if got := c.BeforeCycle(); got != DecisionRun {
		t.Errorf("BeforeCycle() = %v, want run", got)
	}
}

func TestRegisterRateLimitPausesThenSkips(t *testing.T) {
	t.Parallel()
	fc := clock.NewFake(time.Unix(0, 0))
	c := New(Config{InitialPause: time.Second, Ceiling: time.Minute}, fc)

	c.RegisterRateLimit("test")

	if got := c.BeforeCycle(); got != DecisionPaused {
		t.Fatalf("BeforeCycle() = %v, want paused", got)
	}

	fc.Advance(2 * time.Second)

	if got := c.BeforeCycle(); got != DecisionSkip {
		t.Fatalf("BeforeCycle() = %v, want skip (fresh backoff consumed once)", got)
	}
	if got := c.BeforeCycle(); got != DecisionRun {
		t.Fatalf("BeforeCycle() = %v, want run after skip consumed", got)
	}
}

func TestBackoffCompoundsAndCapsAtCeiling(t *testing.T) {
	t.Parallel()
	fc := clock.NewFake(time.Unix(0, 0))
	c := New(Config{InitialPause: time.Second, Ceiling: 4 * time.Second}, fc)

	for i := 0; i < 5; i++ {
		c.RegisterRateLimit("test")
	}

	c.mu.Lock()
	pauseUntil := c.pauseUntil
	c.mu.Unlock()

	if pauseUntil.Sub(fc.Now()) > 4*time.Second {
		t.Errorf("pause window exceeded ceiling: %v", pauseUntil.Sub(fc.Now()))
	}
}

func TestOnCycleCompleteResetsOnClean(t *testing.T) {
	t.Parallel()
	fc := clock.NewFake(time.Unix(0, 0))
	c := New(Config{InitialPause: time.Second, Ceiling: time.Minute}, fc)

	c.RegisterRateLimit("test")
	c.OnCycleComplete(false)

	if got := c.BeforeCycle(); got != DecisionRun {
		t.Errorf("BeforeCycle() = %v, want run after clean cycle reset", got)
	}
}
