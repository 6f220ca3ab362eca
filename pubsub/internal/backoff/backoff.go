// Package backoff computes exponentially growing, jittered retry delays for
// receive reconnects and publish retries.
package backoff

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

const (
	defaultInitial    = 200 * time.Millisecond
	defaultMax        = 30 * time.Second
	defaultMultiplier = 2
)

type Config struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64 // fraction of the delay, in [0, 1]
}

func (c Config) withDefaults() Config {
	if c.Initial <= 0 {
		c.Initial = defaultInitial
	}
	if c.Max <= 0 {
		c.Max = defaultMax
	}
	c.Max = max(c.Max, c.Initial)
	if c.Multiplier <= 1 {
		c.Multiplier = defaultMultiplier
	}
	c.Jitter = min(max(c.Jitter, 0), 1)
	return c
}

// Exponential is safe for concurrent use.
type Exponential struct {
	mu       sync.Mutex
	cfg      Config
	base     time.Duration
	attempts int
}

func New(cfg Config) *Exponential {
	return &Exponential{cfg: cfg.withDefaults()}
}

// Next returns the delay before the next attempt and grows the base delay.
func (e *Exponential) Next() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attempts++
	if e.base == 0 {
		e.base = e.cfg.Initial
	} else {
		e.base = min(time.Duration(float64(e.base)*e.cfg.Multiplier), e.cfg.Max)
	}
	return e.jitter(e.base)
}

func (e *Exponential) jitter(d time.Duration) time.Duration {
	if e.cfg.Jitter == 0 {
		return d
	}
	span := float64(d) * e.cfg.Jitter
	d += time.Duration((rand.Float64()*2 - 1) * span)
	if d <= 0 {
		return e.cfg.Initial
	}
	return d
}

// Attempts is the number of delays handed out since the last Reset.
func (e *Exponential) Attempts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attempts
}

func (e *Exponential) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.base = 0
	e.attempts = 0
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
