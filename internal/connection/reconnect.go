package connection

import (
	"math"
	"sync"
	"time"

	"github.com/bacoco/DevFlow-sub010/internal/clock"
)

// Reconnector owns the reconnect attempt counter and the single pending
// reconnect timer.
type Reconnector struct {
	clock       clock.Clock
	interval    time.Duration
	maxInterval time.Duration
	multiplier  float64
	maxAttempts int

	mu       sync.Mutex
	attempts int
	timer    clock.Timer
}

// NewReconnector creates a scheduler allowing maxAttempts consecutive
// attempts.
func NewReconnector(clk clock.Clock, interval, maxInterval time.Duration, multiplier float64, maxAttempts int) *Reconnector {
	if multiplier < 1 {
		multiplier = 1
	}
	return &Reconnector{
		clock:       clk,
		interval:    interval,
		maxInterval: maxInterval,
		multiplier:  multiplier,
		maxAttempts: maxAttempts,
	}
}

// Schedule arms fn for the next attempt, replacing any pending one. It
// returns ok=false without scheduling once the attempt budget is spent.
func (r *Reconnector) Schedule(fn func()) (attempt int, delay time.Duration, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.attempts >= r.maxAttempts {
		return r.attempts, 0, false
	}

	r.attempts++
	delay = r.Delay(r.attempts)

	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = r.clock.AfterFunc(delay, fn)

	return r.attempts, delay, true
}

// Cancel stops the pending attempt, if any.
func (r *Reconnector) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelLocked()
}

// Reset cancels the pending attempt and zeroes the counter.
func (r *Reconnector) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelLocked()
	r.attempts = 0
}

// Attempts returns the number of attempts made since the last Reset.
func (r *Reconnector) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

// Delay returns the wait before the given attempt (1-based).
func (r *Reconnector) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(r.interval) * math.Pow(r.multiplier, float64(attempt-1))
	if r.maxInterval > 0 && d > float64(r.maxInterval) {
		return r.maxInterval
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

func (r *Reconnector) cancelLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}
