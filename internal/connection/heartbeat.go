package connection

import (
	"log/slog"
	"sync"
	"time"

	"github.com/bacoco/DevFlow-sub010/internal/clock"
)

// Heartbeat sends application-level pings at a fixed interval and declares
// the connection dead when no pong has arrived within the timeout.
type Heartbeat struct {
	clock     clock.Clock
	interval  time.Duration
	timeout   time.Duration // <= 0 disables the liveness check
	send      func() error
	onTimeout func()
	logger    *slog.Logger

	mu       sync.Mutex
	running  bool
	epoch    uint64
	timer    clock.Timer
	lastPong time.Time
}

// NewHeartbeat creates a stopped monitor. send writes one ping; onTimeout is
// called at most once per Start when the pong deadline passes.
func NewHeartbeat(clk clock.Clock, interval, timeout time.Duration, send func() error, onTimeout func(), logger *slog.Logger) *Heartbeat {
	if logger == nil {
		logger = slog.Default()
	}
	return &Heartbeat{
		clock:     clk,
		interval:  interval,
		timeout:   timeout,
		send:      send,
		onTimeout: onTimeout,
		logger:    logger,
	}
}

// Start begins pinging. Calling Start while running restarts the cycle.
func (h *Heartbeat) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stopLocked()
	h.running = true
	h.lastPong = h.clock.Now()
	h.scheduleLocked()
}

// Stop cancels the pending tick. No ping is sent after Stop returns.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopLocked()
}

// Pong records a liveness confirmation.
func (h *Heartbeat) Pong() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastPong = h.clock.Now()
}

// Running reports whether the monitor is active.
func (h *Heartbeat) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// LastPong returns the time of the last pong, or of Start if none arrived.
func (h *Heartbeat) LastPong() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastPong
}

func (h *Heartbeat) stopLocked() {
	h.running = false
	h.epoch++
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
}

func (h *Heartbeat) scheduleLocked() {
	epoch := h.epoch
	h.timer = h.clock.AfterFunc(h.interval, func() { h.tick(epoch) })
}

func (h *Heartbeat) tick(epoch uint64) {
	h.mu.Lock()
	if !h.running || epoch != h.epoch {
		h.mu.Unlock()
		return
	}

	silence := h.clock.Now().Sub(h.lastPong)
	if h.timeout > 0 && silence > h.timeout {
		h.stopLocked()
		h.mu.Unlock()

		h.logger.Warn("heartbeat timeout", "silence", silence, "timeout", h.timeout)
		h.onTimeout()
		return
	}

	h.scheduleLocked()
	h.mu.Unlock()

	if err := h.send(); err != nil {
		h.logger.Debug("failed to send ping", "error", err)
	}
}
