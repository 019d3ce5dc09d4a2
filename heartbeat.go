package convsocket

import (
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// heartbeat tracks liveness of an open socket. Ping fires every interval;
// Expired fires when no pong or heartbeat frame arrived within timeout.
type heartbeat struct {
	clk      clock.WithTicker
	timeout  time.Duration
	ticker   clock.Ticker
	deadline clock.Timer

	mu       sync.Mutex
	lastPong time.Time
	stopped  bool
}

func newHeartbeat(clk clock.WithTicker, interval, timeout time.Duration) *heartbeat {
	return &heartbeat{
		clk:      clk,
		timeout:  timeout,
		ticker:   clk.NewTicker(interval),
		deadline: clk.NewTimer(timeout),
		lastPong: clk.Now(),
	}
}

func (h *heartbeat) Ping() <-chan time.Time {
	return h.ticker.C()
}

func (h *heartbeat) Expired() <-chan time.Time {
	return h.deadline.C()
}

// Pong records a pong and pushes the deadline out by the full timeout.
func (h *heartbeat) Pong() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return
	}
	h.lastPong = h.clk.Now()
	if !h.deadline.Stop() {
		select {
		case <-h.deadline.C():
		default:
		}
	}
	h.deadline.Reset(h.timeout)
}

// Stop halts both the ticker and the deadline. Safe to call more than once.
func (h *heartbeat) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return
	}
	h.stopped = true
	h.ticker.Stop()
	h.deadline.Stop()
}

// Active reports whether the heartbeat is still running. Some ticker
// implementations keep delivering after Stop, so callers check this before
// acting on a tick.
func (h *heartbeat) Active() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.stopped
}

func (h *heartbeat) LastPong() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastPong
}
