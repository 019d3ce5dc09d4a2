package convsocket

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"k8s.io/utils/clock"
)

// reconnector hands out reconnect delays: 2^attempt * base, capped at maxDelay,
// for at most maxAttempts attempts between resets. It is only used from the
// client's control loop.
type reconnector struct {
	policy  backoff.BackOff
	attempt int
}

func newReconnector(clk clock.PassiveClock, base, maxDelay time.Duration, maxAttempts int) *reconnector {
	if maxAttempts < 0 {
		maxAttempts = 0
	}
	if maxDelay < base {
		maxDelay = base
	}
	exp := &backoff.ExponentialBackOff{
		InitialInterval:     base,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         maxDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               clk,
	}
	exp.Reset()

	// WithMaxRetries treats zero as "never retry".
	return &reconnector{policy: backoff.WithMaxRetries(exp, uint64(maxAttempts))}
}

// Next returns the delay before the next attempt and counts it. ok is false
// once the budget is spent.
func (r *reconnector) Next() (delay time.Duration, ok bool) {
	d := r.policy.NextBackOff()
	if d == backoff.Stop {
		return 0, false
	}
	r.attempt++
	return d, true
}

// Attempt is the number of attempts handed out since the last reset.
func (r *reconnector) Attempt() int {
	return r.attempt
}

// Reset restores the full budget. Called on every transition to Open.
func (r *reconnector) Reset() {
	r.attempt = 0
	r.policy.Reset()
}
