// Package resilience guards the replication client's reconnect path: a
// failed dial or handshake retries with jittered exponential backoff, and a
// run of consecutive failures suspends dialing for a cooldown window so a
// dead or version-incompatible host isn't hammered by a reconnect loop.
package resilience

import (
	"math/rand"
	"sync"
	"time"

	"github.com/fractalforge/ecsruntime/infrastructure/errors"
)

// DialPolicy tunes one Redialer.
type DialPolicy struct {
	// MaxAttempts bounds one Run call's dial attempts.
	MaxAttempts int
	// BaseDelay is the wait after the first failure; each further failure
	// doubles it up to MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Jitter in [0,1] spreads the delay so reconnecting clients don't
	// stampede the host in lockstep.
	Jitter float64
	// TripAfter consecutive failures (across Run calls) suspends dialing
	// for Cooldown. Zero disables suspension.
	TripAfter int
	Cooldown  time.Duration
}

// DefaultDialPolicy matches the handshake timeout budget: a few quick
// retries, then a cooldown about as long as one handshake window.
func DefaultDialPolicy() DialPolicy {
	return DialPolicy{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Jitter:      0.2,
		TripAfter:   6,
		Cooldown:    5 * time.Second,
	}
}

// Redialer runs dial attempts under a DialPolicy, carrying the consecutive
// failure count and suspension window across Run calls.
type Redialer struct {
	policy DialPolicy

	mu             sync.Mutex
	consecFailures int
	suspendedUntil time.Time
}

// NewRedialer creates a Redialer, filling zero MaxAttempts, BaseDelay and
// MaxDelay from DefaultDialPolicy. Jitter, TripAfter and Cooldown are kept
// as given, so a zero TripAfter leaves suspension disabled.
func NewRedialer(policy DialPolicy) *Redialer {
	def := DefaultDialPolicy()
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = def.MaxAttempts
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = def.BaseDelay
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = def.MaxDelay
	}
	return &Redialer{policy: policy}
}

// Suspended reports whether dialing is currently in a cooldown window.
func (r *Redialer) Suspended() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Now().Before(r.suspendedUntil)
}

// Run attempts dial until it succeeds, MaxAttempts is spent, or done is
// closed. A success clears the consecutive-failure count; exhausting the
// attempts may trip the suspension window for subsequent Run calls.
func (r *Redialer) Run(done <-chan struct{}, dial func() error) error {
	r.mu.Lock()
	if time.Now().Before(r.suspendedUntil) {
		until := r.suspendedUntil
		r.mu.Unlock()
		return errors.New(errors.CodeHandshakeTimeout, "reconnect suspended after repeated failures").
			WithDetails("until", until.Format(time.RFC3339))
	}
	r.mu.Unlock()

	var lastErr error
	delay := r.policy.BaseDelay
	for attempt := 0; attempt < r.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-done:
				return lastErr
			case <-time.After(r.jittered(delay)):
			}
			if delay *= 2; delay > r.policy.MaxDelay {
				delay = r.policy.MaxDelay
			}
		}

		if err := dial(); err != nil {
			lastErr = err
			r.recordFailure()
			continue
		}
		r.mu.Lock()
		r.consecFailures = 0
		r.mu.Unlock()
		return nil
	}
	return lastErr
}

func (r *Redialer) recordFailure() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consecFailures++
	if r.policy.TripAfter > 0 && r.consecFailures >= r.policy.TripAfter {
		r.suspendedUntil = time.Now().Add(r.policy.Cooldown)
		r.consecFailures = 0
	}
}

func (r *Redialer) jittered(d time.Duration) time.Duration {
	if r.policy.Jitter <= 0 {
		return d
	}
	delta := float64(d) * r.policy.Jitter
	return d + time.Duration(rand.Float64()*delta*2-delta)
}
