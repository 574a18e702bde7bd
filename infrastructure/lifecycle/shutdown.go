// Package lifecycle coordinates World teardown with the pipeline: each tick
// in flight holds a lease on the TickGuard, and Close refuses new leases,
// then waits for the last running tick to finish its phase walk and final
// command drain before the World's backends are released.
package lifecycle

import (
	"sync"
	"time"

	"github.com/fractalforge/ecsruntime/infrastructure/errors"
)

// TickGuard tracks the ticks currently walking a pipeline's phases. It also
// remembers how far each running tick has gotten (the phase it last entered
// and whether the post-phase drain ran), so a hung teardown can report
// where the pipeline stopped instead of just timing out silently.
type TickGuard struct {
	mu      sync.Mutex
	idle    *sync.Cond
	ticks   int
	closing bool

	lastPhase    string
	phaseDrained bool
}

// NewTickGuard creates an open TickGuard.
func NewTickGuard() *TickGuard {
	g := &TickGuard{}
	g.idle = sync.NewCond(&g.mu)
	return g
}

// BeginTick leases one tick. Returns false once Close has been called; the
// caller must not run the tick.
func (g *TickGuard) BeginTick() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closing {
		return false
	}
	g.ticks++
	return true
}

// EndTick releases a lease taken by BeginTick.
func (g *TickGuard) EndTick() {
	g.mu.Lock()
	g.ticks--
	if g.ticks <= 0 {
		g.idle.Broadcast()
	}
	g.mu.Unlock()
}

// EnterPhase records that the running tick has started phase. The drained
// flag resets until PhaseDrained is called for it.
func (g *TickGuard) EnterPhase(phase string) {
	g.mu.Lock()
	g.lastPhase = phase
	g.phaseDrained = false
	g.mu.Unlock()
}

// PhaseDrained records that the post-phase command drain for the phase last
// entered has completed.
func (g *TickGuard) PhaseDrained() {
	g.mu.Lock()
	g.phaseDrained = true
	g.mu.Unlock()
}

// Progress reports the phase the current (or most recent) tick last entered
// and whether its post-phase drain finished — the teardown diagnostic for a
// pipeline that never went idle.
func (g *TickGuard) Progress() (phase string, drained bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastPhase, g.phaseDrained
}

// Closing reports whether Close has been called.
func (g *TickGuard) Closing() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closing
}

// Close refuses new ticks and waits up to timeout for in-flight ones to
// finish. On timeout the error names the phase the stuck tick last entered.
// Idempotent; a second Close just waits again.
func (g *TickGuard) Close(timeout time.Duration) error {
	deadline := time.AfterFunc(timeout, func() {
		// Wake the waiter so it observes the deadline instead of sleeping
		// on the condition forever.
		g.mu.Lock()
		g.idle.Broadcast()
		g.mu.Unlock()
	})
	defer deadline.Stop()
	expired := time.Now().Add(timeout)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.closing = true
	for g.ticks > 0 {
		if time.Now().After(expired) {
			return errors.InternalInvariant("pipeline did not go idle before teardown timeout").
				WithDetails("last_phase", g.lastPhase).
				WithDetails("phase_drained", g.phaseDrained)
		}
		g.idle.Wait()
	}
	return nil
}
