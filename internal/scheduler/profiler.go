// Profiler metrics collection: the per-system timing the debugger's
// profiler_metrics response reports (time, call count, min/max, paused
// flag).
package scheduler

import (
	"sync"
	"time"
)

// SystemProfile accumulates timing stats for one registered system across
// ticks.
type SystemProfile struct {
	Name        string
	CallCount   uint64
	TotalUsec   uint64
	MinUsec     uint64
	MaxUsec     uint64
	EntityCount uint64
	Paused      bool
}

// Profiler collects per-system timing for one World's pipeline.
type Profiler struct {
	mu       sync.Mutex
	profiles map[string]*SystemProfile
}

// NewProfiler creates an empty Profiler.
func NewProfiler() *Profiler {
	return &Profiler{profiles: make(map[string]*SystemProfile)}
}

// Record appends one system dispatch's duration and entity count.
func (p *Profiler) Record(name string, d time.Duration, entityCount int) {
	usec := uint64(d.Microseconds())

	p.mu.Lock()
	defer p.mu.Unlock()
	sp, ok := p.profiles[name]
	if !ok {
		sp = &SystemProfile{Name: name, MinUsec: usec}
		p.profiles[name] = sp
	}
	sp.CallCount++
	sp.TotalUsec += usec
	sp.EntityCount += uint64(entityCount)
	if usec < sp.MinUsec || sp.CallCount == 1 {
		sp.MinUsec = usec
	}
	if usec > sp.MaxUsec {
		sp.MaxUsec = usec
	}
}

// SetPaused marks a system as paused/unpaused for profiler reporting
// (a paused system is skipped by the pipeline but still listed).
func (p *Profiler) SetPaused(name string, paused bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sp, ok := p.profiles[name]
	if !ok {
		sp = &SystemProfile{Name: name}
		p.profiles[name] = sp
	}
	sp.Paused = paused
}

// Snapshot returns a copy of every system's accumulated profile, along with
// the total time across all systems — the shape the debugger's
// profiler_metrics response needs.
func (p *Profiler) Snapshot() (totalUsec uint64, systems []SystemProfile) {
	p.mu.Lock()
	defer p.mu.Unlock()
	systems = make([]SystemProfile, 0, len(p.profiles))
	for _, sp := range p.profiles {
		systems = append(systems, *sp)
		totalUsec += sp.TotalUsec
	}
	return totalUsec, systems
}
