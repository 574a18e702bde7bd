package scheduler

import (
	"time"

	"github.com/fractalforge/ecsruntime/infrastructure/errors"
	"github.com/fractalforge/ecsruntime/pkg/ecsquery"
)

// SystemFunc is one system's per-batch body. It runs against a batch
// resolved by the system's Filter; ctx gives it access to the component
// store (through the caller-supplied closures bound at registration) and a
// place to enqueue deferred commands.
type SystemFunc func(ctx *TickContext, batch ecsquery.Batch)

// System is a named callable with a declared phase, an optional interval,
// and a multi-threaded flag.
type System struct {
	Name          string
	Phase         string
	Interval      time.Duration // 0 runs every tick
	MultiThreaded bool
	Filter        ecsquery.Filter
	Callback      SystemFunc

	registeredAt int
	accumulated  time.Duration
	disabled     bool
}

// writeSet and readWriteSet expose a System's filter columns for the
// scheduler's write-disjointness check.
func (s *System) writeSet() map[uint64]bool {
	m := make(map[uint64]bool, len(s.Filter.Write))
	for _, id := range s.Filter.Write {
		m[uint64(id)] = true
	}
	return m
}

func (s *System) readWriteSet() map[uint64]bool {
	m := make(map[uint64]bool, len(s.Filter.Write)+len(s.Filter.Read))
	for _, id := range s.Filter.Write {
		m[uint64(id)] = true
	}
	for _, id := range s.Filter.Read {
		m[uint64(id)] = true
	}
	return m
}

func disjoint(a, b map[uint64]bool) bool {
	small, big := a, b
	if len(big) < len(small) {
		small, big = big, small
	}
	for k := range small {
		if big[k] {
			return false
		}
	}
	return true
}

// conflicts reports whether a and b cannot safely run concurrently: true if
// either's write set intersects the other's read ∪ write set.
func conflicts(a, b *System) bool {
	return !disjoint(a.writeSet(), b.readWriteSet()) || !disjoint(b.writeSet(), a.readWriteSet())
}

// Registry holds every registered System, indexed by phase.
type Registry struct {
	byName  map[string]*System
	byPhase map[string][]*System
	counter int
}

// NewRegistry creates an empty system Registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:  make(map[string]*System),
		byPhase: make(map[string][]*System),
	}
}

// Register adds sys. Fails if a system with the same name already exists
// (fatal at registration time) or if sys.Phase isn't registered in graph.
func (r *Registry) Register(graph *PhaseGraph, sys System) error {
	if _, exists := r.byName[sys.Name]; exists {
		return errors.DuplicateSystem(sys.Name)
	}
	if !graph.HasPhase(sys.Phase) {
		return errors.UnknownPhase(sys.Phase)
	}
	sys.registeredAt = r.counter
	r.counter++
	stored := sys
	r.byName[stored.Name] = &stored
	r.byPhase[stored.Phase] = append(r.byPhase[stored.Phase], &stored)
	return nil
}

// SystemsInPhase returns phase's systems in registration order.
func (r *Registry) SystemsInPhase(phase string) []*System {
	return r.byPhase[phase]
}

// Lookup returns a registered system by name.
func (r *Registry) Lookup(name string) (*System, bool) {
	s, ok := r.byName[name]
	return s, ok
}

// All returns every registered system, in registration order.
func (r *Registry) All() []*System {
	out := make([]*System, len(r.byName))
	for _, s := range r.byName {
		out[s.registeredAt] = s
	}
	return out
}
