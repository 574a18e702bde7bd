package replication

import (
	"time"

	"github.com/fractalforge/ecsruntime/pkg/ecscomponent"
	"github.com/fractalforge/ecsruntime/pkg/handle"
)

// Lerp linearly interpolates a component value, registered per type because
// the engine has no generic notion of "numeric fields of an arbitrary
// struct" — a Transform's position/rotation lerp differently than, say, a
// health bar's scalar.
type Lerp func(a, b interface{}, t float64) interface{}

// interpolationBuffers holds the circular per-entity, per-type snapshot
// history used to render Interpolate-tagged components a fixed delay behind
// the network.
type interpolationBuffers struct {
	capacity int
	delay    time.Duration
	lerps    map[ecscomponent.ID]Lerp
	buffers  map[handle.Handle]map[ecscomponent.ID][]snapshot
}

func newInterpolationBuffers(capacity int, delay time.Duration) *interpolationBuffers {
	if capacity <= 0 {
		capacity = 32
	}
	return &interpolationBuffers{
		capacity: capacity,
		delay:    delay,
		lerps:    make(map[ecscomponent.ID]Lerp),
		buffers:  make(map[handle.Handle]map[ecscomponent.ID][]snapshot),
	}
}

// registerLerp binds a Lerp function for typ. Interpolate-tagged components
// without one are still buffered; sample then returns the later snapshot of
// the bracketing pair without blending.
func (b *interpolationBuffers) registerLerp(typ ecscomponent.ID, fn Lerp) {
	b.lerps[typ] = fn
}

// push appends a freshly-received snapshot for (entity, typ) at localTick,
// evicting the oldest entry once the ring exceeds capacity.
func (b *interpolationBuffers) push(entity handle.Handle, typ ecscomponent.ID, localTick uint64, value interface{}) {
	byType, ok := b.buffers[entity]
	if !ok {
		byType = make(map[ecscomponent.ID][]snapshot)
		b.buffers[entity] = byType
	}
	ring := byType[typ]
	ring = append(ring, snapshot{tick: localTick, value: value})
	if len(ring) > b.capacity {
		ring = ring[len(ring)-b.capacity:]
	}
	byType[typ] = ring
}

// sample resolves (entity, typ)'s interpolated value as of renderTick, which
// trails the most recent receipt by InterpolationDelay converted into
// ticks. Returns false if fewer than two snapshots are buffered (nothing to
// bracket yet — callers fall back to the entity's live component value).
func (b *interpolationBuffers) sample(entity handle.Handle, typ ecscomponent.ID, renderTick uint64) (interface{}, bool) {
	byType, ok := b.buffers[entity]
	if !ok {
		return nil, false
	}
	ring := byType[typ]
	if len(ring) < 2 {
		return nil, false
	}

	// Find the bracketing pair [i, i+1] such that ring[i].tick <= renderTick
	// <= ring[i+1].tick; if renderTick is past every snapshot, hold the
	// latest rather than extrapolate.
	if renderTick >= ring[len(ring)-1].tick {
		return ring[len(ring)-1].value, true
	}
	if renderTick <= ring[0].tick {
		return ring[0].value, true
	}
	for i := 0; i < len(ring)-1; i++ {
		lo, hi := ring[i], ring[i+1]
		if renderTick >= lo.tick && renderTick <= hi.tick {
			span := hi.tick - lo.tick
			if span == 0 {
				return hi.value, true
			}
			t := float64(renderTick-lo.tick) / float64(span)
			if fn, ok := b.lerps[typ]; ok {
				return fn(lo.value, hi.value, t), true
			}
			return hi.value, true
		}
	}
	return ring[len(ring)-1].value, true
}

// forget drops every buffered snapshot for entity, called on despawn.
func (b *interpolationBuffers) forget(entity handle.Handle) {
	delete(b.buffers, entity)
}

// delayTicks converts the delay configured on b into a tick offset given a
// fixed tick rate, used by sample's caller to compute the trailing tick to
// query.
func (b *interpolationBuffers) delayTicks(tickRate float64) uint64 {
	if tickRate <= 0 {
		tickRate = 20
	}
	return uint64(b.delay.Seconds() * tickRate)
}
