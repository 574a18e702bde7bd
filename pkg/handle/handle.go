// Package handle hands out and recycles opaque 64-bit handles for entities
// and backend resources (meshes, canvases, scenarios). A handle packs a
// 32-bit slot index and a 32-bit generation; a slot's generation increases
// every time it is freed, so a stale handle copy is detected in O(1) without
// ever needing to scan.
package handle

import (
	"sync"
	"sync/atomic"

	"github.com/fractalforge/ecsruntime/infrastructure/errors"
)

// stripes bounds the lock striping so concurrent Allocate/Free calls on
// different slots don't contend on a single mutex.
const stripes = 64

// Handle is an opaque stable identifier: index in the low 32 bits,
// generation in the high 32 bits.
type Handle uint64

// Nil is never returned by Allocate.
const Nil Handle = 0

func makeHandle(index, generation uint32) Handle {
	return Handle(uint64(generation)<<32 | uint64(index))
}

// Index extracts the slot index.
func (h Handle) Index() uint32 { return uint32(h) }

// Generation extracts the generation the handle was minted with.
func (h Handle) Generation() uint32 { return uint32(h >> 32) }

// slotState packs generation (high 32 bits) and liveness (bit 0 of the low
// word) into one atomic word so IsLive never takes a stripe lock. Slots are
// allocated once and never moved, so a *slotState pointer stays valid for
// the registry's lifetime even as the backing slice grows.
type slotState struct {
	word atomic.Uint64
}

func packState(generation uint32, live bool) uint64 {
	l := uint64(0)
	if live {
		l = 1
	}
	return uint64(generation)<<32 | l
}

func unpackState(word uint64) (generation uint32, live bool) {
	return uint32(word >> 32), word&1 == 1
}

type stripe struct {
	mu sync.Mutex
}

// Registry allocates and recycles Handles. IsLive takes only the growth
// lock's read side, so it is not wait-free: it waits while Allocate or Free
// hold that lock. Allocate/Free also take a lock striped by index modulo a
// fixed stripe count.
type Registry struct {
	stripes [stripes]stripe

	growMu   sync.RWMutex // guards slots/freeList/nextIndex growth only
	slots    []*slotState
	freeList []uint32
	nextIdx  uint32
}

// NewRegistry creates an empty Registry. Slot 0 is reserved so no allocated
// handle ever equals Nil.
func NewRegistry() *Registry {
	r := &Registry{}
	r.slots = append(r.slots, &slotState{})
	r.nextIdx = 1
	return r
}

func (r *Registry) stripeFor(index uint32) *stripe {
	return &r.stripes[index%stripes]
}

// Allocate returns a fresh live Handle. Fails only if the 32-bit index space
// is exhausted, which is a fatal internal-invariant condition.
func (r *Registry) Allocate() (Handle, error) {
	r.growMu.Lock()
	var index uint32
	var st *slotState
	if n := len(r.freeList); n > 0 {
		index = r.freeList[n-1]
		r.freeList = r.freeList[:n-1]
		st = r.slots[index]
	} else {
		if r.nextIdx == ^uint32(0) {
			r.growMu.Unlock()
			return Nil, errors.HandleSpaceFull()
		}
		index = r.nextIdx
		r.nextIdx++
		st = &slotState{}
		r.slots = append(r.slots, st)
	}
	r.growMu.Unlock()

	stripeLock := r.stripeFor(index)
	stripeLock.mu.Lock()
	defer stripeLock.mu.Unlock()

	generation, _ := unpackState(st.word.Load())
	st.word.Store(packState(generation, true))
	return makeHandle(index, generation), nil
}

// Free invalidates the slot backing h and bumps its generation. Safe to
// call with an already-stale or never-allocated handle (no-op).
func (r *Registry) Free(h Handle) {
	index := h.Index()

	r.growMu.Lock()
	if index >= uint32(len(r.slots)) {
		r.growMu.Unlock()
		return
	}
	st := r.slots[index]
	r.growMu.Unlock()

	stripeLock := r.stripeFor(index)
	stripeLock.mu.Lock()
	generation, live := unpackState(st.word.Load())
	if !live || generation != h.Generation() {
		stripeLock.mu.Unlock()
		return
	}
	st.word.Store(packState(generation+1, false))
	stripeLock.mu.Unlock()

	r.growMu.Lock()
	r.freeList = append(r.freeList, index)
	r.growMu.Unlock()
}

// IsLive reports whether h refers to a currently allocated slot. It looks the
// slot up under the growth lock's read side, then checks the slot's state
// with a single atomic load; it is not wait-free.
func (r *Registry) IsLive(h Handle) bool {
	index := h.Index()

	r.growMu.RLock()
	if index >= uint32(len(r.slots)) {
		r.growMu.RUnlock()
		return false
	}
	st := r.slots[index]
	r.growMu.RUnlock()

	generation, live := unpackState(st.word.Load())
	return live && generation == h.Generation()
}

// Live returns every currently live handle in ascending index order. For
// diagnostic surfaces (entity browsing); the snapshot is immediately stale
// under concurrent Allocate/Free.
func (r *Registry) Live() []Handle {
	r.growMu.RLock()
	slots := r.slots
	r.growMu.RUnlock()

	out := make([]Handle, 0, len(slots))
	for i, st := range slots {
		if generation, live := unpackState(st.word.Load()); live {
			out = append(out, makeHandle(uint32(i), generation))
		}
	}
	return out
}

// Count returns the number of currently live handles. For diagnostics only.
func (r *Registry) Count() int {
	r.growMu.RLock()
	slots := r.slots
	r.growMu.RUnlock()

	n := 0
	for _, st := range slots {
		if _, live := unpackState(st.word.Load()); live {
			n++
		}
	}
	return n
}
