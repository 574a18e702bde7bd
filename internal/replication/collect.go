package replication

import (
	"sort"

	"github.com/fractalforge/ecsruntime/pkg/ecscomponent"
	"github.com/fractalforge/ecsruntime/pkg/ecsquery"
	"github.com/fractalforge/ecsruntime/pkg/ecsworld"
	"github.com/fractalforge/ecsruntime/pkg/handle"
)

// registry tracks every networked entity's bookkeeping, keyed by both its
// ECS handle and its wire-stable NetworkID, so Collect can walk live
// entities while Apply (on the receiving side) can resolve an incoming
// NetworkID back to a handle in O(1).
type registry struct {
	byHandle map[handle.Handle]*NetworkedState
	byID     map[NetworkID]handle.Handle
	nextID   NetworkID
	nextPeer PeerID
}

func newRegistry() *registry {
	return &registry{
		byHandle: make(map[handle.Handle]*NetworkedState),
		byID:     make(map[NetworkID]handle.Handle),
		nextID:   1,
		nextPeer: HostPeerID + 1,
	}
}

// networkEntity assigns a fresh NetworkID and registers e as networked,
// called only by the authoritative peer (the host).
func (r *registry) networkEntity(e handle.Handle, authority Authority, authorityPeer, ownerPeer PeerID) *NetworkedState {
	if st, ok := r.byHandle[e]; ok {
		return st
	}
	id := r.nextID
	r.nextID++
	st := newNetworkedState(id, authority, authorityPeer, ownerPeer)
	r.byHandle[e] = st
	r.byID[id] = e
	return st
}

// adoptEntity registers a NetworkID assigned by a remote authority (the
// client side of a Spawn) against e, the local entity the caller created
// for it.
func (r *registry) adoptEntity(id NetworkID, e handle.Handle, authority Authority, authorityPeer, ownerPeer PeerID) *NetworkedState {
	st := newNetworkedState(id, authority, authorityPeer, ownerPeer)
	r.byHandle[e] = st
	r.byID[id] = e
	return st
}

func (r *registry) lookupHandle(e handle.Handle) (*NetworkedState, bool) {
	st, ok := r.byHandle[e]
	return st, ok
}

func (r *registry) lookupID(id NetworkID) (handle.Handle, bool) {
	e, ok := r.byID[id]
	return e, ok
}

func (r *registry) forget(e handle.Handle) {
	if st, ok := r.byHandle[e]; ok {
		delete(r.byID, st.NetworkID)
		delete(r.byHandle, e)
	}
}

func (r *registry) nextPeerID() PeerID {
	id := r.nextPeer
	r.nextPeer++
	return id
}

// markDirty runs one DetectChanges query per replicated type against world
// and flags every networked entity the query returns. A column's change
// counter is coarse (the whole column, not one entity), so a query match
// marks every one of that column's current members dirty for that type —
// the same chunk granularity detect_changes already gives query consumers
// elsewhere in the engine.
func (w *ecsworldAdapter) markDirty(spec *Spec, cache *ecsquery.Cache) {
	for _, typ := range spec.Types() {
		q := cache.Build(ecsquery.Filter{Read: []ecscomponent.ID{typ}, DetectChanges: true})
		for _, batch := range q.Execute(0) {
			for _, e := range batch.Entities {
				if st, ok := w.networked.lookupHandle(e); ok {
					st.Dirty[typ] = true
				}
			}
		}
	}
}

// ecsworldAdapter adapts ecsworld.World plus a replication registry into the
// shape collect/serialize/batch need, without polluting World itself with
// replication-specific state.
type ecsworldAdapter struct {
	*ecsworld.World
	networked *registry
}

// collectDirty builds one EntityUpdate per dirty networked entity holding at
// least one replicated component whose Mode isn't ModeNone, serializing via
// each type's registered Serialize function, and clears the dirty flags it
// consumed. Components within one update are sorted by ascending Type, per
// the wire protocol's fixed ordering.
func collectDirty(w *ecsworldAdapter, spec *Spec) []EntityUpdate {
	var updates []EntityUpdate
	for e, st := range w.networked.byHandle {
		var blobs []ComponentBlob
		for typ, dirty := range st.Dirty {
			if !dirty {
				continue
			}
			tspec, ok := spec.Lookup(typ)
			if !ok || tspec.Mode == ModeNone {
				continue
			}
			info, ok := w.Types.LookupByID(typ)
			if !ok || info.Serialize == nil {
				continue
			}
			value, err := w.Store.Read(e, typ)
			if err != nil {
				continue
			}
			data, err := info.Serialize(value)
			if err != nil {
				continue
			}
			blobs = append(blobs, ComponentBlob{Type: typ, Data: data})
			delete(st.Dirty, typ)
		}
		if len(blobs) == 0 {
			continue
		}
		sort.Slice(blobs, func(i, j int) bool { return blobs[i].Type < blobs[j].Type })
		updates = append(updates, EntityUpdate{NetworkID: st.NetworkID, Components: blobs})
	}
	sort.Slice(updates, func(i, j int) bool { return updates[i].NetworkID < updates[j].NetworkID })
	return updates
}

// priorityOf returns an update's sort priority: the highest Priority across
// its constituent components.
func priorityOf(u EntityUpdate, spec *Spec) uint8 {
	var max uint8
	for _, c := range u.Components {
		if t, ok := spec.Lookup(c.Type); ok && t.Priority > max {
			max = t.Priority
		}
	}
	return max
}

// orderByPriority sorts updates by descending priority, breaking ties by
// ascending NetworkID for determinism.
func orderByPriority(updates []EntityUpdate, spec *Spec) {
	sort.SliceStable(updates, func(i, j int) bool {
		pi, pj := priorityOf(updates[i], spec), priorityOf(updates[j], spec)
		if pi != pj {
			return pi > pj
		}
		return updates[i].NetworkID < updates[j].NetworkID
	})
}
