package ecsworld

import (
	"github.com/fractalforge/ecsruntime/internal/scheduler"
	"github.com/fractalforge/ecsruntime/pkg/handle"
)

// CreateEntity allocates a fresh, live entity handle. Safe to call from any
// thread (the handle registry is lock-striped).
func (w *World) CreateEntity() (handle.Handle, error) {
	return w.Entities.Allocate()
}

// DestroyEntity frees entity immediately: its components are dropped from
// the store and its name mapping, if any, is cleared. Must run on the main
// thread; a worker-thread system must instead call DestroyEntityDeferred so
// the actual free happens during the next command drain.
func (w *World) DestroyEntity(entity handle.Handle) {
	w.Store.RemoveEntity(entity)
	if name, ok := w.names[entity]; ok {
		delete(w.names, entity)
		delete(w.byName, name)
	}
	w.Entities.Free(entity)
}

// DestroyEntityDeferred enqueues entity's destruction against tc's command
// queue, for use from within a running system.
func (w *World) DestroyEntityDeferred(tc *scheduler.TickContext, entity handle.Handle) error {
	return tc.Enqueue("destroy_entity", func() { w.DestroyEntity(entity) })
}

// SetName binds a human-readable name to entity, overwriting any prior name.
func (w *World) SetName(entity handle.Handle, name string) {
	if old, ok := w.names[entity]; ok {
		delete(w.byName, old)
	}
	w.names[entity] = name
	w.byName[name] = entity
}

// GetName returns entity's bound name, or "" if none.
func (w *World) GetName(entity handle.Handle) string {
	return w.names[entity]
}

// LookupByName resolves a named entity, for host glue that addresses
// entities by name rather than handle.
func (w *World) LookupByName(name string) (handle.Handle, bool) {
	h, ok := w.byName[name]
	return h, ok
}

// IsLive reports whether entity is currently allocated.
func (w *World) IsLive(entity handle.Handle) bool {
	return w.Entities.IsLive(entity)
}
