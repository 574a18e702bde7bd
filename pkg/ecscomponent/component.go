// Package ecscomponent implements the per-world, per-type dense component
// store: registration of component types, attach/detach/read/write against
// entity handles, and the change-counters the query engine needs to answer
// detect_changes without scanning entities.
package ecscomponent

import (
	"sort"
	"sync"

	"golang.org/x/crypto/blake2b"

	"github.com/fractalforge/ecsruntime/infrastructure/errors"
	"github.com/fractalforge/ecsruntime/pkg/handle"
)

// ID identifies a registered component type. Derived by hashing the type's
// stable name with blake2b rather than an incrementing counter, so two
// independent processes (a headless server and a debugger client) that
// register the same component names agree on ID without a handshake — the
// replication wire protocol relies on this to identify component blobs
// without shipping a type registry over the network.
type ID uint64

// ComponentID derives the wire-stable ID for a component's registered name.
func ComponentID(name string) ID {
	sum := blake2b.Sum512([]byte(name))
	var id uint64
	for i := 0; i < 8; i++ {
		id = id<<8 | uint64(sum[i])
	}
	return ID(id)
}

// SerializeFn/DeserializeFn convert a component's Go value to/from its wire
// representation. nil for types that never cross the replication boundary.
type SerializeFn func(value interface{}) ([]byte, error)
type DeserializeFn func(data []byte) (interface{}, error)

// TypeInfo is registered once per process for each component type.
type TypeInfo struct {
	ID          ID
	Name        string
	IsTag       bool
	Serialize   SerializeFn
	Deserialize DeserializeFn
}

// Registry is the process-wide set of known component types. A type must be
// registered here before any World can attach an instance of it.
type Registry struct {
	byID   map[ID]*TypeInfo
	byName map[string]*TypeInfo
}

// NewRegistry creates an empty component type Registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[ID]*TypeInfo),
		byName: make(map[string]*TypeInfo),
	}
}

// Register adds a component type, computing its wire-stable ID from name.
// Registering the same name twice overwrites the prior TypeInfo (reloading a
// type definition is expected during development).
func (r *Registry) Register(info TypeInfo) *TypeInfo {
	info.ID = ComponentID(info.Name)
	stored := info
	r.byID[stored.ID] = &stored
	r.byName[stored.Name] = &stored
	return &stored
}

// Lookup resolves a registered type by its stable name.
func (r *Registry) Lookup(name string) (*TypeInfo, bool) {
	info, ok := r.byName[name]
	return info, ok
}

// LookupByID resolves a registered type by its wire ID.
func (r *Registry) LookupByID(id ID) (*TypeInfo, bool) {
	info, ok := r.byID[id]
	return info, ok
}

// key identifies one component slot: either a plain (entity, type) pair, or
// — for pair components such as ChildOf — a (First=entity, Second=target,
// type) triple. Plain components carry Second == 0.
type key struct {
	entity handle.Handle
	typ    ID
	second handle.Handle
}

type column struct {
	// mu guards values/changeCounter: systems the scheduler runs side by
	// side and goroutines outside the pipeline (replication, the debugger)
	// can reach the same column at once, and a Go map does not tolerate
	// unsynchronized concurrent access.
	mu sync.RWMutex
	// values holds one entry per live (entity[, second]) combination. Tag
	// components never populate values for their key — has() and the
	// bookkeeping below work identically either way.
	values map[key]interface{}
	// changeCounter is bumped on every attach/write into this column,
	// independent of which entity it affects — detect_changes for query Q
	// compares the counter against Q's last-seen value; this store treats
	// the whole column as one chunk.
	changeCounter uint64
}

// Store is a World's dense, type-indexed component storage.
type Store struct {
	registry *Registry
	// columnsMu guards the columns map itself (inserting a new column on
	// first use); each column's own mu separately guards its values, so two
	// systems touching different columns never contend on this lock.
	columnsMu sync.RWMutex
	columns   map[ID]*column
	// live is consulted by Attach/AttachPair/Read/Write to report a
	// dead-entity error instead of silently returning garbage for a freed
	// handle; Has and HasPair do not consult it.
	live func(handle.Handle) bool
}

// NewStore creates an empty Store bound to a component type Registry and an
// entity liveness predicate (normally Registry.IsLive on the owning World's
// handle.Registry).
func NewStore(registry *Registry, live func(handle.Handle) bool) *Store {
	return &Store{
		registry: registry,
		columns:  make(map[ID]*column),
		live:     live,
	}
}

func (s *Store) columnFor(typ ID) *column {
	s.columnsMu.Lock()
	defer s.columnsMu.Unlock()
	c, ok := s.columns[typ]
	if !ok {
		c = &column{values: make(map[key]interface{})}
		s.columns[typ] = c
	}
	return c
}

func (s *Store) existingColumn(typ ID) (*column, bool) {
	s.columnsMu.RLock()
	defer s.columnsMu.RUnlock()
	c, ok := s.columns[typ]
	return c, ok
}

// Attach inserts or overwrites entity's instance of typ with value. Fails if
// entity is not live.
func (s *Store) Attach(entity handle.Handle, typ ID, value interface{}) error {
	if !s.live(entity) {
		return errors.DeadEntity(uint64(entity))
	}
	c := s.columnFor(typ)
	c.mu.Lock()
	c.values[key{entity: entity, typ: typ}] = value
	c.changeCounter++
	c.mu.Unlock()
	return nil
}

// AttachPair inserts or overwrites the pair component (entity, typ, second)
// — e.g. ChildOf(parent) is AttachPair(child, childOfID, parent, nil).
func (s *Store) AttachPair(entity handle.Handle, typ ID, second handle.Handle, value interface{}) error {
	if !s.live(entity) {
		return errors.DeadEntity(uint64(entity))
	}
	c := s.columnFor(typ)
	c.mu.Lock()
	c.values[key{entity: entity, typ: typ, second: second}] = value
	c.changeCounter++
	c.mu.Unlock()
	return nil
}

// Detach removes entity's instance of typ. Idempotent.
func (s *Store) Detach(entity handle.Handle, typ ID) {
	c, ok := s.existingColumn(typ)
	if !ok {
		return
	}
	c.mu.Lock()
	delete(c.values, key{entity: entity, typ: typ})
	c.mu.Unlock()
}

// DetachPair removes the pair component (entity, typ, second). Idempotent.
func (s *Store) DetachPair(entity handle.Handle, typ ID, second handle.Handle) {
	c, ok := s.existingColumn(typ)
	if !ok {
		return
	}
	c.mu.Lock()
	delete(c.values, key{entity: entity, typ: typ, second: second})
	c.mu.Unlock()
}

// Has reports whether entity currently carries an instance of typ.
func (s *Store) Has(entity handle.Handle, typ ID) bool {
	c, ok := s.existingColumn(typ)
	if !ok {
		return false
	}
	c.mu.RLock()
	_, ok = c.values[key{entity: entity, typ: typ}]
	c.mu.RUnlock()
	return ok
}

// HasPair reports whether the pair component (entity, typ, second) exists.
func (s *Store) HasPair(entity handle.Handle, typ ID, second handle.Handle) bool {
	c, ok := s.existingColumn(typ)
	if !ok {
		return false
	}
	c.mu.RLock()
	_, ok = c.values[key{entity: entity, typ: typ, second: second}]
	c.mu.RUnlock()
	return ok
}

// Read returns entity's instance of typ.
func (s *Store) Read(entity handle.Handle, typ ID) (interface{}, error) {
	if !s.live(entity) {
		return nil, errors.DeadEntity(uint64(entity))
	}
	c, ok := s.existingColumn(typ)
	if !ok {
		info, _ := s.registry.LookupByID(typ)
		return nil, errors.UnknownComponent(typeName(info, typ))
	}
	c.mu.RLock()
	value, ok := c.values[key{entity: entity, typ: typ}]
	c.mu.RUnlock()
	if !ok {
		return nil, errors.UnknownComponent(typeName(nil, typ)).WithDetails("entity", uint64(entity))
	}
	return value, nil
}

// Write overwrites entity's existing instance of typ and bumps the column's
// change counter. Fails if entity doesn't currently carry typ.
func (s *Store) Write(entity handle.Handle, typ ID, value interface{}) error {
	if !s.live(entity) {
		return errors.DeadEntity(uint64(entity))
	}
	c, ok := s.existingColumn(typ)
	if !ok {
		return errors.UnknownComponent(typeName(nil, typ))
	}
	k := key{entity: entity, typ: typ}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.values[k]; !ok {
		return errors.UnknownComponent(typeName(nil, typ)).WithDetails("entity", uint64(entity))
	}
	c.values[k] = value
	c.changeCounter++
	return nil
}

// ChangeCounter returns typ's column-wide monotonic change counter, used by
// the query engine's detect_changes filter.
func (s *Store) ChangeCounter(typ ID) uint64 {
	c, ok := s.existingColumn(typ)
	if !ok {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.changeCounter
}

// EntitiesWith returns every live entity currently carrying typ. Used by the
// query engine to build iteration batches; callers should not rely on
// ordering beyond what the query engine itself imposes.
func (s *Store) EntitiesWith(typ ID) []handle.Handle {
	c, ok := s.existingColumn(typ)
	if !ok {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]handle.Handle, 0, len(c.values))
	for k := range c.values {
		if k.second == 0 {
			out = append(out, k.entity)
		}
	}
	return out
}

// ComponentRef identifies one component instance attached to an entity: its
// type, and — for pair components — the relationship target (Second != 0).
type ComponentRef struct {
	Type   ID
	Second handle.Handle
}

// ComponentsOf lists every component instance entity currently carries,
// plain and pair alike, ordered by type ID then pair target for determinism.
// Used by the debugger's component inspection surface.
func (s *Store) ComponentsOf(entity handle.Handle) []ComponentRef {
	s.columnsMu.RLock()
	columns := make(map[ID]*column, len(s.columns))
	for id, c := range s.columns {
		columns[id] = c
	}
	s.columnsMu.RUnlock()

	var refs []ComponentRef
	for id, c := range columns {
		c.mu.RLock()
		for k := range c.values {
			if k.entity == entity {
				refs = append(refs, ComponentRef{Type: id, Second: k.second})
			}
		}
		c.mu.RUnlock()
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Type != refs[j].Type {
			return refs[i].Type < refs[j].Type
		}
		return refs[i].Second < refs[j].Second
	})
	return refs
}

// RemoveEntity drops every component instance owned by entity across all
// columns, called when an entity is destroyed.
func (s *Store) RemoveEntity(entity handle.Handle) {
	s.columnsMu.RLock()
	columns := make([]*column, 0, len(s.columns))
	for _, c := range s.columns {
		columns = append(columns, c)
	}
	s.columnsMu.RUnlock()

	for _, c := range columns {
		c.mu.Lock()
		for k := range c.values {
			if k.entity == entity {
				delete(c.values, k)
			}
		}
		c.mu.Unlock()
	}
}

func typeName(info *TypeInfo, id ID) string {
	if info != nil {
		return info.Name
	}
	return "<unknown>"
}
