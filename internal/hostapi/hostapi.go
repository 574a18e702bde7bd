// Package hostapi is the host glue surface: a thin façade over
// pkg/ecsworld keyed by opaque WorldHandles, giving scene-graph conversion
// utilities (and the debugger) one stable entry point without pulling any
// host/editor code into the core.
package hostapi

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/fractalforge/ecsruntime/infrastructure/config"
	"github.com/fractalforge/ecsruntime/infrastructure/errors"
	"github.com/fractalforge/ecsruntime/infrastructure/logging"
	"github.com/fractalforge/ecsruntime/infrastructure/metrics"
	"github.com/fractalforge/ecsruntime/internal/scheduler"
	"github.com/fractalforge/ecsruntime/pkg/ecscomponent"
	"github.com/fractalforge/ecsruntime/pkg/ecsquery"
	"github.com/fractalforge/ecsruntime/pkg/ecsworld"
	"github.com/fractalforge/ecsruntime/pkg/handle"
)

// Runtime owns every World in the process plus the shared component type
// registry (types register once per process): a process-wide handle
// registry created explicitly by NewRuntime rather than a global server
// singleton, with worlds torn down one at a time by DestroyWorld — a host
// may create more than one Runtime, though embeddings normally want
// exactly one.
type Runtime struct {
	cfg     config.EngineConfig
	metrics *metrics.Metrics
	logger  *logging.Logger

	types *ecscomponent.Registry

	mu      sync.Mutex
	handles *handle.Registry
	worlds  map[handle.Handle]*ecsworld.World
	seq     int
}

// NewRuntime initializes an empty Runtime.
func NewRuntime(cfg config.EngineConfig, m *metrics.Metrics, logger *logging.Logger) *Runtime {
	return &Runtime{
		cfg:     cfg,
		metrics: m,
		logger:  logger,
		types:   ecscomponent.NewRegistry(),
		handles: handle.NewRegistry(),
		worlds:  make(map[handle.Handle]*ecsworld.World),
	}
}

// Types exposes the process-wide component type registry, for callers that
// register types directly rather than through RegisterComponentType.
func (r *Runtime) Types() *ecscomponent.Registry { return r.types }

// CreateWorld creates an empty World and returns its opaque handle.
func (r *Runtime) CreateWorld(name string) (handle.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wh, err := r.handles.Allocate()
	if err != nil {
		return handle.Nil, err
	}
	if name == "" {
		r.seq++
		name = "world-" + strconv.Itoa(r.seq)
	}
	r.worlds[wh] = ecsworld.New(name, r.types, r.cfg, r.metrics, r.logger)
	return wh, nil
}

// DestroyWorld tears a World down, waiting out in-flight dispatches.
func (r *Runtime) DestroyWorld(wh handle.Handle) error {
	r.mu.Lock()
	w, ok := r.worlds[wh]
	delete(r.worlds, wh)
	r.handles.Free(wh)
	r.mu.Unlock()
	if !ok {
		return errors.New(errors.CodeUnknownComponent, "unknown world handle")
	}
	return w.Destroy(5 * time.Second)
}

// World resolves a WorldHandle, for callers that need the full ecsworld
// surface (system registration closures, replication hosts).
func (r *Runtime) World(wh handle.Handle) (*ecsworld.World, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.worlds[wh]
	return w, ok
}

// WorldInfo is one row of the debugger's worlds response.
type WorldInfo struct {
	Handle      handle.Handle
	Name        string
	EntityCount int
}

// Worlds lists every live World, in no particular order.
func (r *Runtime) Worlds() []WorldInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]WorldInfo, 0, len(r.worlds))
	for wh, w := range r.worlds {
		out = append(out, WorldInfo{Handle: wh, Name: w.ID, EntityCount: w.Entities.Count()})
	}
	return out
}

// Progress runs one tick of wh's pipeline. Returns false on an unknown
// handle or a fatal scheduler violation; per-system failures never surface
// here (they are caught and logged inside the pipeline).
func (r *Runtime) Progress(ctx context.Context, wh handle.Handle, dt time.Duration) bool {
	w, ok := r.World(wh)
	if !ok {
		return false
	}
	ctx = logging.WithWorldID(ctx, w.ID)
	if err := w.Progress(ctx, dt); err != nil {
		if r.logger != nil {
			r.logger.WithFields(map[string]interface{}{"world": w.ID, "error": err.Error()}).Error("progress failed")
		}
		return false
	}
	return true
}

// CreateEntity allocates a fresh entity in wh.
func (r *Runtime) CreateEntity(wh handle.Handle) (handle.Handle, error) {
	w, ok := r.World(wh)
	if !ok {
		return handle.Nil, errors.New(errors.CodeUnknownComponent, "unknown world handle")
	}
	return w.CreateEntity()
}

// DestroyEntity frees entity in wh. Main thread only; systems defer
// destruction through the command queue instead.
func (r *Runtime) DestroyEntity(wh, entity handle.Handle) {
	if w, ok := r.World(wh); ok {
		w.DestroyEntity(entity)
	}
}

// SetName / GetName bind and resolve an entity's display name.
func (r *Runtime) SetName(wh, entity handle.Handle, name string) {
	if w, ok := r.World(wh); ok {
		w.SetName(entity, name)
	}
}

func (r *Runtime) GetName(wh, entity handle.Handle) string {
	w, ok := r.World(wh)
	if !ok {
		return ""
	}
	return w.GetName(entity)
}

// ComponentSpec is the register_component_type argument.
type ComponentSpec struct {
	Name        string
	IsTag       bool
	Serialize   ecscomponent.SerializeFn
	Deserialize ecscomponent.DeserializeFn
}

// RegisterComponentType registers a component type process-wide and
// invalidates every World's cached queries.
func (r *Runtime) RegisterComponentType(spec ComponentSpec) ecscomponent.ID {
	info := r.types.Register(ecscomponent.TypeInfo{
		Name:        spec.Name,
		IsTag:       spec.IsTag,
		Serialize:   spec.Serialize,
		Deserialize: spec.Deserialize,
	})
	r.mu.Lock()
	for _, w := range r.worlds {
		w.InvalidateQueries()
	}
	r.mu.Unlock()
	return info.ID
}

// Attach decodes bytes with the type's registered Deserialize function and
// attaches the result to entity. A tag type ignores bytes entirely.
func (r *Runtime) Attach(wh, entity handle.Handle, typeName string, data []byte) error {
	w, ok := r.World(wh)
	if !ok {
		return errors.New(errors.CodeUnknownComponent, "unknown world handle")
	}
	info, ok := r.types.Lookup(typeName)
	if !ok {
		return errors.UnknownComponent(typeName)
	}
	if info.IsTag {
		return w.Store.Attach(entity, info.ID, nil)
	}
	if info.Deserialize == nil {
		return errors.DeserializeFailed(typeName, errors.New(errors.CodeDeserializeFailed, "no deserializer registered"))
	}
	value, err := info.Deserialize(data)
	if err != nil {
		return errors.DeserializeFailed(typeName, err)
	}
	return w.Store.Attach(entity, info.ID, value)
}

// Detach removes entity's instance of the named type. Idempotent.
func (r *Runtime) Detach(wh, entity handle.Handle, typeName string) error {
	w, ok := r.World(wh)
	if !ok {
		return errors.New(errors.CodeUnknownComponent, "unknown world handle")
	}
	return w.Detach(entity, typeName)
}

// Has reports whether entity carries the named type.
func (r *Runtime) Has(wh, entity handle.Handle, typeName string) bool {
	w, ok := r.World(wh)
	if !ok {
		return false
	}
	return w.Has(entity, typeName)
}

// Get projects entity's component into a dictionary.
func (r *Runtime) Get(wh, entity handle.Handle, typeName string) (map[string]interface{}, error) {
	w, ok := r.World(wh)
	if !ok {
		return nil, errors.New(errors.CodeUnknownComponent, "unknown world handle")
	}
	return w.Get(entity, typeName)
}

// FilterSpec names component types by their registered stable names, the
// form a host builds filters in before they compile down to type IDs.
type FilterSpec struct {
	Read          []string
	Write         []string
	With          []string
	Without       []string
	DetectChanges bool
}

func (r *Runtime) compileFilter(spec FilterSpec) (ecsquery.Filter, error) {
	resolve := func(names []string) ([]ecscomponent.ID, error) {
		ids := make([]ecscomponent.ID, 0, len(names))
		for _, n := range names {
			info, ok := r.types.Lookup(n)
			if !ok {
				return nil, errors.UnknownComponent(n)
			}
			ids = append(ids, info.ID)
		}
		return ids, nil
	}
	var f ecsquery.Filter
	var err error
	if f.Read, err = resolve(spec.Read); err != nil {
		return f, err
	}
	if f.Write, err = resolve(spec.Write); err != nil {
		return f, err
	}
	if f.WithTag, err = resolve(spec.With); err != nil {
		return f, err
	}
	if f.WithoutTag, err = resolve(spec.Without); err != nil {
		return f, err
	}
	f.DetectChanges = spec.DetectChanges
	return f, nil
}

// CreateQuery compiles spec against wh and returns an opaque QueryHandle.
func (r *Runtime) CreateQuery(wh handle.Handle, spec FilterSpec) (handle.Handle, error) {
	w, ok := r.World(wh)
	if !ok {
		return handle.Nil, errors.New(errors.CodeUnknownComponent, "unknown world handle")
	}
	filter, err := r.compileFilter(spec)
	if err != nil {
		return handle.Nil, err
	}
	return w.CreateQuery(filter)
}

// QueryEntities pages through qh's current matches.
func (r *Runtime) QueryEntities(wh, qh handle.Handle, limit, offset int) ([]handle.Handle, error) {
	w, ok := r.World(wh)
	if !ok {
		return nil, errors.New(errors.CodeUnknownComponent, "unknown world handle")
	}
	return w.QueryEntities(qh, limit, offset)
}

// QueryCount returns qh's total match count.
func (r *Runtime) QueryCount(wh, qh handle.Handle) (int, error) {
	w, ok := r.World(wh)
	if !ok {
		return 0, errors.New(errors.CodeUnknownComponent, "unknown world handle")
	}
	return w.QueryCount(qh)
}

// FreeQuery releases a QueryHandle.
func (r *Runtime) FreeQuery(wh, qh handle.Handle) {
	if w, ok := r.World(wh); ok {
		w.FreeQuery(qh)
	}
}

// SystemSpec is the register_system argument.
type SystemSpec struct {
	Name          string
	Phase         string
	Interval      time.Duration
	MultiThreaded bool
	Filter        FilterSpec
	Callback      scheduler.SystemFunc
}

// RegisterSystem adds a system to wh's pipeline. Duplicate names and
// unknown phases fail fatally at registration.
func (r *Runtime) RegisterSystem(wh handle.Handle, spec SystemSpec) error {
	w, ok := r.World(wh)
	if !ok {
		return errors.New(errors.CodeUnknownComponent, "unknown world handle")
	}
	filter, err := r.compileFilter(spec.Filter)
	if err != nil {
		return err
	}
	return w.RegisterSystem(scheduler.System{
		Name:          spec.Name,
		Phase:         spec.Phase,
		Interval:      spec.Interval,
		MultiThreaded: spec.MultiThreaded,
		Filter:        filter,
		Callback:      spec.Callback,
	})
}

// RegisterPhase adds a custom phase to wh's pipeline, optionally depending
// on another phase name.
func (r *Runtime) RegisterPhase(wh handle.Handle, name, dependsOn string) error {
	w, ok := r.World(wh)
	if !ok {
		return errors.New(errors.CodeUnknownComponent, "unknown world handle")
	}
	return w.RegisterPhase(name, dependsOn)
}
