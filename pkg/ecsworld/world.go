// Package ecsworld assembles the handle registry, component store, query
// cache, system registry, and pipeline into one World. A process normally
// shares one ecscomponent.Registry across every World it creates (component
// types are registered once per process), but each World gets its own
// entities, store, queries, systems, and pipeline.
package ecsworld

import (
	"context"
	"time"

	"github.com/fractalforge/ecsruntime/infrastructure/config"
	"github.com/fractalforge/ecsruntime/infrastructure/logging"
	"github.com/fractalforge/ecsruntime/infrastructure/metrics"
	"github.com/fractalforge/ecsruntime/internal/command"
	"github.com/fractalforge/ecsruntime/internal/scheduler"
	"github.com/fractalforge/ecsruntime/pkg/ecscomponent"
	"github.com/fractalforge/ecsruntime/pkg/ecsquery"
	"github.com/fractalforge/ecsruntime/pkg/handle"
)

// Singletons holds the per-world globals: a scenario/space/navigation-map
// backend triple, a fallback environment, the main camera (a weak entity
// handle — the camera entity may be destroyed without the World tearing
// itself down), and the window size a culling/frustum pass projects
// against.
type Singletons struct {
	Scenario           uint64 // backend RID, opaque to the core
	Space              uint64 // SpaceBackend RID
	NavigationMap      uint64 // NavigationBackend RID
	FallbackEnvironment uint64

	MainCamera handle.Handle // weak: not kept alive by the World
	WindowW    int
	WindowH    int
}

// World owns one self-contained ECS universe: entities, components,
// queries, systems, and the phase pipeline that drives them.
type World struct {
	ID string

	Entities  *handle.Registry
	Types     *ecscomponent.Registry
	Store     *ecscomponent.Store
	Queries   *ecsquery.Cache
	Phases    *scheduler.PhaseGraph
	Systems   *scheduler.Registry
	Queue     *command.Queue
	Pool      *scheduler.WorkerPool
	Profiler  *scheduler.Profiler
	Pipeline  *scheduler.Pipeline

	Config  config.EngineConfig
	Metrics *metrics.Metrics
	Logger  *logging.Logger

	Singletons Singletons
	Frame      FrameCounter

	names    map[handle.Handle]string
	byName   map[string]handle.Handle
	registeredQueries *queryTable
}

// FrameCounter is a world-scoped monotonic tick counter, consulted by the
// multimesh batched-update system to decide which slice of instances
// flushes this tick.
type FrameCounter struct {
	Tick uint64
}

// New creates an empty World sharing componentTypes with any sibling
// Worlds in the same process. Worlds never assume singularity; a host may
// run several side by side.
func New(id string, componentTypes *ecscomponent.Registry, cfg config.EngineConfig, m *metrics.Metrics, logger *logging.Logger) *World {
	entities := handle.NewRegistry()
	store := ecscomponent.NewStore(componentTypes, entities.IsLive)
	queries := ecsquery.NewCache(store)
	phases := scheduler.NewPhaseGraph()
	systems := scheduler.NewRegistry()
	queue := command.NewQueue(cfg.CommandPoolCapacity, m, logger)
	pool := scheduler.NewWorkerPool(scheduler.DefaultMaxThreads(cfg.MaxThreads))
	profiler := scheduler.NewProfiler()
	pipeline := scheduler.NewPipeline(phases, systems, queries, queue, pool, profiler, m, logger)

	w := &World{
		ID:       id,
		Entities: entities,
		Types:    componentTypes,
		Store:    store,
		Queries:  queries,
		Phases:   phases,
		Systems:  systems,
		Queue:    queue,
		Pool:     pool,
		Profiler: profiler,
		Pipeline: pipeline,
		Config:   cfg,
		Metrics:  m,
		Logger:   logger,
		names:    make(map[handle.Handle]string),
		byName:   make(map[string]handle.Handle),
	}
	w.registeredQueries = newQueryTable()
	return w
}

// RegisterSystem adds sys to the World's phase pipeline. A duplicate name or
// a system registered against an unknown phase fails fatally.
func (w *World) RegisterSystem(sys scheduler.System) error {
	if err := w.Systems.Register(w.Phases, sys); err != nil {
		return err
	}
	return nil
}

// RegisterPhase adds a custom phase depending on dependsOn.
func (w *World) RegisterPhase(name, dependsOn string) error {
	return w.Phases.RegisterPhase(name, dependsOn)
}

// Progress runs exactly one tick of the pipeline and advances the World's
// frame counter. Returns an error only for a fatal scheduler violation or a
// call after Destroy has begun pipeline shutdown.
func (w *World) Progress(ctx context.Context, dt time.Duration) error {
	if err := w.Pipeline.Progress(ctx, dt); err != nil {
		return err
	}
	w.Frame.Tick++
	if w.Metrics != nil {
		w.Metrics.CommandQueueLen.Set(float64(w.Queue.Len()))
	}
	return nil
}

// Destroy tears the World down: initiates and waits for pipeline shutdown so
// no in-flight system dispatch outlives the call.
func (w *World) Destroy(timeout time.Duration) error {
	return w.Pipeline.Shutdown.Close(timeout)
}

// InvalidateQueries drops every cached query; a newly registered component
// type invalidates cached queries.
func (w *World) InvalidateQueries() {
	w.Queries.Invalidate()
}
