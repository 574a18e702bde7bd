package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/fractalforge/ecsruntime/infrastructure/errors"
	"github.com/fractalforge/ecsruntime/infrastructure/lifecycle"
	"github.com/fractalforge/ecsruntime/infrastructure/logging"
	"github.com/fractalforge/ecsruntime/infrastructure/metrics"
	"github.com/fractalforge/ecsruntime/internal/command"
	"github.com/fractalforge/ecsruntime/pkg/ecsquery"
)

// TickContext is handed to every running system's SystemFunc for the
// duration of one batch dispatch. Producer is a stable per-goroutine token
// so a system's own enqueued commands preserve FIFO order against each
// other.
type TickContext struct {
	Context  context.Context
	Queue    *command.Queue
	Producer int
	Tick     uint64
}

// Enqueue buffers cmd under closureType, tagged with this TickContext's
// producer token.
func (tc *TickContext) Enqueue(closureType string, cmd command.Cmd) error {
	return tc.Queue.Enqueue(tc.Producer, closureType, cmd)
}

// Pipeline drives the phase DAG: for each tick it walks phases in
// topological order, dispatches each phase's due systems (serializing
// conflicting writers, running disjoint multi_threaded systems
// concurrently), and drains the command queue between phases.
type Pipeline struct {
	Graph    *PhaseGraph
	Systems  *Registry
	Queries  *ecsquery.Cache
	Queue    *command.Queue
	Pool     *WorkerPool
	Profiler *Profiler
	Shutdown *lifecycle.TickGuard

	metrics *metrics.Metrics
	logger  *logging.Logger

	tick        atomic.Uint64
	producerSeq atomic.Int64
}

// NewPipeline wires a Pipeline from its component parts.
func NewPipeline(graph *PhaseGraph, systems *Registry, queries *ecsquery.Cache, queue *command.Queue, pool *WorkerPool, profiler *Profiler, m *metrics.Metrics, logger *logging.Logger) *Pipeline {
	return &Pipeline{
		Graph:    graph,
		Systems:  systems,
		Queries:  queries,
		Queue:    queue,
		Pool:     pool,
		Profiler: profiler,
		Shutdown: lifecycle.NewTickGuard(),
		metrics:  m,
		logger:   logger,
	}
}

func (p *Pipeline) nextProducer() int {
	return int(p.producerSeq.Add(1))
}

// CurrentTick returns the number of the most recently started tick; Progress
// increments it before dispatching any phase.
func (p *Pipeline) CurrentTick() uint64 {
	return p.tick.Load()
}

// Progress runs exactly one tick: computes the phase topo order, dispatches
// every phase's due systems, and drains the command queue after each phase.
// Returns an error only for a fatal scheduler violation (a phase cycle) or
// when called after shutdown has begun; per-system panics are caught and
// logged, never returned.
func (p *Pipeline) Progress(ctx context.Context, dt time.Duration) error {
	if !p.Shutdown.BeginTick() {
		return errors.InternalInvariant("progress called after shutdown")
	}
	defer p.Shutdown.EndTick()

	order, err := p.Graph.TopoOrder()
	if err != nil {
		return err
	}

	tick := p.tick.Add(1)
	ctx = logging.WithTick(ctx, tick)

	tickStart := time.Now()
	for _, phase := range order {
		p.Shutdown.EnterPhase(phase)
		p.runPhase(ctx, phase, dt, tick)
		p.Queue.Drain()
		p.Shutdown.PhaseDrained()
	}
	if p.metrics != nil {
		p.metrics.TickDuration.Observe(time.Since(tickStart).Seconds())
		p.metrics.CommandQueueLen.Set(float64(p.Queue.Len()))
	}
	return nil
}

func (p *Pipeline) runPhase(ctx context.Context, phase string, dt time.Duration, tick uint64) {
	ctx = logging.WithPhase(ctx, phase)
	systems := p.Systems.SystemsInPhase(phase)
	if len(systems) == 0 {
		return
	}

	due := make([]*System, 0, len(systems))
	for _, s := range systems {
		if s.disabled {
			continue
		}
		if s.Interval > 0 {
			s.accumulated += dt
			if s.accumulated < s.Interval {
				continue
			}
			s.accumulated -= s.Interval
		}
		due = append(due, s)
	}

	var batch []*System
	flush := func() {
		if len(batch) == 0 {
			return
		}
		p.dispatchGroup(ctx, tick, batch)
		batch = nil
	}

	for _, s := range due {
		if !s.MultiThreaded {
			flush()
			p.dispatchGroup(ctx, tick, []*System{s})
			continue
		}
		conflictsWithBatch := false
		for _, other := range batch {
			if conflicts(s, other) {
				conflictsWithBatch = true
				break
			}
		}
		if conflictsWithBatch {
			flush()
		}
		batch = append(batch, s)
	}
	flush()
}

func (p *Pipeline) dispatchGroup(ctx context.Context, tick uint64, group []*System) {
	// A lone system runs on the calling goroutine, so every pool slot stays
	// free for work it dispatches on the pool itself (tile rasterize).
	if len(group) == 1 {
		p.runSystem(ctx, tick, group[0])
		return
	}
	fns := make([]func(), 0, len(group))
	for _, s := range group {
		s := s
		fns = append(fns, func() { p.runSystem(ctx, tick, s) })
	}
	p.Pool.RunAll(ctx, fns)
}

func (p *Pipeline) runSystem(ctx context.Context, tick uint64, s *System) {
	tc := &TickContext{Context: ctx, Queue: p.Queue, Producer: p.nextProducer(), Tick: tick}

	defer func() {
		if r := recover(); r != nil {
			s.disabled = true
			if p.Profiler != nil {
				p.Profiler.SetPaused(s.Name, true)
			}
			if p.metrics != nil {
				p.metrics.RecordSystemPanic(s.Phase, s.Name)
			}
			if p.logger != nil {
				p.logger.LogSystemPanic(ctx, s.Name, r)
			}
		}
	}()

	q := p.Queries.Build(s.Filter)
	batches := q.Execute(0)

	start := time.Now()
	entityCount := 0
	for _, b := range batches {
		entityCount += len(b.Entities)
		s.Callback(tc, b)
	}
	elapsed := time.Since(start)

	if p.Profiler != nil {
		p.Profiler.Record(s.Name, elapsed, entityCount)
	}
	if p.metrics != nil {
		p.metrics.RecordSystemRun(s.Phase, s.Name, "ok", elapsed)
	}
}
