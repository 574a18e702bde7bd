package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fractalforge/ecsruntime/internal/command"
	"github.com/fractalforge/ecsruntime/pkg/ecscomponent"
	"github.com/fractalforge/ecsruntime/pkg/ecsquery"
	"github.com/fractalforge/ecsruntime/pkg/handle"
)

func newTestPipeline(t *testing.T) (*Pipeline, *ecscomponent.Store, *handle.Registry) {
	t.Helper()
	hr := handle.NewRegistry()
	creg := ecscomponent.NewRegistry()
	store := ecscomponent.NewStore(creg, hr.IsLive)
	graph := NewPhaseGraph()
	systems := NewRegistry()
	queries := ecsquery.NewCache(store)
	queue := command.NewQueue(1024, nil, nil)
	pool := NewWorkerPool(4)
	profiler := NewProfiler()

	return NewPipeline(graph, systems, queries, queue, pool, profiler, nil, nil), store, hr
}

// Two phases, one system each: effects land in phase order.
func TestPipelineOrdering(t *testing.T) {
	pipe, store, hr := newTestPipeline(t)

	e, _ := hr.Allocate()
	tagID := ecscomponent.ComponentID("AlwaysTag")
	require.NoError(t, store.Attach(e, tagID, struct{}{}))

	var seq []int
	require.NoError(t, pipe.Systems.Register(pipe.Graph, System{
		Name: "S_A", Phase: PhaseOnLoad,
		Filter:   ecsquery.Filter{WithTag: []ecscomponent.ID{tagID}},
		Callback: func(tc *TickContext, batch ecsquery.Batch) { seq = append(seq, 1) },
	}))
	require.NoError(t, pipe.Systems.Register(pipe.Graph, System{
		Name: "S_B", Phase: PhasePostLoad,
		Filter:   ecsquery.Filter{WithTag: []ecscomponent.ID{tagID}},
		Callback: func(tc *TickContext, batch ecsquery.Batch) { seq = append(seq, 2) },
	}))

	require.NoError(t, pipe.Progress(context.Background(), 16*time.Millisecond))
	assert.Equal(t, []int{1, 2}, seq)
}

// A command enqueued during OnUpdate is visible to a PostUpdate system
// within the same tick: the queue drains between phases.
func TestCommandQueueDrainBarrier(t *testing.T) {
	pipe, store, hr := newTestPipeline(t)
	healthID := ecscomponent.ComponentID("Health")
	tagID := ecscomponent.ComponentID("AlwaysTag")

	e, _ := hr.Allocate()
	require.NoError(t, store.Attach(e, tagID, struct{}{}))

	var recorded int
	require.NoError(t, pipe.Systems.Register(pipe.Graph, System{
		Name: "S_A", Phase: PhaseOnUpdate,
		Filter: ecsquery.Filter{WithTag: []ecscomponent.ID{tagID}},
		Callback: func(tc *TickContext, batch ecsquery.Batch) {
			require.NoError(t, tc.Enqueue("set_health", func() {
				_ = store.Attach(e, healthID, 10)
			}))
		},
	}))
	require.NoError(t, pipe.Systems.Register(pipe.Graph, System{
		Name: "S_B", Phase: PhasePostUpdate,
		Filter: ecsquery.Filter{WithTag: []ecscomponent.ID{tagID}},
		Callback: func(tc *TickContext, batch ecsquery.Batch) {
			if v, err := store.Read(e, healthID); err == nil {
				recorded = v.(int)
			}
		},
	}))

	require.NoError(t, pipe.Progress(context.Background(), 16*time.Millisecond))
	assert.Equal(t, 10, recorded)
	assert.True(t, pipe.Queue.IsEmpty())
}

func TestPhaseCycleIsFatal(t *testing.T) {
	graph := NewPhaseGraph()
	require.NoError(t, graph.RegisterPhase("Custom1", PhaseOnUpdate))
	// Force a cycle by wiring a built-in phase to depend on the custom one.
	graph.nodes[PhaseOnUpdate] = phaseNode{name: PhaseOnUpdate, dependsOn: "Custom1"}
	graph.order = nil

	_, err := graph.TopoOrder()
	require.Error(t, err)
}

func TestDuplicateSystemNameRejected(t *testing.T) {
	graph := NewPhaseGraph()
	reg := NewRegistry()
	sys := System{Name: "dup", Phase: PhaseOnUpdate, Callback: func(*TickContext, ecsquery.Batch) {}}
	require.NoError(t, reg.Register(graph, sys))
	err := reg.Register(graph, sys)
	require.Error(t, err)
}

func TestSystemPanicIsCaughtAndDisablesSystem(t *testing.T) {
	pipe, store, hr := newTestPipeline(t)
	tagID := ecscomponent.ComponentID("AlwaysTag")
	e, _ := hr.Allocate()
	require.NoError(t, store.Attach(e, tagID, struct{}{}))

	calls := 0
	require.NoError(t, pipe.Systems.Register(pipe.Graph, System{
		Name: "Flaky", Phase: PhaseOnUpdate,
		Filter: ecsquery.Filter{WithTag: []ecscomponent.ID{tagID}},
		Callback: func(tc *TickContext, batch ecsquery.Batch) {
			calls++
			panic("boom")
		},
	}))

	require.NoError(t, pipe.Progress(context.Background(), 0))
	require.NoError(t, pipe.Progress(context.Background(), 0))
	assert.Equal(t, 1, calls, "disabled system must not run again")
}

func TestIntervalThrottlesSystem(t *testing.T) {
	pipe, store, hr := newTestPipeline(t)
	tagID := ecscomponent.ComponentID("AlwaysTag")
	e, _ := hr.Allocate()
	require.NoError(t, store.Attach(e, tagID, struct{}{}))

	calls := 0
	require.NoError(t, pipe.Systems.Register(pipe.Graph, System{
		Name: "Throttled", Phase: PhaseOnUpdate, Interval: 32 * time.Millisecond,
		Filter:   ecsquery.Filter{WithTag: []ecscomponent.ID{tagID}},
		Callback: func(tc *TickContext, batch ecsquery.Batch) { calls++ },
	}))

	require.NoError(t, pipe.Progress(context.Background(), 16*time.Millisecond))
	assert.Equal(t, 0, calls)
	require.NoError(t, pipe.Progress(context.Background(), 16*time.Millisecond))
	assert.Equal(t, 1, calls)
}
