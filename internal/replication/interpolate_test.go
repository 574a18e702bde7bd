package replication

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fractalforge/ecsruntime/pkg/ecscomponent"
	"github.com/fractalforge/ecsruntime/pkg/handle"
)

func TestSampleRequiresTwoSnapshots(t *testing.T) {
	b := newInterpolationBuffers(8, 100*time.Millisecond)
	e := handle.Handle(1)
	typ := ecscomponent.ID(5)

	_, ok := b.sample(e, typ, 0)
	assert.False(t, ok)

	b.push(e, typ, 10, 1.0)
	_, ok = b.sample(e, typ, 10)
	assert.False(t, ok)
}

func TestSampleLerpsBetweenBracketingSnapshots(t *testing.T) {
	b := newInterpolationBuffers(8, 100*time.Millisecond)
	e := handle.Handle(1)
	typ := ecscomponent.ID(5)
	b.registerLerp(typ, func(a, c interface{}, t float64) interface{} {
		return a.(float64) + (c.(float64)-a.(float64))*t
	})

	b.push(e, typ, 10, 0.0)
	b.push(e, typ, 20, 10.0)

	v, ok := b.sample(e, typ, 15)
	require.True(t, ok)
	assert.InDelta(t, 5.0, v.(float64), 1e-9)
}

func TestSampleHoldsLatestPastNewestSnapshot(t *testing.T) {
	b := newInterpolationBuffers(8, 100*time.Millisecond)
	e := handle.Handle(1)
	typ := ecscomponent.ID(5)

	b.push(e, typ, 10, "a")
	b.push(e, typ, 20, "b")

	v, ok := b.sample(e, typ, 99)
	require.True(t, ok)
	assert.Equal(t, "b", v)
}

func TestRingEvictsOldestBeyondCapacity(t *testing.T) {
	b := newInterpolationBuffers(4, 100*time.Millisecond)
	e := handle.Handle(1)
	typ := ecscomponent.ID(5)

	for tick := uint64(1); tick <= 10; tick++ {
		b.push(e, typ, tick, tick)
	}
	ring := b.buffers[e][typ]
	require.Len(t, ring, 4)
	assert.EqualValues(t, 7, ring[0].tick)
}

func TestDelayTicksConvertsDelayAtTickRate(t *testing.T) {
	b := newInterpolationBuffers(8, 100*time.Millisecond)
	assert.EqualValues(t, 2, b.delayTicks(20))
	// A zero rate falls back to the default 20Hz.
	assert.EqualValues(t, 2, b.delayTicks(0))
}

func TestForgetDropsEntityBuffers(t *testing.T) {
	b := newInterpolationBuffers(8, 100*time.Millisecond)
	e := handle.Handle(1)
	b.push(e, 5, 1, "x")
	b.forget(e)
	_, ok := b.buffers[e]
	assert.False(t, ok)
}
