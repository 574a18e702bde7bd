package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloseWaitsForInFlightTick(t *testing.T) {
	g := NewTickGuard()
	require.True(t, g.BeginTick())

	done := make(chan error, 1)
	go func() { done <- g.Close(time.Second) }()

	// Close must not return while the tick is still running.
	select {
	case <-done:
		t.Fatal("Close returned before the tick ended")
	case <-time.After(20 * time.Millisecond):
	}

	g.EndTick()
	require.NoError(t, <-done)
}

func TestBeginTickRefusedAfterClose(t *testing.T) {
	g := NewTickGuard()
	require.NoError(t, g.Close(time.Second))
	assert.True(t, g.Closing())
	assert.False(t, g.BeginTick())
}

func TestCloseTimeoutReportsStuckPhase(t *testing.T) {
	g := NewTickGuard()
	require.True(t, g.BeginTick())
	g.EnterPhase("OnUpdate")

	err := g.Close(30 * time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "teardown timeout")

	g.EndTick()
}

func TestProgressTracksPhaseAndDrain(t *testing.T) {
	g := NewTickGuard()
	require.True(t, g.BeginTick())

	g.EnterPhase("OnLoad")
	phase, drained := g.Progress()
	assert.Equal(t, "OnLoad", phase)
	assert.False(t, drained)

	g.PhaseDrained()
	_, drained = g.Progress()
	assert.True(t, drained)

	// Entering the next phase resets the drain flag.
	g.EnterPhase("PostLoad")
	phase, drained = g.Progress()
	assert.Equal(t, "PostLoad", phase)
	assert.False(t, drained)

	g.EndTick()
}
