package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigMatchesReplicationTickRate(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, float64(20), cfg.PacketsPerSecond)
	assert.Equal(t, 40, cfg.Burst)
}

func TestPeerLimiterExhaustsBurst(t *testing.T) {
	pl := New(Config{PacketsPerSecond: 10, Burst: 2})
	assert.True(t, pl.Allow())
	assert.True(t, pl.Allow())
	assert.False(t, pl.Allow())
}

func TestPeerLimiterResetRestoresBurst(t *testing.T) {
	pl := New(Config{PacketsPerSecond: 10, Burst: 1})
	require.True(t, pl.Allow())
	require.False(t, pl.Allow())
	pl.Reset()
	assert.True(t, pl.Allow())
}

func TestPeerLimiterWaitRespectsContext(t *testing.T) {
	pl := New(Config{PacketsPerSecond: 1, Burst: 1})
	require.True(t, pl.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	err := pl.Wait(ctx)
	assert.Error(t, err)
}
