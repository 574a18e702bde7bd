package replication

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fractalforge/ecsruntime/infrastructure/config"
	"github.com/fractalforge/ecsruntime/infrastructure/resilience"
	"github.com/fractalforge/ecsruntime/internal/network"
	"github.com/fractalforge/ecsruntime/pkg/ecscomponent"
	"github.com/fractalforge/ecsruntime/pkg/ecsworld"
)

func TestApplyInterpolationWritesDelayedValueIntoStore(t *testing.T) {
	types := ecscomponent.NewRegistry()
	posID := registerPosition(types)
	cfg := config.Default() // 100ms delay at 20Hz = 2 ticks

	spec := NewSpec()
	spec.RegisterType(TypeSpec{Type: posID, Mode: ModeContinuous, Interpolate: true})

	w := ecsworld.New("client", types, cfg, nil, nil)
	c := NewClient(w, spec, cfg, nil, nil, nil)
	c.RegisterLerp(TypeSpec{Type: posID}, func(a, b interface{}, t float64) interface{} {
		pa, pb := a.(position), b.(position)
		return position{X: pa.X + (pb.X-pa.X)*t, Y: pa.Y + (pb.Y-pa.Y)*t}
	})

	e, err := w.CreateEntity()
	require.NoError(t, err)
	c.world.networked.adoptEntity(1, e, AuthorityServer, HostPeerID, 0)

	c.interp.push(e, posID, 6, position{X: 0})
	c.interp.push(e, posID, 10, position{X: 4})
	c.mu.Lock()
	c.localTick = 10
	c.mu.Unlock()

	// renderTick 10 - 2 delay ticks = sample tick 8, halfway between the
	// snapshots at ticks 6 and 10.
	c.ApplyInterpolation()

	v, err := w.Store.Read(e, posID)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, v.(position).X, 1e-9)
}

func TestInterpolatedComponentsBypassDirectStoreWrites(t *testing.T) {
	types := ecscomponent.NewRegistry()
	posID := registerPosition(types)
	cfg := config.Default()

	spec := NewSpec()
	spec.RegisterType(TypeSpec{Type: posID, Mode: ModeContinuous, Interpolate: true})

	w := ecsworld.New("client", types, cfg, nil, nil)
	c := NewClient(w, spec, cfg, nil, nil, nil)

	e, err := w.CreateEntity()
	require.NoError(t, err)
	c.world.networked.adoptEntity(1, e, AuthorityServer, HostPeerID, 0)

	// An incoming update for an Interpolate-tagged type lands in the
	// snapshot ring, not the store.
	info, ok := types.LookupByID(posID)
	require.True(t, ok)
	blob, err := info.Serialize(position{X: 9})
	require.NoError(t, err)
	c.applyComponents(1, []ComponentBlob{{Type: posID, Data: blob}})

	assert.False(t, w.Store.Has(e, posID))
	assert.Len(t, c.interp.buffers[e][posID], 1)
}

func TestPendingSpawnEvictsAfterBufferTicks(t *testing.T) {
	types := ecscomponent.NewRegistry()
	posID := registerPosition(types)
	cfg := config.Default() // SpawnBufferTicks = 5

	spec := NewSpec()
	spec.RegisterType(TypeSpec{Type: posID, Mode: ModeOnChange})

	w := ecsworld.New("client", types, cfg, nil, nil)
	c := NewClient(w, spec, cfg, nil, nil, nil)

	c.applyUpdate(EntityUpdate{NetworkID: 42})
	require.Len(t, c.pendingSpawns, 1)

	c.mu.Lock()
	c.localTick = 10
	c.evictStalePendingSpawns()
	c.mu.Unlock()
	assert.Empty(t, c.pendingSpawns)
}

func TestPendingSpawnResolvesOnceEntityAdopts(t *testing.T) {
	types := ecscomponent.NewRegistry()
	posID := registerPosition(types)
	cfg := config.Default()

	spec := NewSpec()
	spec.RegisterType(TypeSpec{Type: posID, Mode: ModeOnChange})

	w := ecsworld.New("client", types, cfg, nil, nil)
	c := NewClient(w, spec, cfg, nil, nil, nil)

	info, ok := types.LookupByID(posID)
	require.True(t, ok)
	blob, err := info.Serialize(position{X: 5, Y: 6})
	require.NoError(t, err)
	c.applyUpdate(EntityUpdate{NetworkID: 7, Components: []ComponentBlob{{Type: posID, Data: blob}}})

	e, err := w.CreateEntity()
	require.NoError(t, err)
	c.world.networked.adoptEntity(7, e, AuthorityServer, HostPeerID, 0)

	c.mu.Lock()
	c.evictStalePendingSpawns()
	c.mu.Unlock()

	v, err := w.Store.Read(e, posID)
	require.NoError(t, err)
	assert.Equal(t, position{X: 5, Y: 6}, v.(position))
	assert.Empty(t, c.pendingSpawns)
}

func TestConnectWithRetryGivesUpAfterMaxAttempts(t *testing.T) {
	types := ecscomponent.NewRegistry()
	cfg := config.Default()
	w := ecsworld.New("client", types, cfg, nil, nil)
	c := NewClient(w, NewSpec(), cfg, nil, nil, nil)

	attempts := 0
	dial := func(ctx context.Context) (network.TransportPeer, error) {
		attempts++
		return nil, network.ErrClosed
	}
	redialer := resilience.NewRedialer(resilience.DialPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
	})
	err := c.ConnectWithRetry(context.Background(), dial, redialer)
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}
