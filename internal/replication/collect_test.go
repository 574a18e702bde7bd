package replication

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fractalforge/ecsruntime/infrastructure/config"
	"github.com/fractalforge/ecsruntime/internal/network"
	"github.com/fractalforge/ecsruntime/pkg/ecscomponent"
	"github.com/fractalforge/ecsruntime/pkg/ecsworld"
)

type position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func registerPosition(types *ecscomponent.Registry) ecscomponent.ID {
	return types.Register(ecscomponent.TypeInfo{
		Name:      "Position",
		Serialize: func(v interface{}) ([]byte, error) { return json.Marshal(v) },
		Deserialize: func(data []byte) (interface{}, error) {
			var p position
			err := json.Unmarshal(data, &p)
			return p, err
		},
	}).ID
}

func newReplWorld(t *testing.T, types *ecscomponent.Registry) *ecsworldAdapter {
	t.Helper()
	w := ecsworld.New("repl-test", types, config.Default(), nil, nil)
	return &ecsworldAdapter{World: w, networked: newRegistry()}
}

func TestCollectDirtySerializesChangedComponents(t *testing.T) {
	types := ecscomponent.NewRegistry()
	posID := registerPosition(types)
	w := newReplWorld(t, types)

	spec := NewSpec()
	spec.RegisterType(TypeSpec{Type: posID, Mode: ModeOnChange})

	e, err := w.CreateEntity()
	require.NoError(t, err)
	require.NoError(t, w.Store.Attach(e, posID, position{X: 1, Y: 2}))
	w.networked.networkEntity(e, AuthorityServer, HostPeerID, 0)

	w.markDirty(spec, w.Queries)
	updates := collectDirty(w, spec)
	require.Len(t, updates, 1)
	require.Len(t, updates[0].Components, 1)
	assert.Equal(t, posID, updates[0].Components[0].Type)

	// Dirty bits were consumed: nothing changed, nothing collected.
	updates = collectDirty(w, spec)
	assert.Empty(t, updates)

	// A write re-dirties the column.
	require.NoError(t, w.Store.Write(e, posID, position{X: 3, Y: 4}))
	w.markDirty(spec, w.Queries)
	updates = collectDirty(w, spec)
	require.Len(t, updates, 1)
}

func TestCollectSkipsModeNoneAndUnserializableTypes(t *testing.T) {
	types := ecscomponent.NewRegistry()
	posID := registerPosition(types)
	silentID := types.Register(ecscomponent.TypeInfo{Name: "Silent"}).ID // no serializer
	w := newReplWorld(t, types)

	spec := NewSpec()
	spec.RegisterType(TypeSpec{Type: posID, Mode: ModeNone})
	spec.RegisterType(TypeSpec{Type: silentID, Mode: ModeOnChange})

	e, err := w.CreateEntity()
	require.NoError(t, err)
	require.NoError(t, w.Store.Attach(e, posID, position{X: 1}))
	require.NoError(t, w.Store.Attach(e, silentID, 42))
	w.networked.networkEntity(e, AuthorityServer, HostPeerID, 0)

	w.markDirty(spec, w.Queries)
	assert.Empty(t, collectDirty(w, spec))
}

func TestOrderByPriorityDescThenNetworkIDAsc(t *testing.T) {
	types := ecscomponent.NewRegistry()
	lowID := types.Register(ecscomponent.TypeInfo{Name: "Low"}).ID
	highID := types.Register(ecscomponent.TypeInfo{Name: "High"}).ID

	spec := NewSpec()
	spec.RegisterType(TypeSpec{Type: lowID, Mode: ModeOnChange, Priority: 1})
	spec.RegisterType(TypeSpec{Type: highID, Mode: ModeOnChange, Priority: 200})

	updates := []EntityUpdate{
		{NetworkID: 2, Components: []ComponentBlob{{Type: lowID}}},
		{NetworkID: 3, Components: []ComponentBlob{{Type: highID}}},
		{NetworkID: 1, Components: []ComponentBlob{{Type: lowID}}},
	}
	orderByPriority(updates, spec)

	assert.Equal(t, NetworkID(3), updates[0].NetworkID)
	assert.Equal(t, NetworkID(1), updates[1].NetworkID)
	assert.Equal(t, NetworkID(2), updates[2].NetworkID)
}

func TestSplitByModeRoutesReliableAndUnreliable(t *testing.T) {
	types := ecscomponent.NewRegistry()
	relID := types.Register(ecscomponent.TypeInfo{Name: "Rel"}).ID
	contID := types.Register(ecscomponent.TypeInfo{Name: "Cont"}).ID

	spec := NewSpec()
	spec.RegisterType(TypeSpec{Type: relID, Mode: ModeReliable})
	spec.RegisterType(TypeSpec{Type: contID, Mode: ModeContinuous})

	updates := []EntityUpdate{
		{NetworkID: 1, Components: []ComponentBlob{{Type: relID}, {Type: contID}}},
	}
	reliable, unreliable := splitByMode(updates, spec)

	require.Len(t, reliable, 1)
	require.Len(t, unreliable, 1)
	assert.Equal(t, relID, reliable[0].Components[0].Type)
	assert.Equal(t, contID, unreliable[0].Components[0].Type)
}

func TestPackBatchesRespectsMTU(t *testing.T) {
	payload := make([]byte, 400)
	updates := []EntityUpdate{
		{NetworkID: 1, Components: []ComponentBlob{{Type: 1, Data: payload}}},
		{NetworkID: 2, Components: []ComponentBlob{{Type: 1, Data: payload}}},
		{NetworkID: 3, Components: []ComponentBlob{{Type: 1, Data: payload}}},
	}
	batches, err := packBatches(updates, network.ChannelUnreliable, 1200)
	require.NoError(t, err)
	assert.Greater(t, len(batches), 1, "three ~600-byte updates cannot share one 1200-byte batch")

	total := 0
	for _, b := range batches {
		packets, err := decodeBatch(b)
		require.NoError(t, err)
		total += len(packets)
	}
	assert.Equal(t, 3, total)
}
