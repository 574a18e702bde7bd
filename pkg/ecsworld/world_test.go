package ecsworld

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fractalforge/ecsruntime/infrastructure/config"
	"github.com/fractalforge/ecsruntime/pkg/ecscomponent"
	"github.com/fractalforge/ecsruntime/pkg/ecsquery"
)

type health struct {
	HP int `json:"hp"`
}

func newTestWorld(t *testing.T) *World {
	t.Helper()
	types := ecscomponent.NewRegistry()
	w := New("test-world", types, config.Default(), nil, nil)
	return w
}

func TestCreateDestroyEntityLifecycle(t *testing.T) {
	w := newTestWorld(t)
	e, err := w.CreateEntity()
	require.NoError(t, err)
	assert.True(t, w.IsLive(e))

	w.DestroyEntity(e)
	assert.False(t, w.IsLive(e))
}

func TestSetNameGetName(t *testing.T) {
	w := newTestWorld(t)
	e, _ := w.CreateEntity()
	w.SetName(e, "Player")
	assert.Equal(t, "Player", w.GetName(e))

	found, ok := w.LookupByName("Player")
	assert.True(t, ok)
	assert.Equal(t, e, found)
}

func TestHasIffGetNonEmpty(t *testing.T) {
	w := newTestWorld(t)
	w.RegisterComponentType(ecscomponent.TypeInfo{
		Name: "Health",
		Serialize: func(v interface{}) ([]byte, error) {
			return json.Marshal(v)
		},
	})

	e, _ := w.CreateEntity()
	require.NoError(t, w.Attach(e, "Health", health{HP: 10}))

	assert.True(t, w.Has(e, "Health"))
	dict, err := w.Get(e, "Health")
	require.NoError(t, err)
	assert.NotEmpty(t, dict)
	assert.EqualValues(t, 10, dict["hp"])

	require.NoError(t, w.Detach(e, "Health"))
	assert.False(t, w.Has(e, "Health"))
}

func TestGetPathSelectsSubExpression(t *testing.T) {
	w := newTestWorld(t)
	w.RegisterComponentType(ecscomponent.TypeInfo{
		Name:      "Health",
		Serialize: func(v interface{}) ([]byte, error) { return json.Marshal(v) },
	})
	e, _ := w.CreateEntity()
	require.NoError(t, w.Attach(e, "Health", health{HP: 42}))

	val, err := w.GetPath(e, "Health", "$.hp")
	require.NoError(t, err)
	assert.EqualValues(t, 42, val)
}

func TestQueryEntitiesRespectsLimitOffset(t *testing.T) {
	w := newTestWorld(t)
	info := w.RegisterComponentType(ecscomponent.TypeInfo{Name: "Tag", IsTag: true})

	var created []interface{}
	for i := 0; i < 5; i++ {
		e, _ := w.CreateEntity()
		require.NoError(t, w.Store.Attach(e, info.ID, nil))
		created = append(created, e)
	}

	qh, err := w.CreateQuery(ecsquery.Filter{WithTag: []ecscomponent.ID{info.ID}})
	require.NoError(t, err)

	count, err := w.QueryCount(qh)
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	page, err := w.QueryEntities(qh, 2, 1)
	require.NoError(t, err)
	assert.Len(t, page, 2)

	w.FreeQuery(qh)
	_, err = w.QueryCount(qh)
	assert.Error(t, err)
}

func TestProgressAdvancesFrameCounter(t *testing.T) {
	w := newTestWorld(t)
	require.NoError(t, w.Progress(context.Background(), 16*time.Millisecond))
	assert.EqualValues(t, 1, w.Frame.Tick)
}
