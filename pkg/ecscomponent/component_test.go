package ecscomponent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fractalforge/ecsruntime/infrastructure/errors"
	"github.com/fractalforge/ecsruntime/pkg/handle"
)

type transform struct{ X, Y, Z float64 }

func TestComponentIDIsStableAcrossRegistries(t *testing.T) {
	a := NewRegistry()
	b := NewRegistry()
	infoA := a.Register(TypeInfo{Name: "Transform"})
	infoB := b.Register(TypeInfo{Name: "Transform"})
	assert.Equal(t, infoA.ID, infoB.ID)
}

func TestHasIffGetNonEmpty(t *testing.T) {
	hr := handle.NewRegistry()
	reg := NewRegistry()
	typ := reg.Register(TypeInfo{Name: "Transform"}).ID
	store := NewStore(reg, hr.IsLive)

	e, err := hr.Allocate()
	require.NoError(t, err)

	assert.False(t, store.Has(e, typ))
	_, err = store.Read(e, typ)
	assert.Error(t, err)

	require.NoError(t, store.Attach(e, typ, transform{1, 2, 3}))
	assert.True(t, store.Has(e, typ))
	v, err := store.Read(e, typ)
	require.NoError(t, err)
	assert.Equal(t, transform{1, 2, 3}, v)
}

func TestAttachOnDeadEntityFails(t *testing.T) {
	hr := handle.NewRegistry()
	reg := NewRegistry()
	typ := reg.Register(TypeInfo{Name: "Transform"}).ID
	store := NewStore(reg, hr.IsLive)

	e, err := hr.Allocate()
	require.NoError(t, err)
	hr.Free(e)

	err = store.Attach(e, typ, transform{})
	require.Error(t, err)
	ee, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, errors.CodeDeadEntity, ee.Code)
}

func TestAttachDetachRoundTrip(t *testing.T) {
	hr := handle.NewRegistry()
	reg := NewRegistry()
	typ := reg.Register(TypeInfo{Name: "Health"}).ID
	store := NewStore(reg, hr.IsLive)

	e, err := hr.Allocate()
	require.NoError(t, err)

	require.NoError(t, store.Attach(e, typ, 10))
	store.Detach(e, typ)
	assert.False(t, store.Has(e, typ))
	// Idempotent.
	assert.NotPanics(t, func() { store.Detach(e, typ) })
}

func TestWriteBumpsChangeCounter(t *testing.T) {
	hr := handle.NewRegistry()
	reg := NewRegistry()
	typ := reg.Register(TypeInfo{Name: "Health"}).ID
	store := NewStore(reg, hr.IsLive)

	e, err := hr.Allocate()
	require.NoError(t, err)
	require.NoError(t, store.Attach(e, typ, 10))

	before := store.ChangeCounter(typ)
	require.NoError(t, store.Write(e, typ, 20))
	assert.Greater(t, store.ChangeCounter(typ), before)
}

func TestPairComponentChildOf(t *testing.T) {
	hr := handle.NewRegistry()
	reg := NewRegistry()
	childOf := reg.Register(TypeInfo{Name: "ChildOf", IsTag: true}).ID
	store := NewStore(reg, hr.IsLive)

	parent, _ := hr.Allocate()
	child, _ := hr.Allocate()

	require.NoError(t, store.AttachPair(child, childOf, parent, nil))
	assert.True(t, store.HasPair(child, childOf, parent))
	assert.False(t, store.Has(child, childOf))

	store.DetachPair(child, childOf, parent)
	assert.False(t, store.HasPair(child, childOf, parent))
}

func TestRemoveEntityClearsAllColumns(t *testing.T) {
	hr := handle.NewRegistry()
	reg := NewRegistry()
	t1 := reg.Register(TypeInfo{Name: "Transform"}).ID
	t2 := reg.Register(TypeInfo{Name: "Health"}).ID
	store := NewStore(reg, hr.IsLive)

	e, _ := hr.Allocate()
	require.NoError(t, store.Attach(e, t1, transform{}))
	require.NoError(t, store.Attach(e, t2, 5))

	store.RemoveEntity(e)
	assert.False(t, store.Has(e, t1))
	assert.False(t, store.Has(e, t2))
}

func TestEntitiesWithExcludesPairs(t *testing.T) {
	hr := handle.NewRegistry()
	reg := NewRegistry()
	childOf := reg.Register(TypeInfo{Name: "ChildOf"}).ID
	store := NewStore(reg, hr.IsLive)

	parent, _ := hr.Allocate()
	child, _ := hr.Allocate()
	require.NoError(t, store.AttachPair(child, childOf, parent, nil))

	assert.Empty(t, store.EntitiesWith(childOf))
}
