package render_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fractalforge/ecsruntime/infrastructure/config"
	"github.com/fractalforge/ecsruntime/internal/occlusion"
	"github.com/fractalforge/ecsruntime/internal/render"
	"github.com/fractalforge/ecsruntime/internal/render/renderbackendtest"
	"github.com/fractalforge/ecsruntime/pkg/ecscomponent"
	"github.com/fractalforge/ecsruntime/pkg/ecsworld"
	"github.com/fractalforge/ecsruntime/pkg/handle"
)

func translation(x, y, z float64) occlusion.Mat4 {
	m := occlusion.Identity()
	m[3] = x
	m[7] = y
	m[11] = z
	return m
}

func newRenderWorld(t *testing.T) (*ecsworld.World, *occlusion.Components, *render.Components, *renderbackendtest.Recording) {
	t.Helper()
	types := ecscomponent.NewRegistry()
	w := ecsworld.New("render-test", types, config.Default(), nil, nil)

	occComps := occlusion.RegisterComponents(w)
	comps := render.RegisterComponents(w, occComps)
	require.NoError(t, occlusion.RegisterPhases(w))
	require.NoError(t, render.RegisterPhases(w))

	backend := renderbackendtest.New()
	require.NoError(t, render.RegisterSystems(w, occComps, comps, backend, render.NewBatchTracker()))
	return w, occComps, comps, backend
}

// Multimesh batched update: 100 dirty instances with the default
// BATCH_MODULUS all flush in one tick, and none keeps DirtyTransform.
func TestMultimeshBatchedUpdateFlushesAllInstances(t *testing.T) {
	w, occComps, comps, backend := newRenderWorld(t)

	multimesh, err := backend.MultimeshCreate()
	require.NoError(t, err)
	require.NoError(t, backend.MultimeshAllocateData(multimesh, 100))

	var entities []handle.Handle
	for i := 0; i < 100; i++ {
		e, err := w.CreateEntity()
		require.NoError(t, err)
		require.NoError(t, w.Store.Attach(e, occComps.Transform, translation(float64(i), 0, 0)))
		require.NoError(t, comps.NewMultimeshRenderable(w, e, multimesh, i))
		entities = append(entities, e)
	}

	require.NoError(t, w.Progress(context.Background(), 16*time.Millisecond))

	assert.Equal(t, 100, backend.CallCount("multimesh_instance_set_transform"))
	for _, e := range entities {
		assert.False(t, w.Store.Has(e, comps.DirtyTransform))
	}

	// Nothing dirty: a second tick commits no further transforms.
	require.NoError(t, w.Progress(context.Background(), 16*time.Millisecond))
	assert.Equal(t, 100, backend.CallCount("multimesh_instance_set_transform"))
}

// Frustum culling: camera at origin looking down -Z with a 90 degree
// horizontal FOV; an entity ahead of the camera stays untagged, one far off
// to the side gets FrustumCulled.
func TestFrustumCullingTagsOutOfViewEntities(t *testing.T) {
	w, occComps, comps, _ := newRenderWorld(t)

	camEntity, err := w.CreateEntity()
	require.NoError(t, err)
	cam := occlusion.NewOriginCamera(90*3.14159265/180, 320.0/180.0, 0.1)
	require.NoError(t, occComps.SetMainCamera(w, camEntity, cam))

	small := occlusion.AABB{Min: occlusion.Vec3{X: -0.5, Y: -0.5, Z: -0.5}, Max: occlusion.Vec3{X: 0.5, Y: 0.5, Z: 0.5}}

	ahead, err := w.CreateEntity()
	require.NoError(t, err)
	require.NoError(t, w.Store.Attach(ahead, occComps.Transform, translation(0, 0, -5)))
	require.NoError(t, w.Store.Attach(ahead, occComps.LocalAABB, small))
	require.NoError(t, w.Store.Attach(ahead, comps.Visibility, render.Visibility{Visible: true}))

	aside, err := w.CreateEntity()
	require.NoError(t, err)
	require.NoError(t, w.Store.Attach(aside, occComps.Transform, translation(100, 0, 0)))
	require.NoError(t, w.Store.Attach(aside, occComps.LocalAABB, small))
	require.NoError(t, w.Store.Attach(aside, comps.Visibility, render.Visibility{Visible: true}))

	require.NoError(t, w.Progress(context.Background(), 16*time.Millisecond))

	assert.False(t, w.Store.Has(ahead, comps.FrustumCulled))
	assert.True(t, w.Store.Has(aside, comps.FrustumCulled))
}

// A mesh entity tagged Occluded clears DirtyTransform without a backend
// transform commit; untagged it commits one.
func TestMeshRenderSkipsOccludedEntities(t *testing.T) {
	w, occComps, comps, backend := newRenderWorld(t)

	instance, err := backend.InstanceCreate(0, 0)
	require.NoError(t, err)

	e, err := w.CreateEntity()
	require.NoError(t, err)
	require.NoError(t, w.Store.Attach(e, occComps.Transform, translation(1, 2, 3)))
	require.NoError(t, comps.NewMeshRenderable(w, e, instance))
	require.NoError(t, w.Store.Attach(e, comps.Occluded, nil))

	require.NoError(t, w.Progress(context.Background(), 16*time.Millisecond))
	assert.Equal(t, 0, backend.CallCount("instance_set_transform"))
	assert.False(t, w.Store.Has(e, comps.DirtyTransform))

	w.Store.Detach(e, comps.Occluded)
	require.NoError(t, comps.MarkDirty(w, e))
	require.NoError(t, w.Progress(context.Background(), 16*time.Millisecond))
	assert.Equal(t, 1, backend.CallCount("instance_set_transform"))
}

// An invalid instance handle is skipped (and logged once) rather than
// reaching the backend.
func TestMeshRenderSkipsInvalidInstanceHandle(t *testing.T) {
	w, occComps, comps, backend := newRenderWorld(t)

	e, err := w.CreateEntity()
	require.NoError(t, err)
	require.NoError(t, w.Store.Attach(e, occComps.Transform, occlusion.Identity()))
	require.NoError(t, comps.NewMeshRenderable(w, e, 0))

	require.NoError(t, w.Progress(context.Background(), 16*time.Millisecond))
	assert.Equal(t, 0, backend.CallCount("instance_set_transform"))
	// Still dirty: the entity was never committed.
	assert.True(t, w.Store.Has(e, comps.DirtyTransform))
}

// An Occluded entity gets the stale-safe no-op (DirtyTransform cleared, no
// backend call) even when its instance handle is invalid.
func TestMeshRenderOccludedWithInvalidHandleStillClearsDirty(t *testing.T) {
	w, occComps, comps, backend := newRenderWorld(t)

	e, err := w.CreateEntity()
	require.NoError(t, err)
	require.NoError(t, w.Store.Attach(e, occComps.Transform, occlusion.Identity()))
	require.NoError(t, comps.NewMeshRenderable(w, e, 0))
	require.NoError(t, w.Store.Attach(e, comps.Occluded, nil))

	require.NoError(t, w.Progress(context.Background(), 16*time.Millisecond))
	assert.Equal(t, 0, backend.CallCount("instance_set_transform"))
	assert.False(t, w.Store.Has(e, comps.DirtyTransform))
}
