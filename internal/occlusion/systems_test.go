package occlusion_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fractalforge/ecsruntime/infrastructure/config"
	"github.com/fractalforge/ecsruntime/internal/occlusion"
	"github.com/fractalforge/ecsruntime/pkg/ecscomponent"
	"github.com/fractalforge/ecsruntime/pkg/ecsworld"
)

func translation(x, y, z float64) occlusion.Mat4 {
	m := occlusion.Identity()
	m[3] = x
	m[7] = y
	m[11] = z
	return m
}

// viewDepthCamera projects with w = -z (camera at origin facing -Z), so a
// point at world z=-5 carries view-space depth 5.
func viewDepthCamera() occlusion.Camera {
	return occlusion.Camera{
		ViewProj: occlusion.Mat4{
			1, 0, 0, 0,
			0, 1, 0, 0,
			0, 0, 1, 0,
			0, 0, -1, 0,
		},
		Near: 0.1,
	}
}

func newOcclusionWorld(t *testing.T) (*ecsworld.World, *occlusion.Oracle, *occlusion.Components) {
	t.Helper()
	types := ecscomponent.NewRegistry()
	w := ecsworld.New("occlusion-test", types, config.Default(), nil, nil)

	comps := occlusion.RegisterComponents(w)
	require.NoError(t, occlusion.RegisterPhases(w))
	oracle := occlusion.New(320, 180, occlusion.DefaultEpsilon, occlusion.DefaultSampleCount)
	require.NoError(t, occlusion.RegisterSystems(w, oracle, comps))
	return w, oracle, comps
}

// The full five-stage chain: an occluder quad at view depth 5 hides an
// occludee behind it; moving the occludee in front clears the tag on the
// next tick.
func TestOcclusionPipelineTagsAndUntags(t *testing.T) {
	w, _, comps := newOcclusionWorld(t)

	camEntity, err := w.CreateEntity()
	require.NoError(t, err)
	require.NoError(t, comps.SetMainCamera(w, camEntity, viewDepthCamera()))

	occluder, err := w.CreateEntity()
	require.NoError(t, err)
	require.NoError(t, w.Store.Attach(occluder, comps.Transform, occlusion.Identity()))
	// A quad at z=-5 wide enough to cover the whole screen after projection.
	quad := []occlusion.Triangle{
		{V0: occlusion.Vec3{X: -20, Y: -20, Z: -5}, V1: occlusion.Vec3{X: 20, Y: -20, Z: -5}, V2: occlusion.Vec3{X: -20, Y: 20, Z: -5}},
		{V0: occlusion.Vec3{X: 20, Y: -20, Z: -5}, V1: occlusion.Vec3{X: 20, Y: 20, Z: -5}, V2: occlusion.Vec3{X: -20, Y: 20, Z: -5}},
	}
	require.NoError(t, comps.NewOccluder(w, occluder, quad))

	occludee, err := w.CreateEntity()
	require.NoError(t, err)
	local := occlusion.AABB{Min: occlusion.Vec3{X: -0.5, Y: -0.5, Z: -0.5}, Max: occlusion.Vec3{X: 0.5, Y: 0.5, Z: 0.5}}
	require.NoError(t, w.Store.Attach(occludee, comps.Transform, translation(0, 0, -10)))
	require.NoError(t, comps.NewOccludee(w, occludee, local))

	require.NoError(t, w.Progress(context.Background(), 16*time.Millisecond))
	assert.True(t, w.Store.Has(occludee, comps.Occluded), "occludee behind the quad must be tagged")

	// Move the occludee in front of the occluder; next tick untags it.
	require.NoError(t, w.Store.Write(occludee, comps.Transform, translation(0, 0, -3)))
	require.NoError(t, w.Progress(context.Background(), 16*time.Millisecond))
	assert.False(t, w.Store.Has(occludee, comps.Occluded), "occludee in front of the quad must be visible")
}

// An occludee with no occluder geometry at all stays visible.
func TestOcclusionPipelineWithoutOccludersLeavesEntitiesVisible(t *testing.T) {
	w, _, comps := newOcclusionWorld(t)

	camEntity, err := w.CreateEntity()
	require.NoError(t, err)
	require.NoError(t, comps.SetMainCamera(w, camEntity, viewDepthCamera()))

	occludee, err := w.CreateEntity()
	require.NoError(t, err)
	local := occlusion.AABB{Min: occlusion.Vec3{X: -0.5, Y: -0.5, Z: -0.5}, Max: occlusion.Vec3{X: 0.5, Y: 0.5, Z: 0.5}}
	require.NoError(t, w.Store.Attach(occludee, comps.Transform, translation(0, 0, -10)))
	require.NoError(t, comps.NewOccludee(w, occludee, local))

	require.NoError(t, w.Progress(context.Background(), 16*time.Millisecond))
	assert.False(t, w.Store.Has(occludee, comps.Occluded))
}

// Occluder triangles with any vertex behind the near plane are discarded
// wholesale: nothing rasterizes, so nothing behind them can be occluded.
func TestOccluderBehindNearPlaneIsDiscarded(t *testing.T) {
	w, _, comps := newOcclusionWorld(t)

	camEntity, err := w.CreateEntity()
	require.NoError(t, err)
	require.NoError(t, comps.SetMainCamera(w, camEntity, viewDepthCamera()))

	occluder, err := w.CreateEntity()
	require.NoError(t, err)
	require.NoError(t, w.Store.Attach(occluder, comps.Transform, occlusion.Identity()))
	// One vertex sits behind the camera (z=+1 means view depth -1 < near).
	tris := []occlusion.Triangle{
		{V0: occlusion.Vec3{X: -20, Y: -20, Z: -5}, V1: occlusion.Vec3{X: 20, Y: -20, Z: -5}, V2: occlusion.Vec3{X: 0, Y: 0, Z: 1}},
	}
	require.NoError(t, comps.NewOccluder(w, occluder, tris))

	occludee, err := w.CreateEntity()
	require.NoError(t, err)
	local := occlusion.AABB{Min: occlusion.Vec3{X: -0.5, Y: -0.5, Z: -0.5}, Max: occlusion.Vec3{X: 0.5, Y: 0.5, Z: 0.5}}
	require.NoError(t, w.Store.Attach(occludee, comps.Transform, translation(0, 0, -10)))
	require.NoError(t, comps.NewOccludee(w, occludee, local))

	require.NoError(t, w.Progress(context.Background(), 16*time.Millisecond))
	assert.False(t, w.Store.Has(occludee, comps.Occluded))
}

// An Occluded entity whose AABB later falls entirely behind the near plane
// fails open: the stale tag clears on the next tick.
func TestOccludedTagClearsWhenAABBFallsBehindNearPlane(t *testing.T) {
	w, _, comps := newOcclusionWorld(t)

	camEntity, err := w.CreateEntity()
	require.NoError(t, err)
	require.NoError(t, comps.SetMainCamera(w, camEntity, viewDepthCamera()))

	occluder, err := w.CreateEntity()
	require.NoError(t, err)
	require.NoError(t, w.Store.Attach(occluder, comps.Transform, occlusion.Identity()))
	quad := []occlusion.Triangle{
		{V0: occlusion.Vec3{X: -20, Y: -20, Z: -5}, V1: occlusion.Vec3{X: 20, Y: -20, Z: -5}, V2: occlusion.Vec3{X: -20, Y: 20, Z: -5}},
		{V0: occlusion.Vec3{X: 20, Y: -20, Z: -5}, V1: occlusion.Vec3{X: 20, Y: 20, Z: -5}, V2: occlusion.Vec3{X: -20, Y: 20, Z: -5}},
	}
	require.NoError(t, comps.NewOccluder(w, occluder, quad))

	occludee, err := w.CreateEntity()
	require.NoError(t, err)
	local := occlusion.AABB{Min: occlusion.Vec3{X: -0.5, Y: -0.5, Z: -0.5}, Max: occlusion.Vec3{X: 0.5, Y: 0.5, Z: 0.5}}
	require.NoError(t, w.Store.Attach(occludee, comps.Transform, translation(0, 0, -10)))
	require.NoError(t, comps.NewOccludee(w, occludee, local))

	require.NoError(t, w.Progress(context.Background(), 16*time.Millisecond))
	require.True(t, w.Store.Has(occludee, comps.Occluded))

	// Move the occludee behind the camera; its projection has no visible
	// corner at all.
	require.NoError(t, w.Store.Write(occludee, comps.Transform, translation(0, 0, 10)))
	require.NoError(t, w.Progress(context.Background(), 16*time.Millisecond))
	assert.False(t, w.Store.Has(occludee, comps.Occluded))
}
