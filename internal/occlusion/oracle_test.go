package occlusion

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fractalforge/ecsruntime/internal/scheduler"
)

func TestBinAndRasterizeSoundness(t *testing.T) {
	// A single occluder triangle covering the top-left of tile (0,0) at
	// depth 5. Soundness: if the depth buffer reports d at pixel p, some
	// triangle covered p at depth <= d.
	o := New(320, 180, DefaultEpsilon, DefaultSampleCount)
	tri := ScreenTriangle{
		V0: Vec2{0, 0}, V1: Vec2{20, 0}, V2: Vec2{0, 20},
		Z0: 5, Z1: 5, Z2: 5,
	}
	o.ClearBins()
	o.BinTriangle(tri)
	pool := scheduler.NewWorkerPool(2)
	o.RasterizeAll(context.Background(), pool)

	d, ok := o.sampleDepth(5, 5)
	assert.True(t, ok)
	assert.LessOrEqual(t, d, 5.0+1e-9)
}

func TestDegenerateTriangleWritesNoPixels(t *testing.T) {
	o := New(320, 180, DefaultEpsilon, DefaultSampleCount)
	// Zero-area triangle (all three vertices colinear/identical).
	tri := ScreenTriangle{V0: Vec2{1, 1}, V1: Vec2{1, 1}, V2: Vec2{1, 1}, Z0: 1, Z1: 1, Z2: 1}
	o.ClearBins()
	o.BinTriangle(tri)
	pool := scheduler.NewWorkerPool(1)
	o.RasterizeAll(context.Background(), pool)

	d, ok := o.sampleDepth(1, 1)
	assert.True(t, ok)
	assert.True(t, d > 1.0) // stayed at +Inf, no write landed
}

func TestOccluderOccludeeScenario(t *testing.T) {
	// Screen 320x180; occluder quad at view-space z=5 covering tiles
	// (0..2, 0..2); an occludee fully inside tile (1,1) with min_z=10 is
	// occluded; moved to min_z=3 it is not.
	o := New(320, 180, DefaultEpsilon, DefaultSampleCount)
	pool := scheduler.NewWorkerPool(4)

	bin := func() {
		o.ClearBins()
		// Two triangles covering screen pixels (0,0)-(96,96), i.e. tiles (0..2,0..2).
		o.BinTriangle(ScreenTriangle{V0: Vec2{0, 0}, V1: Vec2{96, 0}, V2: Vec2{0, 96}, Z0: 5, Z1: 5, Z2: 5})
		o.BinTriangle(ScreenTriangle{V0: Vec2{96, 0}, V1: Vec2{96, 96}, V2: Vec2{0, 96}, Z0: 5, Z1: 5, Z2: 5})
		o.RasterizeAll(context.Background(), pool)
	}
	bin()

	occludeeInTile11 := ScreenAABB{
		Min: Vec2{40, 40}, Max: Vec2{48, 48}, MinZ: 10, MaxZ: 10,
	}
	assert.False(t, o.IsVisible(occludeeInTile11), "min_z=10 behind occluder at z=5 should be occluded")

	occludeeCloser := ScreenAABB{
		Min: Vec2{40, 40}, Max: Vec2{48, 48}, MinZ: 3, MaxZ: 3,
	}
	assert.True(t, o.IsVisible(occludeeCloser), "min_z=3 in front of occluder at z=5 should be visible")
}

func TestOutOfBufferAABBFailsOpen(t *testing.T) {
	o := New(320, 180, DefaultEpsilon, DefaultSampleCount)
	sa := ScreenAABB{Min: Vec2{-500, -500}, Max: Vec2{-400, -400}, MinZ: 1, MaxZ: 1}
	assert.True(t, o.IsVisible(sa))
}
