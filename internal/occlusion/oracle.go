package occlusion

import (
	"context"
	"math"
	"sync"

	"github.com/fractalforge/ecsruntime/internal/scheduler"
)

// TileSize is the fixed occlusion tile edge length in pixels.
const TileSize = 32

// DefaultSampleCount is the per-AABB cull sample count (four corners plus
// centre).
const DefaultSampleCount = 5

// DefaultEpsilon biases depth comparisons against z-fighting between an
// occludee and the occluder geometry that represents it.
const DefaultEpsilon = 0.01

// Oracle maintains the per-tile hi-Z buffer and answers visibility queries
// against it. A single Oracle is shared by one World's occlusion systems
// across a tick: Binning fills TileBin, Rasterize fills TileBuffer, Cull
// reads TileBuffer.
type Oracle struct {
	Width, Height int
	TilesX, TilesY int
	Epsilon        float64
	SampleCount    int

	mu    []sync.Mutex // one per tile; held only while BinTriangle appends to that tile's bin
	bins  [][]ScreenTriangle
	depth [][]float64 // per tile, flattened TileSize*TileSize
}

// New creates an Oracle over a bufferWidth x bufferHeight screen (default
// 320x180, i.e. 10x6 tiles at 32px). Dimensions are rounded up to a whole
// number of tiles.
func New(bufferWidth, bufferHeight int, epsilon float64, sampleCount int) *Oracle {
	tilesX := (bufferWidth + TileSize - 1) / TileSize
	tilesY := (bufferHeight + TileSize - 1) / TileSize
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}
	if sampleCount <= 0 {
		sampleCount = DefaultSampleCount
	}
	n := tilesX * tilesY
	o := &Oracle{
		Width: bufferWidth, Height: bufferHeight,
		TilesX: tilesX, TilesY: tilesY,
		Epsilon: epsilon, SampleCount: sampleCount,
		mu:    make([]sync.Mutex, n),
		bins:  make([][]ScreenTriangle, n),
		depth: make([][]float64, n),
	}
	for i := range o.depth {
		o.depth[i] = make([]float64, TileSize*TileSize)
	}
	return o
}

func (o *Oracle) tileIndex(tx, ty int) int { return ty*o.TilesX + tx }

// ClearBins drops every tile's pending triangle bin, run once at the start
// of each frame's Binning stage.
func (o *Oracle) ClearBins() {
	for i := range o.bins {
		o.bins[i] = o.bins[i][:0]
	}
}

// tileRangeFor clamps a pixel-space AABB to the tile grid, returning
// whether any part of it overlaps the buffer at all.
func (o *Oracle) tileRangeFor(minX, minY, maxX, maxY float64) (tx0, ty0, tx1, ty1 int, ok bool) {
	if maxX < 0 || maxY < 0 || minX >= float64(o.Width) || minY >= float64(o.Height) {
		return 0, 0, 0, 0, false
	}
	clampf := func(v, lo, hi float64) float64 {
		if v < lo {
			return lo
		}
		if v > hi {
			return hi
		}
		return v
	}
	minX = clampf(minX, 0, float64(o.Width-1))
	minY = clampf(minY, 0, float64(o.Height-1))
	maxX = clampf(maxX, 0, float64(o.Width-1))
	maxY = clampf(maxY, 0, float64(o.Height-1))

	tx0 = int(minX) / TileSize
	ty0 = int(minY) / TileSize
	tx1 = int(maxX) / TileSize
	ty1 = int(maxY) / TileSize
	if tx1 >= o.TilesX {
		tx1 = o.TilesX - 1
	}
	if ty1 >= o.TilesY {
		ty1 = o.TilesY - 1
	}
	return tx0, ty0, tx1, ty1, true
}

// BinTriangle appends t to every tile its screen AABB overlaps. Each tile's
// bin has its own mutex, so concurrent calls contend only on the tiles their
// triangles both overlap.
func (o *Oracle) BinTriangle(t ScreenTriangle) {
	minX := math.Min(t.V0.X, math.Min(t.V1.X, t.V2.X))
	minY := math.Min(t.V0.Y, math.Min(t.V1.Y, t.V2.Y))
	maxX := math.Max(t.V0.X, math.Max(t.V1.X, t.V2.X))
	maxY := math.Max(t.V0.Y, math.Max(t.V1.Y, t.V2.Y))

	tx0, ty0, tx1, ty1, ok := o.tileRangeFor(minX, minY, maxX, maxY)
	if !ok {
		return
	}
	for ty := ty0; ty <= ty1; ty++ {
		for tx := tx0; tx <= tx1; tx++ {
			idx := o.tileIndex(tx, ty)
			o.mu[idx].Lock()
			o.bins[idx] = append(o.bins[idx], t)
			o.mu[idx].Unlock()
		}
	}
}

// RasterizeTile clears tileIdx's depth buffer to +Inf and scanline-
// rasterizes every triangle in its bin into it. Exclusive to the one
// goroutine that owns tileIdx for this pass — no locking needed on the
// depth buffer itself.
func (o *Oracle) RasterizeTile(tileIdx int) {
	depth := o.depth[tileIdx]
	for i := range depth {
		depth[i] = math.Inf(1)
	}

	tx := tileIdx % o.TilesX
	ty := tileIdx / o.TilesX
	originX := float64(tx * TileSize)
	originY := float64(ty * TileSize)

	for _, t := range o.bins[tileIdx] {
		rasterizeTriangle(t, originX, originY, depth)
	}
}

// RasterizeAll dispatches RasterizeTile across every tile on pool, blocking
// until all tiles complete. No tile is aliased across threads.
func (o *Oracle) RasterizeAll(ctx context.Context, pool *scheduler.WorkerPool) {
	fns := make([]func(), len(o.bins))
	for i := range o.bins {
		i := i
		fns[i] = func() { o.RasterizeTile(i) }
	}
	pool.RunAll(ctx, fns)
}

// rasterizeTriangle scanline-fills t's footprint within one tile's local
// [0,TileSize)x[0,TileSize) pixel grid, writing the barycentric-interpolated
// depth wherever it undercuts the current value.
func rasterizeTriangle(t ScreenTriangle, originX, originY float64, depth []float64) {
	v0 := Vec2{t.V0.X - originX, t.V0.Y - originY}
	v1 := Vec2{t.V1.X - originX, t.V1.Y - originY}
	v2 := Vec2{t.V2.X - originX, t.V2.Y - originY}

	denom := (v1.Y-v2.Y)*(v0.X-v2.X) + (v2.X-v1.X)*(v0.Y-v2.Y)
	// A degenerate barycentric denominator (near-zero triangle area) yields
	// no pixel writes.
	if math.Abs(denom) < 1e-9 {
		return
	}

	minX := int(math.Floor(math.Min(v0.X, math.Min(v1.X, v2.X))))
	minY := int(math.Floor(math.Min(v0.Y, math.Min(v1.Y, v2.Y))))
	maxX := int(math.Ceil(math.Max(v0.X, math.Max(v1.X, v2.X))))
	maxY := int(math.Ceil(math.Max(v0.Y, math.Max(v1.Y, v2.Y))))
	if minX < 0 {
		minX = 0
	}
	if minY < 0 {
		minY = 0
	}
	if maxX > TileSize-1 {
		maxX = TileSize - 1
	}
	if maxY > TileSize-1 {
		maxY = TileSize - 1
	}

	for py := minY; py <= maxY; py++ {
		for px := minX; px <= maxX; px++ {
			fx := float64(px) + 0.5
			fy := float64(py) + 0.5

			a := ((v1.Y-v2.Y)*(fx-v2.X) + (v2.X-v1.X)*(fy-v2.Y)) / denom
			b := ((v2.Y-v0.Y)*(fx-v2.X) + (v0.X-v2.X)*(fy-v2.Y)) / denom
			c := 1 - a - b
			if a < 0 || b < 0 || c < 0 {
				continue
			}

			z := a*t.Z0 + b*t.Z1 + c*t.Z2
			i := py*TileSize + px
			if z < depth[i] {
				depth[i] = z
			}
		}
	}
}

// sampleDepth returns the rasterized depth at screen pixel (px, py) and true,
// or 0 and false if the pixel lies outside the buffer.
func (o *Oracle) sampleDepth(px, py int) (float64, bool) {
	if px < 0 || py < 0 || px >= o.Width || py >= o.Height {
		return 0, false
	}
	tx := px / TileSize
	ty := py / TileSize
	idx := o.tileIndex(tx, ty)
	lx := px % TileSize
	ly := py % TileSize
	return o.depth[idx][ly*TileSize+lx], true
}

// IsVisible answers "is this screen-AABB potentially visible?": samples up
// to SampleCount points (four corners + centre) against the depth buffer;
// visible if any sample's depth comparison says the occludee's near face is
// closer than what's rasterized there. Tiles outside the buffer are
// fail-open: an AABB entirely off-buffer is treated as visible.
func (o *Oracle) IsVisible(sa ScreenAABB) bool {
	points := []Vec2{
		{sa.Min.X, sa.Min.Y},
		{sa.Max.X, sa.Min.Y},
		{sa.Min.X, sa.Max.Y},
		{sa.Max.X, sa.Max.Y},
		{(sa.Min.X + sa.Max.X) / 2, (sa.Min.Y + sa.Max.Y) / 2},
	}
	if o.SampleCount < len(points) {
		points = points[:o.SampleCount]
	}

	sawSample := false
	for _, p := range points {
		px, py := int(p.X), int(p.Y)
		d, ok := o.sampleDepth(px, py)
		if !ok {
			continue
		}
		sawSample = true
		if sa.MinZ < d-o.Epsilon {
			return true
		}
	}
	// No sample landed in-buffer at all: fail-open per the edge case note.
	return !sawSample
}
