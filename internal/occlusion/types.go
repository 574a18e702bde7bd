// Package occlusion implements the tile-binned software rasterizer hi-Z
// oracle: a per-tile min-depth image built from occluder triangles,
// consulted by occludees to answer "is this screen-AABB potentially
// visible?".
package occlusion

import "math"

// Vec3 is a point or direction in world/local space.
type Vec3 struct{ X, Y, Z float64 }

// Vec2 is a 2D point, used for screen-space pixel coordinates.
type Vec2 struct{ X, Y float64 }

// Mat4 is a row-major 4x4 matrix, used for a world transform or a combined
// view-projection matrix.
type Mat4 [16]float64

// Identity returns the 4x4 identity matrix.
func Identity() Mat4 {
	return Mat4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// MulVec4 multiplies m by the column vector (x, y, z, w).
func (m Mat4) MulVec4(x, y, z, w float64) (rx, ry, rz, rw float64) {
	rx = m[0]*x + m[1]*y + m[2]*z + m[3]*w
	ry = m[4]*x + m[5]*y + m[6]*z + m[7]*w
	rz = m[8]*x + m[9]*y + m[10]*z + m[11]*w
	rw = m[12]*x + m[13]*y + m[14]*z + m[15]*w
	return
}

// TransformPoint applies m to the point v (w=1), returning the
// homogeneous-divided result for an affine transform.
func TransformPoint(m Mat4, v Vec3) Vec3 {
	x, y, z, w := m.MulVec4(v.X, v.Y, v.Z, 1)
	if w == 0 {
		w = 1
	}
	return Vec3{x / w, y / w, z / w}
}

// Triangle is three vertices in local or world space.
type Triangle struct{ V0, V1, V2 Vec3 }

// ScreenTriangle is a projected occluder triangle: pixel-space vertices plus
// their view-space depth (positive forward).
type ScreenTriangle struct {
	V0, V1, V2    Vec2
	Z0, Z1, Z2    float64
}

// AABB is an axis-aligned bounding box in local or world space.
type AABB struct{ Min, Max Vec3 }

// TransformAABB recomputes an AABB under transform m by projecting all
// eight corners and taking their bounds.
func TransformAABB(local AABB, m Mat4) AABB {
	corners := [8]Vec3{
		{local.Min.X, local.Min.Y, local.Min.Z},
		{local.Max.X, local.Min.Y, local.Min.Z},
		{local.Min.X, local.Max.Y, local.Min.Z},
		{local.Max.X, local.Max.Y, local.Min.Z},
		{local.Min.X, local.Min.Y, local.Max.Z},
		{local.Max.X, local.Min.Y, local.Max.Z},
		{local.Min.X, local.Max.Y, local.Max.Z},
		{local.Max.X, local.Max.Y, local.Max.Z},
	}
	out := AABB{
		Min: Vec3{math.Inf(1), math.Inf(1), math.Inf(1)},
		Max: Vec3{math.Inf(-1), math.Inf(-1), math.Inf(-1)},
	}
	for _, c := range corners {
		wc := TransformPoint(m, c)
		out.Min.X = math.Min(out.Min.X, wc.X)
		out.Min.Y = math.Min(out.Min.Y, wc.Y)
		out.Min.Z = math.Min(out.Min.Z, wc.Z)
		out.Max.X = math.Max(out.Max.X, wc.X)
		out.Max.Y = math.Max(out.Max.Y, wc.Y)
		out.Max.Z = math.Max(out.Max.Z, wc.Z)
	}
	return out
}

// ScreenAABB is an entity's world AABB projected to screen-space bounds
// plus view-space depth extents.
type ScreenAABB struct {
	Min, Max   Vec2
	MinZ, MaxZ float64
}

// Camera holds the combined view-projection matrix and near-plane distance
// needed to project occluder triangles and occludee AABBs to screen space.
type Camera struct {
	ViewProj Mat4
	Near     float64
}

// ProjectVertex projects world-space v through the camera into pixel
// coordinates plus view-space depth. ok is false if v is behind the near
// plane.
func (c Camera) ProjectVertex(v Vec3, screenW, screenH int) (screen Vec2, viewZ float64, ok bool) {
	x, y, _, w := c.ViewProj.MulVec4(v.X, v.Y, v.Z, 1)
	if w <= c.Near {
		return Vec2{}, w, false
	}
	ndcX := x / w
	ndcY := y / w
	screen = Vec2{
		X: (ndcX + 1) / 2 * float64(screenW),
		Y: (1 - (ndcY+1)/2) * float64(screenH),
	}
	return screen, w, true
}

// ProjectTriangle projects a world-space triangle into a ScreenTriangle.
// Returns ok=false if any vertex is behind the near plane: such triangles
// are discarded wholesale rather than clipped.
func (c Camera) ProjectTriangle(t Triangle, screenW, screenH int) (ScreenTriangle, bool) {
	s0, z0, ok0 := c.ProjectVertex(t.V0, screenW, screenH)
	s1, z1, ok1 := c.ProjectVertex(t.V1, screenW, screenH)
	s2, z2, ok2 := c.ProjectVertex(t.V2, screenW, screenH)
	if !ok0 || !ok1 || !ok2 {
		return ScreenTriangle{}, false
	}
	return ScreenTriangle{V0: s0, V1: s1, V2: s2, Z0: z0, Z1: z1, Z2: z2}, true
}

// ProjectAABB converts a world AABB to a ScreenAABB by projecting all eight
// corners and taking the 2D bounds plus the near/far depth extent.
func (c Camera) ProjectAABB(world AABB, screenW, screenH int) (ScreenAABB, bool) {
	corners := [8]Vec3{
		{world.Min.X, world.Min.Y, world.Min.Z},
		{world.Max.X, world.Min.Y, world.Min.Z},
		{world.Min.X, world.Max.Y, world.Min.Z},
		{world.Max.X, world.Max.Y, world.Min.Z},
		{world.Min.X, world.Min.Y, world.Max.Z},
		{world.Max.X, world.Min.Y, world.Max.Z},
		{world.Min.X, world.Max.Y, world.Max.Z},
		{world.Max.X, world.Max.Y, world.Max.Z},
	}
	out := ScreenAABB{
		Min:  Vec2{math.Inf(1), math.Inf(1)},
		Max:  Vec2{math.Inf(-1), math.Inf(-1)},
		MinZ: math.Inf(1),
		MaxZ: math.Inf(-1),
	}
	anyVisible := false
	for _, c3 := range corners {
		s, z, ok := c.ProjectVertex(c3, screenW, screenH)
		if !ok {
			continue
		}
		anyVisible = true
		out.Min.X = math.Min(out.Min.X, s.X)
		out.Min.Y = math.Min(out.Min.Y, s.Y)
		out.Max.X = math.Max(out.Max.X, s.X)
		out.Max.Y = math.Max(out.Max.Y, s.Y)
		out.MinZ = math.Min(out.MinZ, z)
		out.MaxZ = math.Max(out.MaxZ, z)
	}
	return out, anyVisible
}
