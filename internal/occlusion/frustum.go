package occlusion

import "math"

// Plane is a half-space boundary A*x + B*y + C*z + D >= 0 (inside).
type Plane struct{ A, B, C, D float64 }

func (p Plane) distance(v Vec3) float64 {
	return p.A*v.X + p.B*v.Y + p.C*v.Z + p.D
}

// NewOriginCamera builds a Camera placed at the world origin, facing world
// -Z with up +Y — the common default a host sets up once at world creation.
// fovX is the horizontal field of view in radians.
func NewOriginCamera(fovX, aspectRatio, near float64) Camera {
	tanHalfX := math.Tan(fovX / 2)
	tanHalfY := tanHalfX / aspectRatio
	return Camera{
		ViewProj: Mat4{
			1 / tanHalfX, 0, 0, 0,
			0, 1 / tanHalfY, 0, 0,
			0, 0, 1, 0,
			0, 0, -1, 0,
		},
		Near: near,
	}
}

// FrustumPlanes extracts the six clip-plane half-spaces from c.ViewProj by
// combining its rows (Gribb/Hartmann plane extraction), evaluated directly
// against world-space points the same way ProjectVertex computes clip
// coordinates. The near/far planes are only as tight as the camera's Z row
// encodes — a camera built by NewOriginCamera leaves Z unconstrained, so
// callers that need accurate near/far frustum culling must supply a
// ViewProj whose Z row encodes real depth bounds.
func (c Camera) FrustumPlanes() [6]Plane {
	m := c.ViewProj
	rowX := Plane{m[0], m[1], m[2], m[3]}
	rowY := Plane{m[4], m[5], m[6], m[7]}
	rowZ := Plane{m[8], m[9], m[10], m[11]}
	rowW := Plane{m[12], m[13], m[14], m[15]}

	add := func(a, b Plane) Plane { return Plane{a.A + b.A, a.B + b.B, a.C + b.C, a.D + b.D} }
	sub := func(a, b Plane) Plane { return Plane{a.A - b.A, a.B - b.B, a.C - b.C, a.D - b.D} }

	return [6]Plane{
		add(rowW, rowX), // left
		sub(rowW, rowX), // right
		add(rowW, rowY), // bottom
		sub(rowW, rowY), // top
		add(rowW, rowZ), // near
		sub(rowW, rowZ), // far
	}
}

// aabbOutsidePlane reports whether box lies entirely on the negative side of
// p, using the positive-vertex trick: the corner furthest along p's normal
// is the best chance the box has of being inside.
func aabbOutsidePlane(p Plane, box AABB) bool {
	px, py, pz := box.Max.X, box.Max.Y, box.Max.Z
	if p.A < 0 {
		px = box.Min.X
	}
	if p.B < 0 {
		py = box.Min.Y
	}
	if p.C < 0 {
		pz = box.Min.Z
	}
	return p.distance(Vec3{px, py, pz}) < 0
}

// FrustumCull reports whether box is entirely outside at least one of
// planes, i.e. should be culled.
func FrustumCull(planes [6]Plane, box AABB) bool {
	for _, p := range planes {
		if aabbOutsidePlane(p, box) {
			return true
		}
	}
	return false
}
