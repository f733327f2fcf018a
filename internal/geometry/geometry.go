// Package geometry implements the containment primitives QuickZone
// tests entities against: axis-aligned bounding boxes in world space
// and exact point-in-shape tests for the four convex zone shapes
// (Block, Ball, Cylinder, Wedge). Every function here is pure and
// allocation-free so it can run on the engine's hot path once per
// entity per tick without growing the garbage collector's workload.
package geometry

import "math"

// Vector3 is a point or direction in world (or local) space.
type Vector3 struct {
	X, Y, Z float64
}

// Add returns v+other.
func (v Vector3) Add(other Vector3) Vector3 {
	return Vector3{v.X + other.X, v.Y + other.Y, v.Z + other.Z}
}

// Sub returns v-other.
func (v Vector3) Sub(other Vector3) Vector3 {
	return Vector3{v.X - other.X, v.Y - other.Y, v.Z - other.Z}
}

// Mult returns v scaled by s.
func (v Vector3) Mult(s float64) Vector3 {
	return Vector3{v.X * s, v.Y * s, v.Z * s}
}

// Dot returns the dot product of v and other.
func (v Vector3) Dot(other Vector3) float64 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

// DistSq returns the squared distance between v and other.
func (v Vector3) DistSq(other Vector3) float64 {
	d := v.Sub(other)
	return d.Dot(d)
}

// IsFinite reports whether all three components are finite.
func (v Vector3) IsFinite() bool {
	return !math.IsInf(v.X, 0) && !math.IsInf(v.Y, 0) && !math.IsInf(v.Z, 0) &&
		!math.IsNaN(v.X) && !math.IsNaN(v.Y) && !math.IsNaN(v.Z)
}

// Basis is an orthonormal right-handed 3x3 rotation expressed as its
// three world-space column vectors (local X, Y, Z axes).
type Basis struct {
	X, Y, Z Vector3
}

// IdentityBasis returns the world-aligned basis.
func IdentityBasis() Basis {
	return Basis{Vector3{1, 0, 0}, Vector3{0, 1, 0}, Vector3{0, 0, 1}}
}

// Transform is a rigid transform: world position plus orientation.
type Transform struct {
	Origin Vector3
	Basis  Basis
}

// Identity returns the world-origin, unrotated transform.
func Identity() Transform {
	return Transform{Basis: IdentityBasis()}
}

// ToLocal maps a world-space point into the transform's local frame.
// Because Basis is orthonormal, its inverse is its transpose, so this
// is three dot products with no matrix inversion.
func (t Transform) ToLocal(p Vector3) Vector3 {
	d := p.Sub(t.Origin)
	return Vector3{d.Dot(t.Basis.X), d.Dot(t.Basis.Y), d.Dot(t.Basis.Z)}
}

// ToWorld maps a local-space point through the transform into world space.
func (t Transform) ToWorld(p Vector3) Vector3 {
	x := t.Basis.X.Mult(p.X)
	y := t.Basis.Y.Mult(p.Y)
	z := t.Basis.Z.Mult(p.Z)
	return t.Origin.Add(x).Add(y).Add(z)
}

// Extents holds the full (not half) size of a shape along its three
// local axes, matching the "size" the host supplies at construction.
type Extents struct {
	X, Y, Z float64
}

// ShapeKind tags which of the four convex primitives a zone uses.
// Hot paths switch on this tag directly instead of paying for
// interface dispatch (spec design note: "Dynamic dispatch over shape
// kinds: a tagged variant with four cases").
type ShapeKind uint8

const (
	Block ShapeKind = iota
	Ball
	Cylinder
	Wedge
)

func (k ShapeKind) String() string {
	switch k {
	case Block:
		return "Block"
	case Ball:
		return "Ball"
	case Cylinder:
		return "Cylinder"
	case Wedge:
		return "Wedge"
	default:
		return "Unknown"
	}
}

// AABB is an axis-aligned bounding box in world space.
type AABB struct {
	Min, Max Vector3
}

// Union returns the smallest AABB enclosing both a and b.
func Union(a, b AABB) AABB {
	return AABB{
		Min: Vector3{math.Min(a.Min.X, b.Min.X), math.Min(a.Min.Y, b.Min.Y), math.Min(a.Min.Z, b.Min.Z)},
		Max: Vector3{math.Max(a.Max.X, b.Max.X), math.Max(a.Max.Y, b.Max.Y), math.Max(a.Max.Z, b.Max.Z)},
	}
}

// ContainsPoint reports whether p lies within (inclusive) the box.
func (b AABB) ContainsPoint(p Vector3) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// Intersects reports whether two boxes overlap (inclusive faces).
func (b AABB) Intersects(o AABB) bool {
	return b.Min.X <= o.Max.X && b.Max.X >= o.Min.X &&
		b.Min.Y <= o.Max.Y && b.Max.Y >= o.Min.Y &&
		b.Min.Z <= o.Max.Z && b.Max.Z >= o.Min.Z
}

// Centroid returns the box's midpoint, used by Morton normalization.
func (b AABB) Centroid() Vector3 {
	return Vector3{
		(b.Min.X + b.Max.X) * 0.5,
		(b.Min.Y + b.Max.Y) * 0.5,
		(b.Min.Z + b.Max.Z) * 0.5,
	}
}

// blockVertices returns the 8 world-space corners of an oriented box
// with the given transform and full extents.
func blockVertices(t Transform, e Extents) [8]Vector3 {
	hx, hy, hz := e.X/2, e.Y/2, e.Z/2
	var out [8]Vector3
	i := 0
	for _, sx := range [2]float64{-hx, hx} {
		for _, sy := range [2]float64{-hy, hy} {
			for _, sz := range [2]float64{-hz, hz} {
				out[i] = t.ToWorld(Vector3{sx, sy, sz})
				i++
			}
		}
	}
	return out
}

// wedgeVertices returns the 10 world-space vertices of the region
// Contains accepts for a Wedge: a Block cut by the half-space
// y/ey+z/ez <= 1/2. In local (y, z) that region is the pentagon
// (-hy,-hz), (-hy,hz), (0,hz), (hy,0), (hy,-hz), extruded along local
// X; coincident vertices of degenerate extents still box correctly.
func wedgeVertices(t Transform, e Extents) [10]Vector3 {
	hx, hy, hz := e.X/2, e.Y/2, e.Z/2
	var out [10]Vector3
	i := 0
	for _, sx := range [2]float64{-hx, hx} {
		for _, yz := range [5][2]float64{{-hy, -hz}, {-hy, hz}, {0, hz}, {hy, 0}, {hy, -hz}} {
			out[i] = t.ToWorld(Vector3{sx, yz[0], yz[1]})
			i++
		}
	}
	return out
}

func boxOf(pts []Vector3) AABB {
	min, max := pts[0], pts[0]
	for _, p := range pts[1:] {
		min = Vector3{math.Min(min.X, p.X), math.Min(min.Y, p.Y), math.Min(min.Z, p.Z)}
		max = Vector3{math.Max(max.X, p.X), math.Max(max.Y, p.Y), math.Max(max.Z, p.Z)}
	}
	return AABB{Min: min, Max: max}
}

// AABBOf returns the world-space AABB conservatively enclosing a
// shape of the given kind, transform, and extents: Block/Wedge box
// their vertices, Ball boxes center±radius, Cylinder boxes its
// rotated bounding cylinder.
func AABBOf(kind ShapeKind, t Transform, e Extents) AABB {
	switch kind {
	case Block:
		v := blockVertices(t, e)
		return boxOf(v[:])
	case Wedge:
		v := wedgeVertices(t, e)
		return boxOf(v[:])
	case Ball:
		r := math.Max(e.X, math.Max(e.Y, e.Z)) / 2
		return AABB{
			Min: t.Origin.Sub(Vector3{r, r, r}),
			Max: t.Origin.Add(Vector3{r, r, r}),
		}
	case Cylinder:
		r := math.Min(e.X, e.Z) / 2
		hh := e.Y / 2
		// Local extents (R, H/2, R) rotated to world: box the 8 corners
		// of that local AABB through the transform, then re-box.
		corners := [8]Vector3{
			t.ToWorld(Vector3{-r, -hh, -r}), t.ToWorld(Vector3{-r, -hh, r}),
			t.ToWorld(Vector3{-r, hh, -r}), t.ToWorld(Vector3{-r, hh, r}),
			t.ToWorld(Vector3{r, -hh, -r}), t.ToWorld(Vector3{r, -hh, r}),
			t.ToWorld(Vector3{r, hh, -r}), t.ToWorld(Vector3{r, hh, r}),
		}
		return boxOf(corners[:])
	default:
		return AABB{Min: t.Origin, Max: t.Origin}
	}
}

// Contains runs the exact point-in-shape test for the given kind.
func Contains(kind ShapeKind, t Transform, e Extents, p Vector3) bool {
	local := t.ToLocal(p)
	switch kind {
	case Block:
		return math.Abs(local.X) <= e.X/2 && math.Abs(local.Y) <= e.Y/2 && math.Abs(local.Z) <= e.Z/2
	case Ball:
		r := math.Max(e.X, math.Max(e.Y, e.Z)) / 2
		return local.Dot(local) <= r*r
	case Cylinder:
		if math.Abs(local.Y) > e.Y/2 {
			return false
		}
		r := math.Min(e.X, e.Z) / 2
		return local.X*local.X+local.Z*local.Z <= r*r
	case Wedge:
		if math.Abs(local.X) > e.X/2 || math.Abs(local.Y) > e.Y/2 || math.Abs(local.Z) > e.Z/2 {
			return false
		}
		if e.Y == 0 || e.Z == 0 {
			return false
		}
		return local.Y/e.Y+local.Z/e.Z <= 0.5
	default:
		return false
	}
}
