package quickzone

import (
	"github.com/LDGerrits/QuickZone/internal/geometry"
)

// ZoneID stably identifies a zone for its lifetime; ids are assigned
// monotonically and never reused.
type ZoneID uint64

// ShapeKind re-exports geometry.ShapeKind so callers never need to
// import the internal package directly.
type ShapeKind = geometry.ShapeKind

const (
	Block    = geometry.Block
	Ball     = geometry.Ball
	Cylinder = geometry.Cylinder
	Wedge    = geometry.Wedge
)

// Vector3, Basis, Transform, and Extents mirror the geometry package's
// types so callers work entirely in terms of the public API.
type Vector3 = geometry.Vector3
type Basis = geometry.Basis
type Transform = geometry.Transform
type Extents = geometry.Extents

// IdentityBasis returns the world-aligned, unrotated basis.
func IdentityBasis() Basis { return geometry.IdentityBasis() }

// IdentityTransform returns the world-origin, unrotated transform.
func IdentityTransform() Transform { return geometry.Identity() }

// Zone is a closed convex volume tracked by the engine: a shape tag,
// a rigid transform, per-axis extents, and a precomputed world AABB.
// Static zones (isDynamic == false) never mutate after creation; their
// AABB is immutable for the zone's lifetime.
type Zone struct {
	id         ZoneID
	kind       ShapeKind
	transform  Transform
	extents    Extents
	isDynamic  bool
	aabb       geometry.AABB
	metadata   any
	observers  map[ObserverID]struct{}
	destroyed  bool
}

// ZoneOptions configures Zone construction: its transform, extents,
// shape, dynamic/static kind, metadata, and initial observer set.
type ZoneOptions struct {
	Transform Transform
	Extents   Extents
	Shape     ShapeKind
	IsDynamic bool
	Metadata  any
	Observers []ObserverID
}

func (z *Zone) recomputeAABB() {
	z.aabb = geometry.AABBOf(z.kind, z.transform, z.extents)
}

// containsExact runs the exact convex containment test for z's shape,
// beyond the conservative AABB test the LBVH stab already applied.
func containsExact(z *Zone, p Vector3) bool {
	return geometry.Contains(z.kind, z.transform, z.extents, p)
}

// Metadata returns the arbitrary host value attached at zone creation.
func (h ZoneHandle) Metadata() any {
	if z, ok := h.engine.zoneStore.zone(h.id); ok {
		return z.metadata
	}
	return nil
}

// ZoneHandle is a lightweight accessor bound to one engine and zone
// id, returned by Engine.NewZone. It carries no state of its own so
// copying it is always safe.
type ZoneHandle struct {
	engine *Engine
	id     ZoneID
}

// ID returns the stable identifier backing this handle.
func (h ZoneHandle) ID() ZoneID { return h.id }

// SetPosition relocates a dynamic zone's origin, leaving its
// orientation and extents unchanged. Returns a lifecycle error for
// destroyed zones and an invalid-argument error for static zones or
// non-finite positions.
func (h ZoneHandle) SetPosition(pos Vector3) error {
	return h.engine.setZonePosition(h.id, pos)
}

// SetTransform replaces a dynamic zone's full rigid transform.
func (h ZoneHandle) SetTransform(t Transform) error {
	return h.engine.setZoneTransform(h.id, t)
}

// SetExtents replaces a dynamic zone's extents.
func (h ZoneHandle) SetExtents(e Extents) error {
	return h.engine.setZoneExtents(h.id, e)
}

// Attach subscribes this zone to an observer, making it a candidate
// for that observer's containment queries.
func (h ZoneHandle) Attach(observer ObserverHandle) error {
	return h.engine.attachZoneToObserver(h.id, observer.id)
}

// Destroy removes the zone from its tree, from every observer's
// attachment set, and emits synthetic exits for any entity currently
// recorded inside it.
func (h ZoneHandle) Destroy() error {
	return h.engine.destroyZone(h.id)
}
