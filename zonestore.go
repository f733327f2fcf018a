package quickzone

import (
	"encoding/binary"
	"errors"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/LDGerrits/QuickZone/internal/bvh"
	"github.com/LDGerrits/QuickZone/internal/geometry"
)

// dirtySet tracks the three disjoint per-tree change categories:
// inserted, mutated, removed. Flushed once per tick before scheduling.
type dirtySet struct {
	inserted map[ZoneID]struct{}
	mutated  map[ZoneID]struct{}
	removed  map[ZoneID]struct{}
}

func newDirtySet() dirtySet {
	return dirtySet{
		inserted: make(map[ZoneID]struct{}),
		mutated:  make(map[ZoneID]struct{}),
		removed:  make(map[ZoneID]struct{}),
	}
}

func (d *dirtySet) empty() bool {
	return len(d.inserted) == 0 && len(d.mutated) == 0 && len(d.removed) == 0
}

func (d *dirtySet) clear() {
	for k := range d.inserted {
		delete(d.inserted, k)
	}
	for k := range d.mutated {
		delete(d.mutated, k)
	}
	for k := range d.removed {
		delete(d.removed, k)
	}
}

// ZoneStore owns every Zone and the two LBVHs (static, dynamic) their
// AABBs live in, along with the per-tree dirty sets that drive the
// rebuild-vs-refit decision at the start of each tick.
type ZoneStore struct {
	zones  map[ZoneID]*Zone
	nextID uint64

	staticTree  *bvh.Tree
	dynamicTree *bvh.Tree
	staticDirty  dirtySet
	dynamicDirty dirtySet

	staticRebuiltThisTick  bool
	dynamicRebuiltThisTick bool

	// staticTouchedThisTick/dynamicTouchedThisTick report whether the
	// tree's AABBs changed at all this tick, whether by a full rebuild
	// or an in-place refit. Static zones never refit, so its touched
	// flag always matches its rebuilt flag; a dynamic zone that moves
	// via refit alone still needs this so a stationary neighbor entity
	// re-queries instead of trusting its stale containment result.
	staticTouchedThisTick  bool
	dynamicTouchedThisTick bool

	logger Logger
}

func newZoneStore(logger Logger) *ZoneStore {
	return &ZoneStore{
		zones:        make(map[ZoneID]*Zone),
		staticTree:   bvh.NewTree(),
		dynamicTree:  bvh.NewTree(),
		staticDirty:  newDirtySet(),
		dynamicDirty: newDirtySet(),
		logger:       logger,
	}
}

var errUnknownShape = errors.New("unknown shape kind")
var errNonFiniteVector = errors.New("non-finite vector component")
var errZoneDestroyed = errors.New("zone already destroyed")
var errStaticZoneMutation = errors.New("cannot mutate a static zone")

func validExtents(e Extents) bool {
	v := geometry.Vector3{X: e.X, Y: e.Y, Z: e.Z}
	return v.IsFinite() && e.X >= 0 && e.Y >= 0 && e.Z >= 0
}

func validShape(k ShapeKind) bool {
	switch k {
	case Block, Ball, Cylinder, Wedge:
		return true
	default:
		return false
	}
}

// create validates opts, assigns a monotonic id, computes the initial
// AABB, and places the zone in its tree's inserted set.
func (s *ZoneStore) create(opts ZoneOptions) (*Zone, error) {
	if !validShape(opts.Shape) {
		return nil, invalidArg("Zone.new", errUnknownShape)
	}
	if !opts.Transform.Origin.IsFinite() {
		return nil, invalidArg("Zone.new", errNonFiniteVector)
	}
	if !validExtents(opts.Extents) {
		return nil, invalidArg("Zone.new", errNonFiniteVector)
	}

	s.nextID++
	id := ZoneID(s.nextID)
	z := &Zone{
		id:        id,
		kind:      opts.Shape,
		transform: opts.Transform,
		extents:   opts.Extents,
		isDynamic: opts.IsDynamic,
		metadata:  opts.Metadata,
		observers: make(map[ObserverID]struct{}),
	}
	z.recomputeAABB()
	s.zones[id] = z

	ds := s.dirtySetFor(opts.IsDynamic)
	ds.inserted[id] = struct{}{}
	return z, nil
}

func (s *ZoneStore) dirtySetFor(isDynamic bool) *dirtySet {
	if isDynamic {
		return &s.dynamicDirty
	}
	return &s.staticDirty
}

func (s *ZoneStore) treeFor(isDynamic bool) *bvh.Tree {
	if isDynamic {
		return s.dynamicTree
	}
	return s.staticTree
}

// mutate updates a dynamic zone's transform and/or extents in place
// and marks it dirty for the next flush, unless it was inserted this
// same tick (in which case the insert will already build with the
// latest values, so marking mutated too would be redundant work).
func (s *ZoneStore) mutate(id ZoneID, transform *Transform, extents *Extents) error {
	z, ok := s.zones[id]
	if !ok || z.destroyed {
		return lifecycleErr("Zone.setPosition", errZoneDestroyed)
	}
	if !z.isDynamic {
		return invalidArg("Zone.setPosition", errStaticZoneMutation)
	}
	if transform != nil {
		if !transform.Origin.IsFinite() {
			return invalidArg("Zone.setPosition", errNonFiniteVector)
		}
		z.transform = *transform
	}
	if extents != nil {
		if !validExtents(*extents) {
			return invalidArg("Zone.setExtents", errNonFiniteVector)
		}
		z.extents = *extents
	}
	z.recomputeAABB()

	ds := s.dirtySetFor(true)
	if _, alreadyInserted := ds.inserted[id]; !alreadyInserted {
		ds.mutated[id] = struct{}{}
	}
	return nil
}

// destroy marks a zone destroyed and schedules its removal from its
// tree. The Zone record itself is retained until the next flush so
// synthetic-exit dispatch can still see its attachment set.
func (s *ZoneStore) destroy(id ZoneID) (*Zone, error) {
	z, ok := s.zones[id]
	if !ok || z.destroyed {
		return nil, lifecycleErr("Zone.destroy", errZoneDestroyed)
	}
	z.destroyed = true

	ds := s.dirtySetFor(z.isDynamic)
	if _, wasInserted := ds.inserted[id]; wasInserted {
		delete(ds.inserted, id)
		delete(s.zones, id) // never made it into a built tree; nothing to remove there
	} else {
		delete(ds.mutated, id)
		ds.removed[id] = struct{}{}
	}
	return z, nil
}

// flush runs the pre-tick rebuild/refit decision for both trees.
// Zones queued for removal are reported via onRemoved before their
// tree action runs, so the caller can synthesize exits before
// subsequent queries stop matching them.
func (s *ZoneStore) flush(onRemoved func(*Zone)) {
	s.staticRebuiltThisTick, s.staticTouchedThisTick = s.flushTree(false, onRemoved)
	s.dynamicRebuiltThisTick, s.dynamicTouchedThisTick = s.flushTree(true, onRemoved)
}

func (s *ZoneStore) flushTree(isDynamic bool, onRemoved func(*Zone)) (rebuilt, touched bool) {
	ds := s.dirtySetFor(isDynamic)
	if ds.empty() {
		return false, false
	}
	tree := s.treeFor(isDynamic)

	for id := range ds.removed {
		z := s.zones[id]
		if z != nil {
			onRemoved(z)
		}
		delete(s.zones, id)
	}

	setUnchanged := len(ds.inserted) == 0 && len(ds.removed) == 0
	if setUnchanged && bvh.ShouldRefit(tree.Len(), len(ds.mutated), true) {
		newBoxes := make(map[uint64]geometry.AABB, len(ds.mutated))
		for id := range ds.mutated {
			if z := s.zones[id]; z != nil {
				newBoxes[uint64(id)] = z.aabb
			}
		}
		tree.Refit(newBoxes)
		ds.clear()
		return false, true
	}

	ids := make([]uint64, 0, len(s.zones))
	for id, z := range s.zones {
		if z.isDynamic != isDynamic || z.destroyed {
			continue
		}
		ids = append(ids, uint64(id))
	}
	// Map iteration order is randomized per run; sort by zone id before
	// building so the radix sort's tie-breaking (insertion order) is
	// reproducible across rebuilds of the same zone set, rather than
	// depending on Go's map iteration.
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	leaves := make([]bvh.Leaf, 0, len(ids))
	for _, id := range ids {
		leaves = append(leaves, bvh.Leaf{ZoneID: id, Box: s.zones[ZoneID(id)].aabb})
	}
	tree.Build(leaves)
	ds.clear()

	h := xxhash.New()
	buf := make([]byte, 8)
	for _, id := range ids {
		binary.LittleEndian.PutUint64(buf, id)
		h.Write(buf)
	}
	which := "static"
	if isDynamic {
		which = "dynamic"
	}
	s.logger.Printf("quickzone: rebuilt %s tree, %d zones, fingerprint=%x", which, len(leaves), h.Sum64())
	return true, true
}

// stab queries both trees for zones whose AABB contains p. Callers
// still need to run the exact shape test themselves, since a hit here
// is only conservative containment.
func (s *ZoneStore) stab(p Vector3, buf []uint64) []uint64 {
	buf = s.staticTree.Stab(p, buf[:0])
	buf = s.dynamicTree.Stab(p, buf)
	return buf
}

func (s *ZoneStore) zone(id ZoneID) (*Zone, bool) {
	z, ok := s.zones[id]
	if !ok || z.destroyed {
		return nil, false
	}
	return z, true
}
