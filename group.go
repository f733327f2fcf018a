package quickzone

import "math"

// GroupID stably identifies a group.
type GroupID uint64

// GroupOptions configures Group construction: its scheduling rate and
// movement-threshold precision.
type GroupOptions struct {
	// UpdateRateHz is R: queries per entity per second. Defaults to 30
	// when zero.
	UpdateRateHz float64
	// PrecisionUnits is the movement-threshold p in world units.
	// Defaults to 0 (never skip) when zero.
	PrecisionUnits float64
}

// Group is a homogeneous collection of entities sharing scheduling
// parameters, stored as a struct-of-arrays with no holes: removal is
// always swap-with-last, and a parallel id->index map gives O(1)
// random-access removal.
type Group struct {
	id           GroupID
	updateRateHz float64
	precisionSq  float64

	ids      []EntityID
	handles  []any
	probes   []PositionProbe
	lastPos  []Vector3
	lastTick []uint64
	metadata []any
	queried  []bool // has this entity ever been queried? guards the movement filter's first tick

	indexOf map[EntityID]int
	cursor  int

	observerCount int

	// isPlayers/isLocalPlayer mark this group as one of the two
	// specialized auto-populated groups, so onPlayerEntered/
	// onLocalPlayerEntered can filter on group identity.
	isPlayers     bool
	isLocalPlayer bool
}

func newGroup(id GroupID, opts GroupOptions) *Group {
	rate := opts.UpdateRateHz
	if rate == 0 {
		rate = 30
	}
	precision := opts.PrecisionUnits
	return &Group{
		id:           id,
		updateRateHz: rate,
		precisionSq:  precision * precision,
		indexOf:      make(map[EntityID]int),
	}
}

func (g *Group) count() int { return len(g.ids) }

func (g *Group) add(id EntityID, handle any, probe PositionProbe, metadata any, tick uint64) {
	idx := len(g.ids)
	g.ids = append(g.ids, id)
	g.handles = append(g.handles, handle)
	g.probes = append(g.probes, probe)
	g.lastPos = append(g.lastPos, probe())
	g.lastTick = append(g.lastTick, tick)
	g.metadata = append(g.metadata, metadata)
	g.queried = append(g.queried, false)
	g.indexOf[id] = idx
}

// remove swaps the target entity with the last slot and truncates,
// keeping the array hole-free. Reports whether the id was present.
func (g *Group) remove(id EntityID) bool {
	idx, ok := g.indexOf[id]
	if !ok {
		return false
	}
	last := len(g.ids) - 1
	if idx != last {
		g.ids[idx] = g.ids[last]
		g.handles[idx] = g.handles[last]
		g.probes[idx] = g.probes[last]
		g.lastPos[idx] = g.lastPos[last]
		g.lastTick[idx] = g.lastTick[last]
		g.metadata[idx] = g.metadata[last]
		g.queried[idx] = g.queried[last]
		g.indexOf[g.ids[idx]] = idx
	}
	g.ids = g.ids[:last]
	g.handles = g.handles[:last]
	g.probes = g.probes[:last]
	g.lastPos = g.lastPos[:last]
	g.lastTick = g.lastTick[:last]
	g.metadata = g.metadata[:last]
	g.queried = g.queried[:last]
	delete(g.indexOf, id)
	// last is the post-truncation length; the valid range after
	// truncation is [0, last-1], so a cursor sitting at or past last
	// (including exactly at it) is now out of range and must reset.
	if g.cursor >= last {
		g.cursor = 0
	}
	return true
}

// quota computes ceil(count * R * dt) for this group, with dt already
// clamped by the caller.
func (g *Group) quota(dt float64) int {
	if g.count() == 0 {
		return 0
	}
	q := math.Ceil(float64(g.count()) * g.updateRateHz * dt)
	if q < 0 {
		q = 0
	}
	if int(q) > g.count() {
		return g.count()
	}
	return int(q)
}

// nextIndex returns the entity slot the round-robin cursor currently
// points at and advances the cursor modulo count.
func (g *Group) nextIndex() int {
	idx := g.cursor
	g.cursor = (g.cursor + 1) % g.count()
	return idx
}

// GroupHandle is a lightweight accessor bound to one engine and group
// id, returned by Engine.NewGroup.
type GroupHandle struct {
	engine *Engine
	id     GroupID
}

// ID returns the stable identifier backing this handle.
func (h GroupHandle) ID() GroupID { return h.id }

// Add registers a new entity in the group with the given host handle,
// position probe, and optional metadata, returning its assigned id.
func (h GroupHandle) Add(handle any, probe PositionProbe, metadata any) (EntityID, error) {
	return h.engine.addEntity(h.id, handle, probe, metadata)
}

// AddBulk adds several entities at once, stopping at the first error.
func (h GroupHandle) AddBulk(entries []NewEntity) ([]EntityID, error) {
	ids := make([]EntityID, 0, len(entries))
	for _, e := range entries {
		id, err := h.Add(e.Handle, e.Probe, e.Metadata)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Remove drops an entity from the group, synthesizing exits for every
// observer that currently records it inside any zone.
func (h GroupHandle) Remove(entity EntityID) error {
	return h.engine.removeEntity(h.id, entity)
}

// RemoveBulk removes several entities, continuing past individual
// not-found errors and returning the first one encountered (if any).
func (h GroupHandle) RemoveBulk(entities []EntityID) error {
	var firstErr error
	for _, e := range entities {
		if err := h.Remove(e); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NewEntity bundles the arguments to a bulk Add call.
type NewEntity struct {
	Handle   any
	Probe    PositionProbe
	Metadata any
}
