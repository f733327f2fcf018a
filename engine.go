// Package quickzone implements a spatial-containment engine: a dual
// LBVH over zone AABBs, four convex containment primitives, a
// frame-budgeted round-robin scheduler, and an observer/dispatcher
// layer that turns per-tick containment queries into enter/exit
// callbacks. See internal/geometry, internal/morton, and internal/bvh
// for the algorithmic layers this package orchestrates.
package quickzone

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/LDGerrits/QuickZone/internal/qzconfig"
)

// EngineStats is a cheap read-only snapshot of engine health, useful
// for host-side instrumentation without needing a metrics dependency.
type EngineStats struct {
	TicksRun                 uint64
	LastTickDuration         time.Duration
	LastStaticTreeRebuilt    bool
	LastDynamicTreeRebuilt   bool
	DispatcherQueueHighWater int
}

// Engine owns every zone, entity, group, and observer, and is the
// sole mutator of the ZoneStore and its two LBVHs. The host drives it
// by calling Tick once per simulation step. GetZonesAtPoint may be
// called from any goroutine (Tick takes an exclusive lock for its
// duration, so concurrent immediate queries block for at most one
// tick); every other method takes no lock and must be called from the
// host thread that drives Tick.
type Engine struct {
	// mu serializes Tick against GetZonesAtPoint. Every other method is
	// meant to be called from the same host thread that drives Tick
	// (including reentrantly, from a callback), so it takes no lock.
	mu sync.RWMutex

	logger Logger
	cfg    qzconfig.EngineConfig

	zoneStore  *ZoneStore
	dispatcher *Dispatcher

	groups      map[GroupID]*Group
	groupOrder  []GroupID
	nextGroupID uint64

	observers        map[ObserverID]*Observer
	observersByGroup map[GroupID][]ObserverID
	nextObserverID   uint64

	entityGroup  map[EntityID]GroupID
	nextEntityID uint64

	playersGroupID     GroupID
	localPlayerGroupID GroupID

	duringTick bool
	pendingOps []func()

	currentTick      uint64
	lastTickTime     time.Time
	haveLastTickTime bool
	clockFunc        func() time.Time

	frameBudget time.Duration
	minDt       float64
	maxDt       float64

	stabScratch  []uint64
	shapeScratch []uint64

	// treesTouchedThisTick is true when either LBVH's AABBs changed
	// this tick, by rebuild or refit. A stationary entity whose
	// distance hasn't crossed its group's precision threshold still
	// needs to re-query when this is set, since a dynamic zone may
	// have moved onto or off of it without the entity itself moving.
	treesTouchedThisTick bool

	sf singleflight.Group

	stats EngineStats
}

// NewEngine constructs an Engine from a parsed qzconfig.EngineConfig.
// Passing a nil logger defaults to one backed by the stdlib "log"
// package. The engine performs no I/O itself; hosts load cfg via
// qzconfig.Load or qzconfig.Default beforehand.
func NewEngine(cfg qzconfig.EngineConfig, logger Logger) *Engine {
	if logger == nil {
		logger = defaultLogger{}
	}
	return &Engine{
		logger:           logger,
		cfg:              cfg,
		zoneStore:        newZoneStore(logger),
		dispatcher:       newDispatcher(logger),
		groups:           make(map[GroupID]*Group),
		observers:        make(map[ObserverID]*Observer),
		observersByGroup: make(map[GroupID][]ObserverID),
		entityGroup:      make(map[EntityID]GroupID),
		clockFunc:        time.Now,
		frameBudget:      cfg.FrameBudget(),
		minDt:            cfg.MinDeltaSeconds,
		maxDt:            cfg.MaxDeltaSeconds,
	}
}

// SetFrameBudget sets the wall-clock budget (in milliseconds) each
// Tick may spend on ZoneStore flush plus round-robin entity
// processing before truncating.
func (e *Engine) SetFrameBudget(milliseconds float64) {
	e.frameBudget = time.Duration(milliseconds * float64(time.Millisecond))
}

// Stats returns the most recent tick's diagnostic snapshot.
func (e *Engine) Stats() EngineStats {
	return e.stats
}

// buffer runs fn immediately unless a tick is in progress, in which
// case fn is queued to run at the start of the next tick, so a host
// mutation issued from inside a callback takes effect the following
// tick rather than corrupting the current round-robin pass.
func (e *Engine) buffer(fn func()) {
	if e.duringTick {
		e.pendingOps = append(e.pendingOps, fn)
		return
	}
	fn()
}

// --- Groups -----------------------------------------------------

// NewGroup creates a new, empty Group with the given scheduling
// parameters.
func (e *Engine) NewGroup(opts GroupOptions) (GroupHandle, error) {
	if opts.UpdateRateHz < 0 {
		return GroupHandle{}, invalidArg("Group.new", errors.New("updateRate must be non-negative"))
	}
	if opts.PrecisionUnits < 0 {
		return GroupHandle{}, invalidArg("Group.new", errors.New("precision must be non-negative"))
	}
	if opts.UpdateRateHz == 0 {
		opts.UpdateRateHz = e.cfg.DefaultGroup.UpdateRateHz
	}
	if opts.PrecisionUnits == 0 {
		opts.PrecisionUnits = e.cfg.DefaultGroup.PrecisionM
	}
	e.nextGroupID++
	id := GroupID(e.nextGroupID)
	e.groups[id] = newGroup(id, opts)
	e.groupOrder = append(e.groupOrder, id)
	return GroupHandle{engine: e, id: id}, nil
}

// PlayersGroup returns the lazily-created group auto-populated from
// the host's player-join/leave notifications (AddPlayer/RemovePlayer).
func (e *Engine) PlayersGroup() GroupHandle {
	if e.playersGroupID == 0 {
		h, _ := e.NewGroup(GroupOptions{})
		e.groups[h.id].isPlayers = true
		e.playersGroupID = h.id
	}
	return GroupHandle{engine: e, id: e.playersGroupID}
}

// LocalPlayerGroup returns the lazily-created group whose entities fire
// the OnLocalPlayer*/ObserveLocalPlayer callbacks. It is an ordinary
// group: it does not limit itself to one entity and does not follow
// respawns; entities join and leave it only through Add and Remove.
func (e *Engine) LocalPlayerGroup() GroupHandle {
	if e.localPlayerGroupID == 0 {
		h, _ := e.NewGroup(GroupOptions{})
		e.groups[h.id].isLocalPlayer = true
		e.localPlayerGroupID = h.id
	}
	return GroupHandle{engine: e, id: e.localPlayerGroupID}
}

// AddPlayer adds handle to the players group. It does not touch the
// local-player group.
func (e *Engine) AddPlayer(handle any, probe PositionProbe, metadata any) (EntityID, error) {
	return e.PlayersGroup().Add(handle, probe, metadata)
}

// RemovePlayer removes an entity previously added via AddPlayer.
func (e *Engine) RemovePlayer(entity EntityID) error {
	return e.PlayersGroup().Remove(entity)
}

var errUnknownGroup = errors.New("unknown group")
var errUnknownEntity = errors.New("unknown entity")

func (e *Engine) addEntity(gid GroupID, handle any, probe PositionProbe, metadata any) (EntityID, error) {
	g, ok := e.groups[gid]
	if !ok {
		return 0, lifecycleErr("Group.add", errUnknownGroup)
	}
	if probe == nil {
		return 0, invalidArg("Group.add", errors.New("position probe must not be nil"))
	}
	e.nextEntityID++
	id := EntityID(e.nextEntityID)
	e.entityGroup[id] = gid
	tick := e.currentTick
	e.buffer(func() { g.add(id, handle, probe, metadata, tick) })
	return id, nil
}

func (e *Engine) removeEntity(gid GroupID, entity EntityID) error {
	g, ok := e.groups[gid]
	if !ok {
		return lifecycleErr("Group.remove", errUnknownGroup)
	}
	if _, ok := g.indexOf[entity]; !ok {
		return lifecycleErr("Group.remove", errUnknownEntity)
	}
	e.synthesizeEntityRemoval(gid, entity)
	e.buffer(func() {
		g.remove(entity)
		delete(e.entityGroup, entity)
	})
	return nil
}

// synthesizeEntityRemoval fires exits for every observer subscribed
// to the entity's group that currently records it INSIDE some zone.
func (e *Engine) synthesizeEntityRemoval(gid GroupID, entity EntityID) {
	g := e.groups[gid]
	for _, oid := range e.observersByGroup[gid] {
		o := e.observers[oid]
		zone, ok := o.currentZone[entity]
		if !ok {
			continue
		}
		var meta any
		if idx, ok := g.indexOf[entity]; ok {
			meta = g.metadata[idx]
		}
		e.fireExit(o, g, entity, gid, zone, meta)
		delete(o.currentZone, entity)
	}
}

// GetGroupOfEntity returns the group an entity currently belongs to.
// Unlike a duck-typed host handle lookup, this takes the engine's own
// EntityID, since arbitrary host handles are not guaranteed
// comparable in Go.
func (e *Engine) GetGroupOfEntity(entity EntityID) (GroupHandle, bool) {
	gid, ok := e.entityGroup[entity]
	if !ok {
		return GroupHandle{}, false
	}
	return GroupHandle{engine: e, id: gid}, true
}

// --- Observers ----------------------------------------------------

// NewObserver creates a new Observer with the given priority: when
// several observers subscribed to the same group react to the same
// entity in the same tick, the higher-priority observer's callbacks
// fire first.
func (e *Engine) NewObserver(priority int) ObserverHandle {
	e.nextObserverID++
	id := ObserverID(e.nextObserverID)
	e.observers[id] = newObserver(id, priority)
	return ObserverHandle{engine: e, id: id}
}

func (e *Engine) withObserver(id ObserverID, fn func(*Observer)) error {
	o, ok := e.observers[id]
	if !ok {
		return lifecycleErr("Observer", errors.New("unknown observer"))
	}
	fn(o)
	return nil
}

func (e *Engine) subscribeObserverToGroup(oid ObserverID, gid GroupID) error {
	o, ok := e.observers[oid]
	if !ok {
		return lifecycleErr("Observer.subscribe", errors.New("unknown observer"))
	}
	if _, ok := e.groups[gid]; !ok {
		return lifecycleErr("Observer.subscribe", errUnknownGroup)
	}
	if _, already := o.subscribedGroups[gid]; already {
		return nil
	}
	o.subscribedGroups[gid] = struct{}{}
	e.observersByGroup[gid] = append(e.observersByGroup[gid], oid)
	e.sortObserversByPriority(gid)
	e.groups[gid].observerCount++
	return nil
}

// sortObserversByPriority keeps a group's observer list ordered by
// descending priority, so processEntity enqueues (and the dispatcher
// then fires) higher-priority observers' transitions first whenever
// several observers react to the same entity in the same tick.
func (e *Engine) sortObserversByPriority(gid GroupID) {
	list := e.observersByGroup[gid]
	sort.SliceStable(list, func(i, j int) bool {
		return e.observers[list[i]].priority > e.observers[list[j]].priority
	})
}

func (e *Engine) attachZoneToObserver(zid ZoneID, oid ObserverID) error {
	z, ok := e.zoneStore.zone(zid)
	if !ok {
		return lifecycleErr("Zone.attach", errZoneDestroyed)
	}
	o, ok := e.observers[oid]
	if !ok {
		return lifecycleErr("Zone.attach", errors.New("unknown observer"))
	}
	z.observers[oid] = struct{}{}
	o.attachedZones[zid] = struct{}{}
	return nil
}

func (e *Engine) setObserverEnabled(oid ObserverID, enabled bool) error {
	o, ok := e.observers[oid]
	if !ok {
		return lifecycleErr("Observer.setEnabled", errors.New("unknown observer"))
	}
	if o.enabled == enabled {
		return nil
	}
	if !enabled {
		for entity, zone := range o.currentZone {
			gid := e.entityGroup[entity]
			g := e.groups[gid]
			var meta any
			if g != nil {
				if idx, ok := g.indexOf[entity]; ok {
					meta = g.metadata[idx]
				}
			}
			e.fireExit(o, g, entity, gid, zone, meta)
			delete(o.currentZone, entity)
		}
	}
	o.enabled = enabled
	return nil
}

// --- Zones ----------------------------------------------------------

// NewZone creates a zone with the given shape, transform, and extents,
// optionally attaching it to a set of observers up front.
func (e *Engine) NewZone(opts ZoneOptions) (ZoneHandle, error) {
	z, err := e.zoneStore.create(opts)
	if err != nil {
		return ZoneHandle{}, err
	}
	for _, oid := range opts.Observers {
		if o, ok := e.observers[oid]; ok {
			z.observers[oid] = struct{}{}
			o.attachedZones[z.id] = struct{}{}
		}
	}
	return ZoneHandle{engine: e, id: z.id}, nil
}

// PartAdapter lets a host-specific object stand in for the geometric
// source of a Zone: anything that can report a transform, extents, and
// shape kind can seed one, without QuickZone depending on any
// particular scene-graph type.
type PartAdapter interface {
	PartTransform() Transform
	PartExtents() Extents
	PartShape() ShapeKind
}

// NewZoneFromPart derives a zone's transform, extents, and shape from
// part.
func (e *Engine) NewZoneFromPart(part PartAdapter, isDynamic bool, metadata any, observers ...ObserverHandle) (ZoneHandle, error) {
	ids := make([]ObserverID, len(observers))
	for i, o := range observers {
		ids[i] = o.id
	}
	return e.NewZone(ZoneOptions{
		Transform: part.PartTransform(),
		Extents:   part.PartExtents(),
		Shape:     part.PartShape(),
		IsDynamic: isDynamic,
		Metadata:  metadata,
		Observers: ids,
	})
}

// NewZonesFromParts is NewZoneFromPart applied to each of parts,
// stopping at the first error.
func (e *Engine) NewZonesFromParts(parts []PartAdapter, isDynamic bool, metadata any, observers ...ObserverHandle) ([]ZoneHandle, error) {
	out := make([]ZoneHandle, 0, len(parts))
	for _, p := range parts {
		h, err := e.NewZoneFromPart(p, isDynamic, metadata, observers...)
		if err != nil {
			return out, err
		}
		out = append(out, h)
	}
	return out, nil
}

func (e *Engine) setZonePosition(id ZoneID, pos Vector3) error {
	z, ok := e.zoneStore.zone(id)
	if !ok {
		return lifecycleErr("Zone.setPosition", errZoneDestroyed)
	}
	t := z.transform
	t.Origin = pos
	return e.zoneStore.mutate(id, &t, nil)
}

func (e *Engine) setZoneTransform(id ZoneID, t Transform) error {
	return e.zoneStore.mutate(id, &t, nil)
}

func (e *Engine) setZoneExtents(id ZoneID, ext Extents) error {
	return e.zoneStore.mutate(id, nil, &ext)
}

// SyncToPart re-derives a dynamic zone's transform and extents from
// part.
func (h ZoneHandle) SyncToPart(part PartAdapter) error {
	t := part.PartTransform()
	e := part.PartExtents()
	return h.engine.zoneStore.mutate(h.id, &t, &e)
}

func (e *Engine) destroyZone(id ZoneID) error {
	z, err := e.zoneStore.destroy(id)
	if err != nil {
		return err
	}
	for oid := range z.observers {
		if o, ok := e.observers[oid]; ok {
			delete(o.attachedZones, id)
		}
	}
	return nil
}

// onZoneRemoved is called by ZoneStore.flush, before the owning tree
// action runs, for each zone that reached the removed set this tick.
func (e *Engine) onZoneRemoved(z *Zone) {
	for oid := range z.observers {
		o, ok := e.observers[oid]
		if !ok {
			continue
		}
		for entity, zid := range o.currentZone {
			if zid != z.id {
				continue
			}
			gid := e.entityGroup[entity]
			g := e.groups[gid]
			var meta any
			if g != nil {
				if idx, ok := g.indexOf[entity]; ok {
					meta = g.metadata[idx]
				}
			}
			e.fireExit(o, g, entity, gid, zid, meta)
			delete(o.currentZone, entity)
		}
	}
}

// GetZonesAtPoint runs a fresh stabbing query against both trees and
// filters to zones whose exact shape contains p. It does not interact
// with scheduling state, so it is safe to call from any goroutine
// including concurrently with Tick (it blocks for at most one tick).
// Concurrent calls for the same point are collapsed via singleflight.
func (e *Engine) GetZonesAtPoint(p Vector3) []ZoneHandle {
	key := fmt.Sprintf("%.9g,%.9g,%.9g", p.X, p.Y, p.Z)
	v, _, _ := e.sf.Do(key, func() (any, error) {
		e.mu.RLock()
		defer e.mu.RUnlock()
		candidates := e.zoneStore.stab(p, nil)
		out := make([]ZoneHandle, 0, len(candidates))
		for _, c := range candidates {
			zid := ZoneID(c)
			z, ok := e.zoneStore.zone(zid)
			if !ok {
				continue
			}
			if containsExact(z, p) {
				out = append(out, ZoneHandle{engine: e, id: zid})
			}
		}
		return out, nil
	})
	return v.([]ZoneHandle)
}
