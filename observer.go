package quickzone

// ObserverID stably identifies an observer.
type ObserverID uint64

// groupZoneKey indexes the per-(observer,group,zone) reference
// counters and cleanup closures backing the group-level callbacks.
type groupZoneKey struct {
	group GroupID
	zone  ZoneID
}

// Observer binds a set of groups to a set of zones and carries the
// enter/exit callbacks fired as entities cross zone boundaries. Its
// priority only affects the order observers are serviced relative to
// each other; within a single observer, candidate zones are ranked
// purely by ascending zone id.
type Observer struct {
	id       ObserverID
	priority int
	enabled  bool

	subscribedGroups map[GroupID]struct{}
	attachedZones    map[ZoneID]struct{}

	callbacks callbackRegistry

	// currentZone holds, for entities currently INSIDE some attached
	// zone under this observer, the winning zone id. Absence means
	// OUTSIDE.
	currentZone map[EntityID]ZoneID
	// entityCleanup holds the pending cleanup closures returned by
	// Observe callbacks for entities currently INSIDE (one slot per
	// registered Observe callback that returned non-nil).
	entityCleanup map[EntityID][]CleanupFunc

	groupCounters map[groupZoneKey]int
	groupCleanup  map[groupZoneKey][]CleanupFunc
}

func newObserver(id ObserverID, priority int) *Observer {
	return &Observer{
		id:               id,
		priority:         priority,
		enabled:          true,
		subscribedGroups: make(map[GroupID]struct{}),
		attachedZones:    make(map[ZoneID]struct{}),
		currentZone:      make(map[EntityID]ZoneID),
		entityCleanup:    make(map[EntityID][]CleanupFunc),
		groupCounters:    make(map[groupZoneKey]int),
		groupCleanup:     make(map[groupZoneKey][]CleanupFunc),
	}
}

// winner picks, among the zones in candidates that are attached to
// this observer, the one with the smallest ZoneID. Returns (0, false)
// if none of candidates are attached.
func (o *Observer) winner(candidates []uint64) (ZoneID, bool) {
	found := false
	var best ZoneID
	for _, c := range candidates {
		zid := ZoneID(c)
		if _, attached := o.attachedZones[zid]; !attached {
			continue
		}
		if !found || zid < best {
			best = zid
			found = true
		}
	}
	return best, found
}

// ObserverHandle is a lightweight accessor bound to one engine and
// observer id, returned by Engine.NewObserver.
type ObserverHandle struct {
	engine *Engine
	id     ObserverID
}

// ID returns the stable identifier backing this handle.
func (h ObserverHandle) ID() ObserverID { return h.id }

// Subscribe adds a group to this observer's subscription set, so the
// observer is consulted for every entity in that group each time it
// is scheduled.
func (h ObserverHandle) Subscribe(group GroupHandle) error {
	return h.engine.subscribeObserverToGroup(h.id, group.id)
}

// SetEnabled toggles the observer. Disabling synthesizes exits for
// every currently-INSIDE pair; re-enabling starts from OUTSIDE and
// lets the next tick naturally re-enter.
func (h ObserverHandle) SetEnabled(enabled bool) error {
	return h.engine.setObserverEnabled(h.id, enabled)
}

// OnEntered registers a callback fired when an entity becomes this
// observer's winning occupant of a zone.
func (h ObserverHandle) OnEntered(fn EnteredFunc) error {
	return h.engine.withObserver(h.id, func(o *Observer) { o.callbacks.onEntered = append(o.callbacks.onEntered, fn) })
}

// OnExited registers a callback fired when an entity stops being this
// observer's winning occupant of a zone it previously entered.
func (h ObserverHandle) OnExited(fn ExitedFunc) error {
	return h.engine.withObserver(h.id, func(o *Observer) { o.callbacks.onExited = append(o.callbacks.onExited, fn) })
}

// OnGroupEntered registers a callback fired on a (group, zone)
// reference count's 0->1 transition.
func (h ObserverHandle) OnGroupEntered(fn GroupEnteredFunc) error {
	return h.engine.withObserver(h.id, func(o *Observer) { o.callbacks.onGroupEntered = append(o.callbacks.onGroupEntered, fn) })
}

// OnGroupExited registers a callback fired on the matching 1->0
// transition.
func (h ObserverHandle) OnGroupExited(fn GroupExitedFunc) error {
	return h.engine.withObserver(h.id, func(o *Observer) { o.callbacks.onGroupExited = append(o.callbacks.onGroupExited, fn) })
}

// OnPlayerEntered/OnPlayerExited fire only for entities belonging to
// the engine's players group (see Engine.PlayersGroup).
func (h ObserverHandle) OnPlayerEntered(fn EnteredFunc) error {
	return h.engine.withObserver(h.id, func(o *Observer) { o.callbacks.onPlayerEntered = append(o.callbacks.onPlayerEntered, fn) })
}

func (h ObserverHandle) OnPlayerExited(fn ExitedFunc) error {
	return h.engine.withObserver(h.id, func(o *Observer) { o.callbacks.onPlayerExited = append(o.callbacks.onPlayerExited, fn) })
}

// OnLocalPlayerEntered/OnLocalPlayerExited fire only for the entity in
// the engine's local-player group (see Engine.LocalPlayerGroup).
func (h ObserverHandle) OnLocalPlayerEntered(fn EnteredFunc) error {
	return h.engine.withObserver(h.id, func(o *Observer) { o.callbacks.onLocalPlayerEntered = append(o.callbacks.onLocalPlayerEntered, fn) })
}

func (h ObserverHandle) OnLocalPlayerExited(fn ExitedFunc) error {
	return h.engine.withObserver(h.id, func(o *Observer) { o.callbacks.onLocalPlayerExited = append(o.callbacks.onLocalPlayerExited, fn) })
}

// Observe registers a lifecycle-style callback: fn runs on enter and
// may return a CleanupFunc that runs exactly once, at the matching
// exit, and never after this observer/entity/zone is destroyed.
func (h ObserverHandle) Observe(fn ObserveFunc) error {
	return h.engine.withObserver(h.id, func(o *Observer) { o.callbacks.observers = append(o.callbacks.observers, fn) })
}

// ObserveGroup is Observe's group-level counterpart.
func (h ObserverHandle) ObserveGroup(fn ObserveGroupFunc) error {
	return h.engine.withObserver(h.id, func(o *Observer) { o.callbacks.groupObservers = append(o.callbacks.groupObservers, fn) })
}

// ObservePlayer is Observe restricted to the players group.
func (h ObserverHandle) ObservePlayer(fn ObserveFunc) error {
	return h.engine.withObserver(h.id, func(o *Observer) { o.callbacks.playerObservers = append(o.callbacks.playerObservers, fn) })
}

// ObserveLocalPlayer is Observe restricted to the local-player group.
func (h ObserverHandle) ObserveLocalPlayer(fn ObserveFunc) error {
	return h.engine.withObserver(h.id, func(o *Observer) { o.callbacks.localPlayerObservers = append(o.callbacks.localPlayerObservers, fn) })
}
