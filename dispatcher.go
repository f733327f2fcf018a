package quickzone

// transition records a computed (observer, entity) membership change:
// from the prior winning zone (0 = OUTSIDE) to the new one. Computing
// a transition never invokes a callback; only drain does, so that
// state mutation and callback invocation stay atomic together (an
// entity's INSIDE state always reflects the callbacks that have
// already run for it).
type transition struct {
	observer ObserverID
	entity   EntityID
	group    GroupID
	from     ZoneID
	to       ZoneID
}

// Dispatcher accumulates transitions computed during a tick's
// round-robin phase and fires their callbacks in one drain pass at
// the end of the tick, preserving the order they were pushed: group
// round-robin order, then entity order, then observer priority.
type Dispatcher struct {
	queue     []transition
	highWater int
	logger    Logger
}

func newDispatcher(logger Logger) *Dispatcher {
	return &Dispatcher{logger: logger}
}

func (d *Dispatcher) enqueue(t transition) {
	d.queue = append(d.queue, t)
	if len(d.queue) > d.highWater {
		d.highWater = len(d.queue)
	}
}

// queueLen reports the number of transitions currently pending drain.
func (d *Dispatcher) queueLen() int { return len(d.queue) }

// drain applies every queued transition in order and clears the
// queue. Callback panics are recovered and logged per callback so
// one runaway callback cannot prevent the rest of the drain.
func (d *Dispatcher) drain(e *Engine) {
	for _, t := range d.queue {
		e.applyTransition(t)
	}
	d.queue = d.queue[:0]
}

// applyTransition performs the state update and callback fan-out for
// one transition: fire the exit, advance currentZone, fire the enter.
func (e *Engine) applyTransition(t transition) {
	o := e.observers[t.observer]
	if o == nil {
		return
	}
	g := e.groups[t.group]
	var meta any
	if g != nil {
		if idx, ok := g.indexOf[t.entity]; ok {
			meta = g.metadata[idx]
		}
	}

	if t.from != 0 {
		e.fireExit(o, g, t.entity, t.group, t.from, meta)
	}

	// State advances before the enter callbacks fire, so a callback that
	// reenters the engine (e.g. removing the entity) observes the entity
	// as already inside its new zone rather than in limbo.
	if t.to == 0 {
		delete(o.currentZone, t.entity)
	} else {
		o.currentZone[t.entity] = t.to
	}

	if t.to != 0 {
		e.fireEnter(o, g, t.entity, t.group, t.to, meta)
	}
}

func (e *Engine) fireExit(o *Observer, g *Group, entity EntityID, group GroupID, zone ZoneID, meta any) {
	for _, fn := range o.callbacks.onExited {
		safeInvokeExited(e.logger, fn, entity, zone, meta)
	}
	if g != nil && g.isPlayers {
		for _, fn := range o.callbacks.onPlayerExited {
			safeInvokeExited(e.logger, fn, entity, zone, meta)
		}
	}
	if g != nil && g.isLocalPlayer {
		for _, fn := range o.callbacks.onLocalPlayerExited {
			safeInvokeExited(e.logger, fn, entity, zone, meta)
		}
	}
	if cleanups, ok := o.entityCleanup[entity]; ok {
		for _, c := range cleanups {
			safeRunCleanup(e.logger, c)
		}
		delete(o.entityCleanup, entity)
	}

	key := groupZoneKey{group, zone}
	if _, ok := o.groupCounters[key]; ok {
		o.groupCounters[key]--
		if o.groupCounters[key] <= 0 {
			delete(o.groupCounters, key)
			for _, fn := range o.callbacks.onGroupExited {
				safeInvokeGroupExited(e.logger, fn, group, zone)
			}
			if cleanups, ok := o.groupCleanup[key]; ok {
				for _, c := range cleanups {
					safeRunCleanup(e.logger, c)
				}
				delete(o.groupCleanup, key)
			}
		}
	}
}

func (e *Engine) fireEnter(o *Observer, g *Group, entity EntityID, group GroupID, zone ZoneID, meta any) {
	for _, fn := range o.callbacks.onEntered {
		safeInvokeEntered(e.logger, fn, entity, zone, meta)
	}
	if g != nil && g.isPlayers {
		for _, fn := range o.callbacks.onPlayerEntered {
			safeInvokeEntered(e.logger, fn, entity, zone, meta)
		}
	}
	if g != nil && g.isLocalPlayer {
		for _, fn := range o.callbacks.onLocalPlayerEntered {
			safeInvokeEntered(e.logger, fn, entity, zone, meta)
		}
	}

	for _, fn := range o.callbacks.observers {
		if c := safeInvokeObserve(e.logger, fn, entity, zone, meta); c != nil {
			o.entityCleanup[entity] = append(o.entityCleanup[entity], c)
		}
	}
	if g != nil && g.isPlayers {
		for _, fn := range o.callbacks.playerObservers {
			if c := safeInvokeObserve(e.logger, fn, entity, zone, meta); c != nil {
				o.entityCleanup[entity] = append(o.entityCleanup[entity], c)
			}
		}
	}
	if g != nil && g.isLocalPlayer {
		for _, fn := range o.callbacks.localPlayerObservers {
			if c := safeInvokeObserve(e.logger, fn, entity, zone, meta); c != nil {
				o.entityCleanup[entity] = append(o.entityCleanup[entity], c)
			}
		}
	}

	key := groupZoneKey{group, zone}
	wasZero := o.groupCounters[key] == 0
	o.groupCounters[key]++
	if wasZero {
		for _, fn := range o.callbacks.onGroupEntered {
			safeInvokeGroupEntered(e.logger, fn, group, zone)
		}
		for _, fn := range o.callbacks.groupObservers {
			if c := safeInvokeObserveGroup(e.logger, fn, group, zone); c != nil {
				o.groupCleanup[key] = append(o.groupCleanup[key], c)
			}
		}
	}
}
