package quickzone

import "time"

// Tick advances the engine by one simulation step: flushes pending
// zone mutations into the two LBVHs, computes each group's
// round-robin quota for the elapsed time, walks entities across
// groups in round-robin order applying the movement-threshold filter,
// resolves each subscribed observer's winning zone, and finally
// drains the resulting enter/exit transitions through their
// callbacks.
//
// Tick is not safe to call concurrently with itself; GetZonesAtPoint
// may be called from any goroutine and blocks for at most one tick.
func (e *Engine) Tick() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t0 := e.clockFunc()
	e.currentTick++

	pending := e.pendingOps
	e.pendingOps = nil
	for _, op := range pending {
		op()
	}

	var dt float64
	if e.haveLastTickTime {
		dt = t0.Sub(e.lastTickTime).Seconds()
	} else {
		dt = e.minDt
	}
	e.lastTickTime = t0
	e.haveLastTickTime = true
	dt = clampDt(dt, e.minDt, e.maxDt)

	e.zoneStore.flush(e.onZoneRemoved)
	e.stats.LastStaticTreeRebuilt = e.zoneStore.staticRebuiltThisTick
	e.stats.LastDynamicTreeRebuilt = e.zoneStore.dynamicRebuiltThisTick
	e.treesTouchedThisTick = e.zoneStore.staticTouchedThisTick || e.zoneStore.dynamicTouchedThisTick

	e.duringTick = true
	if e.clockFunc().Sub(t0) < e.frameBudget {
		e.runRoundRobin(dt, t0)
	}
	e.dispatcher.drain(e)
	e.duringTick = false

	e.stats.TicksRun++
	e.stats.LastTickDuration = e.clockFunc().Sub(t0)
	e.stats.DispatcherQueueHighWater = e.dispatcher.highWater

	return nil
}

func clampDt(dt, min, max float64) float64 {
	if dt < min {
		return min
	}
	if dt > max {
		return max
	}
	return dt
}

// runRoundRobin visits groups round-robin, servicing one entity per
// active group per step, until every group's quota for this tick is
// exhausted or the frame budget is spent.
func (e *Engine) runRoundRobin(dt float64, t0 time.Time) {
	type slot struct {
		gid   GroupID
		quota int
	}
	active := make([]slot, 0, len(e.groupOrder))
	for _, gid := range e.groupOrder {
		g := e.groups[gid]
		if g == nil || g.count() == 0 || len(e.observersByGroup[gid]) == 0 {
			continue
		}
		q := g.quota(dt)
		if q > 0 {
			active = append(active, slot{gid, q})
		}
	}

	i := 0
	sinceCheck := 0
	for len(active) > 0 {
		s := active[i%len(active)]
		g := e.groups[s.gid]
		idx := g.nextIndex()
		e.processEntity(g, s.gid, idx)

		s.quota--
		if s.quota == 0 {
			active[i%len(active)] = active[len(active)-1]
			active = active[:len(active)-1]
		} else {
			active[i%len(active)] = s
			i++
		}

		sinceCheck++
		if sinceCheck >= budgetCheckInterval {
			sinceCheck = 0
			if e.clockFunc().Sub(t0) >= e.frameBudget {
				return
			}
		}
	}
}

// budgetCheckInterval amortizes the cost of reading the clock across
// several entities rather than after every single one. This trades
// strict per-entity budget enforcement for lower overhead: a tick can
// overshoot frameBudget by up to budgetCheckInterval-1 entity-probes.
const budgetCheckInterval = 64

// processEntity runs the movement-threshold filter for one entity and,
// if it queries, resolves every subscribed observer's winning zone
// and enqueues any resulting transition.
func (e *Engine) processEntity(g *Group, gid GroupID, idx int) {
	pos := g.probes[idx]()
	if g.queried[idx] && g.precisionSq > 0 && !e.treesTouchedThisTick {
		if pos.DistSq(g.lastPos[idx]) < g.precisionSq {
			return
		}
	}
	g.lastPos[idx] = pos
	g.queried[idx] = true

	entity := g.ids[idx]
	candidates := e.zoneStore.stab(pos, e.stabScratch)
	e.stabScratch = candidates

	shapeMatched := e.shapeScratch[:0]
	for _, c := range candidates {
		zid := ZoneID(c)
		z, ok := e.zoneStore.zone(zid)
		if !ok {
			continue
		}
		if containsExact(z, pos) {
			shapeMatched = append(shapeMatched, c)
		}
	}
	e.shapeScratch = shapeMatched

	for _, oid := range e.observersByGroup[gid] {
		o := e.observers[oid]
		if o == nil || !o.enabled {
			continue
		}
		winner, ok := o.winner(shapeMatched)
		from := o.currentZone[entity]
		var to ZoneID
		if ok {
			to = winner
		}
		if from == to {
			continue
		}
		e.dispatcher.enqueue(transition{
			observer: oid,
			entity:   entity,
			group:    gid,
			from:     from,
			to:       to,
		})
	}
}
