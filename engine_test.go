package quickzone

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LDGerrits/QuickZone/internal/qzconfig"
)

func newManualClockEngine(t *testing.T, cfg qzconfig.EngineConfig) (*Engine, *time.Time) {
	t.Helper()
	e := NewEngine(cfg, nil)
	now := time.Unix(0, 0)
	e.clockFunc = func() time.Time { return now }
	return e, &now
}

// TestBlockContainmentStatic covers the simplest end-to-end scenario:
// a stationary entity inside a static Block zone fires exactly one
// onEntered.
func TestBlockContainmentStatic(t *testing.T) {
	e, now := newManualClockEngine(t, qzconfig.Default())

	zone, err := e.NewZone(blockZoneOptions(Vector3{}, Vector3{X: 10, Y: 10, Z: 10}, false))
	require.NoError(t, err)

	group, err := e.NewGroup(GroupOptions{UpdateRateHz: 1000})
	require.NoError(t, err)
	observer := e.NewObserver(0)
	require.NoError(t, observer.Subscribe(group))
	require.NoError(t, zone.Attach(observer))

	var entered []ZoneID
	require.NoError(t, observer.OnEntered(func(entity EntityID, z ZoneID, meta any) {
		entered = append(entered, z)
	}))

	_, err = group.Add("player", StaticPositionProbe(Vector3{X: 1, Y: 1, Z: 1}), nil)
	require.NoError(t, err)

	*now = now.Add(100 * time.Millisecond)
	require.NoError(t, e.Tick())
	*now = now.Add(100 * time.Millisecond)
	require.NoError(t, e.Tick())

	assert.Equal(t, []ZoneID{zone.ID()}, entered)
}

// TestWinnerAmongOverlappingZonesIsSmallestZoneID covers scenario 2:
// with two overlapping zones attached to one observer, the winner is
// always the smaller zone id, regardless of insertion order.
func TestWinnerAmongOverlappingZonesIsSmallestZoneID(t *testing.T) {
	e, now := newManualClockEngine(t, qzconfig.Default())

	outer, err := e.NewZone(blockZoneOptions(Vector3{}, Vector3{X: 20, Y: 20, Z: 20}, false))
	require.NoError(t, err)
	inner, err := e.NewZone(blockZoneOptions(Vector3{}, Vector3{X: 4, Y: 4, Z: 4}, false))
	require.NoError(t, err)
	require.Less(t, uint64(outer.ID()), uint64(inner.ID()))

	group, err := e.NewGroup(GroupOptions{UpdateRateHz: 1000})
	require.NoError(t, err)
	observer := e.NewObserver(0)
	require.NoError(t, observer.Subscribe(group))
	require.NoError(t, outer.Attach(observer))
	require.NoError(t, inner.Attach(observer))

	var lastEntered ZoneID
	require.NoError(t, observer.OnEntered(func(entity EntityID, z ZoneID, meta any) { lastEntered = z }))

	_, err = group.Add("p", StaticPositionProbe(Vector3{}), nil)
	require.NoError(t, err)

	*now = now.Add(100 * time.Millisecond)
	require.NoError(t, e.Tick())

	assert.Equal(t, outer.ID(), lastEntered)
}

// TestMovementFilterSkipsStationaryEntities covers scenario 3: a group
// with a nonzero precision skips re-querying an entity that hasn't
// moved past the threshold, but still queries it once on its first
// scheduled tick.
func TestMovementFilterSkipsStationaryEntities(t *testing.T) {
	e, now := newManualClockEngine(t, qzconfig.Default())

	zone, err := e.NewZone(blockZoneOptions(Vector3{}, Vector3{X: 10, Y: 10, Z: 10}, false))
	require.NoError(t, err)
	group, err := e.NewGroup(GroupOptions{UpdateRateHz: 1000, PrecisionUnits: 5})
	require.NoError(t, err)
	observer := e.NewObserver(0)
	require.NoError(t, observer.Subscribe(group))
	require.NoError(t, zone.Attach(observer))

	queries := 0
	require.NoError(t, observer.OnEntered(func(entity EntityID, z ZoneID, meta any) { queries++ }))

	pos := Vector3{X: 1}
	_, err = group.Add("p", ProbeFunc(func() Vector3 { return pos }), nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		*now = now.Add(10 * time.Millisecond)
		require.NoError(t, e.Tick())
	}
	assert.Equal(t, 1, queries, "onEntered should fire exactly once while stationary")
}

// TestDynamicZoneRefitTracksMovingZone covers scenario 4: a dynamic
// zone that moves away from a stationary entity produces an exit.
func TestDynamicZoneRefitTracksMovingZone(t *testing.T) {
	e, now := newManualClockEngine(t, qzconfig.Default())

	zone, err := e.NewZone(blockZoneOptions(Vector3{}, Vector3{X: 4, Y: 4, Z: 4}, true))
	require.NoError(t, err)
	group, err := e.NewGroup(GroupOptions{UpdateRateHz: 1000})
	require.NoError(t, err)
	observer := e.NewObserver(0)
	require.NoError(t, observer.Subscribe(group))
	require.NoError(t, zone.Attach(observer))

	var events []string
	require.NoError(t, observer.OnEntered(func(entity EntityID, z ZoneID, meta any) { events = append(events, "enter") }))
	require.NoError(t, observer.OnExited(func(entity EntityID, z ZoneID, meta any) { events = append(events, "exit") }))

	_, err = group.Add("p", StaticPositionProbe(Vector3{}), nil)
	require.NoError(t, err)

	*now = now.Add(10 * time.Millisecond)
	require.NoError(t, e.Tick())

	require.NoError(t, zone.SetPosition(Vector3{X: 500}))
	*now = now.Add(10 * time.Millisecond)
	require.NoError(t, e.Tick())

	assert.Equal(t, []string{"enter", "exit"}, events)
}

// TestFrameBudgetTruncatesRoundRobin covers scenario 5: a budget that
// is already exhausted by the time the round-robin phase would start
// causes Tick to skip querying entirely for that tick, without
// erroring or losing the entities for the next tick.
func TestFrameBudgetTruncatesRoundRobin(t *testing.T) {
	cfg := qzconfig.Default()
	cfg.FrameBudgetMillis = 0.01
	e := NewEngine(cfg, nil)
	calls := 0
	e.clockFunc = func() time.Time {
		calls++
		// Every call after the first (Tick's t0 read) appears to have
		// consumed the whole budget, so the pre-round-robin check trips.
		if calls == 1 {
			return time.Unix(0, 0)
		}
		return time.Unix(0, int64(time.Millisecond))
	}

	group, err := e.NewGroup(GroupOptions{UpdateRateHz: 1000})
	require.NoError(t, err)
	// A subscribed observer keeps the group in the round-robin, so the
	// cursor assertion below depends on the budget check.
	observer := e.NewObserver(0)
	require.NoError(t, observer.Subscribe(group))

	for i := 0; i < 200; i++ {
		_, err := group.Add(i, StaticPositionProbe(Vector3{}), nil)
		require.NoError(t, err)
	}

	require.NoError(t, e.Tick())
	assert.Equal(t, uint64(1), e.Stats().TicksRun)
	g := e.groups[group.ID()]
	assert.Equal(t, 0, g.cursor, "round-robin must not have advanced once the budget was already spent")
}

// TestRemoveEntityDuringCallbackExitsOnceWithinTick covers removing an
// entity from inside an onEntered callback: the exit is synthesized at
// once, within the same tick's drain, while the array removal waits for
// the next tick so the in-flight round-robin pass is not desynced; the
// following tick fires no duplicate exit, and the engine never panics.
func TestRemoveEntityDuringCallbackExitsOnceWithinTick(t *testing.T) {
	e, now := newManualClockEngine(t, qzconfig.Default())

	zone, err := e.NewZone(blockZoneOptions(Vector3{}, Vector3{X: 10, Y: 10, Z: 10}, false))
	require.NoError(t, err)
	group, err := e.NewGroup(GroupOptions{UpdateRateHz: 1000})
	require.NoError(t, err)
	observer := e.NewObserver(0)
	require.NoError(t, observer.Subscribe(group))
	require.NoError(t, zone.Attach(observer))

	var removed EntityID
	require.NoError(t, observer.OnEntered(func(entity EntityID, z ZoneID, meta any) {
		removed = entity
		_ = group.Remove(entity)
	}))
	exits := 0
	require.NoError(t, observer.OnExited(func(entity EntityID, z ZoneID, meta any) { exits++ }))

	id, err := group.Add("p", StaticPositionProbe(Vector3{}), nil)
	require.NoError(t, err)

	*now = now.Add(10 * time.Millisecond)
	require.NoError(t, e.Tick())

	assert.Equal(t, id, removed)
	assert.Equal(t, 1, exits, "removal mid-callback synthesizes exactly one exit")

	*now = now.Add(10 * time.Millisecond)
	require.NoError(t, e.Tick())
	assert.Equal(t, 1, exits, "no duplicate exit on the following tick")
}

func TestObserverSetEnabledFalseSynthesizesExits(t *testing.T) {
	e, now := newManualClockEngine(t, qzconfig.Default())

	zone, err := e.NewZone(blockZoneOptions(Vector3{}, Vector3{X: 10, Y: 10, Z: 10}, false))
	require.NoError(t, err)
	group, err := e.NewGroup(GroupOptions{UpdateRateHz: 1000})
	require.NoError(t, err)
	observer := e.NewObserver(0)
	require.NoError(t, observer.Subscribe(group))
	require.NoError(t, zone.Attach(observer))

	exits := 0
	require.NoError(t, observer.OnExited(func(entity EntityID, z ZoneID, meta any) { exits++ }))

	_, err = group.Add("p", StaticPositionProbe(Vector3{}), nil)
	require.NoError(t, err)

	*now = now.Add(10 * time.Millisecond)
	require.NoError(t, e.Tick())

	require.NoError(t, observer.SetEnabled(false))
	assert.Equal(t, 1, exits)
}

func TestGroupLevelEnteredExitedFireOnRefcountEdges(t *testing.T) {
	e, now := newManualClockEngine(t, qzconfig.Default())

	zone, err := e.NewZone(blockZoneOptions(Vector3{}, Vector3{X: 10, Y: 10, Z: 10}, false))
	require.NoError(t, err)
	group, err := e.NewGroup(GroupOptions{UpdateRateHz: 1000})
	require.NoError(t, err)
	observer := e.NewObserver(0)
	require.NoError(t, observer.Subscribe(group))
	require.NoError(t, zone.Attach(observer))

	groupEnters, groupExits := 0, 0
	require.NoError(t, observer.OnGroupEntered(func(g GroupID, z ZoneID) { groupEnters++ }))
	require.NoError(t, observer.OnGroupExited(func(g GroupID, z ZoneID) { groupExits++ }))

	idA, err := group.Add("a", StaticPositionProbe(Vector3{}), nil)
	require.NoError(t, err)
	_, err = group.Add("b", StaticPositionProbe(Vector3{}), nil)
	require.NoError(t, err)

	*now = now.Add(10 * time.Millisecond)
	require.NoError(t, e.Tick())
	assert.Equal(t, 1, groupEnters, "second entrant into the same zone must not re-fire onGroupEntered")

	require.NoError(t, group.Remove(idA))
	*now = now.Add(10 * time.Millisecond)
	require.NoError(t, e.Tick())
	assert.Equal(t, 0, groupExits, "one remaining occupant keeps the group inside the zone")
}

func TestObserveCleanupRunsExactlyOnceAtExit(t *testing.T) {
	e, now := newManualClockEngine(t, qzconfig.Default())

	zone, err := e.NewZone(blockZoneOptions(Vector3{}, Vector3{X: 4, Y: 4, Z: 4}, true))
	require.NoError(t, err)
	group, err := e.NewGroup(GroupOptions{UpdateRateHz: 1000})
	require.NoError(t, err)
	observer := e.NewObserver(0)
	require.NoError(t, observer.Subscribe(group))
	require.NoError(t, zone.Attach(observer))

	cleanups := 0
	require.NoError(t, observer.Observe(func(entity EntityID, z ZoneID, meta any) CleanupFunc {
		return func() { cleanups++ }
	}))

	_, err = group.Add("p", StaticPositionProbe(Vector3{}), nil)
	require.NoError(t, err)

	*now = now.Add(10 * time.Millisecond)
	require.NoError(t, e.Tick())
	assert.Equal(t, 0, cleanups)

	require.NoError(t, zone.SetPosition(Vector3{X: 500}))
	*now = now.Add(10 * time.Millisecond)
	require.NoError(t, e.Tick())
	assert.Equal(t, 1, cleanups)

	*now = now.Add(10 * time.Millisecond)
	require.NoError(t, e.Tick())
	assert.Equal(t, 1, cleanups, "cleanup must not run again on a later tick")
}
