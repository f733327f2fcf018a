package quickzone

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LDGerrits/QuickZone/internal/qzconfig"
)

func TestGroupAddAssignsDistinctIDs(t *testing.T) {
	e := newTestEngine(t)
	g, err := e.NewGroup(GroupOptions{})
	require.NoError(t, err)

	id1, err := g.Add("h1", StaticPositionProbe(Vector3{}), nil)
	require.NoError(t, err)
	id2, err := g.Add("h2", StaticPositionProbe(Vector3{}), nil)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)
}

func TestGroupRemoveThenAddReusesSlotWithoutIDCollision(t *testing.T) {
	e := newTestEngine(t)
	g, err := e.NewGroup(GroupOptions{})
	require.NoError(t, err)

	id1, err := g.Add("h1", StaticPositionProbe(Vector3{}), nil)
	require.NoError(t, err)
	id2, err := g.Add("h2", StaticPositionProbe(Vector3{}), nil)
	require.NoError(t, err)

	require.NoError(t, g.Remove(id1))
	id3, err := g.Add("h3", StaticPositionProbe(Vector3{}), nil)
	require.NoError(t, err)

	assert.NotEqual(t, id1, id3)
	assert.NotEqual(t, id2, id3)

	engine := e
	gh, ok := engine.GetGroupOfEntity(id2)
	require.True(t, ok)
	assert.Equal(t, g.ID(), gh.ID())
}

func TestGroupRemoveUnknownEntityIsLifecycleError(t *testing.T) {
	e := newTestEngine(t)
	g, err := e.NewGroup(GroupOptions{})
	require.NoError(t, err)
	err = g.Remove(EntityID(999))
	require.Error(t, err)
	var qzErr *QzError
	require.ErrorAs(t, err, &qzErr)
	assert.Equal(t, ErrLifecycle, qzErr.Kind)
}

func TestGroupQuotaIsCeilingOfCountRateDelta(t *testing.T) {
	g := newGroup(1, GroupOptions{UpdateRateHz: 10})
	for i := 0; i < 7; i++ {
		g.add(EntityID(i+1), nil, StaticPositionProbe(Vector3{}), nil, 0)
	}
	// 7 entities * 10Hz * 0.05s = 3.5 -> ceil to 4
	assert.Equal(t, 4, g.quota(0.05))
}

func TestGroupQuotaNeverExceedsCount(t *testing.T) {
	g := newGroup(1, GroupOptions{UpdateRateHz: 1000})
	g.add(1, nil, StaticPositionProbe(Vector3{}), nil, 0)
	g.add(2, nil, StaticPositionProbe(Vector3{}), nil, 0)
	assert.Equal(t, 2, g.quota(1.0))
}

func TestGroupRoundRobinCursorVisitsEveryEntity(t *testing.T) {
	g := newGroup(1, GroupOptions{})
	for i := 0; i < 5; i++ {
		g.add(EntityID(i+1), nil, StaticPositionProbe(Vector3{}), nil, 0)
	}
	seen := make(map[int]bool)
	for i := 0; i < 5; i++ {
		seen[g.nextIndex()] = true
	}
	assert.Len(t, seen, 5)
}

func TestAddBulkStopsAtFirstError(t *testing.T) {
	e := newTestEngine(t)
	g, err := e.NewGroup(GroupOptions{})
	require.NoError(t, err)
	ids, err := g.AddBulk([]NewEntity{
		{Handle: "a", Probe: StaticPositionProbe(Vector3{})},
		{Handle: "b", Probe: nil},
	})
	require.Error(t, err)
	assert.Len(t, ids, 1)
}

func TestPlayersGroupIsSingleton(t *testing.T) {
	e := newTestEngine(t)
	a := e.PlayersGroup()
	b := e.PlayersGroup()
	assert.Equal(t, a.ID(), b.ID())
}

func TestNewGroupFallsBackToConfigDefaults(t *testing.T) {
	e := NewEngine(qzconfig.Default(), nil)
	h, err := e.NewGroup(GroupOptions{})
	require.NoError(t, err)
	g := e.groups[h.id]
	assert.Equal(t, 30.0, g.updateRateHz)
}
