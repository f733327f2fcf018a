package bvh

import (
	"testing"

	"github.com/LDGerrits/QuickZone/internal/geometry"
)

func box(minX, minY, minZ, maxX, maxY, maxZ float64) geometry.AABB {
	return geometry.AABB{
		Min: geometry.Vector3{X: minX, Y: minY, Z: minZ},
		Max: geometry.Vector3{X: maxX, Y: maxY, Z: maxZ},
	}
}

func TestBuildEmptyTreeStabsEmpty(t *testing.T) {
	tree := NewTree()
	tree.Build(nil)
	out := tree.Stab(geometry.Vector3{}, nil)
	if len(out) != 0 {
		t.Fatalf("expected no results from empty tree, got %v", out)
	}
}

func TestBuildSingleLeaf(t *testing.T) {
	tree := NewTree()
	tree.Build([]Leaf{{ZoneID: 42, Box: box(-1, -1, -1, 1, 1, 1)}})

	out := tree.Stab(geometry.Vector3{X: 0, Y: 0, Z: 0}, nil)
	if len(out) != 1 || out[0] != 42 {
		t.Fatalf("expected [42], got %v", out)
	}
	out = tree.Stab(geometry.Vector3{X: 5, Y: 5, Z: 5}, nil)
	if len(out) != 0 {
		t.Fatalf("expected no hit far outside box, got %v", out)
	}
}

func TestStabFindsAllOverlappingLeaves(t *testing.T) {
	leaves := []Leaf{
		{ZoneID: 1, Box: box(0, 0, 0, 10, 10, 10)},
		{ZoneID: 2, Box: box(5, 5, 5, 15, 15, 15)}, // overlaps zone 1 in [5,10]^3
		{ZoneID: 3, Box: box(100, 100, 100, 110, 110, 110)},
		{ZoneID: 4, Box: box(-20, -20, -20, -10, -10, -10)},
	}
	tree := NewTree()
	tree.Build(leaves)

	got := tree.Stab(geometry.Vector3{X: 7, Y: 7, Z: 7}, nil)
	want := map[uint64]bool{1: true, 2: true}
	if len(got) != len(want) {
		t.Fatalf("Stab(7,7,7) = %v, want set %v", got, want)
	}
	for _, id := range got {
		if !want[id] {
			t.Errorf("unexpected zone %d in result", id)
		}
	}

	got = tree.Stab(geometry.Vector3{X: 105, Y: 105, Z: 105}, nil)
	if len(got) != 1 || got[0] != 3 {
		t.Fatalf("Stab(105,105,105) = %v, want [3]", got)
	}

	got = tree.Stab(geometry.Vector3{X: 1000, Y: 1000, Z: 1000}, nil)
	if len(got) != 0 {
		t.Fatalf("Stab far outside all boxes = %v, want empty", got)
	}
}

func TestStabMatchesBruteForceOverRandomLeaves(t *testing.T) {
	var leaves []Leaf
	id := uint64(0)
	for x := 0.0; x < 100; x += 7 {
		for y := 0.0; y < 40; y += 11 {
			id++
			leaves = append(leaves, Leaf{
				ZoneID: id,
				Box:    box(x, y, 0, x+5, y+5, 5),
			})
		}
	}
	tree := NewTree()
	tree.Build(leaves)

	probes := []geometry.Vector3{
		{X: 3, Y: 3, Z: 2},
		{X: 50, Y: 20, Z: 3},
		{X: 98, Y: 38, Z: 1},
		{X: -5, Y: -5, Z: -5},
	}
	for _, p := range probes {
		want := map[uint64]bool{}
		for _, l := range leaves {
			if l.Box.ContainsPoint(p) {
				want[l.ZoneID] = true
			}
		}
		got := tree.Stab(p, nil)
		gotSet := map[uint64]bool{}
		for _, id := range got {
			gotSet[id] = true
		}
		if len(gotSet) != len(want) {
			t.Fatalf("Stab(%v) = %v, want set %v", p, got, want)
		}
		for id := range want {
			if !gotSet[id] {
				t.Errorf("Stab(%v) missing zone %d", p, id)
			}
		}
	}
}

func TestShouldRefit(t *testing.T) {
	if !ShouldRefit(16, 1, true) {
		t.Error("1 change of 16 with unchanged set should refit")
	}
	if ShouldRefit(16, 2, true) {
		t.Error("2 changes of 16 (limit 1) should not refit")
	}
	if ShouldRefit(16, 1, false) {
		t.Error("changed zone set should never refit")
	}
	if !ShouldRefit(32, 2, true) {
		t.Error("2 changes of 32 (limit 2) should refit")
	}
}

func TestRefitUpdatesQueriesWithoutRebuild(t *testing.T) {
	leaves := []Leaf{
		{ZoneID: 1, Box: box(0, 0, 0, 2, 2, 2)},
		{ZoneID: 2, Box: box(10, 10, 10, 12, 12, 12)},
		{ZoneID: 3, Box: box(20, 20, 20, 22, 22, 22)},
		{ZoneID: 4, Box: box(30, 30, 30, 32, 32, 32)},
	}
	tree := NewTree()
	tree.Build(leaves)

	p := geometry.Vector3{X: 50, Y: 50, Z: 50}
	if out := tree.Stab(p, nil); len(out) != 0 {
		t.Fatalf("expected no hit before refit, got %v", out)
	}

	tree.Refit(map[uint64]geometry.AABB{
		2: box(49, 49, 49, 51, 51, 51),
	})

	out := tree.Stab(p, nil)
	if len(out) != 1 || out[0] != 2 {
		t.Fatalf("expected [2] after refit, got %v", out)
	}

	// Untouched leaves must still be found at their original positions.
	out = tree.Stab(geometry.Vector3{X: 21, Y: 21, Z: 21}, nil)
	if len(out) != 1 || out[0] != 3 {
		t.Fatalf("expected [3] for untouched leaf, got %v", out)
	}
}

func TestBuildRebuildReplacesTopology(t *testing.T) {
	tree := NewTree()
	tree.Build([]Leaf{
		{ZoneID: 1, Box: box(0, 0, 0, 1, 1, 1)},
		{ZoneID: 2, Box: box(5, 5, 5, 6, 6, 6)},
	})
	tree.Build([]Leaf{
		{ZoneID: 9, Box: box(100, 100, 100, 101, 101, 101)},
	})
	if tree.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after rebuild with fewer leaves", tree.Len())
	}
	out := tree.Stab(geometry.Vector3{X: 100.5, Y: 100.5, Z: 100.5}, nil)
	if len(out) != 1 || out[0] != 9 {
		t.Fatalf("expected [9] after rebuild, got %v", out)
	}
}

func TestStabAppendsToExistingBuffer(t *testing.T) {
	tree := NewTree()
	tree.Build([]Leaf{{ZoneID: 7, Box: box(0, 0, 0, 1, 1, 1)}})
	buf := []uint64{999}
	out := tree.Stab(geometry.Vector3{X: 0.5, Y: 0.5, Z: 0.5}, buf)
	if len(out) != 2 || out[0] != 999 || out[1] != 7 {
		t.Fatalf("Stab did not append to caller buffer: %v", out)
	}
}
