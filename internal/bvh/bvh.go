// Package bvh implements the linear bounding volume hierarchy QuickZone
// stabs on every entity probe: leaves are zone AABBs, topology is
// derived from a Morton sort of their centroids (Karras's longest
// common prefix split), and internal node bounds are unioned bottom-up.
// A Tree supports both a full rebuild and an incremental refit of a
// small number of moved leaves, per the caller's own change-count
// decision (see ShouldRefit).
package bvh

import (
	"math/bits"

	"github.com/LDGerrits/QuickZone/internal/geometry"
	"github.com/LDGerrits/QuickZone/internal/morton"
)

// Leaf is one entry a Tree is built from: a zone id paired with its
// world-space AABB.
type Leaf struct {
	ZoneID uint64
	Box    geometry.AABB
}

// internalNode is one of the n-1 internal nodes of the built tree.
// Children are encoded as indices into a single [internal..leaf]
// virtual array: indices [0, n-1) address internalNodes, indices
// [n-1, 2n-1) address leaves (leafIndex = idx-(n-1)).
type internalNode struct {
	left, right int
	box         geometry.AABB
	parent      int
}

// Tree is a static or dynamic LBVH over a set of zone AABBs. The zero
// value is an empty tree ready to Build.
type Tree struct {
	leaves    []Leaf
	nodes     []internalNode // len == max(0, len(leaves)-1)
	leafOrder []int          // leafOrder[i] = original Leaves index stored at leaf slot i
	zoneToLeaf map[uint64]int // zone id -> leaf slot (index into leaves/leafOrder-relative order)
	leafParent []int          // parent internal-node index for each leaf slot

	sorter *morton.Sorter
	pairs  []morton.Pair
	stack  []int // preallocated stabbing-descent stack
}

// NewTree returns an empty tree with its scratch sorter ready.
func NewTree() *Tree {
	return &Tree{sorter: morton.NewSorter()}
}

// Len reports the number of leaves currently in the tree.
func (t *Tree) Len() int {
	return len(t.leaves)
}

// ShouldRefit reports whether, per spec, an incremental refit is
// permitted: the zone set is unchanged (no insertions or removals,
// only mutations to existing leaves) and the number of changed leaves
// is at most ceil(n/16).
func ShouldRefit(n, changed int, setUnchanged bool) bool {
	if !setUnchanged || n == 0 {
		return false
	}
	limit := (n + 15) / 16
	return changed <= limit
}

// Build fully rebuilds the tree topology from scratch: compute
// centroids, derive a normalization range, Morton-encode, radix sort,
// split into topology (Karras LCP), then union AABBs bottom-up. O(n).
func (t *Tree) Build(leaves []Leaf) {
	n := len(leaves)
	t.leaves = append(t.leaves[:0], leaves...)
	if n == 0 {
		t.nodes = t.nodes[:0]
		t.leafOrder = t.leafOrder[:0]
		t.leafParent = t.leafParent[:0]
		t.zoneToLeaf = nil
		return
	}

	var ex, ey, ez morton.Extent
	for _, l := range t.leaves {
		c := l.Box.Centroid()
		ex.Include(c.X)
		ey.Include(c.Y)
		ez.Include(c.Z)
	}

	if cap(t.pairs) < n {
		t.pairs = make([]morton.Pair, n)
	}
	t.pairs = t.pairs[:n]
	for i, l := range t.leaves {
		c := l.Box.Centroid()
		x := morton.NormalizeCoord(c.X, ex.Min, ex.Max)
		y := morton.NormalizeCoord(c.Y, ey.Min, ey.Max)
		z := morton.NormalizeCoord(c.Z, ez.Min, ez.Max)
		t.pairs[i] = morton.Pair{Code: morton.Encode30(x, y, z), Index: i}
	}
	t.sorter.Sort(t.pairs)

	if cap(t.leafOrder) < n {
		t.leafOrder = make([]int, n)
	}
	t.leafOrder = t.leafOrder[:n]
	codes := make([]uint32, n)
	for i, p := range t.pairs {
		t.leafOrder[i] = p.Index
		codes[i] = p.Code
	}

	if n == 1 {
		t.nodes = t.nodes[:0]
		if cap(t.leafParent) < 1 {
			t.leafParent = make([]int, 1)
		}
		t.leafParent = t.leafParent[:1]
		t.leafParent[0] = -1
		t.reindexZones()
		return
	}

	if cap(t.nodes) < n-1 {
		t.nodes = make([]internalNode, n-1)
	}
	t.nodes = t.nodes[:n-1]
	for i := range t.nodes {
		t.nodes[i] = internalNode{parent: -1}
	}
	if cap(t.leafParent) < n {
		t.leafParent = make([]int, n)
	}
	t.leafParent = t.leafParent[:n]

	for i := 0; i < n-1; i++ {
		lo, hi := determineRange(codes, i)
		split := findSplit(codes, lo, hi)

		var left, right int
		if split == lo {
			left = (n - 1) + split
			t.leafParent[split] = i
		} else {
			left = split
			t.nodes[split].parent = i
		}
		if split+1 == hi {
			right = (n - 1) + split + 1
			t.leafParent[split+1] = i
		} else {
			right = split + 1
			t.nodes[split+1].parent = i
		}
		t.nodes[i].left = left
		t.nodes[i].right = right
	}

	t.refreshBounds()
	t.reindexZones()
}

func (t *Tree) reindexZones() {
	if t.zoneToLeaf == nil {
		t.zoneToLeaf = make(map[uint64]int, len(t.leaves))
	} else {
		for k := range t.zoneToLeaf {
			delete(t.zoneToLeaf, k)
		}
	}
	for slot, origIdx := range t.leafOrder {
		t.zoneToLeaf[t.leaves[origIdx].ZoneID] = slot
	}
}

// refreshBounds recomputes every internal node's AABB bottom-up by
// walking from each leaf to the root, unioning as it goes. Safe to
// call repeatedly; a node's box is fully overwritten on first visit
// per rebuild pass (bottom-up order is enforced by only ascending once
// both children of a node have been visited).
func (t *Tree) refreshBounds() {
	n := len(t.leafOrder)
	visited := make([]bool, len(t.nodes))
	for slot := 0; slot < n; slot++ {
		leafBox := t.leaves[t.leafOrder[slot]].Box
		parent := t.leafParent[slot]
		t.bubbleUp(parent, leafBox, visited)
	}
}

func (t *Tree) bubbleUp(node int, childBox geometry.AABB, visited []bool) {
	for node != -1 {
		if !visited[node] {
			t.nodes[node].box = childBox
			visited[node] = true
			return // sibling not yet visited; wait for it to trigger the union
		}
		t.nodes[node].box = geometry.Union(t.nodes[node].box, childBox)
		childBox = t.nodes[node].box
		node = t.nodes[node].parent
	}
}

// Refit updates the AABB of each leaf named by zoneID (its box is
// looked up fresh from newBoxes) and recomputes ancestor unions along
// the affected paths, without touching tree topology. Callers must
// have already verified ShouldRefit for this batch.
func (t *Tree) Refit(newBoxes map[uint64]geometry.AABB) {
	if len(t.leaves) == 0 {
		return
	}
	dirty := make(map[int]bool)
	for zoneID, box := range newBoxes {
		slot, ok := t.zoneToLeaf[zoneID]
		if !ok {
			continue
		}
		origIdx := t.leafOrder[slot]
		t.leaves[origIdx].Box = box
		if len(t.leafParent) > slot {
			dirty[t.leafParent[slot]] = true
		}
	}
	for node := range dirty {
		t.recomputeUpward(node)
	}
}

// recomputeUpward recomputes node's box from its two children exactly
// (not by unioning with the stale value) and propagates to ancestors.
func (t *Tree) recomputeUpward(node int) {
	for node != -1 {
		left, right := t.nodes[node].left, t.nodes[node].right
		t.nodes[node].box = geometry.Union(t.childBox(left), t.childBox(right))
		node = t.nodes[node].parent
	}
}

func (t *Tree) childBox(idx int) geometry.AABB {
	n := len(t.leaves)
	if idx >= n-1 {
		return t.leaves[t.leafOrder[idx-(n-1)]].Box
	}
	return t.nodes[idx].box
}

// determineRange implements Karras's binary-search range determination
// for internal node i, returning the inclusive [lo, hi] leaf range it
// spans.
func determineRange(codes []uint32, i int) (int, int) {
	d := 1
	if delta(codes, i, i+1) < delta(codes, i, i-1) {
		d = -1
	}
	deltaMin := delta(codes, i, i-d)

	lmax := 2
	for delta(codes, i, i+lmax*d) > deltaMin {
		lmax *= 2
	}
	l := 0
	for step := lmax / 2; step >= 1; step /= 2 {
		if delta(codes, i, i+(l+step)*d) > deltaMin {
			l += step
		}
	}
	j := i + l*d
	if d > 0 {
		return i, j
	}
	return j, i
}

// findSplit locates the highest differing bit within [lo, hi] using
// the same binary-search shape as determineRange.
func findSplit(codes []uint32, lo, hi int) int {
	first, last := codes[lo], codes[hi]
	if first == last {
		return (lo + hi) / 2
	}
	commonPrefix := bits.LeadingZeros32(first ^ last)

	split := lo
	step := hi - lo
	for {
		step = (step + 1) / 2
		newSplit := split + step
		if newSplit < hi {
			splitPrefix := bits.LeadingZeros32(codes[newSplit] ^ first)
			if splitPrefix > commonPrefix {
				split = newSplit
			}
		}
		if step <= 1 {
			break
		}
	}
	return split
}

// delta returns the length of the common binary prefix of codes[i] and
// codes[j], treating any out-of-range j as -1 (infinitely dissimilar,
// per Karras's boundary handling) so range growth stops at the array
// edges.
func delta(codes []uint32, i, j int) int {
	if j < 0 || j >= len(codes) {
		return -1
	}
	if codes[i] == codes[j] {
		// Break ties by index so codes with identical values still
		// produce a well-defined, unique split.
		return 32 + bits.LeadingZeros32(uint32(i)^uint32(j))
	}
	return bits.LeadingZeros32(codes[i] ^ codes[j])
}

// Stab appends the zone id of every leaf whose AABB contains p to out,
// returning the extended slice. Descent uses a preallocated stack that
// grows geometrically the first time a tree needs more depth than it
// already has, so steady-state operation performs no allocation.
func (t *Tree) Stab(p geometry.Vector3, out []uint64) []uint64 {
	n := len(t.leaves)
	if n == 0 {
		return out
	}
	if n == 1 {
		if t.leaves[0].Box.ContainsPoint(p) {
			out = append(out, t.leaves[0].ZoneID)
		}
		return out
	}

	needed := bits.Len(uint(n)) + 2
	if cap(t.stack) < needed {
		t.stack = make([]int, needed)
	}
	stack := t.stack[:0]
	stack = append(stack, 0) // root internal node index

	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if node >= n-1 {
			leafSlot := node - (n - 1)
			leaf := t.leaves[t.leafOrder[leafSlot]]
			if leaf.Box.ContainsPoint(p) {
				out = append(out, leaf.ZoneID)
			}
			continue
		}

		nd := t.nodes[node]
		if !nd.box.ContainsPoint(p) {
			continue
		}
		stack = append(stack, nd.left, nd.right)
	}
	t.stack = stack
	return out
}
