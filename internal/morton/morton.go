// Package morton implements 30-bit Morton (Z-order) encoding of
// normalized 3D coordinates and the LSD radix sort QuickZone's LBVH
// builder uses to order leaves by that code before building tree
// topology. Both operations are O(n) and allocation-free once a
// Sorter's scratch buffer has grown to the working set size.
package morton

const bitsPerAxis = 10 // 3 * 10 = 30-bit code
const axisMax = (1 << bitsPerAxis) - 1

// NormalizeCoord maps v, known to lie within [lo, hi], onto an
// integer in [0, 1023]. Degenerate ranges (lo == hi) map everything
// to 0. Values slightly outside the range (which can happen due to
// floating point drift when lo/hi come from a centroid extent
// computed a moment earlier) are clamped rather than wrapping.
func NormalizeCoord(v, lo, hi float64) uint32 {
	span := hi - lo
	if span <= 0 {
		return 0
	}
	t := (v - lo) / span
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return uint32(t * axisMax)
}

// spreadBits3 takes the low 10 bits of v and spreads them so that two
// zero bits separate each original bit, ready for interleaving.
func spreadBits3(v uint32) uint64 {
	x := uint64(v) & 0x3FF
	x = (x | (x << 16)) & 0x30000FF
	x = (x | (x << 8)) & 0x300F00F
	x = (x | (x << 4)) & 0x30C30C3
	x = (x | (x << 2)) & 0x9249249
	return x
}

// Encode30 interleaves the low 10 bits of each of x, y, z into a
// single 30-bit Morton code (x in bit 0, y in bit 1, z in bit 2, and
// so on).
func Encode30(x, y, z uint32) uint32 {
	return uint32(spreadBits3(x) | (spreadBits3(y) << 1) | (spreadBits3(z) << 2))
}

// Pair associates a Morton code with the leaf index it was computed
// for. RadixSort reorders a slice of Pairs by Code, breaking ties by
// the order pairs appeared in the input slice (insertion order), so
// two leaves with identical AABBs always land in a deterministic
// relative order in the built tree.
type Pair struct {
	Code  uint32
	Index int
}

const radixBits = 8
const radixBuckets = 1 << radixBits
const radixPasses = 32 / radixBits

// Sorter holds the scratch buffer and bucket counters an LSD radix
// sort needs, reused across rebuilds so steady-state operation
// performs no allocation once the working set size stabilizes.
type Sorter struct {
	scratch []Pair
	counts  [radixBuckets]int
	offsets [radixBuckets]int
}

// NewSorter returns a Sorter with no preallocated capacity; its
// scratch buffer grows geometrically on first use.
func NewSorter() *Sorter {
	return &Sorter{}
}

// Sort reorders pairs in place by ascending Code using a 4-pass,
// 8-bit-bucket LSD radix sort. The sort is stable: pairs with equal
// Code retain their relative order from the input slice.
func (s *Sorter) Sort(pairs []Pair) {
	n := len(pairs)
	if n < 2 {
		return
	}
	if cap(s.scratch) < n {
		s.scratch = make([]Pair, n, max(n, 2*cap(s.scratch)))
	}
	scratch := s.scratch[:n]

	src, dst := pairs, scratch
	for pass := 0; pass < radixPasses; pass++ {
		shift := uint(pass * radixBits)

		for i := range s.counts {
			s.counts[i] = 0
		}
		for _, p := range src {
			bucket := (p.Code >> shift) & (radixBuckets - 1)
			s.counts[bucket]++
		}

		offset := 0
		for i := 0; i < radixBuckets; i++ {
			s.offsets[i] = offset
			offset += s.counts[i]
		}

		for _, p := range src {
			bucket := (p.Code >> shift) & (radixBuckets - 1)
			dst[s.offsets[bucket]] = p
			s.offsets[bucket]++
		}

		src, dst = dst, src
	}

	// After an even number of passes, src is back to aliasing pairs'
	// backing array only if radixPasses is even; copy defensively so
	// the result always lands in the caller's slice regardless.
	if &src[0] != &pairs[0] {
		copy(pairs, src)
	}
}

// Extent tracks a running min/max over a set of scalar values, used
// to compute the normalization range for a Morton rebuild in a single
// pass over zone centroids.
type Extent struct {
	Min, Max float64
	seen     bool
}

// Include folds v into the extent.
func (e *Extent) Include(v float64) {
	if !e.seen {
		e.Min, e.Max = v, v
		e.seen = true
		return
	}
	if v < e.Min {
		e.Min = v
	}
	if v > e.Max {
		e.Max = v
	}
}

// Reset clears the extent back to empty.
func (e *Extent) Reset() {
	*e = Extent{}
}

// Valid reports whether Include has been called at least once.
func (e *Extent) Valid() bool {
	return e.seen
}
