package payword

import (
	"sort"
)

// PebbleCache is the client-side token source with a memory/CPU tradeoff.
//
// Instead of storing the whole chain (max_k tokens) or only the seed
// (max_k hashes per token in the worst case), it keeps a bounded number of
// chain checkpoints ("pebbles"). token_k = w_{max_k - k} is recomputed by
// hashing forward from the nearest checkpoint at or below that chain index.
// More pebbles means shorter gaps and fewer hashes per token.
type PebbleCache struct {
	seed    []byte
	maxK    uint64
	indices []uint64          // sorted ascending, always includes 0
	pebbles map[uint64][]byte // chain index -> w_index
}

// NewPebbleCache builds a cache with up to pebbleCount checkpoints placed by
// recursive midpoint splitting over [0, max_k]. pebbleCount of zero keeps
// only the seed.
func NewPebbleCache(seed []byte, maxK uint64, pebbleCount int) (*PebbleCache, error) {
	if len(seed) == 0 {
		return nil, ErrInvalidSeed
	}

	indices := collectMidpointPebbles(maxK, pebbleCount)
	indices = append(indices, 0)
	sort.Slice(indices, func(a, b int) bool { return indices[a] < indices[b] })

	c := &PebbleCache{
		seed:    append([]byte(nil), seed...),
		maxK:    maxK,
		indices: indices,
		pebbles: make(map[uint64][]byte, len(indices)),
	}
	for _, idx := range indices {
		c.pebbles[idx] = HashN(c.seed, idx)
	}
	return c, nil
}

// MaxK returns the chain length the cache was built for.
func (c *PebbleCache) MaxK() uint64 {
	return c.maxK
}

// TokenFor returns token_k = w_{max_k - k}, computed from the nearest
// checkpoint at or below the target chain index.
func (c *PebbleCache) TokenFor(k uint64) ([]byte, error) {
	if k < 1 || k > c.maxK {
		return nil, ErrIndexOutOfRange
	}
	target := c.maxK - k

	// Largest checkpoint index <= target. indices always contains 0.
	pos := sort.Search(len(c.indices), func(i int) bool { return c.indices[i] > target })
	start := c.indices[pos-1]

	return HashN(c.pebbles[start], target-start), nil
}

// collectMidpointPebbles returns up to pebbleCount interior chain indices
// using depth-first midpoint splitting of (0, n): the midpoint of the range
// is taken first, then the left half, then the right half.
func collectMidpointPebbles(n uint64, pebbleCount int) []uint64 {
	if pebbleCount <= 0 || n <= 1 {
		return nil
	}

	out := make([]uint64, 0, pebbleCount)
	seen := make(map[uint64]bool)

	var rec func(lo, hi uint64)
	rec = func(lo, hi uint64) {
		if len(out) >= pebbleCount {
			return
		}
		mid := (lo + hi) / 2
		if mid == lo || mid == hi {
			return
		}
		if !seen[mid] {
			seen[mid] = true
			out = append(out, mid)
		}
		rec(lo, mid)
		rec(mid, hi)
	}
	rec(0, n)

	return out
}
