package paytree

import (
	"bytes"
	"fmt"
	"sync"
)

// NodeCache stores Merkle nodes learned from past proofs: both the sibling
// nodes a proof carries and the path nodes computed while folding it. With
// the cache warm, a verifier only needs to fold a proof up to the nearest
// known node instead of all the way to the root, and a prover can shorten
// the proofs it sends.
//
// Keys are (level, position): level 0 is the leaf level, position counts
// nodes left to right within a level.
type NodeCache struct {
	mu    sync.RWMutex
	nodes map[nodeKey][]byte
}

type nodeKey struct {
	level uint64
	pos   uint64
}

// NewNodeCache returns an empty node cache.
func NewNodeCache() *NodeCache {
	return &NodeCache{nodes: make(map[nodeKey][]byte)}
}

// Get returns the cached node hash at (level, pos), if known.
func (c *NodeCache) Get(level, pos uint64) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.nodes[nodeKey{level, pos}]
	return n, ok
}

// Len returns the number of cached nodes.
func (c *NodeCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.nodes)
}

// AddProof folds the proof for leaf i and stores every sibling and every
// computed path node, including the resulting ancestors. The fold is not
// checked against any root here; callers only feed proofs that already
// verified.
func (c *NodeCache) AddProof(i uint64, leaf []byte, proof [][]byte) error {
	if i < 1 {
		return ErrIndexOutOfRange
	}
	if len(leaf) != HashSize {
		return ErrInvalidProof
	}
	for _, s := range proof {
		if len(s) != HashSize {
			return ErrInvalidProof
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	pos := i - 1
	cur := leaf
	c.nodes[nodeKey{0, pos}] = append([]byte(nil), leaf...)

	for level, sibling := range proof {
		c.nodes[nodeKey{uint64(level), pos ^ 1}] = append([]byte(nil), sibling...)

		if pos%2 == 0 {
			cur = nodeHash(cur, sibling)
		} else {
			cur = nodeHash(sibling, cur)
		}
		pos /= 2
		c.nodes[nodeKey{uint64(level) + 1, pos}] = append([]byte(nil), cur...)
	}
	return nil
}

// VerifyToKnownNode folds leaf i upward through exactly len(siblings)
// levels and compares the result against a known ancestor hash at that
// level. It is the partial-proof verifier used when a cache already holds
// an authenticated interior node.
func VerifyToKnownNode(leaf []byte, i uint64, siblings [][]byte, known []byte, knownLevel uint64) error {
	if i < 1 {
		return ErrIndexOutOfRange
	}
	if len(leaf) != HashSize || uint64(len(siblings)) != knownLevel {
		return ErrInvalidProof
	}

	cur := leaf
	pos := i - 1
	for _, sibling := range siblings {
		if len(sibling) != HashSize {
			return ErrInvalidProof
		}
		if pos%2 == 0 {
			cur = nodeHash(cur, sibling)
		} else {
			cur = nodeHash(sibling, cur)
		}
		pos /= 2
	}
	if !bytes.Equal(cur, known) {
		return fmt.Errorf("%w: does not reach known node at level %d", ErrInvalidProof, knownLevel)
	}
	return nil
}

// ShortProof returns the shortest proof segment for leaf i that ends at a
// cached ancestor: the siblings to fold plus the ancestor's level and hash.
// Returns ok=false when the cache holds no ancestor usable for i, in which
// case the caller falls back to a full root proof.
func (c *NodeCache) ShortProof(i uint64, full [][]byte) (siblings [][]byte, knownLevel uint64, known []byte, ok bool) {
	if i < 1 {
		return nil, 0, nil, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	pos := i - 1
	for level := uint64(0); level < uint64(len(full)); level++ {
		pos /= 2
		if n, exists := c.nodes[nodeKey{level + 1, pos}]; exists {
			out := make([][]byte, level+1)
			for j := range out {
				out[j] = append([]byte(nil), full[j]...)
			}
			return out, level + 1, append([]byte(nil), n...), true
		}
	}
	return nil, 0, nil, false
}
