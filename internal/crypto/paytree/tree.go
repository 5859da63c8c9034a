// Package paytree implements the PayTree Merkle-tree micropayment scheme.
//
// The channel commitment is the Merkle root over max_i leaves, where leaf i
// (1-based) is H(i || secret || channel_id) — binding every leaf to a fresh
// per-channel secret and the channel itself, which prevents cross-channel
// replay. The i-th payment reveals leaf i together with its inclusion proof;
// the verifier folds the proof siblings in the order given by the binary
// representation of the leaf position and compares against the root.
//
// The leaf level is padded to a power of two by duplicating the last leaf;
// with a full level there are never odd nodes above it.
package paytree

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"math/bits"
)

// HashSize is the byte length of every tree node.
const HashSize = sha256.Size

var (
	// ErrInvalidProof indicates the folded proof does not reach the root.
	ErrInvalidProof = errors.New("invalid paytree proof")
	// ErrIndexOutOfRange indicates i is outside [1, max_i].
	ErrIndexOutOfRange = errors.New("paytree index out of range")
	// ErrInvalidSecret indicates an empty or missing leaf secret.
	ErrInvalidSecret = errors.New("invalid paytree secret")
	// ErrEmptyTree indicates a tree build over zero leaves.
	ErrEmptyTree = errors.New("cannot build paytree with no leaves")
)

// LeafHash computes leaf i: SHA-256 over the big-endian index, the channel
// secret and the channel ID.
func LeafHash(i uint64, secret []byte, channelID string) []byte {
	h := sha256.New()
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], i)
	h.Write(idx[:])
	h.Write(secret)
	h.Write([]byte(channelID))
	return h.Sum(nil)
}

func nodeHash(left, right []byte) []byte {
	h := sha256.New()
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}

func nextPowerOfTwo(n uint64) uint64 {
	if n <= 1 {
		return 1
	}
	return 1 << uint(bits.Len64(n-1))
}

// Commitment is the immutable channel commitment: the Merkle root and the
// leaf cap fixed at channel open.
type Commitment struct {
	Root []byte
	MaxI uint64
}

// VerifyProof recomputes the root from leaf i and its sibling path. The
// siblings run from the leaf level upward; at each level the current node's
// position parity decides whether the sibling folds in from the right or
// the left. Accepts iff 1 <= i <= max_i, the proof has exactly one sibling
// per level, and the fold reaches the root.
func (c Commitment) VerifyProof(leaf []byte, i uint64, proof [][]byte) error {
	if i < 1 || i > c.MaxI {
		return ErrIndexOutOfRange
	}
	if len(leaf) != HashSize {
		return ErrInvalidProof
	}
	if uint64(len(proof)) != treeDepth(c.MaxI) {
		return ErrInvalidProof
	}

	cur := leaf
	pos := i - 1
	for _, sibling := range proof {
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
	if !bytes.Equal(cur, c.Root) {
		return ErrInvalidProof
	}
	return nil
}

// treeDepth is the number of sibling levels for a tree over maxI leaves
// after padding to a power of two.
func treeDepth(maxI uint64) uint64 {
	padded := nextPowerOfTwo(maxI)
	return uint64(bits.Len64(padded) - 1)
}

// Tree is the client-side prover: the fully materialized tree over leaves
// 1..max_i, able to produce the commitment and per-payment proofs.
type Tree struct {
	maxI      uint64
	secret    []byte
	channelID string
	levels    [][][]byte // levels[0] is the padded leaf level; last level is the root
}

// NewTree builds the tree for a channel. The secret must be fresh per
// channel; reusing it across channels would let a vendor replay leaves.
func NewTree(secret []byte, channelID string, maxI uint64) (*Tree, error) {
	if len(secret) == 0 {
		return nil, ErrInvalidSecret
	}
	if maxI < 1 {
		return nil, ErrEmptyTree
	}

	padded := nextPowerOfTwo(maxI)
	leaves := make([][]byte, padded)
	for i := uint64(0); i < maxI; i++ {
		leaves[i] = LeafHash(i+1, secret, channelID)
	}
	for i := maxI; i < padded; i++ {
		leaves[i] = leaves[maxI-1]
	}

	levels := [][][]byte{leaves}
	cur := leaves
	for len(cur) > 1 {
		next := make([][]byte, len(cur)/2)
		for i := range next {
			next[i] = nodeHash(cur[2*i], cur[2*i+1])
		}
		levels = append(levels, next)
		cur = next
	}

	return &Tree{
		maxI:      maxI,
		secret:    append([]byte(nil), secret...),
		channelID: channelID,
		levels:    levels,
	}, nil
}

// Commitment returns the channel commitment for this tree.
func (t *Tree) Commitment() Commitment {
	root := t.levels[len(t.levels)-1][0]
	return Commitment{Root: append([]byte(nil), root...), MaxI: t.maxI}
}

// Proof returns leaf i and its sibling path, leaf level upward.
func (t *Tree) Proof(i uint64) (leaf []byte, proof [][]byte, err error) {
	if i < 1 || i > t.maxI {
		return nil, nil, ErrIndexOutOfRange
	}

	pos := i - 1
	leaf = append([]byte(nil), t.levels[0][pos]...)
	proof = make([][]byte, 0, len(t.levels)-1)
	for level := 0; level < len(t.levels)-1; level++ {
		sibling := pos ^ 1
		proof = append(proof, append([]byte(nil), t.levels[level][sibling]...))
		pos /= 2
	}
	return leaf, proof, nil
}
