// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package merkle implements the append-only commitment log.
//
// The log is an incremental Merkle tree over opaque 256-bit leaf digests.
// Its root for n leaves is the RFC 6962 Merkle Tree Hash, with interior
// nodes hashed as SHA3("HTP_MERKLE_NODE" || left || right) and leaves used
// as-is (callers supply already domain-separated digests). Roots are
// maintained from O(log n) peaks, so Append is amortised O(1) and Root is
// O(log n). Inclusion proofs follow the RFC 6962 audit path and are
// verified with the RFC 9162 algorithm.
package merkle

import (
	"errors"
	"fmt"
	"math/bits"
	"sync"

	"github.com/AleutianAI/Evolver/services/evolver/hashing"
)

const nodeTag = "HTP_MERKLE_NODE"

var (
	// ErrIndexOutOfRange is returned when a leaf index is not below the tree size.
	ErrIndexOutOfRange = errors.New("leaf index out of range")

	// ErrSizeOutOfRange is returned for a tree size larger than the log.
	ErrSizeOutOfRange = errors.New("tree size out of range")

	// ErrProofLength is returned when the audit path has the wrong length.
	ErrProofLength = errors.New("inclusion proof has wrong length")

	// ErrRootMismatch is returned when the recomputed root differs.
	ErrRootMismatch = errors.New("inclusion proof root mismatch")
)

// NodeHash combines two child hashes.
func NodeHash(left, right hashing.Digest) hashing.Digest {
	return hashing.New(nodeTag).Bytes(left[:]).Bytes(right[:]).Sum()
}

// peak is the root of a perfect subtree of 2^height leaves.
type peak struct {
	hash   hashing.Digest
	height uint
}

// Log is an append-only Merkle log.
//
// Thread Safety: Safe for concurrent use. Appends take the write lock;
// roots and proofs take the read lock.
type Log struct {
	mu     sync.RWMutex
	leaves []hashing.Digest
	peaks  []peak
}

// NewLog returns an empty log.
func NewLog() *Log {
	return &Log{}
}

// Append adds a leaf and returns its index.
func (l *Log) Append(leaf hashing.Digest) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := uint64(len(l.leaves))
	l.leaves = append(l.leaves, leaf)

	l.peaks = append(l.peaks, peak{hash: leaf})
	for n := len(l.peaks); n >= 2 && l.peaks[n-1].height == l.peaks[n-2].height; n = len(l.peaks) {
		merged := peak{
			hash:   NodeHash(l.peaks[n-2].hash, l.peaks[n-1].hash),
			height: l.peaks[n-1].height + 1,
		}
		l.peaks = append(l.peaks[:n-2], merged)
	}
	return idx
}

// Size returns the number of leaves.
func (l *Log) Size() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.leaves))
}

// Leaf returns the leaf at index.
func (l *Log) Leaf(index uint64) (hashing.Digest, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index >= uint64(len(l.leaves)) {
		return hashing.Digest{}, fmt.Errorf("%w: %d >= %d", ErrIndexOutOfRange, index, len(l.leaves))
	}
	return l.leaves[index], nil
}

// Root returns the current root, folding peaks from the smallest upward.
// The empty log has the zero digest as root.
func (l *Log) Root() hashing.Digest {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return foldPeaks(l.peaks)
}

func foldPeaks(peaks []peak) hashing.Digest {
	if len(peaks) == 0 {
		return hashing.Digest{}
	}
	acc := peaks[len(peaks)-1].hash
	for i := len(peaks) - 2; i >= 0; i-- {
		acc = NodeHash(peaks[i].hash, acc)
	}
	return acc
}

// RootAt returns the root the log had when it held size leaves.
func (l *Log) RootAt(size uint64) (hashing.Digest, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if size > uint64(len(l.leaves)) {
		return hashing.Digest{}, fmt.Errorf("%w: %d > %d", ErrSizeOutOfRange, size, len(l.leaves))
	}
	if size == 0 {
		return hashing.Digest{}, nil
	}
	return subtreeHash(l.leaves[:size]), nil
}

// Prove returns an inclusion proof for index against the current root.
func (l *Log) Prove(index uint64) (*InclusionProof, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.proveLocked(index, uint64(len(l.leaves)))
}

// ProveAt returns an inclusion proof for index against RootAt(size).
func (l *Log) ProveAt(index, size uint64) (*InclusionProof, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if size > uint64(len(l.leaves)) {
		return nil, fmt.Errorf("%w: %d > %d", ErrSizeOutOfRange, size, len(l.leaves))
	}
	return l.proveLocked(index, size)
}

func (l *Log) proveLocked(index, size uint64) (*InclusionProof, error) {
	if index >= size {
		return nil, fmt.Errorf("%w: %d >= %d", ErrIndexOutOfRange, index, size)
	}
	return &InclusionProof{
		LeafIndex: index,
		TreeSize:  size,
		LeafHash:  l.leaves[index],
		Siblings:  auditPath(index, l.leaves[:size]),
	}, nil
}

// subtreeHash is the RFC 6962 Merkle Tree Hash of a non-empty leaf range.
func subtreeHash(leaves []hashing.Digest) hashing.Digest {
	if len(leaves) == 1 {
		return leaves[0]
	}
	k := splitPoint(uint64(len(leaves)))
	return NodeHash(subtreeHash(leaves[:k]), subtreeHash(leaves[k:]))
}

// auditPath returns the RFC 6962 PATH(m, D[n]), ordered leaf to root.
func auditPath(m uint64, leaves []hashing.Digest) []hashing.Digest {
	if len(leaves) <= 1 {
		return nil
	}
	k := splitPoint(uint64(len(leaves)))
	if m < k {
		return append(auditPath(m, leaves[:k]), subtreeHash(leaves[k:]))
	}
	return append(auditPath(m-k, leaves[k:]), subtreeHash(leaves[:k]))
}

// splitPoint returns the largest power of two strictly less than n (n >= 2).
func splitPoint(n uint64) uint64 {
	return uint64(1) << (bits.Len64(n-1) - 1)
}

// -----------------------------------------------------------------------------
// Inclusion proofs
// -----------------------------------------------------------------------------

// InclusionProof shows that LeafHash is leaf LeafIndex of the tree of
// TreeSize leaves.
type InclusionProof struct {
	LeafIndex uint64           `json:"leaf_index"`
	TreeSize  uint64           `json:"tree_size"`
	LeafHash  hashing.Digest   `json:"leaf_hash"`
	Siblings  []hashing.Digest `json:"siblings"`
}

// ComputeRoot recomputes the root from the leaf and its siblings using the
// RFC 9162 verification walk.
func (p *InclusionProof) ComputeRoot() (hashing.Digest, error) {
	if p.LeafIndex >= p.TreeSize {
		return hashing.Digest{}, fmt.Errorf("%w: %d >= %d", ErrIndexOutOfRange, p.LeafIndex, p.TreeSize)
	}
	fn, sn := p.LeafIndex, p.TreeSize-1
	r := p.LeafHash
	for _, sib := range p.Siblings {
		if sn == 0 {
			return hashing.Digest{}, fmt.Errorf("%w: path longer than tree", ErrProofLength)
		}
		if fn&1 == 1 || fn == sn {
			r = NodeHash(sib, r)
			for fn&1 == 0 && fn != 0 {
				fn >>= 1
				sn >>= 1
			}
		} else {
			r = NodeHash(r, sib)
		}
		fn >>= 1
		sn >>= 1
	}
	if sn != 0 {
		return hashing.Digest{}, fmt.Errorf("%w: path shorter than tree", ErrProofLength)
	}
	return r, nil
}

// Verify checks the proof against root.
func (p *InclusionProof) Verify(root hashing.Digest) error {
	got, err := p.ComputeRoot()
	if err != nil {
		return err
	}
	if got != root {
		return fmt.Errorf("%w: computed %s, expected %s", ErrRootMismatch, got.Hex(), root.Hex())
	}
	return nil
}
