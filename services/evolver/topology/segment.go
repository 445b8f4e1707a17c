// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package topology

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/Evolver/services/evolver/affine"
)

var (
	// ErrWitnessOutOfRange is returned for an index beyond the recorded history.
	ErrWitnessOutOfRange = errors.New("witness index out of recorded history")

	// ErrWitnessMismatch is returned when a witness does not reproduce the root.
	ErrWitnessMismatch = errors.New("time witness does not match root")
)

// TimeSegmentTree is the append-only history of one coordinate.
//
// Its root collapses the leaves strictly left to right with the ordered
// Compose, splitting at the midpoint recursively. The root is recomputed on
// every call.
//
// Thread Safety: Not safe for concurrent use. Streams guard their tree
// with their own lock.
type TimeSegmentTree struct {
	leaves []affine.Tuple
}

// NewTimeSegmentTree returns an empty tree.
func NewTimeSegmentTree() *TimeSegmentTree {
	return &TimeSegmentTree{}
}

// Append adds a tuple at the end of the history.
func (t *TimeSegmentTree) Append(tuple affine.Tuple) {
	t.leaves = append(t.leaves, tuple)
}

// Len returns the number of leaves.
func (t *TimeSegmentTree) Len() int {
	return len(t.leaves)
}

// Leaf returns the leaf at index.
func (t *TimeSegmentTree) Leaf(index int) (affine.Tuple, error) {
	if index < 0 || index >= len(t.leaves) {
		return affine.Tuple{}, fmt.Errorf("%w: index %d, history length %d", ErrWitnessOutOfRange, index, len(t.leaves))
	}
	return t.leaves[index], nil
}

// Leaves returns a copy of the leaf slice.
func (t *TimeSegmentTree) Leaves() []affine.Tuple {
	out := make([]affine.Tuple, len(t.leaves))
	copy(out, t.leaves)
	return out
}

// Root collapses the history. An empty tree has the identity root.
func (t *TimeSegmentTree) Root(al *affine.Algebra) (affine.Tuple, error) {
	if len(t.leaves) == 0 {
		return al.Identity(), nil
	}
	return collapse(al, t.leaves)
}

func collapse(al *affine.Algebra, nodes []affine.Tuple) (affine.Tuple, error) {
	switch len(nodes) {
	case 0:
		return al.Identity(), nil
	case 1:
		return nodes[0], nil
	}
	mid := len(nodes) / 2
	left, err := collapse(al, nodes[:mid])
	if err != nil {
		return affine.Tuple{}, err
	}
	right, err := collapse(al, nodes[mid:])
	if err != nil {
		return affine.Tuple{}, err
	}
	return al.Compose(left, right)
}

// WitnessStep is one sibling on a witness path. Left reports whether the
// sibling sits to the left of the running aggregate.
type WitnessStep struct {
	Sibling affine.Tuple `json:"sibling"`
	Left    bool         `json:"left"`
}

// TimeWitness proves that Leaf sits at Index of a tree with a given root.
// Steps are ordered from the leaf upward.
type TimeWitness struct {
	Index int           `json:"index"`
	Leaf  affine.Tuple  `json:"leaf"`
	Steps []WitnessStep `json:"steps"`
}

// Witness builds the sibling path for index.
//
// An index at or beyond the recorded history is refused: the event it
// names never happened.
func (t *TimeSegmentTree) Witness(al *affine.Algebra, index int) (*TimeWitness, error) {
	if index < 0 || index >= len(t.leaves) {
		return nil, fmt.Errorf("%w: index %d, history length %d", ErrWitnessOutOfRange, index, len(t.leaves))
	}
	var steps []WitnessStep
	if err := witnessPath(al, t.leaves, index, &steps); err != nil {
		return nil, err
	}
	// collected top-down
	for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
		steps[i], steps[j] = steps[j], steps[i]
	}
	return &TimeWitness{Index: index, Leaf: t.leaves[index], Steps: steps}, nil
}

func witnessPath(al *affine.Algebra, nodes []affine.Tuple, index int, steps *[]WitnessStep) error {
	if len(nodes) == 1 {
		return nil
	}
	mid := len(nodes) / 2
	if index < mid {
		right, err := collapse(al, nodes[mid:])
		if err != nil {
			return err
		}
		*steps = append(*steps, WitnessStep{Sibling: right, Left: false})
		return witnessPath(al, nodes[:mid], index, steps)
	}
	left, err := collapse(al, nodes[:mid])
	if err != nil {
		return err
	}
	*steps = append(*steps, WitnessStep{Sibling: left, Left: true})
	return witnessPath(al, nodes[mid:], index-mid, steps)
}

// Verify recomputes the root from the leaf and compares it with root.
func (w *TimeWitness) Verify(al *affine.Algebra, root affine.Tuple) error {
	acc := w.Leaf
	for i, s := range w.Steps {
		var err error
		if s.Left {
			acc, err = al.Compose(s.Sibling, acc)
		} else {
			acc, err = al.Compose(acc, s.Sibling)
		}
		if err != nil {
			return fmt.Errorf("witness step %d: %w", i, err)
		}
	}
	if !acc.Equal(root) {
		return fmt.Errorf("%w: index %d", ErrWitnessMismatch, w.Index)
	}
	return nil
}
