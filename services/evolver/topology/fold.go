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
	"context"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/Evolver/services/evolver/affine"
)

var (
	// ErrInvalidAxisOrder is returned when an order is not a permutation of
	// the axes.
	ErrInvalidAxisOrder = errors.New("axis order is not a permutation of the dimensions")

	// ErrHolographicViolation is returned when two fold orders disagree.
	// It means the spatial law has picked up order dependence and is fatal.
	ErrHolographicViolation = errors.New("holographic symmetry violated")
)

// Cell is one coordinate's collapsed history in a snapshot.
type Cell struct {
	Coord Coordinate
	Root  affine.Tuple
}

type mergeFunc func(a, b affine.Tuple) (affine.Tuple, error)

// NaturalOrder returns (0, 1, ..., dims-1).
func NaturalOrder(dims int) []int {
	order := make([]int, dims)
	for i := range order {
		order[i] = i
	}
	return order
}

// Fold combines the non-trivial roots of a snapshot into one tuple.
//
// Description:
//
//	Trivial roots (1, identity) are dropped. The remaining cells are
//	grouped by their index on axis order[0], each group is folded
//	recursively on the remaining axes, and the group results are merged in
//	ascending index order. Only the abelian Merge is used.
//
// Inputs:
//
//	al - The algebra.
//	cells - The snapshot. Every coordinate must have len(order) axes.
//	order - A permutation of 0..dims-1.
//
// Outputs:
//
//	affine.Tuple - The folded root; the identity for an empty snapshot.
//	error - ErrInvalidAxisOrder or an algebra error.
func Fold(al *affine.Algebra, cells []Cell, order []int) (affine.Tuple, error) {
	return fold(al, al.Merge, cells, order)
}

func fold(al *affine.Algebra, merge mergeFunc, cells []Cell, order []int) (affine.Tuple, error) {
	if err := checkOrder(order); err != nil {
		return affine.Tuple{}, err
	}
	live := make([]Cell, 0, len(cells))
	for _, c := range cells {
		if len(c.Coord) != len(order) {
			return affine.Tuple{}, fmt.Errorf("%w: coordinate %s has %d axes, order has %d",
				ErrInvalidAxisOrder, c.Coord, len(c.Coord), len(order))
		}
		if !al.IsTrivial(c.Root) {
			live = append(live, c)
		}
	}
	return foldAxes(al, merge, live, order, 0)
}

func foldAxes(al *affine.Algebra, merge mergeFunc, cells []Cell, order []int, depth int) (affine.Tuple, error) {
	if len(cells) == 0 {
		return al.Identity(), nil
	}
	if depth == len(order) {
		acc := cells[0].Root
		for _, c := range cells[1:] {
			var err error
			if acc, err = merge(acc, c.Root); err != nil {
				return affine.Tuple{}, err
			}
		}
		return acc, nil
	}

	axis := order[depth]
	groups := make(map[int][]Cell)
	for _, c := range cells {
		groups[c.Coord[axis]] = append(groups[c.Coord[axis]], c)
	}
	keys := make([]int, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	var acc affine.Tuple
	for i, k := range keys {
		sub, err := foldAxes(al, merge, groups[k], order, depth+1)
		if err != nil {
			return affine.Tuple{}, err
		}
		if i == 0 {
			acc = sub
			continue
		}
		if acc, err = merge(acc, sub); err != nil {
			return affine.Tuple{}, err
		}
	}
	return acc, nil
}

func checkOrder(order []int) error {
	seen := make([]bool, len(order))
	for _, a := range order {
		if a < 0 || a >= len(order) || seen[a] {
			return fmt.Errorf("%w: %v", ErrInvalidAxisOrder, order)
		}
		seen[a] = true
	}
	return nil
}

// DefaultPermutations returns the comparison orders used when the caller
// supplies none: the first two axes swapped and the full reversal.
func DefaultPermutations(dims int) [][]int {
	if dims < 2 {
		return nil
	}
	swapped := NaturalOrder(dims)
	swapped[0], swapped[1] = swapped[1], swapped[0]
	reversed := NaturalOrder(dims)
	sort.Sort(sort.Reverse(sort.IntSlice(reversed)))
	if dims == 2 {
		return [][]int{swapped}
	}
	return [][]int{swapped, reversed}
}

// VerifySymmetry folds the snapshot under the natural order and under each
// of orders (DefaultPermutations when empty) in parallel, and returns the
// natural root if every fold agrees.
//
// A disagreement returns ErrHolographicViolation. Callers must treat it as
// fatal and never retry.
func VerifySymmetry(ctx context.Context, al *affine.Algebra, dims int, cells []Cell, orders ...[]int) (affine.Tuple, error) {
	return verifySymmetry(ctx, al, al.Merge, dims, cells, orders)
}

func verifySymmetry(ctx context.Context, al *affine.Algebra, merge mergeFunc, dims int, cells []Cell, orders [][]int) (affine.Tuple, error) {
	if len(orders) == 0 {
		orders = DefaultPermutations(dims)
	}
	all := append([][]int{NaturalOrder(dims)}, orders...)
	roots := make([]affine.Tuple, len(all))

	eg, egCtx := errgroup.WithContext(ctx)
	for i, order := range all {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			root, err := fold(al, merge, cells, order)
			if err != nil {
				return fmt.Errorf("fold order %v: %w", order, err)
			}
			roots[i] = root
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return affine.Tuple{}, err
	}

	for i := 1; i < len(roots); i++ {
		if !roots[i].Equal(roots[0]) {
			return affine.Tuple{}, fmt.Errorf("%w: order %v gives %s, natural order gives %s",
				ErrHolographicViolation, all[i], roots[i], roots[0])
		}
	}
	return roots[0], nil
}
