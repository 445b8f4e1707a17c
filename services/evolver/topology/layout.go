// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package topology arranges streams in a k-dimensional grid and folds their
// histories.
//
// Time runs inside a coordinate: a TimeSegmentTree collapses its tuples with
// the ordered affine Compose. Space runs across coordinates: Fold combines
// the per-coordinate roots with the abelian Merge, grouping by one axis at a
// time. Because Merge is abelian the folded root must not depend on the axis
// order, and VerifySymmetry checks exactly that.
package topology

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/AleutianAI/Evolver/services/evolver/hashing"
)

const coordinateTag = "HTP_COORDINATE_V2"

var (
	// ErrInvalidLayout is returned for non-positive dimensions or side length.
	ErrInvalidLayout = errors.New("invalid layout")

	// ErrCoordinateOutOfRange is returned when a coordinate does not fit the layout.
	ErrCoordinateOutOfRange = errors.New("coordinate out of range")

	// ErrMalformedCoordinate is returned when a coordinate key cannot be parsed.
	ErrMalformedCoordinate = errors.New("malformed coordinate")
)

// Coordinate is a point in the grid, one index per axis.
type Coordinate []int

// Key returns the canonical string form, e.g. "3,0,7".
func (c Coordinate) Key() string {
	parts := make([]string, len(c))
	for i, v := range c {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

// String implements fmt.Stringer.
func (c Coordinate) String() string {
	return "[" + c.Key() + "]"
}

// Equal reports element-wise equality.
func (c Coordinate) Equal(o Coordinate) bool {
	if len(c) != len(o) {
		return false
	}
	for i := range c {
		if c[i] != o[i] {
			return false
		}
	}
	return true
}

// ParseCoordinate parses the Key form.
func ParseCoordinate(key string) (Coordinate, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: empty", ErrMalformedCoordinate)
	}
	parts := strings.Split(key, ",")
	c := make(Coordinate, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrMalformedCoordinate, key)
		}
		c[i] = v
	}
	return c, nil
}

// Layout is the shape of the grid.
type Layout struct {
	Dimensions int `json:"dimensions" yaml:"dimensions"`
	SideLength int `json:"side_length" yaml:"side_length"`
}

// NewLayout validates and returns a Layout.
func NewLayout(dimensions, sideLength int) (Layout, error) {
	l := Layout{Dimensions: dimensions, SideLength: sideLength}
	return l, l.Validate()
}

// Validate checks that both dimensions are positive.
func (l Layout) Validate() error {
	if l.Dimensions <= 0 || l.SideLength <= 0 {
		return fmt.Errorf("%w: dimensions=%d side_length=%d", ErrInvalidLayout, l.Dimensions, l.SideLength)
	}
	return nil
}

// Contains checks that c has one in-range index per axis.
func (l Layout) Contains(c Coordinate) error {
	if len(c) != l.Dimensions {
		return fmt.Errorf("%w: %d axes, layout has %d", ErrCoordinateOutOfRange, len(c), l.Dimensions)
	}
	for axis, v := range c {
		if v < 0 || v >= l.SideLength {
			return fmt.Errorf("%w: axis %d index %d not in [0, %d)", ErrCoordinateOutOfRange, axis, v, l.SideLength)
		}
	}
	return nil
}

// CoordinateFor maps an identifier to a coordinate through a
// domain-separated hash. The first 16 digest bytes, read little-endian,
// are expanded in base SideLength.
func (l Layout) CoordinateFor(id string) Coordinate {
	d := hashing.Sum256(coordinateTag, []byte(id))
	le := make([]byte, 16)
	for i := 0; i < 16; i++ {
		le[15-i] = d[i]
	}
	return l.expand(new(big.Int).SetBytes(le))
}

// CoordinateForIndex maps a numeric id to a coordinate by base-SideLength
// expansion, least significant axis first.
func (l Layout) CoordinateForIndex(n uint64) Coordinate {
	return l.expand(new(big.Int).SetUint64(n))
}

func (l Layout) expand(v *big.Int) Coordinate {
	side := big.NewInt(int64(l.SideLength))
	rem := new(big.Int)
	c := make(Coordinate, l.Dimensions)
	for axis := range c {
		v.QuoRem(v, side, rem)
		c[axis] = int(rem.Int64())
	}
	return c
}
