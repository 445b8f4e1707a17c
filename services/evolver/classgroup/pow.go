// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package classgroup

import (
	"fmt"
	"math/big"
)

// Pow returns f^e.
//
// Description:
//
//	Montgomery ladder over the bits of |e| from most to least significant.
//	Both registers are updated on every bit (one composition and one
//	squaring), keeping the invariant r1 = r0·f. This narrows the timing
//	difference between zero and one bits but is not constant-time: big.Int
//	arithmetic and reduction are data dependent.
//
// Inputs:
//
//	f - Base element of this group.
//	e - Exponent. Zero yields the identity; negative exponents use f⁻¹.
//
// Outputs:
//
//	Element - The reduced power.
//	error - Any Compose, Square or membership error.
func (g *Group) Pow(f Element, e *big.Int) (Element, error) {
	if e == nil {
		return Element{}, fmt.Errorf("%w: nil exponent", ErrMalformedElement)
	}
	if err := g.checkMember(f); err != nil {
		return Element{}, err
	}

	base := f
	if e.Sign() < 0 {
		inv, err := g.Inverse(f)
		if err != nil {
			return Element{}, err
		}
		base = inv
	}
	exp := new(big.Int).Abs(e)

	r0 := g.Identity()
	r1 := base
	var err error
	for i := exp.BitLen() - 1; i >= 0; i-- {
		if exp.Bit(i) == 0 {
			if r1, err = g.Compose(r0, r1); err != nil {
				return Element{}, err
			}
			if r0, err = g.Square(r0); err != nil {
				return Element{}, err
			}
		} else {
			if r0, err = g.Compose(r0, r1); err != nil {
				return Element{}, err
			}
			if r1, err = g.Square(r1); err != nil {
				return Element{}, err
			}
		}
	}
	return r0, nil
}

// PowUint64 is Pow for small exponents.
func (g *Group) PowUint64(f Element, e uint64) (Element, error) {
	return g.Pow(f, new(big.Int).SetUint64(e))
}
