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

// Compose returns the product f·h in Cl(Δ).
//
// Description:
//
//	Dirichlet composition via the Shanks congruence chain. With
//	s = (b1+b2)/2 and w = gcd(a1, a2, s), the new leading coefficient is
//	a1·a2/w² and the middle coefficient is fixed by two linear congruences
//	solved with the extended gcd. The raw form is then reduced.
//
// Inputs:
//
//	f, h - Elements of this group.
//
// Outputs:
//
//	Element - The reduced product.
//	error - ErrDiscriminantMismatch for foreign elements,
//	        ErrCompositionIncompatible when a congruence has no solution,
//	        or any Reduce error.
func (g *Group) Compose(f, h Element) (Element, error) {
	if err := g.checkMember(f); err != nil {
		return Element{}, err
	}
	if err := g.checkMember(h); err != nil {
		return Element{}, err
	}

	sum := new(big.Int).Add(f.b, h.b)
	if sum.Bit(0) != 0 {
		return Element{}, fmt.Errorf("%w: b1+b2 is odd", ErrCompositionIncompatible)
	}
	s := new(big.Int).Rsh(sum, 1)
	diff := new(big.Int).Sub(h.b, f.b)
	diff.Rsh(diff, 1)

	w := new(big.Int).GCD(nil, nil, f.a, h.a)
	w.GCD(nil, nil, w, s)

	sa := new(big.Int).Quo(f.a, w)
	ta := new(big.Int).Quo(h.a, w)
	u := new(big.Int).Quo(s, w)

	// (ta·u)·k ≡ diff·u + sa·c1 (mod sa·ta)
	st := new(big.Int).Mul(sa, ta)
	tu := new(big.Int).Mul(ta, u)
	rhs := new(big.Int).Mul(diff, u)
	rhs.Add(rhs, new(big.Int).Mul(sa, f.c))
	kTemp, step, err := solveMod(tu, rhs, st)
	if err != nil {
		return Element{}, err
	}

	// (ta·step)·n ≡ diff - ta·kTemp (mod sa)
	rhs2 := new(big.Int).Mul(ta, kTemp)
	rhs2.Sub(diff, rhs2)
	n, _, err := solveMod(new(big.Int).Mul(ta, step), rhs2, sa)
	if err != nil {
		return Element{}, err
	}

	k := new(big.Int).Mul(step, n)
	k.Add(k, kTemp)

	// b3 = b2 - 2·ta·k
	b3 := new(big.Int).Mul(ta, k)
	b3.Lsh(b3, 1)
	b3.Sub(h.b, b3)

	return g.Reduce(st, b3)
}

// Square returns f² using the dedicated doubling formula.
//
// With u·b + v·a = d = gcd(a, b), A = a/d and C = -c·u mod A, the square
// is the reduction of (A², b + 2·A·C).
func (g *Group) Square(f Element) (Element, error) {
	if err := g.checkMember(f); err != nil {
		return Element{}, err
	}

	u := new(big.Int)
	d := new(big.Int).GCD(u, nil, f.b, f.a)
	bigA := new(big.Int).Quo(f.a, d)

	cc := new(big.Int).Mul(f.c, u)
	cc.Neg(cc)
	cc.Mod(cc, bigA)

	a3 := new(big.Int).Mul(bigA, bigA)
	b3 := new(big.Int).Mul(bigA, cc)
	b3.Lsh(b3, 1)
	b3.Add(b3, f.b)

	return g.Reduce(a3, b3)
}

// Inverse returns f⁻¹ = (a, -b, c), reduced for the boundary cases.
func (g *Group) Inverse(f Element) (Element, error) {
	if err := g.checkMember(f); err != nil {
		return Element{}, err
	}
	return g.Reduce(f.a, new(big.Int).Neg(f.b))
}

// solveMod solves a·x ≡ b (mod m), returning the least solution x0 and the
// step m/gcd(a, m) so that every solution is x0 + k·step.
func solveMod(a, b, m *big.Int) (*big.Int, *big.Int, error) {
	d := new(big.Int)
	gcd := new(big.Int).GCD(d, nil, a, m)
	if gcd.Sign() == 0 {
		return nil, nil, fmt.Errorf("%w: zero modulus", ErrCompositionIncompatible)
	}

	q, r := new(big.Int).QuoRem(b, gcd, new(big.Int))
	if r.Sign() != 0 {
		return nil, nil, fmt.Errorf("%w: gcd %s does not divide %s", ErrCompositionIncompatible, gcd, b)
	}

	x := q.Mul(q, d)
	x.Mod(x, m)
	return x, new(big.Int).Quo(m, gcd), nil
}
