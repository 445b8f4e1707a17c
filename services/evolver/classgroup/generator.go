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
	"encoding/binary"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/AleutianAI/Evolver/services/evolver/hashing"
	"github.com/AleutianAI/Evolver/services/evolver/primes"
)

const generatorTag = "HTP_CLASSGROUP_GENERATOR_V1"

// Generator returns the deterministic generator of this group.
//
// Description:
//
//	Derives a starting offset from a domain-separated hash of Δ and walks
//	ascending primes p. For each p with Jacobi(Δ/p) = 1 it takes an odd
//	square root b of Δ mod p (so b² ≡ Δ mod 4p) and reduces (p, b). The
//	candidate is rejected if it is the identity, has order two, or is
//	annihilated by the product of all primes below the small-order bound.
//	The result is memoised.
//
// Outputs:
//
//	Element - The generator.
//	error - ErrGeneratorNotFound after MaxGeneratorAttempts primes.
//
// Thread Safety: Safe for concurrent use.
func (g *Group) Generator() (Element, error) {
	g.genOnce.Do(func() {
		g.gen, g.genErr = g.searchGenerator()
	})
	return g.gen, g.genErr
}

// MustGenerator is Generator for callers that treat failure as fatal.
// A group without a usable generator must never be used, so this panics.
func (g *Group) MustGenerator() Element {
	gen, err := g.Generator()
	if err != nil {
		panic(fmt.Sprintf("classgroup: %v", err))
	}
	return gen
}

func (g *Group) searchGenerator() (Element, error) {
	annihilator := primes.ProductOfPrimesBelow(g.smallOrderBound)
	checkOrder := annihilator.Cmp(bigOne) > 0

	p := primes.NextPrime(new(big.Int).Sub(g.startOffset(), bigOne))
	identity := g.Identity()
	dModP := new(big.Int)

	for attempt := 0; attempt < MaxGeneratorAttempts; attempt, p = attempt+1, primes.NextPrime(p) {
		if p.Bit(0) == 0 {
			continue
		}
		dModP.Mod(g.d, p)
		if big.Jacobi(dModP, p) != 1 {
			continue
		}
		b := new(big.Int).ModSqrt(dModP, p)
		if b == nil {
			continue
		}
		if b.Bit(0) == 0 {
			b.Sub(p, b)
		}

		candidate, err := g.Reduce(p, b)
		if err != nil {
			continue
		}
		if candidate.Equal(identity) || isAmbiguous(candidate) {
			continue
		}
		if checkOrder {
			x, err := g.Pow(candidate, annihilator)
			if err != nil || x.Equal(identity) {
				continue
			}
		}

		g.logger.Debug("generator selected",
			slog.String("prime", p.String()),
			slog.Int("attempts", attempt+1),
			slog.Int64("small_order_bound", g.smallOrderBound))
		return candidate, nil
	}

	return Element{}, fmt.Errorf("%w: %d primes tried for %d-bit discriminant",
		ErrGeneratorNotFound, MaxGeneratorAttempts, g.bits)
}

// startOffset hashes Δ into a small starting point for the prime walk. The
// width grows with |Δ| but stays within 8..64 bits.
func (g *Group) startOffset() *big.Int {
	digest := hashing.New(generatorTag).Int(g.d).Sum()
	width := g.bits / 4
	if width < 8 {
		width = 8
	}
	if width > 64 {
		width = 64
	}
	v := binary.BigEndian.Uint64(digest[:8])
	if width < 64 {
		v &= (uint64(1) << uint(width)) - 1
	}
	offset := new(big.Int).SetUint64(v)
	if offset.Cmp(big.NewInt(3)) < 0 {
		offset.SetInt64(3)
	}
	return offset
}

// isAmbiguous reports whether a reduced form has order at most two:
// b = 0, a = b or a = c.
func isAmbiguous(e Element) bool {
	return e.b.Sign() == 0 || e.a.Cmp(e.b) == 0 || e.a.Cmp(e.c) == 0
}
