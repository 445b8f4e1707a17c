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
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testDiscriminant is -1000003; 1000003 is prime and ≡ 3 (mod 4).
var testDiscriminant = big.NewInt(-1000003)

func newTestGroup(t *testing.T, opts ...Option) *Group {
	t.Helper()
	g, err := NewGroup(testDiscriminant, opts...)
	require.NoError(t, err)
	return g
}

// sampleElements walks small primes and returns n split-prime forms.
func sampleElements(t *testing.T, g *Group, n int) []Element {
	t.Helper()
	var out []Element
	dModP := new(big.Int)
	for p := int64(3); len(out) < n; p += 2 {
		bp := big.NewInt(p)
		if !bp.ProbablyPrime(10) {
			continue
		}
		dModP.Mod(g.d, bp)
		if big.Jacobi(dModP, bp) != 1 {
			continue
		}
		b := new(big.Int).ModSqrt(dModP, bp)
		if b.Bit(0) == 0 {
			b.Sub(bp, b)
		}
		e, err := g.Reduce(bp, b)
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

func TestNewGroup_Validation(t *testing.T) {
	_, err := NewGroup(nil)
	assert.ErrorIs(t, err, ErrInvalidDiscriminant)

	_, err = NewGroup(big.NewInt(5))
	assert.ErrorIs(t, err, ErrInvalidDiscriminant)

	_, err = NewGroup(big.NewInt(-1000001))
	assert.ErrorIs(t, err, ErrInvalidDiscriminant)

	g, err := NewGroup(testDiscriminant)
	require.NoError(t, err)
	assert.Equal(t, 20, g.Bits())
	assert.Equal(t, 0, g.Discriminant().Cmp(testDiscriminant))
}

func TestIdentity(t *testing.T) {
	g := newTestGroup(t)
	id := g.Identity()

	assert.Equal(t, int64(1), id.A().Int64())
	assert.Equal(t, int64(1), id.B().Int64())
	assert.Equal(t, int64(250001), id.C().Int64())
	assert.NoError(t, g.Validate(id))
	assert.True(t, g.IsIdentity(id))
}

func TestReduce_Errors(t *testing.T) {
	g := newTestGroup(t)

	_, err := g.Reduce(big.NewInt(0), big.NewInt(1))
	assert.ErrorIs(t, err, ErrDegenerateForm)

	_, err = g.Reduce(big.NewInt(-3), big.NewInt(1))
	assert.ErrorIs(t, err, ErrDegenerateForm)

	_, err = g.Reduce(big.NewInt(2), big.NewInt(2))
	assert.ErrorIs(t, err, ErrNonIntegralDivision)

	_, err = g.Reduce(nil, big.NewInt(1))
	assert.ErrorIs(t, err, ErrMalformedElement)
}

func TestReduce_NonPrimitive(t *testing.T) {
	// Δ = -135 admits the imprimitive form (3, 3, 12).
	g, err := NewGroup(big.NewInt(-135))
	require.NoError(t, err)

	_, err = g.Reduce(big.NewInt(3), big.NewInt(3))
	assert.ErrorIs(t, err, ErrNonPrimitiveForm)
}

func TestReduce_Idempotent(t *testing.T) {
	g := newTestGroup(t)
	for _, e := range sampleElements(t, g, 25) {
		again, err := g.Reduce(e.A(), e.B())
		require.NoError(t, err)
		assert.True(t, again.Equal(e), "reduce(%s) = %s", e, again)
		assert.NoError(t, g.Validate(e))
	}
}

func TestReduce_StepCap(t *testing.T) {
	g := newTestGroup(t)

	// (11987, -9645) needs three swaps to reach (523, -363, 541)
	e, err := g.Reduce(big.NewInt(11987), big.NewInt(-9645))
	require.NoError(t, err)
	assert.Equal(t, int64(523), e.A().Int64())
	assert.Equal(t, int64(-363), e.B().Int64())
	assert.Equal(t, int64(541), e.C().Int64())

	prev := reductionStepLimit
	t.Cleanup(func() { reductionStepLimit = prev })

	reductionStepLimit = 3
	_, err = g.Reduce(big.NewInt(11987), big.NewInt(-9645))
	require.NoError(t, err)

	reductionStepLimit = 2
	_, err = g.Reduce(big.NewInt(11987), big.NewInt(-9645))
	require.ErrorIs(t, err, ErrReductionDivergence)
	assert.Contains(t, err.Error(), "after 2 steps")
}

func TestReduce_TieBreak(t *testing.T) {
	g := newTestGroup(t)

	// (1, -1, ·) normalises to (1, 1, ·).
	e, err := g.Reduce(big.NewInt(1), big.NewInt(-1))
	require.NoError(t, err)
	assert.True(t, e.Equal(g.Identity()))

	// An unreduced representative of the identity reduces to it.
	e, err = g.Reduce(big.NewInt(1), big.NewInt(7))
	require.NoError(t, err)
	assert.True(t, e.Equal(g.Identity()))
}

func TestGroupLaws(t *testing.T) {
	g := newTestGroup(t)
	elems := sampleElements(t, g, 12)
	id := g.Identity()

	for _, f := range elems {
		withID, err := g.Compose(f, id)
		require.NoError(t, err)
		assert.True(t, withID.Equal(f), "f·1 != f for %s", f)

		inv, err := g.Inverse(f)
		require.NoError(t, err)
		prod, err := g.Compose(f, inv)
		require.NoError(t, err)
		assert.True(t, prod.Equal(id), "f·f⁻¹ != 1 for %s", f)

		sq, err := g.Square(f)
		require.NoError(t, err)
		ff, err := g.Compose(f, f)
		require.NoError(t, err)
		assert.True(t, sq.Equal(ff), "square mismatch for %s", f)
	}

	for i, f := range elems {
		h := elems[(i+3)%len(elems)]
		k := elems[(i+7)%len(elems)]

		fh, err := g.Compose(f, h)
		require.NoError(t, err)
		left, err := g.Compose(fh, k)
		require.NoError(t, err)

		hk, err := g.Compose(h, k)
		require.NoError(t, err)
		right, err := g.Compose(f, hk)
		require.NoError(t, err)

		assert.True(t, left.Equal(right), "associativity failed for %s %s %s", f, h, k)

		hf, err := g.Compose(h, f)
		require.NoError(t, err)
		assert.True(t, fh.Equal(hf), "commutativity failed for %s %s", f, h)
	}
}

func TestPow_Consistency(t *testing.T) {
	g := newTestGroup(t)
	f := sampleElements(t, g, 3)[2]

	cases := [][2]int64{{0, 0}, {0, 5}, {1, 1}, {17, 40}, {1009, 2018}, {123456, 654321}}
	for _, c := range cases {
		pa, err := g.Pow(f, big.NewInt(c[0]))
		require.NoError(t, err)
		pb, err := g.Pow(f, big.NewInt(c[1]))
		require.NoError(t, err)
		sum, err := g.Pow(f, big.NewInt(c[0]+c[1]))
		require.NoError(t, err)
		prod, err := g.Compose(pa, pb)
		require.NoError(t, err)

		assert.True(t, sum.Equal(prod), "pow(%d+%d) mismatch", c[0], c[1])
	}
}

func TestPow_EdgeExponents(t *testing.T) {
	g := newTestGroup(t)
	f := sampleElements(t, g, 1)[0]

	zero, err := g.Pow(f, big.NewInt(0))
	require.NoError(t, err)
	assert.True(t, g.IsIdentity(zero))

	one, err := g.PowUint64(f, 1)
	require.NoError(t, err)
	assert.True(t, one.Equal(f))

	minusOne, err := g.Pow(f, big.NewInt(-1))
	require.NoError(t, err)
	inv, err := g.Inverse(f)
	require.NoError(t, err)
	assert.True(t, minusOne.Equal(inv))

	_, err = g.Pow(f, nil)
	assert.ErrorIs(t, err, ErrMalformedElement)
}

func TestPow_ClassNumberAnnihilates(t *testing.T) {
	// h(-1000003) = 105.
	g := newTestGroup(t)
	for _, f := range sampleElements(t, g, 8) {
		x, err := g.PowUint64(f, 105)
		require.NoError(t, err)
		assert.True(t, g.IsIdentity(x), "f^105 != 1 for %s", f)
	}
}

func TestCompose_DiscriminantMismatch(t *testing.T) {
	g := newTestGroup(t)
	other, err := NewGroup(big.NewInt(-1000039))
	require.NoError(t, err)

	_, err = g.Compose(g.Identity(), other.Identity())
	assert.ErrorIs(t, err, ErrDiscriminantMismatch)

	_, err = g.Square(other.Identity())
	assert.ErrorIs(t, err, ErrDiscriminantMismatch)

	_, err = g.Compose(Element{}, g.Identity())
	assert.ErrorIs(t, err, ErrMalformedElement)
}

func TestSolveMod(t *testing.T) {
	x, step, err := solveMod(big.NewInt(6), big.NewInt(4), big.NewInt(10))
	require.NoError(t, err)
	assert.Equal(t, int64(5), step.Int64())
	check := new(big.Int).Mul(big.NewInt(6), x)
	check.Sub(check, big.NewInt(4))
	assert.Equal(t, int64(0), check.Mod(check, big.NewInt(10)).Int64())

	_, _, err = solveMod(big.NewInt(6), big.NewInt(3), big.NewInt(10))
	assert.ErrorIs(t, err, ErrCompositionIncompatible)
}

func TestValidate(t *testing.T) {
	g := newTestGroup(t)

	unreduced := NewUnchecked(big.NewInt(1), big.NewInt(3), big.NewInt(250003))
	assert.ErrorIs(t, g.Validate(unreduced), ErrNotReduced)

	badTie := NewUnchecked(big.NewInt(1), big.NewInt(-1), big.NewInt(250001))
	assert.ErrorIs(t, g.Validate(badTie), ErrNotReduced)

	wrong := NewUnchecked(big.NewInt(1), big.NewInt(1), big.NewInt(7))
	assert.ErrorIs(t, g.Validate(wrong), ErrDiscriminantMismatch)

	assert.ErrorIs(t, g.Validate(Element{}), ErrMalformedElement)
}

func TestGenerator(t *testing.T) {
	g := newTestGroup(t)

	gen, err := g.Generator()
	require.NoError(t, err)
	require.NoError(t, g.Validate(gen))
	assert.False(t, g.IsIdentity(gen))
	assert.False(t, isAmbiguous(gen))

	// order does not divide 6 (primes below the default bound of 5)
	x, err := g.PowUint64(gen, 6)
	require.NoError(t, err)
	assert.False(t, g.IsIdentity(x))

	again := newTestGroup(t).MustGenerator()
	assert.True(t, gen.Equal(again), "generator must be deterministic")
}

func TestGenerator_SmallOrderBoundExhausts(t *testing.T) {
	// Every class order divides 105 = 3·5·7, so a bound of 8 rejects all.
	g := newTestGroup(t, WithSmallOrderBound(8))

	_, err := g.Generator()
	assert.ErrorIs(t, err, ErrGeneratorNotFound)
	assert.Panics(t, func() { g.MustGenerator() })
}

func TestElement_Encoding(t *testing.T) {
	g := newTestGroup(t)
	e := sampleElements(t, g, 5)[4]
	inv, err := g.Inverse(e)
	require.NoError(t, err)

	raw, err := inv.MarshalBinary()
	require.NoError(t, err)
	var fromBinary Element
	require.NoError(t, fromBinary.UnmarshalBinary(raw))
	assert.True(t, fromBinary.Equal(inv))

	js, err := json.Marshal(inv)
	require.NoError(t, err)
	var fromJSON Element
	require.NoError(t, json.Unmarshal(js, &fromJSON))
	assert.True(t, fromJSON.Equal(inv))

	assert.Error(t, fromBinary.UnmarshalBinary(raw[:len(raw)-1]))
	assert.ErrorIs(t, json.Unmarshal([]byte(`{"a":"x","b":"1","c":"1"}`), &fromJSON), ErrMalformedElement)

	_, err = Element{}.MarshalBinary()
	assert.ErrorIs(t, err, ErrMalformedElement)
}

func TestElement_ZeroValue(t *testing.T) {
	var e Element
	assert.True(t, e.IsZero())
	assert.Equal(t, 0, e.BitLen())
	assert.Nil(t, e.A())
	assert.True(t, e.Equal(Element{}))
	assert.False(t, e.Equal(newTestGroup(t).Identity()))
}
