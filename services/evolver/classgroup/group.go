// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package classgroup implements arithmetic in the class group Cl(Δ) of
// primitive positive-definite binary quadratic forms of negative
// discriminant Δ.
//
// # Representation
//
// An Element is the unique reduced form (a, b, c) of its class:
// b² - 4ac = Δ, |b| <= a <= c, b >= 0 whenever |b| = a or a = c, and
// gcd(a, b, c) = 1. Reduce is the only constructor of valid elements;
// Compose, Square and Pow all finish by calling it.
//
// # Usage
//
//	g, err := classgroup.NewGroup(delta)
//	if err != nil {
//	    return err
//	}
//	gen := g.MustGenerator()
//	x, err := g.Pow(gen, big.NewInt(1009))
//
// # Thread Safety
//
// A Group is immutable after construction (the memoised generator is
// guarded by sync.Once) and may be shared across goroutines freely.
package classgroup

import (
	"fmt"
	"log/slog"
	"math/big"
	"sync"
)

const (
	// MaxReductionSteps bounds the reduction loop. Exceeding it is treated as
	// hostile input, not as a mathematical condition.
	MaxReductionSteps = 2000

	// MaxGeneratorAttempts bounds the number of primes tried by Generator.
	MaxGeneratorAttempts = 10000
)

// reductionStepLimit is the cap Reduce enforces. Tests lower it to drive the
// divergence path with small forms.
var reductionStepLimit = MaxReductionSteps

var (
	bigOne  = big.NewInt(1)
	bigFour = big.NewInt(4)
)

// Group is the class group of a fixed discriminant.
type Group struct {
	d    *big.Int
	bits int

	smallOrderBound int64
	logger          *slog.Logger

	genOnce sync.Once
	gen     Element
	genErr  error
}

// Option configures a Group.
type Option func(*Group)

// WithSmallOrderBound sets the prime bound used to reject small-order
// generator candidates. Values below 2 disable the check.
func WithSmallOrderBound(bound int64) Option {
	return func(g *Group) {
		g.smallOrderBound = bound
	}
}

// WithLogger sets the logger used for generator selection.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Group) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGroup validates Δ and returns its class group.
//
// Inputs:
//
//	d - The discriminant. Must be negative and ≡ 1 (mod 4). Copied.
//	opts - Optional configuration.
//
// Outputs:
//
//	*Group - The group handle.
//	error - ErrInvalidDiscriminant if d is unusable.
func NewGroup(d *big.Int, opts ...Option) (*Group, error) {
	if d == nil || d.Sign() >= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDiscriminant, d)
	}
	if new(big.Int).Mod(d, bigFour).Cmp(bigOne) != 0 {
		return nil, fmt.Errorf("%w: %s mod 4 != 1", ErrInvalidDiscriminant, d)
	}

	bits := new(big.Int).Abs(d).BitLen()
	g := &Group{
		d:               new(big.Int).Set(d),
		bits:            bits,
		smallOrderBound: defaultSmallOrderBound(bits),
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With(slog.String("component", "classgroup"))
	return g, nil
}

// defaultSmallOrderBound scales the small-order check with the size of Δ.
// Tiny test discriminants have class numbers built from small primes, so a
// fixed bound of 1000 would reject every candidate.
func defaultSmallOrderBound(bits int) int64 {
	if bits >= 256 {
		return 1000
	}
	if bound := int64(bits / 4); bound > 3 {
		return bound
	}
	return 3
}

// Discriminant returns a copy of Δ.
func (g *Group) Discriminant() *big.Int {
	return new(big.Int).Set(g.d)
}

// Bits returns the bit length of |Δ|.
func (g *Group) Bits() int {
	return g.bits
}

// Identity returns the principal form (1, 1, (1 - Δ)/4).
func (g *Group) Identity() Element {
	c := new(big.Int).Sub(bigOne, g.d)
	c.Rsh(c, 2)
	return Element{a: big.NewInt(1), b: big.NewInt(1), c: c}
}

// IsIdentity reports whether e is the identity of this group.
func (g *Group) IsIdentity(e Element) bool {
	return e.Equal(g.Identity())
}

// Reduce returns the reduced form equivalent to (a, b, (b² - Δ)/4a).
//
// Description:
//
//	The sole gatekeeper of element validity. Rejects a <= 0, normalises b
//	into (-a, a], derives c exactly, then repeatedly swaps (a, b, c) to
//	(c, -b, a) while a > c. Ties are broken toward b >= 0. The result is
//	re-checked against Δ and for primitivity.
//
// Inputs:
//
//	a, b - Leading and middle coefficients. Not modified.
//
// Outputs:
//
//	Element - The canonical reduced form.
//	error - ErrDegenerateForm, ErrNonIntegralDivision,
//	        ErrReductionDivergence, ErrInvariantViolation or
//	        ErrNonPrimitiveForm.
func (g *Group) Reduce(a, b *big.Int) (Element, error) {
	if a == nil || b == nil {
		return Element{}, ErrMalformedElement
	}
	if a.Sign() <= 0 {
		return Element{}, fmt.Errorf("%w: a=%s", ErrDegenerateForm, a)
	}

	ra := new(big.Int).Set(a)
	rb := normalize(ra, new(big.Int).Set(b))
	rc, err := g.deriveC(ra, rb)
	if err != nil {
		return Element{}, err
	}

	for steps := 0; ra.Cmp(rc) > 0; steps++ {
		if steps >= reductionStepLimit {
			return Element{}, fmt.Errorf("%w after %d steps", ErrReductionDivergence, steps)
		}
		ra, rc = rc, ra
		rb.Neg(rb)
		rb = normalize(ra, rb)
		if rc, err = g.deriveC(ra, rb); err != nil {
			return Element{}, err
		}
	}

	if rb.Sign() < 0 && (ra.Cmp(rc) == 0 || ra.CmpAbs(rb) == 0) {
		rb.Neg(rb)
	}

	e := Element{a: ra, b: rb, c: rc}
	if e.Discriminant().Cmp(g.d) != 0 {
		return Element{}, fmt.Errorf("%w: b²-4ac != Δ for %s", ErrInvariantViolation, e)
	}
	if !isPrimitive(ra, rb, rc) {
		return Element{}, fmt.Errorf("%w: %s", ErrNonPrimitiveForm, e)
	}
	return e, nil
}

// Validate checks that an untrusted element is a reduced primitive form of
// this group.
func (g *Group) Validate(e Element) error {
	if e.IsZero() {
		return ErrMalformedElement
	}
	if e.Discriminant().Cmp(g.d) != 0 {
		return fmt.Errorf("%w: element %s", ErrDiscriminantMismatch, e)
	}
	if e.a.Sign() <= 0 {
		return fmt.Errorf("%w: a=%s", ErrDegenerateForm, e.a)
	}
	if e.a.CmpAbs(e.b) < 0 || e.a.Cmp(e.c) > 0 {
		return fmt.Errorf("%w: %s", ErrNotReduced, e)
	}
	if e.b.Sign() < 0 && (e.a.CmpAbs(e.b) == 0 || e.a.Cmp(e.c) == 0) {
		return fmt.Errorf("%w: tie-break requires b >= 0 in %s", ErrNotReduced, e)
	}
	if !isPrimitive(e.a, e.b, e.c) {
		return fmt.Errorf("%w: %s", ErrNonPrimitiveForm, e)
	}
	return nil
}

// checkMember is the cheap membership test used on operation inputs.
func (g *Group) checkMember(e Element) error {
	if e.IsZero() {
		return ErrMalformedElement
	}
	if e.Discriminant().Cmp(g.d) != 0 {
		return fmt.Errorf("%w: element %s", ErrDiscriminantMismatch, e)
	}
	return nil
}

// deriveC computes (b² - Δ) / 4a, failing if the division is inexact.
func (g *Group) deriveC(a, b *big.Int) (*big.Int, error) {
	num := new(big.Int).Mul(b, b)
	num.Sub(num, g.d)
	den := new(big.Int).Lsh(a, 2)
	c, r := new(big.Int).QuoRem(num, den, new(big.Int))
	if r.Sign() != 0 {
		return nil, fmt.Errorf("%w: (b²-Δ)/4a with a=%s b=%s", ErrNonIntegralDivision, a, b)
	}
	return c, nil
}

// normalize maps b into (-a, a] by subtracting a multiple of 2a.
func normalize(a, b *big.Int) *big.Int {
	twoA := new(big.Int).Lsh(a, 1)
	r := new(big.Int).Mod(b, twoA)
	if r.Cmp(a) > 0 {
		r.Sub(r, twoA)
	}
	return r
}

func isPrimitive(a, b, c *big.Int) bool {
	gcd := new(big.Int).GCD(nil, nil, a, b)
	gcd.GCD(nil, nil, gcd, c)
	return gcd.Cmp(bigOne) == 0
}
