// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package affine implements the affine operator algebra over a class group.
//
// A Tuple (P, Q) pairs a positive integer factor with a group element. Two
// laws combine tuples:
//
//   - Compose, the ordered "time" law: (P1, Q1) ⊕ (P2, Q2) = (P1·P2, Q1^P2 · Q2).
//   - Merge, the abelian "space" law: (P1, Q1) ⊗ (P2, Q2) = (P1·P2, Q1·Q2).
//
// The two laws must stay distinct. Folding spatial coordinates relies on
// Merge being order independent; Compose is not.
//
// Compose refuses to build a P factor wider than MaxPBits. Long histories
// are folded into an accumulator with Apply instead of chained Compose calls.
package affine

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/AleutianAI/Evolver/services/evolver/classgroup"
	"github.com/AleutianAI/Evolver/services/evolver/primes"
)

const (
	// MaxPBits is the widest P factor Compose may produce and Apply accepts.
	MaxPBits = 4096

	// TokenPrimeBits is the width of token-derived P factors.
	TokenPrimeBits = 64

	tokenPrefix = "tok_"
)

var (
	// ErrPFactorOverflow is returned when bitlen(P1)+bitlen(P2) exceeds MaxPBits.
	ErrPFactorOverflow = errors.New("affine P factor overflow")

	// ErrInvalidFactor is returned when P is missing or not positive.
	ErrInvalidFactor = errors.New("affine P factor must be positive")
)

var bigOne = big.NewInt(1)

// Tuple is one affine operator (P, Q).
type Tuple struct {
	P *big.Int           `json:"p"`
	Q classgroup.Element `json:"q"`
}

// String implements fmt.Stringer.
func (t Tuple) String() string {
	return fmt.Sprintf("(%v, %s)", t.P, t.Q)
}

// Equal reports whether both components match.
func (t Tuple) Equal(o Tuple) bool {
	if t.P == nil || o.P == nil {
		return t.P == nil && o.P == nil && t.Q.Equal(o.Q)
	}
	return t.P.Cmp(o.P) == 0 && t.Q.Equal(o.Q)
}

// Algebra binds the tuple laws to one class group.
//
// Thread Safety: Safe for concurrent use; it holds no mutable state.
type Algebra struct {
	group *classgroup.Group
}

// New returns an Algebra over g.
func New(g *classgroup.Group) *Algebra {
	return &Algebra{group: g}
}

// Group returns the underlying class group.
func (al *Algebra) Group() *classgroup.Group {
	return al.group
}

// Identity returns (1, identity).
func (al *Algebra) Identity() Tuple {
	return Tuple{P: big.NewInt(1), Q: al.group.Identity()}
}

// Checkpoint wraps an accumulator state as the tuple (1, S).
func (al *Algebra) Checkpoint(state classgroup.Element) Tuple {
	return Tuple{P: big.NewInt(1), Q: state}
}

// IsTrivial reports whether t is (1, identity).
func (al *Algebra) IsTrivial(t Tuple) bool {
	return t.P != nil && t.P.Cmp(bigOne) == 0 && al.group.IsIdentity(t.Q)
}

// Validate checks that P is positive and at most MaxPBits wide and that Q
// is a valid element of the group.
func (al *Algebra) Validate(t Tuple) error {
	if err := checkApplyFactor(t.P); err != nil {
		return err
	}
	if err := al.group.Validate(t.Q); err != nil {
		return fmt.Errorf("affine shift: %w", err)
	}
	return nil
}

// Compose applies the ordered law (P1·P2, Q1^P2 · Q2).
//
// Description:
//
//	The overflow fuse runs before any arithmetic: if the combined bit length
//	of the two P factors exceeds MaxPBits the call fails without computing
//	anything. Swapping the arguments generally changes the result.
//
// Inputs:
//
//	t1 - The earlier operator.
//	t2 - The later operator.
//
// Outputs:
//
//	Tuple - The combined operator.
//	error - ErrPFactorOverflow, ErrInvalidFactor or a class group error.
func (al *Algebra) Compose(t1, t2 Tuple) (Tuple, error) {
	if err := checkFactor(t1.P); err != nil {
		return Tuple{}, err
	}
	if err := checkFactor(t2.P); err != nil {
		return Tuple{}, err
	}
	if bits := t1.P.BitLen() + t2.P.BitLen(); bits > MaxPBits {
		return Tuple{}, fmt.Errorf("%w: %d bits exceeds %d; fold through a stream instead",
			ErrPFactorOverflow, bits, MaxPBits)
	}

	shifted, err := al.group.Pow(t1.Q, t2.P)
	if err != nil {
		return Tuple{}, fmt.Errorf("compose Q1^P2: %w", err)
	}
	q, err := al.group.Compose(shifted, t2.Q)
	if err != nil {
		return Tuple{}, fmt.Errorf("compose shifts: %w", err)
	}
	return Tuple{P: new(big.Int).Mul(t1.P, t2.P), Q: q}, nil
}

// Merge applies the abelian law (P1·P2, Q1·Q2). No exponentiation is
// involved, so Merge(a, b) equals Merge(b, a).
func (al *Algebra) Merge(t1, t2 Tuple) (Tuple, error) {
	if err := checkFactor(t1.P); err != nil {
		return Tuple{}, err
	}
	if err := checkFactor(t2.P); err != nil {
		return Tuple{}, err
	}
	q, err := al.group.Compose(t1.Q, t2.Q)
	if err != nil {
		return Tuple{}, fmt.Errorf("merge shifts: %w", err)
	}
	return Tuple{P: new(big.Int).Mul(t1.P, t2.P), Q: q}, nil
}

// Apply performs the streaming update S^P · Q. The result is always a
// single reduced element regardless of how many operators were folded.
// P wider than MaxPBits is refused before exponentiating.
func (al *Algebra) Apply(state classgroup.Element, t Tuple) (classgroup.Element, error) {
	if err := checkApplyFactor(t.P); err != nil {
		return classgroup.Element{}, err
	}
	raised, err := al.group.Pow(state, t.P)
	if err != nil {
		return classgroup.Element{}, fmt.Errorf("apply S^P: %w", err)
	}
	next, err := al.group.Compose(raised, t.Q)
	if err != nil {
		return classgroup.Element{}, fmt.Errorf("apply shift: %w", err)
	}
	return next, nil
}

// ApplyAll folds ops into state left to right.
func (al *Algebra) ApplyAll(state classgroup.Element, ops []Tuple) (classgroup.Element, error) {
	cur := state
	for i, op := range ops {
		next, err := al.Apply(cur, op)
		if err != nil {
			return classgroup.Element{}, fmt.Errorf("op %d: %w", i, err)
		}
		cur = next
	}
	return cur, nil
}

// TokenOperator derives the operator for a token identifier:
// P = HashToPrime("tok_" + token, 64) and Q = the group generator.
func (al *Algebra) TokenOperator(token string) (Tuple, error) {
	p, err := primes.HashToPrime([]byte(tokenPrefix+token), TokenPrimeBits)
	if err != nil {
		return Tuple{}, fmt.Errorf("token prime: %w", err)
	}
	gen, err := al.group.Generator()
	if err != nil {
		return Tuple{}, fmt.Errorf("token shift: %w", err)
	}
	return Tuple{P: p, Q: gen}, nil
}

func checkFactor(p *big.Int) error {
	if p == nil || p.Sign() <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidFactor, p)
	}
	return nil
}

// checkApplyFactor bounds the exponent of S^P. Merge products may grow past
// MaxPBits; a single applied factor may not.
func checkApplyFactor(p *big.Int) error {
	if err := checkFactor(p); err != nil {
		return err
	}
	if bits := p.BitLen(); bits > MaxPBits {
		return fmt.Errorf("%w: %d-bit factor exceeds %d", ErrPFactorOverflow, bits, MaxPBits)
	}
	return nil
}
