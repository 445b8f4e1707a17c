// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vdf implements the Wesolowski verifiable delay function over an
// imaginary quadratic class group.
//
// For an input string the group is fixed by a discriminant searched from
// SHA3(tag || input) and the base x is that group's generator. The output
// is y = x^(2^T); the proof is π = x^⌊2^T / l⌋ for the challenge prime
// l = HashToPrime(x || y). Verification checks π^l · x^(2^T mod l) = y,
// which costs O(log T) group operations instead of T squarings.
package vdf

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/Evolver/services/evolver/classgroup"
	"github.com/AleutianAI/Evolver/services/evolver/hashing"
	"github.com/AleutianAI/Evolver/services/evolver/params"
	"github.com/AleutianAI/Evolver/services/evolver/primes"
)

const (
	// DefaultBits is the default discriminant width for VDF groups.
	DefaultBits = 1024

	// ChallengeBits is the width of the Fiat-Shamir challenge prime l.
	ChallengeBits = 128

	// CheckInterval is how many squarings run between context checks.
	CheckInterval = 1024

	discriminantTag = "EVOLVER_VDF_DISCRIMINANT"
	challengeTag    = "EVOLVER_VDF_CHALLENGE"
)

var (
	// ErrInvalidIterations is returned for T = 0.
	ErrInvalidIterations = errors.New("vdf iterations must be positive")

	// ErrMalformedProof is returned when output or proof cannot be decoded
	// into valid group elements.
	ErrMalformedProof = errors.New("malformed vdf output or proof")

	// ErrVerificationFailed is returned when π^l · x^r != y.
	ErrVerificationFailed = errors.New("vdf verification failed")
)

// Setup returns the class group and base element for an input.
func Setup(ctx context.Context, input []byte, bits int) (*classgroup.Group, classgroup.Element, error) {
	seed := hashing.Sum256(discriminantTag, input)
	d, _, err := params.SearchDiscriminant(ctx, seed[:], bits, 0)
	if err != nil {
		return nil, classgroup.Element{}, fmt.Errorf("vdf discriminant: %w", err)
	}
	g, err := classgroup.NewGroup(d)
	if err != nil {
		return nil, classgroup.Element{}, err
	}
	x, err := g.Generator()
	if err != nil {
		return nil, classgroup.Element{}, fmt.Errorf("vdf base: %w", err)
	}
	return g, x, nil
}

// challenge derives the prime l from x, y and T. Binding T keeps a proof for
// one iteration count from being checked against another.
func challenge(x, y classgroup.Element, iterations uint64) (*big.Int, error) {
	xb, err := x.MarshalBinary()
	if err != nil {
		return nil, err
	}
	yb, err := y.MarshalBinary()
	if err != nil {
		return nil, err
	}
	d := hashing.New(challengeTag).Bytes(xb).Bytes(yb).Uint64(iterations).Sum()
	return primes.HashToPrime(d[:], ChallengeBits)
}

// -----------------------------------------------------------------------------
// Prover
// -----------------------------------------------------------------------------

// Prover evaluates the VDF and produces Wesolowski proofs.
type Prover struct {
	bits   int
	logger *slog.Logger
}

// NewProver returns a Prover for groups of the given width (0 = DefaultBits).
func NewProver(bits int, logger *slog.Logger) *Prover {
	if bits == 0 {
		bits = DefaultBits
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Prover{bits: bits, logger: logger.With(slog.String("component", "vdf"))}
}

// Prove computes y = x^(2^T) and its proof.
//
// Description:
//
//	Runs T sequential squarings. The quotient ⌊2^T / l⌋ is never
//	materialised: it is produced bit by bit by long division of 2^T by l
//	during a second pass, accumulating π = π² · x^bit.
//
// Inputs:
//
//	ctx - Checked every CheckInterval squarings.
//	input - The challenge input (e.g. a beacon hash).
//	iterations - T, the number of squarings. Must be positive.
//
// Outputs:
//
//	output - Binary encoding of y.
//	proof - Binary encoding of π.
//	err - ErrInvalidIterations, a group error or the context error.
func (p *Prover) Prove(ctx context.Context, input []byte, iterations uint64) (output, proof []byte, err error) {
	if iterations == 0 {
		return nil, nil, ErrInvalidIterations
	}
	start := time.Now()

	g, x, err := Setup(ctx, input, p.bits)
	if err != nil {
		return nil, nil, err
	}

	y := x
	for i := uint64(0); i < iterations; i++ {
		if i%CheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
		}
		if y, err = g.Square(y); err != nil {
			return nil, nil, fmt.Errorf("vdf squaring %d: %w", i, err)
		}
	}

	l, err := challenge(x, y, iterations)
	if err != nil {
		return nil, nil, err
	}

	pi := g.Identity()
	r := big.NewInt(1)
	for i := uint64(0); i < iterations; i++ {
		if i%CheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
		}
		r.Lsh(r, 1)
		bit := r.Cmp(l) >= 0
		if bit {
			r.Sub(r, l)
		}
		if pi, err = g.Square(pi); err != nil {
			return nil, nil, err
		}
		if bit {
			if pi, err = g.Compose(pi, x); err != nil {
				return nil, nil, err
			}
		}
	}

	if output, err = y.MarshalBinary(); err != nil {
		return nil, nil, err
	}
	if proof, err = pi.MarshalBinary(); err != nil {
		return nil, nil, err
	}

	p.logger.Info("vdf evaluated",
		slog.Uint64("iterations", iterations),
		slog.Int("bits", p.bits),
		slog.Duration("elapsed", time.Since(start)))
	return output, proof, nil
}

// -----------------------------------------------------------------------------
// Verifier
// -----------------------------------------------------------------------------

// Verifier checks Wesolowski proofs for a fixed T. It implements
// params.TimeLockVerifier.
type Verifier struct {
	bits       int
	iterations uint64
}

var _ params.TimeLockVerifier = (*Verifier)(nil)

// NewVerifier returns a Verifier for groups of the given width
// (0 = DefaultBits) and T = iterations.
func NewVerifier(bits int, iterations uint64) (*Verifier, error) {
	if iterations == 0 {
		return nil, ErrInvalidIterations
	}
	if bits == 0 {
		bits = DefaultBits
	}
	return &Verifier{bits: bits, iterations: iterations}, nil
}

// Iterations returns T.
func (v *Verifier) Iterations() uint64 {
	return v.iterations
}

// Verify checks that proof shows output = x^(2^T) for the group of input.
// The two exponentiations run concurrently.
func (v *Verifier) Verify(ctx context.Context, input, output, proof []byte) error {
	if len(input) == 0 || len(output) == 0 || len(proof) == 0 {
		return fmt.Errorf("%w: empty payload", ErrMalformedProof)
	}

	g, x, err := Setup(ctx, input, v.bits)
	if err != nil {
		return err
	}

	var y, pi classgroup.Element
	if err := y.UnmarshalBinary(output); err != nil {
		return fmt.Errorf("%w: output: %w", ErrMalformedProof, err)
	}
	if err := pi.UnmarshalBinary(proof); err != nil {
		return fmt.Errorf("%w: proof: %w", ErrMalformedProof, err)
	}
	if err := g.Validate(y); err != nil {
		return fmt.Errorf("%w: output: %w", ErrMalformedProof, err)
	}
	if err := g.Validate(pi); err != nil {
		return fmt.Errorf("%w: proof: %w", ErrMalformedProof, err)
	}

	l, err := challenge(x, y, v.iterations)
	if err != nil {
		return err
	}
	r := new(big.Int).Exp(big.NewInt(2), new(big.Int).SetUint64(v.iterations), l)

	var piL, xR classgroup.Element
	eg, _ := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		piL, err = g.Pow(pi, l)
		return err
	})
	eg.Go(func() error {
		var err error
		xR, err = g.Pow(x, r)
		return err
	})
	if err := eg.Wait(); err != nil {
		return fmt.Errorf("vdf verify: %w", err)
	}

	got, err := g.Compose(piL, xR)
	if err != nil {
		return fmt.Errorf("vdf verify: %w", err)
	}
	if !got.Equal(y) {
		return ErrVerificationFailed
	}
	return nil
}
