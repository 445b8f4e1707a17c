// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package params

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/Evolver/services/evolver/hashing"
)

const (
	trustlessPhase = "::TRUSTLESS_SETUP::PHASE_1::"
	bindingTag     = "EVOLVER_VDF_SIMULATION_BINDING"
)

// TimeLockVerifier checks a time-lock (VDF) proof that output was computed
// from input.
//
// Implementations must return a non-nil error for any proof they cannot
// positively verify, including empty or malformed inputs.
type TimeLockVerifier interface {
	Verify(ctx context.Context, input, output, proof []byte) error
}

// -----------------------------------------------------------------------------
// Binding verifier
// -----------------------------------------------------------------------------

// BindingVerifier is a development TimeLockVerifier. It accepts a proof iff
// it equals the domain-separated hash of input and output. It proves
// nothing about elapsed time and must not be used in production.
type BindingVerifier struct{}

// Verify implements TimeLockVerifier.
func (BindingVerifier) Verify(_ context.Context, input, output, proof []byte) error {
	if len(input) == 0 || len(output) == 0 || len(proof) == 0 {
		return fmt.Errorf("%w: empty payload", ErrInvalidTimeLockProof)
	}
	want := BindingProof(input, output)
	if subtle.ConstantTimeCompare(want, proof) != 1 {
		return fmt.Errorf("%w: binding hash mismatch", ErrInvalidTimeLockProof)
	}
	return nil
}

// BindingProof returns the proof BindingVerifier expects for (input, output).
func BindingProof(input, output []byte) []byte {
	d := hashing.Sum256(bindingTag, input, output)
	return d[:]
}

// -----------------------------------------------------------------------------
// Trustless generator
// -----------------------------------------------------------------------------

// GeneratorConfig configures a Generator.
type GeneratorConfig struct {
	// Verifier checks the time-lock proof. Required.
	Verifier TimeLockVerifier

	// Bits is the discriminant width. Zero means DefaultTrustlessBits.
	Bits int

	// MaxAttempts caps the search. Zero means DefaultMaxAttempts.
	MaxAttempts uint64

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Generator runs the trustless setup protocol.
//
// Thread Safety: Safe for concurrent use.
type Generator struct {
	verifier    TimeLockVerifier
	bits        int
	maxAttempts uint64
	logger      *slog.Logger
}

// NewGenerator validates cfg and returns a Generator.
func NewGenerator(cfg GeneratorConfig) (*Generator, error) {
	if cfg.Verifier == nil {
		return nil, ErrNilVerifier
	}
	bits := cfg.Bits
	if bits == 0 {
		bits = DefaultTrustlessBits
	}
	if bits < MinSeedBits {
		return nil, fmt.Errorf("%w: %d < %d", ErrInsecureBitSize, bits, MinSeedBits)
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		verifier:    cfg.Verifier,
		bits:        bits,
		maxAttempts: maxAttempts,
		logger:      logger.With(slog.String("component", "params")),
	}, nil
}

// Bits returns the configured discriminant width.
func (g *Generator) Bits() int {
	return g.bits
}

// DeriveTrustless derives parameters from a verified beacon.
//
// Description:
//
//	Fails closed on empty inputs and on any verifier error, wrapping both
//	ErrInvalidTimeLockProof and the verifier's error. On success the seed is
//	SHA3(tag || "::TRUSTLESS_SETUP::PHASE_1::" || beacon || output) and the
//	discriminant is searched at the configured width.
//
// Inputs:
//
//	ctx - Cancellation for verification and search.
//	beacon - External randomness (e.g. a block hash).
//	output - Time-lock output computed from beacon.
//	proof - Time-lock proof.
//
// Outputs:
//
//	*SystemParameters - Parameters with ProvenanceTrustless.
//	error - ErrInvalidTimeLockProof, ErrAttemptsExhausted or ctx error.
func (g *Generator) DeriveTrustless(ctx context.Context, beacon, output, proof []byte) (*SystemParameters, error) {
	if len(beacon) == 0 || len(output) == 0 || len(proof) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidTimeLockProof)
	}

	g.logger.Info("trustless setup started", slog.Int("target_bits", g.bits))

	start := time.Now()
	if err := g.verifier.Verify(ctx, beacon, output, proof); err != nil {
		g.logger.Error("time-lock proof rejected", slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %w", ErrInvalidTimeLockProof, err)
	}
	g.logger.Debug("time-lock proof verified", slog.Duration("elapsed", time.Since(start)))

	seed := hashing.New(domainTag).
		String(trustlessPhase).
		Bytes(beacon).
		Bytes(output).
		Sum()

	d, attempts, err := SearchDiscriminant(ctx, seed[:], g.bits, g.maxAttempts)
	if err != nil {
		return nil, err
	}
	p := newParameters(d, ProvenanceTrustless, attempts)
	g.logger.Info("discriminant derived",
		slog.String("provenance", string(p.Provenance)),
		slog.String("fingerprint", p.Fingerprint),
		slog.Uint64("attempts", attempts),
		slog.Duration("elapsed", time.Since(start)))
	return p, nil
}

// MustDeriveTrustless is DeriveTrustless for process setup; errors panic.
func (g *Generator) MustDeriveTrustless(ctx context.Context, beacon, output, proof []byte) *SystemParameters {
	p, err := g.DeriveTrustless(ctx, beacon, output, proof)
	if err != nil {
		panic(fmt.Sprintf("params: %v", err))
	}
	return p
}
