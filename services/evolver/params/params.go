// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package params derives the system discriminant.
//
// Two entry points exist. FromSeed is the size-gated development path: it
// refuses anything below MinSeedBits. Generator.DeriveTrustless is the
// production path: it verifies a time-lock proof over a randomness beacon
// before mixing beacon and output into the search seed.
//
// Both feed SearchDiscriminant, which squeezes full-width candidates from
// SHAKE256 and accepts the first M ≡ 3 (mod 4) that passes 50 rounds of
// Miller-Rabin, yielding Δ = -M.
package params

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/awnumar/memguard"

	"github.com/AleutianAI/Evolver/services/evolver/classgroup"
	"github.com/AleutianAI/Evolver/services/evolver/hashing"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MinSeedBits is the smallest discriminant FromSeed will produce.
	MinSeedBits = 2048

	// DefaultTrustlessBits is the discriminant width of the trustless path.
	DefaultTrustlessBits = 3072

	// DefaultMaxAttempts caps the candidate search.
	DefaultMaxAttempts uint64 = 10_000_000

	// PrimalityRounds is the Miller-Rabin confidence for discriminants.
	PrimalityRounds = 50

	domainTag   = "Evolver_v1_System_Discriminant_Generation_DST"
	nonceLabel  = "::NONCE::"
	ctxInterval = 256
)

// Provenance records how a discriminant was obtained.
type Provenance string

const (
	// ProvenanceTrustless marks parameters derived from a verified time-lock proof.
	ProvenanceTrustless Provenance = "trustless"

	// ProvenanceDevelopmentSeed marks parameters derived from a caller seed.
	ProvenanceDevelopmentSeed Provenance = "development_seed"

	// ProvenanceExplicit marks a caller-supplied discriminant.
	ProvenanceExplicit Provenance = "explicit"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrInsecureBitSize is returned when the requested width is below the floor.
	ErrInsecureBitSize = errors.New("discriminant bit size below security minimum")

	// ErrInvalidTimeLockProof is returned when the time-lock proof does not verify.
	ErrInvalidTimeLockProof = errors.New("invalid time-lock proof")

	// ErrAttemptsExhausted is returned when the candidate search hits its cap.
	ErrAttemptsExhausted = errors.New("discriminant search attempts exhausted")

	// ErrEmptySeed is returned for a zero-length seed.
	ErrEmptySeed = errors.New("seed must not be empty")

	// ErrInvalidDiscriminant is returned when an explicit discriminant is unusable.
	ErrInvalidDiscriminant = errors.New("invalid discriminant")

	// ErrNilVerifier is returned when a Generator has no TimeLockVerifier.
	ErrNilVerifier = errors.New("time-lock verifier is required")
)

var (
	bigOne  = big.NewInt(1)
	bigFour = big.NewInt(4)
)

// =============================================================================
// SystemParameters
// =============================================================================

// SystemParameters is a discriminant with its provenance.
type SystemParameters struct {
	// Discriminant is Δ, negative and ≡ 1 (mod 4).
	Discriminant *big.Int

	// Bits is the bit length of |Δ|.
	Bits int

	// Provenance records which path produced Δ.
	Provenance Provenance

	// Attempts is the number of candidates tried before success.
	Attempts uint64

	// Fingerprint is the low 64 bits of |Δ| in hex.
	Fingerprint string
}

type parametersJSON struct {
	Discriminant string     `json:"discriminant"`
	Bits         int        `json:"bits"`
	Provenance   Provenance `json:"provenance"`
	Attempts     uint64     `json:"attempts"`
	Fingerprint  string     `json:"fingerprint"`
}

// MarshalJSON encodes Δ as a decimal string.
func (p *SystemParameters) MarshalJSON() ([]byte, error) {
	return json.Marshal(parametersJSON{
		Discriminant: p.Discriminant.String(),
		Bits:         p.Bits,
		Provenance:   p.Provenance,
		Attempts:     p.Attempts,
		Fingerprint:  p.Fingerprint,
	})
}

// UnmarshalJSON decodes the MarshalJSON form and re-checks Δ.
func (p *SystemParameters) UnmarshalJSON(data []byte) error {
	var raw parametersJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d, ok := new(big.Int).SetString(raw.Discriminant, 10)
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidDiscriminant, raw.Discriminant)
	}
	if err := checkShape(d); err != nil {
		return err
	}
	*p = SystemParameters{
		Discriminant: d,
		Bits:         new(big.Int).Abs(d).BitLen(),
		Provenance:   raw.Provenance,
		Attempts:     raw.Attempts,
		Fingerprint:  Fingerprint(d),
	}
	return nil
}

// Group builds the class group of these parameters.
func (p *SystemParameters) Group(opts ...classgroup.Option) (*classgroup.Group, error) {
	return classgroup.NewGroup(p.Discriminant, opts...)
}

// Fingerprint returns the low 64 bits of |Δ| as 16 hex digits.
func Fingerprint(d *big.Int) string {
	low := new(big.Int).Abs(d)
	low.And(low, new(big.Int).SetUint64(^uint64(0)))
	return fmt.Sprintf("%016x", low.Uint64())
}

func newParameters(d *big.Int, provenance Provenance, attempts uint64) *SystemParameters {
	return &SystemParameters{
		Discriminant: d,
		Bits:         new(big.Int).Abs(d).BitLen(),
		Provenance:   provenance,
		Attempts:     attempts,
		Fingerprint:  Fingerprint(d),
	}
}

// =============================================================================
// Discriminant Search
// =============================================================================

// SearchDiscriminant finds Δ = -M for a prime M ≡ 3 (mod 4) of exactly bits bits.
//
// Description:
//
//	Attempt n squeezes a bits-wide candidate from
//	SHAKE256(tag || seed || "::NONCE::" || n), forces the top bit, discards
//	candidates not ≡ 3 (mod 4) and accepts the first that passes
//	PrimalityRounds rounds of Miller-Rabin. The context is polled every few
//	hundred attempts.
//
// Inputs:
//
//	ctx - Cancellation for long searches.
//	seed - Entropy source. Must not be empty.
//	bits - Target width of |Δ|. Must be at least 3.
//	maxAttempts - Search cap. Zero means DefaultMaxAttempts.
//
// Outputs:
//
//	*big.Int - The discriminant Δ.
//	uint64 - Number of attempts consumed.
//	error - ErrEmptySeed, ErrAttemptsExhausted or the context error.
//
// Thread Safety: Safe for concurrent use.
func SearchDiscriminant(ctx context.Context, seed []byte, bits int, maxAttempts uint64) (*big.Int, uint64, error) {
	if len(seed) == 0 {
		return nil, 0, ErrEmptySeed
	}
	if bits < 3 {
		return nil, 0, fmt.Errorf("%w: %d bits", ErrInsecureBitSize, bits)
	}
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}

	three := big.NewInt(3)
	rem := new(big.Int)
	for attempt := uint64(0); attempt < maxAttempts; attempt++ {
		if attempt%ctxInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, attempt, err
			}
		}

		candidate := hashing.NewXOF(domainTag).
			Bytes(seed).
			String(nonceLabel).
			Uint64(attempt).
			FillInt(bits)
		candidate.SetBit(candidate, bits-1, 1)

		if rem.Mod(candidate, bigFour).Cmp(three) != 0 {
			continue
		}
		if candidate.ProbablyPrime(PrimalityRounds) {
			return candidate.Neg(candidate), attempt + 1, nil
		}
	}
	return nil, maxAttempts, fmt.Errorf("%w: %d candidates at %d bits", ErrAttemptsExhausted, maxAttempts, bits)
}

// =============================================================================
// Development Seed Path
// =============================================================================

// FromSeed derives parameters from a caller seed.
//
// Description:
//
//	Fails closed for bits below MinSeedBits. The seed is copied into a
//	memguard locked buffer for the duration of the search and wiped on
//	return; the caller's slice is left untouched. Intended for development
//	only.
//
// Inputs:
//
//	ctx - Cancellation.
//	seed - Entropy. Must not be empty.
//	bits - Width of |Δ|. Must be >= MinSeedBits.
//
// Outputs:
//
//	*SystemParameters - Parameters with ProvenanceDevelopmentSeed.
//	error - ErrInsecureBitSize, ErrEmptySeed, ErrAttemptsExhausted or ctx error.
func FromSeed(ctx context.Context, seed []byte, bits int) (*SystemParameters, error) {
	if bits < MinSeedBits {
		return nil, fmt.Errorf("%w: %d < %d", ErrInsecureBitSize, bits, MinSeedBits)
	}
	return fromSeed(ctx, seed, bits, DefaultMaxAttempts, slog.Default())
}

// MustFromSeed is FromSeed for process setup. Parameter failures must never
// degrade silently, so any error panics.
func MustFromSeed(ctx context.Context, seed []byte, bits int) *SystemParameters {
	p, err := FromSeed(ctx, seed, bits)
	if err != nil {
		panic(fmt.Sprintf("params: %v", err))
	}
	return p
}

func fromSeed(ctx context.Context, seed []byte, bits int, maxAttempts uint64, logger *slog.Logger) (*SystemParameters, error) {
	if len(seed) == 0 {
		return nil, ErrEmptySeed
	}
	logger = logger.With(slog.String("component", "params"))
	initSecureMemory(logger)

	buf := memguard.NewBufferFromBytes(append([]byte(nil), seed...))
	defer buf.Destroy()

	logger.Warn("deriving parameters from a development seed; not for production",
		slog.Int("bits", bits))

	d, attempts, err := SearchDiscriminant(ctx, buf.Bytes(), bits, maxAttempts)
	if err != nil {
		return nil, err
	}
	p := newParameters(d, ProvenanceDevelopmentSeed, attempts)
	logger.Info("discriminant derived",
		slog.String("provenance", string(p.Provenance)),
		slog.String("fingerprint", p.Fingerprint),
		slog.Uint64("attempts", attempts))
	return p, nil
}

// =============================================================================
// Explicit Discriminant
// =============================================================================

// FromDiscriminant wraps a known discriminant, checking that it is negative,
// ≡ 1 (mod 4) and that -Δ is a probable prime. Used for test deployments
// with small fixed discriminants.
func FromDiscriminant(d *big.Int) (*SystemParameters, error) {
	if err := checkShape(d); err != nil {
		return nil, err
	}
	m := new(big.Int).Neg(d)
	if !m.ProbablyPrime(PrimalityRounds) {
		return nil, fmt.Errorf("%w: |Δ| is not prime", ErrInvalidDiscriminant)
	}
	return newParameters(new(big.Int).Set(d), ProvenanceExplicit, 0), nil
}

func checkShape(d *big.Int) error {
	if d == nil || d.Sign() >= 0 {
		return fmt.Errorf("%w: must be negative", ErrInvalidDiscriminant)
	}
	if new(big.Int).Mod(d, bigFour).Cmp(bigOne) != 0 {
		return fmt.Errorf("%w: must be 1 mod 4", ErrInvalidDiscriminant)
	}
	return nil
}
