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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchDiscriminant_KnownAnswer(t *testing.T) {
	d, attempts, err := SearchDiscriminant(context.Background(), []byte("exhaust"), 64, 0)
	require.NoError(t, err)

	want, _ := new(big.Int).SetString("-16876785907628017079", 10)
	assert.Equal(t, 0, d.Cmp(want), "got %s", d)
	assert.Equal(t, uint64(53), attempts)
}

func TestSearchDiscriminant_Shape(t *testing.T) {
	for _, bits := range []int{32, 64, 128} {
		d, _, err := SearchDiscriminant(context.Background(), []byte("evolver-test-seed"), bits, 0)
		require.NoError(t, err)

		m := new(big.Int).Neg(d)
		assert.Equal(t, -1, d.Sign())
		assert.Equal(t, bits, m.BitLen())
		assert.Equal(t, int64(1), new(big.Int).Mod(d, big.NewInt(4)).Int64())
		assert.True(t, m.ProbablyPrime(20))
	}
}

func TestSearchDiscriminant_Deterministic(t *testing.T) {
	ctx := context.Background()
	a, _, err := SearchDiscriminant(ctx, []byte("seed-a"), 96, 0)
	require.NoError(t, err)
	again, _, err := SearchDiscriminant(ctx, []byte("seed-a"), 96, 0)
	require.NoError(t, err)
	b, _, err := SearchDiscriminant(ctx, []byte("seed-b"), 96, 0)
	require.NoError(t, err)

	assert.Equal(t, 0, a.Cmp(again))
	assert.NotEqual(t, 0, a.Cmp(b))
}

func TestSearchDiscriminant_Errors(t *testing.T) {
	ctx := context.Background()

	_, _, err := SearchDiscriminant(ctx, nil, 64, 0)
	assert.ErrorIs(t, err, ErrEmptySeed)

	_, _, err = SearchDiscriminant(ctx, []byte("x"), 2, 0)
	assert.ErrorIs(t, err, ErrInsecureBitSize)

	// The first prime for this seed appears at attempt 53.
	_, attempts, err := SearchDiscriminant(ctx, []byte("exhaust"), 64, 3)
	assert.ErrorIs(t, err, ErrAttemptsExhausted)
	assert.Equal(t, uint64(3), attempts)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, _, err = SearchDiscriminant(cancelled, []byte("x"), 64, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFromSeed_SizeGate(t *testing.T) {
	ctx := context.Background()

	_, err := FromSeed(ctx, []byte("seed"), 1024)
	assert.ErrorIs(t, err, ErrInsecureBitSize)

	_, err = FromSeed(ctx, []byte("seed"), MinSeedBits-1)
	assert.ErrorIs(t, err, ErrInsecureBitSize)

	_, err = FromSeed(ctx, nil, MinSeedBits)
	assert.ErrorIs(t, err, ErrEmptySeed)

	assert.Panics(t, func() { MustFromSeed(ctx, []byte("seed"), 512) })
}

func TestFromSeed_LeavesCallerSeedIntact(t *testing.T) {
	seed := []byte("development seed material")
	orig := append([]byte(nil), seed...)

	p, err := fromSeed(context.Background(), seed, 128, 0, slog.Default())
	require.NoError(t, err)

	assert.Equal(t, orig, seed)
	assert.Equal(t, ProvenanceDevelopmentSeed, p.Provenance)
	assert.Equal(t, 128, p.Bits)
	assert.Len(t, p.Fingerprint, 16)
	assert.Positive(t, p.Attempts)

	g, err := p.Group()
	require.NoError(t, err)
	assert.Equal(t, 128, g.Bits())
}

func TestFromSeed_Production(t *testing.T) {
	if testing.Short() {
		t.Skip("2048-bit discriminant search")
	}
	p, err := FromSeed(context.Background(), []byte("production sized seed"), MinSeedBits)
	require.NoError(t, err)
	assert.Equal(t, MinSeedBits, p.Bits)
	assert.Equal(t, int64(1), new(big.Int).Mod(p.Discriminant, big.NewInt(4)).Int64())
}

func TestFromDiscriminant(t *testing.T) {
	p, err := FromDiscriminant(big.NewInt(-1000003))
	require.NoError(t, err)
	assert.Equal(t, ProvenanceExplicit, p.Provenance)
	assert.Equal(t, 20, p.Bits)
	assert.Equal(t, "00000000000f4243", p.Fingerprint)

	for _, bad := range []int64{1000003, -1000001, -15, 0} {
		_, err := FromDiscriminant(big.NewInt(bad))
		assert.ErrorIs(t, err, ErrInvalidDiscriminant, "Δ=%d", bad)
	}
	_, err = FromDiscriminant(nil)
	assert.ErrorIs(t, err, ErrInvalidDiscriminant)
}

func TestSystemParameters_JSON(t *testing.T) {
	p, err := FromDiscriminant(big.NewInt(-1000003))
	require.NoError(t, err)

	raw, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"discriminant":"-1000003"`)

	var back SystemParameters
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, 0, back.Discriminant.Cmp(p.Discriminant))
	assert.Equal(t, p.Provenance, back.Provenance)
	assert.Equal(t, p.Fingerprint, back.Fingerprint)

	err = json.Unmarshal([]byte(`{"discriminant":"7"}`), &back)
	assert.ErrorIs(t, err, ErrInvalidDiscriminant)
}

func TestBindingVerifier(t *testing.T) {
	ctx := context.Background()
	v := BindingVerifier{}
	input, output := []byte("beacon"), []byte("output")
	proof := BindingProof(input, output)

	assert.NoError(t, v.Verify(ctx, input, output, proof))

	tampered := bytes.Clone(proof)
	tampered[0] ^= 0x01
	assert.ErrorIs(t, v.Verify(ctx, input, output, tampered), ErrInvalidTimeLockProof)
	assert.ErrorIs(t, v.Verify(ctx, input, []byte("other"), proof), ErrInvalidTimeLockProof)
	assert.ErrorIs(t, v.Verify(ctx, nil, output, proof), ErrInvalidTimeLockProof)
	assert.ErrorIs(t, v.Verify(ctx, input, output, nil), ErrInvalidTimeLockProof)
}

func TestNewGenerator(t *testing.T) {
	_, err := NewGenerator(GeneratorConfig{})
	assert.ErrorIs(t, err, ErrNilVerifier)

	_, err = NewGenerator(GeneratorConfig{Verifier: BindingVerifier{}, Bits: 1024})
	assert.ErrorIs(t, err, ErrInsecureBitSize)

	g, err := NewGenerator(GeneratorConfig{Verifier: BindingVerifier{}})
	require.NoError(t, err)
	assert.Equal(t, DefaultTrustlessBits, g.Bits())
}

// errVerifier rejects everything with a fixed error.
type errVerifier struct{ err error }

func (v errVerifier) Verify(context.Context, []byte, []byte, []byte) error { return v.err }

func TestDeriveTrustless_FailsClosed(t *testing.T) {
	ctx := context.Background()
	g, err := NewGenerator(GeneratorConfig{Verifier: BindingVerifier{}})
	require.NoError(t, err)

	_, err = g.DeriveTrustless(ctx, nil, []byte("o"), []byte("p"))
	assert.ErrorIs(t, err, ErrInvalidTimeLockProof)
	_, err = g.DeriveTrustless(ctx, []byte("b"), nil, []byte("p"))
	assert.ErrorIs(t, err, ErrInvalidTimeLockProof)
	_, err = g.DeriveTrustless(ctx, []byte("b"), []byte("o"), nil)
	assert.ErrorIs(t, err, ErrInvalidTimeLockProof)

	_, err = g.DeriveTrustless(ctx, []byte("b"), []byte("o"), []byte("not a proof"))
	assert.ErrorIs(t, err, ErrInvalidTimeLockProof)

	boom := errors.New("verifier exploded")
	g.verifier = errVerifier{err: boom}
	_, err = g.DeriveTrustless(ctx, []byte("b"), []byte("o"), []byte("p"))
	assert.ErrorIs(t, err, ErrInvalidTimeLockProof)
	assert.ErrorIs(t, err, boom)

	assert.Panics(t, func() { g.MustDeriveTrustless(ctx, []byte("b"), []byte("o"), []byte("p")) })
}

func TestDeriveTrustless_Success(t *testing.T) {
	ctx := context.Background()
	g, err := NewGenerator(GeneratorConfig{Verifier: BindingVerifier{}})
	require.NoError(t, err)
	g.bits = 96

	beacon, output := []byte("block-hash"), []byte("vdf-output")
	p, err := g.DeriveTrustless(ctx, beacon, output, BindingProof(beacon, output))
	require.NoError(t, err)
	assert.Equal(t, ProvenanceTrustless, p.Provenance)
	assert.Equal(t, 96, p.Bits)

	again := g.MustDeriveTrustless(ctx, beacon, output, BindingProof(beacon, output))
	assert.Equal(t, 0, p.Discriminant.Cmp(again.Discriminant))

	other := []byte("other-output")
	q, err := g.DeriveTrustless(ctx, beacon, other, BindingProof(beacon, other))
	require.NoError(t, err)
	assert.NotEqual(t, 0, p.Discriminant.Cmp(q.Discriminant))
}

func TestSecureMemoryStatus(t *testing.T) {
	ok, limit := SecureMemoryStatus()
	if !ok {
		assert.GreaterOrEqual(t, limit, int64(0))
	}
}
