// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package proof

import (
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Evolver/services/evolver/affine"
	"github.com/AleutianAI/Evolver/services/evolver/classgroup"
	"github.com/AleutianAI/Evolver/services/evolver/hashing"
	"github.com/AleutianAI/Evolver/services/evolver/merkle"
)

type fixture struct {
	al    *affine.Algebra
	gen   classgroup.Element
	root  hashing.Digest
	proof StateTransitionProof
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	g, err := classgroup.NewGroup(big.NewInt(-1000003))
	require.NoError(t, err)
	al := affine.New(g)
	gen := g.MustGenerator()

	checkpoint, err := g.PowUint64(gen, 5)
	require.NoError(t, err)

	log := merkle.NewLog()
	log.Append(hashing.Sum256("other", []byte("a")))
	idx := log.Append(LeafDigest(checkpoint))
	log.Append(hashing.Sum256("other", []byte("b")))
	log.Append(hashing.Sum256("other", []byte("c")))

	inclusion, err := log.Prove(idx)
	require.NoError(t, err)

	var ops []affine.Tuple
	for _, tok := range []string{"alpha", "beta", "gamma"} {
		op, err := al.TokenOperator(tok)
		require.NoError(t, err)
		ops = append(ops, op)
	}
	ops = append(ops, affine.Tuple{P: big.NewInt(1009), Q: gen})

	final, err := al.ApplyAll(checkpoint, ops)
	require.NoError(t, err)

	return &fixture{
		al:   al,
		gen:  gen,
		root: log.Root(),
		proof: StateTransitionProof{
			CheckpointState:   checkpoint,
			Inclusion:         *inclusion,
			ReplayOps:         ops,
			ClaimedFinalState: final,
		},
	}
}

func requireStep(t *testing.T, err error, step Step, sentinel error) *VerificationError {
	t.Helper()
	require.Error(t, err)
	var verr *VerificationError
	require.True(t, errors.As(err, &verr), "want *VerificationError, got %T", err)
	assert.Equal(t, step, verr.Step)
	assert.ErrorIs(t, err, sentinel)
	return verr
}

func TestVerify_Valid(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, Verify(&f.proof, f.root, f.al))
	assert.True(t, Valid(&f.proof, f.root, f.al))
}

func TestVerify_EmptyReplay(t *testing.T) {
	f := newFixture(t)
	p := f.proof
	p.ReplayOps = nil
	p.ClaimedFinalState = p.CheckpointState
	assert.NoError(t, Verify(&p, f.root, f.al))
}

func TestVerify_TamperedReplayOp(t *testing.T) {
	f := newFixture(t)
	p := f.proof
	p.ReplayOps = append([]affine.Tuple(nil), f.proof.ReplayOps...)
	last := len(p.ReplayOps) - 1
	shifted, err := f.al.Group().Compose(p.ReplayOps[last].Q, f.gen)
	require.NoError(t, err)
	p.ReplayOps[last] = affine.Tuple{P: p.ReplayOps[last].P, Q: shifted}

	verr := requireStep(t, Verify(&p, f.root, f.al), StepReplay, ErrReplayMismatch)
	assert.Equal(t, len(p.ReplayOps), verr.OpIndex)
}

func TestVerify_ReplayLengthCapped(t *testing.T) {
	f := newFixture(t)
	p := f.proof
	p.ReplayOps = make([]affine.Tuple, MaxReplayOps+1)
	for i := range p.ReplayOps {
		p.ReplayOps[i] = f.proof.ReplayOps[0]
	}

	verr := requireStep(t, Verify(&p, f.root, f.al), StepReplay, ErrReplayTooLong)
	assert.Equal(t, MaxReplayOps, verr.OpIndex)
}

func TestVerify_OversizedFactorRejectedBeforeReplay(t *testing.T) {
	f := newFixture(t)
	p := f.proof
	p.ReplayOps = append([]affine.Tuple(nil), f.proof.ReplayOps...)
	p.ReplayOps[1] = affine.Tuple{P: new(big.Int).Lsh(big.NewInt(1), 1<<18), Q: f.gen}

	verr := requireStep(t, Verify(&p, f.root, f.al), StepReplay, ErrReplayMismatch)
	assert.Equal(t, 1, verr.OpIndex)
	assert.ErrorIs(t, verr, affine.ErrPFactorOverflow)
}

func TestVerify_InvalidReplayOp(t *testing.T) {
	f := newFixture(t)
	p := f.proof
	p.ReplayOps = append([]affine.Tuple(nil), f.proof.ReplayOps...)
	p.ReplayOps[2] = affine.Tuple{P: big.NewInt(0), Q: f.gen}

	verr := requireStep(t, Verify(&p, f.root, f.al), StepReplay, ErrReplayMismatch)
	assert.Equal(t, 2, verr.OpIndex)
	assert.ErrorIs(t, verr, affine.ErrInvalidFactor)
}

func TestVerify_TamperedFinalState(t *testing.T) {
	f := newFixture(t)
	p := f.proof
	other, err := f.al.Group().Compose(p.ClaimedFinalState, f.gen)
	require.NoError(t, err)
	p.ClaimedFinalState = other

	requireStep(t, Verify(&p, f.root, f.al), StepReplay, ErrReplayMismatch)

	p.ClaimedFinalState = classgroup.NewUnchecked(big.NewInt(1), big.NewInt(1), big.NewInt(9))
	requireStep(t, Verify(&p, f.root, f.al), StepReplay, ErrReplayMismatch)
}

func TestVerify_LeafNotMatchingInclusion(t *testing.T) {
	f := newFixture(t)
	p := f.proof
	p.Inclusion.LeafHash = hashing.Sum256("other", []byte("a"))

	verr := requireStep(t, Verify(&p, f.root, f.al), StepBinding, ErrBindingMismatch)
	assert.Equal(t, -1, verr.OpIndex)
}

func TestVerify_SwappedCheckpointState(t *testing.T) {
	f := newFixture(t)
	p := f.proof
	p.CheckpointState = f.gen

	requireStep(t, Verify(&p, f.root, f.al), StepBinding, ErrBindingMismatch)

	p.CheckpointState = classgroup.Element{}
	requireStep(t, Verify(&p, f.root, f.al), StepBinding, ErrBindingMismatch)
}

func TestVerify_InclusionFailures(t *testing.T) {
	f := newFixture(t)

	wrongRoot := hashing.Sum256("not-the-root")
	verr := requireStep(t, Verify(&f.proof, wrongRoot, f.al), StepInclusion, ErrInclusionFailed)
	assert.ErrorIs(t, verr, merkle.ErrRootMismatch)

	p := f.proof
	p.Inclusion.Siblings = append([]hashing.Digest(nil), f.proof.Inclusion.Siblings...)
	p.Inclusion.Siblings[0][3] ^= 0x10
	requireStep(t, Verify(&p, f.root, f.al), StepInclusion, ErrInclusionFailed)
}

func TestVerify_ShortCircuits(t *testing.T) {
	f := newFixture(t)
	p := f.proof
	p.Inclusion.LeafHash = hashing.Digest{}
	p.ClaimedFinalState = f.gen

	// binding fails first even though replay is also wrong
	requireStep(t, Verify(&p, hashing.Digest{}, f.al), StepBinding, ErrBindingMismatch)
}

func TestProof_JSONRoundTrip(t *testing.T) {
	f := newFixture(t)

	raw, err := json.Marshal(f.proof)
	require.NoError(t, err)

	var back StateTransitionProof
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.NoError(t, Verify(&back, f.root, f.al))

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &fields))
	for _, k := range []string{"checkpoint_state", "log_inclusion_proof", "replay_ops", "claimed_final_state"} {
		assert.Contains(t, fields, k)
	}
}

func TestLeafDigest(t *testing.T) {
	f := newFixture(t)
	a := LeafDigest(f.gen)
	assert.Equal(t, a, LeafDigest(f.gen))
	assert.NotEqual(t, a, LeafDigest(f.al.Group().Identity()))
}

func TestVerify_Metrics(t *testing.T) {
	f := newFixture(t)

	validBefore := testutil.ToFloat64(verificationsTotal.WithLabelValues("valid", "none"))
	bindingBefore := testutil.ToFloat64(verificationsTotal.WithLabelValues("invalid", string(StepBinding)))

	require.NoError(t, Verify(&f.proof, f.root, f.al))
	p := f.proof
	p.CheckpointState = f.gen
	require.Error(t, Verify(&p, f.root, f.al))

	assert.Equal(t, validBefore+1, testutil.ToFloat64(verificationsTotal.WithLabelValues("valid", "none")))
	assert.Equal(t, bindingBefore+1, testutil.ToFloat64(verificationsTotal.WithLabelValues("invalid", string(StepBinding))))
}
