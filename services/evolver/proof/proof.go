// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package proof defines the state-transition proof and its verifier.
//
// A proof claims that replaying ReplayOps from a committed checkpoint state
// reaches ClaimedFinalState. Verification runs three checks in order and
// stops at the first failure:
//
//  1. Binding: LeafDigest(CheckpointState) equals the inclusion proof's leaf.
//  2. Inclusion: the Merkle audit path reproduces the expected log root.
//  3. Replay: folding ReplayOps into CheckpointState yields ClaimedFinalState.
//
// A failed proof is rejected permanently; nothing is retried.
package proof

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/Evolver/services/evolver/affine"
	"github.com/AleutianAI/Evolver/services/evolver/classgroup"
	"github.com/AleutianAI/Evolver/services/evolver/hashing"
	"github.com/AleutianAI/Evolver/services/evolver/merkle"
)

const (
	leafTag = "HTP_LOG_ENTRY_V1"

	// checkpointFactor is the P of every checkpoint tuple.
	checkpointFactor = 1
)

// ==============================================================================
// Prometheus Metrics
// ==============================================================================

var (
	verificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evolver_proof_verifications_total",
		Help: "Total state-transition proof verifications by result and failing step",
	}, []string{"result", "step"})

	verificationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "evolver_proof_verification_duration_seconds",
		Help:    "State-transition proof verification duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
	})
)

// ==============================================================================
// Errors
// ==============================================================================

var (
	// ErrBindingMismatch is returned when the checkpoint state does not hash
	// to the leaf named by the inclusion proof.
	ErrBindingMismatch = errors.New("checkpoint binding mismatch")

	// ErrInclusionFailed is returned when the audit path does not reach the root.
	ErrInclusionFailed = errors.New("log inclusion failed")

	// ErrReplayMismatch is returned when replay does not reach the claimed state.
	ErrReplayMismatch = errors.New("replay mismatch")

	// ErrReplayTooLong is returned when a proof carries more than
	// MaxReplayOps operators.
	ErrReplayTooLong = errors.New("replay too long")
)

// MaxReplayOps caps the operators one proof may ask a verifier to replay.
const MaxReplayOps = 1 << 16

// Step names a verification stage.
type Step string

const (
	StepBinding   Step = "binding"
	StepInclusion Step = "inclusion"
	StepReplay    Step = "replay"
)

// VerificationError localises a verification failure.
//
// OpIndex is the index of the offending replay op, len(ReplayOps) when the
// replay completed but reached the wrong state, and -1 outside replay.
type VerificationError struct {
	Step    Step
	OpIndex int
	Err     error
}

// Error implements error.
func (e *VerificationError) Error() string {
	if e.Step == StepReplay && e.OpIndex >= 0 {
		return fmt.Sprintf("proof %s step failed at op %d: %v", e.Step, e.OpIndex, e.Err)
	}
	return fmt.Sprintf("proof %s step failed: %v", e.Step, e.Err)
}

// Unwrap returns the underlying error.
func (e *VerificationError) Unwrap() error {
	return e.Err
}

// ==============================================================================
// Proof
// ==============================================================================

// StateTransitionProof is a self-contained, replayable transition claim.
type StateTransitionProof struct {
	CheckpointState   classgroup.Element    `json:"checkpoint_state"`
	Inclusion         merkle.InclusionProof `json:"log_inclusion_proof"`
	ReplayOps         []affine.Tuple        `json:"replay_ops"`
	ClaimedFinalState classgroup.Element    `json:"claimed_final_state"`
}

// LeafDigest is the log leaf of the checkpoint tuple (1, state):
// SHA3("HTP_LOG_ENTRY_V1" || 1 || a || b || c).
func LeafDigest(state classgroup.Element) hashing.Digest {
	return hashing.New(leafTag).
		Uint64(checkpointFactor).
		Int(state.A()).
		Int(state.B()).
		Int(state.C()).
		Sum()
}

// Verify checks p against the log root using the algebra's group.
//
// Description:
//
//	Runs binding, inclusion and replay in that order. Externally supplied
//	elements and operators are validated against the group before use.
//
// Inputs:
//
//	p - The proof. Not modified.
//	root - The trusted log root.
//	al - The algebra of the engine's discriminant.
//
// Outputs:
//
//	error - nil if the proof holds, otherwise a *VerificationError wrapping
//	        ErrBindingMismatch, ErrInclusionFailed or ErrReplayMismatch.
//
// Thread Safety: Safe for concurrent use.
func Verify(p *StateTransitionProof, root hashing.Digest, al *affine.Algebra) error {
	start := time.Now()
	err := verify(p, root, al)
	verificationDuration.Observe(time.Since(start).Seconds())

	var verr *VerificationError
	switch {
	case err == nil:
		verificationsTotal.WithLabelValues("valid", "none").Inc()
	case errors.As(err, &verr):
		verificationsTotal.WithLabelValues("invalid", string(verr.Step)).Inc()
	default:
		verificationsTotal.WithLabelValues("invalid", "unknown").Inc()
	}
	return err
}

// Valid reports whether Verify succeeds.
func Valid(p *StateTransitionProof, root hashing.Digest, al *affine.Algebra) bool {
	return Verify(p, root, al) == nil
}

func verify(p *StateTransitionProof, root hashing.Digest, al *affine.Algebra) error {
	g := al.Group()

	// 1. binding
	if err := g.Validate(p.CheckpointState); err != nil {
		return &VerificationError{Step: StepBinding, OpIndex: -1,
			Err: fmt.Errorf("%w: checkpoint state: %w", ErrBindingMismatch, err)}
	}
	if leaf := LeafDigest(p.CheckpointState); leaf != p.Inclusion.LeafHash {
		return &VerificationError{Step: StepBinding, OpIndex: -1,
			Err: fmt.Errorf("%w: state hashes to %s, proof names %s",
				ErrBindingMismatch, leaf.Hex(), p.Inclusion.LeafHash.Hex())}
	}

	// 2. inclusion
	if err := p.Inclusion.Verify(root); err != nil {
		return &VerificationError{Step: StepInclusion, OpIndex: -1,
			Err: fmt.Errorf("%w: %w", ErrInclusionFailed, err)}
	}

	// 3. replay
	if n := len(p.ReplayOps); n > MaxReplayOps {
		return &VerificationError{Step: StepReplay, OpIndex: MaxReplayOps,
			Err: fmt.Errorf("%w: %d operators, limit %d", ErrReplayTooLong, n, MaxReplayOps)}
	}
	if err := g.Validate(p.ClaimedFinalState); err != nil {
		return &VerificationError{Step: StepReplay, OpIndex: len(p.ReplayOps),
			Err: fmt.Errorf("%w: claimed state: %w", ErrReplayMismatch, err)}
	}
	state := p.CheckpointState
	for i, op := range p.ReplayOps {
		if err := al.Validate(op); err != nil {
			return &VerificationError{Step: StepReplay, OpIndex: i,
				Err: fmt.Errorf("%w: %w", ErrReplayMismatch, err)}
		}
		next, err := al.Apply(state, op)
		if err != nil {
			return &VerificationError{Step: StepReplay, OpIndex: i,
				Err: fmt.Errorf("%w: %w", ErrReplayMismatch, err)}
		}
		state = next
	}
	if !state.Equal(p.ClaimedFinalState) {
		return &VerificationError{Step: StepReplay, OpIndex: len(p.ReplayOps),
			Err: fmt.Errorf("%w: replay reached %s, proof claims %s",
				ErrReplayMismatch, state, p.ClaimedFinalState)}
	}
	return nil
}
