// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package evolver

import (
	"errors"

	"github.com/AleutianAI/Evolver/services/evolver/affine"
	"github.com/AleutianAI/Evolver/services/evolver/classgroup"
	"github.com/AleutianAI/Evolver/services/evolver/params"
	"github.com/AleutianAI/Evolver/services/evolver/proof"
	"github.com/AleutianAI/Evolver/services/evolver/stream"
	"github.com/AleutianAI/Evolver/services/evolver/topology"
)

// ServiceVersion is reported by the health endpoint.
const ServiceVersion = "1.0.0"

// =============================================================================
// Common
// =============================================================================

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable error code.
	Code string `json:"code,omitempty"`
}

// CoordinateRef names a stream either by explicit coordinate or by an
// identifier hashed onto the layout. Exactly one must be set.
type CoordinateRef struct {
	Coordinate []int  `json:"coordinate,omitempty"`
	ID         string `json:"id,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	EngineID string `json:"engine_id"`
	Halted   bool   `json:"halted"`
}

// ParamsResponse is returned by GET /params.
type ParamsResponse struct {
	Parameters *params.SystemParameters `json:"parameters"`
	Generator  classgroup.Element       `json:"generator"`
	Layout     topology.Layout          `json:"layout"`
	ChunkSize  int                      `json:"chunk_size"`
}

// =============================================================================
// Streams
// =============================================================================

// OperatorRequest is one operator on the wire: either a token, which maps
// to (HashToPrime(token), generator), or an explicit P and Q.
type OperatorRequest struct {
	// P is a positive decimal integer.
	P string `json:"p,omitempty"`

	// Q is a reduced form of the system discriminant.
	Q *classgroup.Element `json:"q,omitempty"`

	// Token derives the operator from a string.
	Token string `json:"token,omitempty"`
}

// ApplyRequest is the body of POST /streams/apply.
type ApplyRequest struct {
	CoordinateRef
	Operators []OperatorRequest `json:"operators" binding:"required,min=1"`
}

// ApplyResponse reports how many operators were folded and the resulting
// stream status.
type ApplyResponse struct {
	Applied int           `json:"applied"`
	Status  stream.Status `json:"status"`
}

// FlushResponse is returned by POST /streams/flush.
type FlushResponse struct {
	LogRoot string `json:"log_root"`
	LogSize uint64 `json:"log_size"`
}

// =============================================================================
// Proofs and roots
// =============================================================================

// ProofRequest is the body of POST /proofs.
type ProofRequest struct {
	CoordinateRef
	stream.Range
}

// ProofResponse carries a proof and the root it verifies against.
type ProofResponse struct {
	Proof *proof.StateTransitionProof `json:"proof"`
	Root  string                      `json:"root"`
}

// VerifyRequest is the body of POST /proofs/verify. Without Root the proof
// is checked against this service's log at the proof's tree size.
type VerifyRequest struct {
	Proof *proof.StateTransitionProof `json:"proof" binding:"required"`
	Root  string                      `json:"root,omitempty"`
}

// VerifyResponse reports a verification outcome.
type VerifyResponse struct {
	Valid   bool   `json:"valid"`
	Step    string `json:"step,omitempty"`
	OpIndex *int   `json:"op_index,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NewVerifyResponse describes the outcome of proof.Verify. A nil err is
// valid; a *proof.VerificationError contributes its step and op index.
func NewVerifyResponse(err error) VerifyResponse {
	if err == nil {
		return VerifyResponse{Valid: true}
	}
	resp := VerifyResponse{Error: err.Error()}
	var verr *proof.VerificationError
	if errors.As(err, &verr) {
		resp.Step = string(verr.Step)
		if op := verr.OpIndex; op >= 0 {
			resp.OpIndex = &op
		}
	}
	return resp
}

// LogRootResponse is returned by GET /log/root.
type LogRootResponse struct {
	Root string `json:"root"`
	Size uint64 `json:"size"`
}

// GlobalRootResponse is returned by GET /root.
type GlobalRootResponse struct {
	Order []int        `json:"order"`
	Root  affine.Tuple `json:"root"`
	Cells int          `json:"cells"`
}

// =============================================================================
// Parameters and primes
// =============================================================================

// DeriveRequest is the body of POST /params/derive.
type DeriveRequest struct {
	BeaconHex string `json:"beacon_hex" binding:"required,hexadecimal"`
	OutputHex string `json:"output_hex" binding:"required,hexadecimal"`
	ProofHex  string `json:"proof_hex" binding:"required,hexadecimal"`
}

// PrimeRequest is the body of POST /primes.
type PrimeRequest struct {
	Input string `json:"input" binding:"required"`
	Bits  int    `json:"bits" binding:"required,gte=2,lte=4096"`
}

// PrimeResponse is returned by POST /primes.
type PrimeResponse struct {
	Prime string `json:"prime"`
	Bits  int    `json:"bits"`
}
