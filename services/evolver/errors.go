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
	"context"
	"errors"
	"net/http"

	"github.com/AleutianAI/Evolver/services/evolver/affine"
	"github.com/AleutianAI/Evolver/services/evolver/classgroup"
	"github.com/AleutianAI/Evolver/services/evolver/merkle"
	"github.com/AleutianAI/Evolver/services/evolver/params"
	"github.com/AleutianAI/Evolver/services/evolver/primes"
	"github.com/AleutianAI/Evolver/services/evolver/proof"
	"github.com/AleutianAI/Evolver/services/evolver/stream"
	"github.com/AleutianAI/Evolver/services/evolver/topology"
)

// Sentinel errors for the evolver service.
var (
	// ErrInvalidRequest indicates a request that failed validation.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrBatchTooLarge indicates more operators than one request may carry.
	ErrBatchTooLarge = errors.New("operator batch too large")

	// ErrDeriveUnavailable indicates the service has no time-lock verifier
	// configured for trustless derivation.
	ErrDeriveUnavailable = errors.New("trustless derivation unavailable")
)

// badRequest lists the errors that describe a malformed or unusable input.
var badRequest = []error{
	ErrInvalidRequest,
	ErrBatchTooLarge,
	affine.ErrInvalidFactor,
	affine.ErrPFactorOverflow,
	proof.ErrReplayTooLong,
	classgroup.ErrMalformedElement,
	classgroup.ErrNotReduced,
	classgroup.ErrDegenerateForm,
	classgroup.ErrNonPrimitiveForm,
	classgroup.ErrNonIntegralDivision,
	classgroup.ErrDiscriminantMismatch,
	topology.ErrMalformedCoordinate,
	topology.ErrCoordinateOutOfRange,
	topology.ErrInvalidAxisOrder,
	merkle.ErrSizeOutOfRange,
	primes.ErrBitWidthTooSmall,
	primes.ErrNoPrimeInWidth,
	params.ErrInsecureBitSize,
	params.ErrEmptySeed,
}

// errorStatus maps err onto an HTTP status and a stable error code.
// A proof verification failure wins over the input class of its cause.
func errorStatus(err error) (int, string) {
	var verr *proof.VerificationError
	if errors.As(err, &verr) {
		return http.StatusUnprocessableEntity, "PROOF_INVALID"
	}
	for _, target := range badRequest {
		if errors.Is(err, target) {
			return http.StatusBadRequest, "INVALID_REQUEST"
		}
	}

	switch {
	case errors.Is(err, params.ErrInvalidTimeLockProof):
		return http.StatusUnprocessableEntity, "TIMELOCK_INVALID"
	case errors.Is(err, topology.ErrWitnessOutOfRange):
		return http.StatusNotFound, "OUT_OF_RANGE"
	case errors.Is(err, stream.ErrEngineHalted):
		return http.StatusServiceUnavailable, "ENGINE_HALTED"
	case errors.Is(err, stream.ErrStreamPoisoned):
		return http.StatusServiceUnavailable, "STREAM_POISONED"
	case errors.Is(err, ErrDeriveUnavailable):
		return http.StatusServiceUnavailable, "DERIVE_UNAVAILABLE"
	case errors.Is(err, params.ErrAttemptsExhausted):
		return http.StatusServiceUnavailable, "SEARCH_EXHAUSTED"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT"
	case errors.Is(err, context.Canceled):
		return 499, "CANCELLED"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}
