// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package classgroup

import "errors"

// -----------------------------------------------------------------------------
// Structural math errors
// -----------------------------------------------------------------------------

var (
	// ErrInvalidDiscriminant is returned for Δ >= 0 or Δ not ≡ 1 (mod 4).
	ErrInvalidDiscriminant = errors.New("discriminant must be negative and congruent to 1 mod 4")

	// ErrDegenerateForm is returned when the leading coefficient is not positive.
	ErrDegenerateForm = errors.New("degenerate form: leading coefficient must be positive")

	// ErrNonIntegralDivision is returned when (b² - Δ) is not divisible by 4a.
	ErrNonIntegralDivision = errors.New("non-integral division while deriving c")

	// ErrDiscriminantMismatch is returned when an element belongs to another group.
	ErrDiscriminantMismatch = errors.New("discriminant mismatch")

	// ErrNonPrimitiveForm is returned when gcd(a, b, c) != 1.
	ErrNonPrimitiveForm = errors.New("form is not primitive")

	// ErrReductionDivergence is returned when reduction exceeds its step cap.
	ErrReductionDivergence = errors.New("reduction did not converge")

	// ErrInvariantViolation is returned when the post-reduction self-check fails.
	ErrInvariantViolation = errors.New("form invariant violated after reduction")

	// ErrNotReduced is returned by Validate for a non-canonical triple.
	ErrNotReduced = errors.New("form is not reduced")

	// ErrMalformedElement is returned for missing coefficients or bad encodings.
	ErrMalformedElement = errors.New("malformed class group element")
)

// -----------------------------------------------------------------------------
// Composition and generator errors
// -----------------------------------------------------------------------------

var (
	// ErrCompositionIncompatible is returned when the composition congruence
	// has no solution.
	ErrCompositionIncompatible = errors.New("forms are incompatible for composition")

	// ErrGeneratorNotFound is returned when the generator search exhausts
	// its attempt cap.
	ErrGeneratorNotFound = errors.New("no suitable generator found")
)
