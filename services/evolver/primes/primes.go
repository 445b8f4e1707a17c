// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package primes maps byte strings to primes and provides the small prime
// helpers used by generator selection.
package primes

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/AleutianAI/Evolver/services/evolver/hashing"
)

const (
	// SearchLimit is the number of nonces tried before the fallback scan.
	SearchLimit = 1000

	// MillerRabinRounds is the primality confidence used by HashToPrime.
	MillerRabinRounds = 25

	hashTag     = "HTP_HASH_TO_PRIME_V1"
	fallbackTag = "HTP_PRIME_FALLBACK_V1"
)

var (
	// ErrBitWidthTooSmall is returned when fewer than 2 bits are requested.
	ErrBitWidthTooSmall = errors.New("prime bit width must be at least 2")

	// ErrNoPrimeInWidth is returned when no prime of the width exists
	// around the fallback candidate. Unreachable for widths >= 2.
	ErrNoPrimeInWidth = errors.New("no prime found within bit width")
)

var (
	bigThree = big.NewInt(3)
	bigFive  = big.NewInt(5)
)

// HashToPrime deterministically maps data to a prime of exactly bits bits.
//
// Description:
//
//	For nonce = 0..SearchLimit-1, squeezes a bits-wide candidate from
//	SHAKE256(len(data) || data || nonce), forces the top and bottom bits,
//	skips candidates with a factor of 3 or 5, and accepts the first that
//	passes MillerRabinRounds rounds. If every nonce fails, a second tagged
//	derivation seeds a next-prime scan, moving downward if the upward scan
//	leaves the width.
//
// Inputs:
//
//	data - Arbitrary input. May be empty.
//	bits - Requested width. Must be >= 2.
//
// Outputs:
//
//	*big.Int - A probable prime with BitLen() == bits.
//	error - ErrBitWidthTooSmall for bits < 2.
//
// Thread Safety: Safe for concurrent use.
func HashToPrime(data []byte, bits int) (*big.Int, error) {
	if bits < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrBitWidthTooSmall, bits)
	}

	for nonce := uint64(0); nonce < SearchLimit; nonce++ {
		candidate := hashing.NewXOF(hashTag).
			Uint64(uint64(len(data))).
			Bytes(data).
			Uint64(nonce).
			FillInt(bits)
		candidate.SetBit(candidate, bits-1, 1)
		candidate.SetBit(candidate, 0, 1)

		if hasTrivialFactor(candidate) {
			continue
		}
		if candidate.ProbablyPrime(MillerRabinRounds) {
			return candidate, nil
		}
	}

	return fallbackPrime(data, bits)
}

// fallbackPrime scans from a second derivation so HashToPrime is total.
func fallbackPrime(data []byte, bits int) (*big.Int, error) {
	start := hashing.NewXOF(fallbackTag).Bytes(data).FillInt(bits)
	start.SetBit(start, bits-1, 1)
	start.SetBit(start, 0, 1)

	if p := NextPrime(new(big.Int).Sub(start, big.NewInt(1))); p.BitLen() == bits {
		return p, nil
	}
	if p := PrevPrime(start); p != nil && p.BitLen() == bits {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %d bits", ErrNoPrimeInWidth, bits)
}

// hasTrivialFactor reports whether n > 5 is divisible by 3 or 5.
func hasTrivialFactor(n *big.Int) bool {
	if n.Cmp(bigFive) <= 0 {
		return false
	}
	var r big.Int
	if r.Mod(n, bigThree).Sign() == 0 {
		return true
	}
	return r.Mod(n, bigFive).Sign() == 0
}

// NextPrime returns the smallest probable prime strictly greater than n.
func NextPrime(n *big.Int) *big.Int {
	two := big.NewInt(2)
	if n.Cmp(two) < 0 {
		return two
	}
	p := new(big.Int).Add(n, big.NewInt(1))
	if p.Bit(0) == 0 {
		if p.Cmp(two) == 0 {
			return p
		}
		p.Add(p, big.NewInt(1))
	}
	for !p.ProbablyPrime(MillerRabinRounds) {
		p.Add(p, two)
	}
	return p
}

// PrevPrime returns the largest probable prime strictly less than n, or nil
// when n <= 2.
func PrevPrime(n *big.Int) *big.Int {
	two := big.NewInt(2)
	if n.Cmp(two) <= 0 {
		return nil
	}
	if n.Cmp(bigThree) == 0 {
		return two
	}
	p := new(big.Int).Sub(n, big.NewInt(1))
	if p.Bit(0) == 0 {
		p.Sub(p, big.NewInt(1))
	}
	for p.Cmp(bigThree) >= 0 {
		if p.ProbablyPrime(MillerRabinRounds) {
			return p
		}
		p.Sub(p, two)
	}
	return two
}

// PrimesBelow returns every prime p < limit in ascending order.
func PrimesBelow(limit int64) []int64 {
	if limit <= 2 {
		return nil
	}
	composite := make([]bool, limit)
	var out []int64
	for i := int64(2); i < limit; i++ {
		if composite[i] {
			continue
		}
		out = append(out, i)
		for j := i * i; j < limit; j += i {
			composite[j] = true
		}
	}
	return out
}

// ProductOfPrimesBelow returns the product of every prime p < limit, or 1
// when there are none.
func ProductOfPrimesBelow(limit int64) *big.Int {
	product := big.NewInt(1)
	for _, p := range PrimesBelow(limit) {
		product.Mul(product, big.NewInt(p))
	}
	return product
}
