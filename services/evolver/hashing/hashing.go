// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package hashing provides the domain-separated hash primitives shared by
// the Evolver engine.
//
// Every field written into a Hasher or XOF is framed with an 8-byte
// big-endian length, so that ("ab", "c") and ("a", "bc") never collide.
// The first frame is always the domain tag.
//
// Digests use SHA3-256 and extendable output uses SHAKE256, both from
// golang.org/x/crypto/sha3.
package hashing

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"math/big"

	"golang.org/x/crypto/sha3"
)

// Size is the digest length in bytes.
const Size = 32

// ErrInvalidDigest is returned when decoding a digest of the wrong length.
var ErrInvalidDigest = errors.New("invalid digest encoding")

// Digest is a 256-bit SHA3 digest.
type Digest [Size]byte

// Hex returns the lowercase hex encoding of the digest.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// String implements fmt.Stringer.
func (d Digest) String() string {
	return d.Hex()
}

// IsZero reports whether every byte of the digest is zero.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// MarshalText encodes the digest as hex for JSON and YAML.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.Hex()), nil
}

// UnmarshalText decodes a hex digest.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := ParseDigest(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDigest decodes a 64-character hex string into a Digest.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	raw, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("%w: %v", ErrInvalidDigest, err)
	}
	if len(raw) != Size {
		return d, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidDigest, len(raw), Size)
	}
	copy(d[:], raw)
	return d, nil
}

// IntBytes returns the canonical hashing encoding of x: one sign byte
// (0x00 for x >= 0, 0x01 for x < 0) followed by the big-endian magnitude.
// A nil x encodes like zero.
func IntBytes(x *big.Int) []byte {
	if x == nil {
		return []byte{0}
	}
	mag := x.Bytes()
	out := make([]byte, 1+len(mag))
	if x.Sign() < 0 {
		out[0] = 1
	}
	copy(out[1:], mag)
	return out
}

// writeFrame writes an 8-byte length prefix followed by b.
func writeFrame(w io.Writer, b []byte) {
	var prefix [8]byte
	binary.BigEndian.PutUint64(prefix[:], uint64(len(b)))
	// hash.Hash and sha3.ShakeHash never return write errors
	_, _ = w.Write(prefix[:])
	_, _ = w.Write(b)
}

// -----------------------------------------------------------------------------
// Hasher
// -----------------------------------------------------------------------------

// Hasher accumulates framed fields into a SHA3-256 state.
//
// Thread Safety: Not safe for concurrent use.
type Hasher struct {
	h hash.Hash
}

// New starts a SHA3-256 hasher under the given domain tag.
func New(tag string) *Hasher {
	h := &Hasher{h: sha3.New256()}
	writeFrame(h.h, []byte(tag))
	return h
}

// Bytes appends a framed byte field.
func (h *Hasher) Bytes(b []byte) *Hasher {
	writeFrame(h.h, b)
	return h
}

// String appends a framed string field.
func (h *Hasher) String(s string) *Hasher {
	writeFrame(h.h, []byte(s))
	return h
}

// Uint64 appends a framed big-endian uint64.
func (h *Hasher) Uint64(v uint64) *Hasher {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	writeFrame(h.h, buf[:])
	return h
}

// Int appends a framed signed big integer (see IntBytes).
func (h *Hasher) Int(x *big.Int) *Hasher {
	writeFrame(h.h, IntBytes(x))
	return h
}

// Sum returns the digest of everything written so far.
func (h *Hasher) Sum() Digest {
	var d Digest
	copy(d[:], h.h.Sum(nil))
	return d
}

// Sum256 hashes the framed parts under tag in one call.
func Sum256(tag string, parts ...[]byte) Digest {
	h := New(tag)
	for _, p := range parts {
		h.Bytes(p)
	}
	return h.Sum()
}

// -----------------------------------------------------------------------------
// XOF
// -----------------------------------------------------------------------------

// XOF is a SHAKE256 extendable-output stream over framed fields.
//
// All fields must be written before the first Read; writing after reading
// panics inside the sponge.
//
// Thread Safety: Not safe for concurrent use.
type XOF struct {
	s sha3.ShakeHash
}

// NewXOF starts a SHAKE256 stream under the given domain tag.
func NewXOF(tag string) *XOF {
	x := &XOF{s: sha3.NewShake256()}
	writeFrame(x.s, []byte(tag))
	return x
}

// Bytes appends a framed byte field.
func (x *XOF) Bytes(b []byte) *XOF {
	writeFrame(x.s, b)
	return x
}

// String appends a framed string field.
func (x *XOF) String(s string) *XOF {
	writeFrame(x.s, []byte(s))
	return x
}

// Uint64 appends a framed big-endian uint64.
func (x *XOF) Uint64(v uint64) *XOF {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	writeFrame(x.s, buf[:])
	return x
}

// Int appends a framed signed big integer.
func (x *XOF) Int(v *big.Int) *XOF {
	writeFrame(x.s, IntBytes(v))
	return x
}

// Read implements io.Reader over the squeezed output.
func (x *XOF) Read(p []byte) (int, error) {
	return x.s.Read(p)
}

// Fill squeezes n bytes of output.
func (x *XOF) Fill(n int) []byte {
	out := make([]byte, n)
	_, _ = io.ReadFull(x.s, out)
	return out
}

// FillInt squeezes enough output for a bits-wide integer and returns it with
// every bit at or above bits cleared. The output bytes are interpreted
// little-endian.
func (x *XOF) FillInt(bits int) *big.Int {
	if bits <= 0 {
		return new(big.Int)
	}
	raw := x.Fill((bits + 7) / 8)
	// reverse to big-endian for SetBytes
	for i, j := 0, len(raw)-1; i < j; i, j = i+1, j-1 {
		raw[i], raw[j] = raw[j], raw[i]
	}
	v := new(big.Int).SetBytes(raw)
	if extra := len(raw)*8 - bits; extra > 0 {
		mask := new(big.Int).Lsh(big.NewInt(1), uint(bits))
		mask.Sub(mask, big.NewInt(1))
		v.And(v, mask)
	}
	return v
}
