// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package hashing

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSum256_FramingPreventsConcatenationCollisions(t *testing.T) {
	a := Sum256("tag", []byte("ab"), []byte("c"))
	b := Sum256("tag", []byte("a"), []byte("bc"))
	assert.NotEqual(t, a, b)
}

func TestSum256_DomainSeparation(t *testing.T) {
	a := Sum256("tag-one", []byte("payload"))
	b := Sum256("tag-two", []byte("payload"))
	assert.NotEqual(t, a, b)
}

func TestSum256_Deterministic(t *testing.T) {
	assert.Equal(t, Sum256("t", []byte("x")), Sum256("t", []byte("x")))
	assert.Equal(t, Sum256("t", []byte("x")), New("t").Bytes([]byte("x")).Sum())
}

func TestHasher_IntSignMatters(t *testing.T) {
	pos := New("t").Int(big.NewInt(5)).Sum()
	neg := New("t").Int(big.NewInt(-5)).Sum()
	assert.NotEqual(t, pos, neg)
}

func TestIntBytes(t *testing.T) {
	assert.Equal(t, []byte{0}, IntBytes(nil))
	assert.Equal(t, []byte{0}, IntBytes(big.NewInt(0)))
	assert.Equal(t, []byte{0, 0x01, 0x00}, IntBytes(big.NewInt(256)))
	assert.Equal(t, []byte{1, 0x07}, IntBytes(big.NewInt(-7)))
}

func TestDigest_TextRoundTrip(t *testing.T) {
	d := Sum256("t", []byte("x"))

	raw, err := json.Marshal(d)
	require.NoError(t, err)

	var back Digest
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, d, back)
}

func TestParseDigest_RejectsBadInput(t *testing.T) {
	_, err := ParseDigest("zz")
	assert.ErrorIs(t, err, ErrInvalidDigest)

	_, err = ParseDigest("abcd")
	assert.ErrorIs(t, err, ErrInvalidDigest)
}

func TestDigest_IsZero(t *testing.T) {
	assert.True(t, Digest{}.IsZero())
	assert.False(t, Sum256("t").IsZero())
}

func TestXOF_Deterministic(t *testing.T) {
	a := NewXOF("t").Bytes([]byte("seed")).Uint64(3).Fill(100)
	b := NewXOF("t").Bytes([]byte("seed")).Uint64(3).Fill(100)
	c := NewXOF("t").Bytes([]byte("seed")).Uint64(4).Fill(100)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 100)
}

func TestXOF_StringMatchesBytesFraming(t *testing.T) {
	a := NewXOF("t").Bytes([]byte("seed")).String("::NONCE::").Uint64(7).Fill(64)
	b := NewXOF("t").Bytes([]byte("seed")).Bytes([]byte("::NONCE::")).Uint64(7).Fill(64)
	c := NewXOF("t").Bytes([]byte("seed")).String("::NONCE:").Uint64(7).Fill(64)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestXOF_FillIntRespectsWidth(t *testing.T) {
	for _, bits := range []int{1, 7, 8, 9, 63, 64, 65, 255, 2048} {
		v := NewXOF("t").Uint64(uint64(bits)).FillInt(bits)
		assert.LessOrEqual(t, v.BitLen(), bits, "bits=%d", bits)
	}
	assert.Equal(t, 0, NewXOF("t").FillInt(0).Sign())
}
