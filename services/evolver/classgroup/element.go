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

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"
)

// Element is a binary quadratic form (a, b, c) in reduced, primitive form.
//
// Elements are values: every operation returns a new Element and the
// coefficients are never modified after construction. Accessors return
// copies. The zero Element has no coefficients and is only produced by
// failed operations or decoding into an empty value.
type Element struct {
	a, b, c *big.Int
}

// A returns a copy of the leading coefficient.
func (e Element) A() *big.Int { return cloneInt(e.a) }

// B returns a copy of the middle coefficient.
func (e Element) B() *big.Int { return cloneInt(e.b) }

// C returns a copy of the trailing coefficient.
func (e Element) C() *big.Int { return cloneInt(e.c) }

// IsZero reports whether the element carries no coefficients.
func (e Element) IsZero() bool {
	return e.a == nil || e.b == nil || e.c == nil
}

// Equal reports coefficient-wise equality. Reduced forms are unique per
// class, so this is class equality for elements of one group.
func (e Element) Equal(o Element) bool {
	if e.IsZero() || o.IsZero() {
		return e.IsZero() && o.IsZero()
	}
	return e.a.Cmp(o.a) == 0 && e.b.Cmp(o.b) == 0 && e.c.Cmp(o.c) == 0
}

// BitLen returns the largest bit length among the coefficients.
func (e Element) BitLen() int {
	if e.IsZero() {
		return 0
	}
	n := e.a.BitLen()
	if m := e.b.BitLen(); m > n {
		n = m
	}
	if m := e.c.BitLen(); m > n {
		n = m
	}
	return n
}

// Discriminant returns b² - 4ac.
func (e Element) Discriminant() *big.Int {
	if e.IsZero() {
		return nil
	}
	d := new(big.Int).Mul(e.b, e.b)
	ac := new(big.Int).Mul(e.a, e.c)
	ac.Lsh(ac, 2)
	return d.Sub(d, ac)
}

// String implements fmt.Stringer.
func (e Element) String() string {
	if e.IsZero() {
		return "(<nil>)"
	}
	return fmt.Sprintf("(%s, %s, %s)", e.a, e.b, e.c)
}

// -----------------------------------------------------------------------------
// Encoding
// -----------------------------------------------------------------------------

// MarshalBinary encodes the element as three length-prefixed signed
// integers: [4-byte length][sign byte][magnitude] for a, b and c.
//
// Decoded elements are untrusted; pass them through Group.Validate.
func (e Element) MarshalBinary() ([]byte, error) {
	if e.IsZero() {
		return nil, ErrMalformedElement
	}
	var out []byte
	for _, x := range []*big.Int{e.a, e.b, e.c} {
		out = appendSigned(out, x)
	}
	return out, nil
}

// UnmarshalBinary decodes the MarshalBinary encoding.
func (e *Element) UnmarshalBinary(data []byte) error {
	var coeffs [3]*big.Int
	rest := data
	for i := range coeffs {
		x, r, err := readSigned(rest)
		if err != nil {
			return err
		}
		coeffs[i], rest = x, r
	}
	if len(rest) != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrMalformedElement, len(rest))
	}
	e.a, e.b, e.c = coeffs[0], coeffs[1], coeffs[2]
	return nil
}

func appendSigned(out []byte, x *big.Int) []byte {
	mag := x.Bytes()
	var hdr [5]byte
	binary.BigEndian.PutUint32(hdr[:4], uint32(len(mag)+1))
	if x.Sign() < 0 {
		hdr[4] = 1
	}
	out = append(out, hdr[:]...)
	return append(out, mag...)
}

func readSigned(data []byte) (*big.Int, []byte, error) {
	if len(data) < 5 {
		return nil, nil, fmt.Errorf("%w: truncated coefficient", ErrMalformedElement)
	}
	n := int(binary.BigEndian.Uint32(data[:4]))
	if n < 1 || len(data)-4 < n {
		return nil, nil, fmt.Errorf("%w: bad coefficient length %d", ErrMalformedElement, n)
	}
	sign := data[4]
	if sign > 1 {
		return nil, nil, fmt.Errorf("%w: bad sign byte", ErrMalformedElement)
	}
	x := new(big.Int).SetBytes(data[5 : 4+n])
	if sign == 1 {
		x.Neg(x)
	}
	return x, data[4+n:], nil
}

// elementJSON is the wire shape of an Element.
type elementJSON struct {
	A string `json:"a"`
	B string `json:"b"`
	C string `json:"c"`
}

// MarshalJSON encodes the coefficients as decimal strings.
func (e Element) MarshalJSON() ([]byte, error) {
	if e.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(elementJSON{A: e.a.String(), B: e.b.String(), C: e.c.String()})
}

// UnmarshalJSON decodes decimal coefficients. The result is untrusted.
func (e *Element) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*e = Element{}
		return nil
	}
	var raw elementJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedElement, err)
	}
	var coeffs [3]*big.Int
	for i, s := range []string{raw.A, raw.B, raw.C} {
		x, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return fmt.Errorf("%w: coefficient %q is not a decimal integer", ErrMalformedElement, s)
		}
		coeffs[i] = x
	}
	e.a, e.b, e.c = coeffs[0], coeffs[1], coeffs[2]
	return nil
}

// NewUnchecked builds an Element from raw coefficients without any
// validation. Intended for decoding and tests; pass the result through
// Group.Validate before use.
func NewUnchecked(a, b, c *big.Int) Element {
	return Element{a: cloneInt(a), b: cloneInt(b), c: cloneInt(c)}
}

func cloneInt(x *big.Int) *big.Int {
	if x == nil {
		return nil
	}
	return new(big.Int).Set(x)
}
