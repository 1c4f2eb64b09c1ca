/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package metadata

import (
	"bytes"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	// strictDecMode rejects fields the document types do not declare.
	strictDecMode cbor.DecMode
	// looseDecMode is used to peek at headers and to canonicalise.
	looseDecMode cbor.DecMode
)

func init() {
	encOpts := cbor.CoreDetEncOptions()
	encOpts.Time = cbor.TimeRFC3339
	var err error
	if encMode, err = encOpts.EncMode(); err != nil {
		panic(err)
	}

	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthForbidden,
	}
	if looseDecMode, err = decOpts.DecMode(); err != nil {
		panic(err)
	}
	decOpts.ExtraReturnErrors = cbor.ExtraDecErrorUnknownField
	if strictDecMode, err = decOpts.DecMode(); err != nil {
		panic(err)
	}
}

// Encode serialises v with Core Deterministic Encoding (RFC 8949 §4.2.1).
func Encode(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Canonical returns the canonical re-serialisation of an encoded item. It is
// the only byte form signatures are computed over.
func Canonical(data []byte) ([]byte, error) {
	var v any
	if err := looseDecMode.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return encMode.Marshal(v)
}

// IsCanonical reports whether data is already in canonical form.
func IsCanonical(data []byte) bool {
	c, err := Canonical(data)
	if err != nil {
		return false
	}
	return bytes.Equal(c, data)
}

func decodeStrict(data []byte, v any) error {
	if err := strictDecMode.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}

// Decode strictly decodes a single item into v. Unknown fields, duplicate
// map keys and indefinite lengths are rejected.
func Decode(data []byte, v any) error {
	return decodeStrict(data, v)
}
