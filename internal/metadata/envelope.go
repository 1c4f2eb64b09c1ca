/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package metadata

import (
	"github.com/kentakayama/uptane-verifier/internal/domain"
)

// Signature is one entry of an envelope signature list.
type Signature struct {
	KeyID string `cbor:"keyid"`
	Sig   []byte `cbor:"sig"`
}

// Envelope wraps a canonical payload with its signatures. Signed is carried
// as a byte string so the signed bytes survive transport untouched.
type Envelope struct {
	Signed     []byte      `cbor:"signed"`
	Signatures []Signature `cbor:"signatures"`
}

// NewEnvelope encodes doc canonically into an unsigned envelope.
func NewEnvelope(doc any) (*Envelope, error) {
	payload, err := Encode(doc)
	if err != nil {
		return nil, err
	}
	return &Envelope{Signed: payload, Signatures: []Signature{}}, nil
}

// ParseEnvelope decodes an envelope and insists its payload is canonical.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := decodeStrict(data, &env); err != nil {
		return nil, domain.NewError(domain.ErrMalformedMetadata, "", 0, "%v", err)
	}
	if len(env.Signed) == 0 {
		return nil, domain.NewError(domain.ErrMalformedMetadata, "", 0, "empty payload")
	}
	if !IsCanonical(env.Signed) {
		return nil, domain.NewError(domain.ErrMalformedMetadata, "", 0, "payload is not canonically encoded")
	}
	for i, s := range env.Signatures {
		if s.KeyID == "" || len(s.Sig) == 0 {
			return nil, domain.NewError(domain.ErrMalformedMetadata, "", 0, "signature %d is incomplete", i)
		}
	}
	return &env, nil
}

// Bytes encodes the envelope.
func (e *Envelope) Bytes() ([]byte, error) {
	return Encode(e)
}

// HasSignature reports whether keyID already signed the envelope.
func (e *Envelope) HasSignature(keyID string) bool {
	for _, s := range e.Signatures {
		if s.KeyID == keyID {
			return true
		}
	}
	return false
}

// AddSignature signs the payload with k unless k already signed it. It
// reports whether a signature was appended.
func (e *Envelope) AddSignature(k *Key) (bool, error) {
	id, err := k.ID()
	if err != nil {
		return false, err
	}
	if e.HasSignature(id) {
		return false, nil
	}
	sig, err := k.Sign(e.Signed)
	if err != nil {
		return false, err
	}
	e.Signatures = append(e.Signatures, Signature{KeyID: id, Sig: sig})
	return true, nil
}
