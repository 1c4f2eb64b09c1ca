/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package metadata

import (
	"crypto"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/veraison/go-cose"
)

// Key is a COSE_Key used to sign or verify metadata. Its id is the hex
// encoded SHA-256 COSE Key Thumbprint (RFC 9679) of the public part, so a
// key with and without its private half share the same id.
type Key struct {
	cose.Key
}

func NewKey(k *cose.Key) *Key {
	return &Key{Key: *k}
}

func (k *Key) MarshalCBOR() ([]byte, error) {
	raw, err := k.Key.MarshalCBOR()
	if err != nil {
		return nil, err
	}
	return Canonical(raw)
}

func (k *Key) UnmarshalCBOR(data []byte) error {
	return k.Key.UnmarshalCBOR(data)
}

// ID returns the content-derived key id.
func (k *Key) ID() (string, error) {
	tp, err := k.Public().Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("key thumbprint: %w", err)
	}
	return hex.EncodeToString(tp), nil
}

// IsPrivate reports whether the key carries private material.
func (k *Key) IsPrivate() bool {
	switch k.Type {
	case cose.KeyTypeEC2:
		_, ok := k.Params[cose.KeyLabelEC2D]
		return ok
	case cose.KeyTypeOKP:
		_, ok := k.Params[cose.KeyLabelOKPD]
		return ok
	}
	return false
}

// Public returns a copy without private material.
func (k *Key) Public() *Key {
	pub := &Key{Key: cose.Key{
		Type:      k.Type,
		ID:        k.Key.ID,
		Algorithm: k.Algorithm,
		Params:    make(map[any]any, len(k.Params)),
	}}
	for label, v := range k.Params {
		if k.isPrivateLabel(label) {
			continue
		}
		pub.Params[label] = v
	}
	return pub
}

func (k *Key) isPrivateLabel(label any) bool {
	switch k.Type {
	case cose.KeyTypeEC2:
		return label == any(cose.KeyLabelEC2D)
	case cose.KeyTypeOKP:
		return label == any(cose.KeyLabelOKPD)
	}
	return false
}

// Sign signs payload. The key must carry private material.
func (k *Key) Sign(payload []byte) ([]byte, error) {
	if !k.IsPrivate() {
		return nil, fmt.Errorf("key has no private material")
	}
	signer, err := k.Key.Signer()
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}
	return signer.Sign(rand.Reader, payload)
}

// Verify checks sig over payload.
func (k *Key) Verify(payload, sig []byte) error {
	verifier, err := k.Public().Key.Verifier()
	if err != nil {
		return fmt.Errorf("create verifier: %w", err)
	}
	return verifier.Verify(payload, sig)
}
