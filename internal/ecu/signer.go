/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package ecu

import (
	"fmt"
	"time"

	"github.com/kentakayama/uptane-verifier/internal/domain"
	"github.com/kentakayama/uptane-verifier/internal/metadata"
	"github.com/kentakayama/uptane-verifier/internal/metrics"
	"github.com/kentakayama/uptane-verifier/internal/verify"
	"go.uber.org/zap"
)

// Signer builds ECU manifests and signs them with ECU-held keys.
type Signer struct {
	serializer Serializer
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// NewSigner returns a signer using serializer, or canonical CBOR when it is
// nil.
func NewSigner(serializer Serializer, logger *zap.Logger, m *metrics.Metrics) *Signer {
	if serializer == nil {
		serializer = CBORSerializer{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Signer{
		serializer: serializer,
		logger:     logger,
		metrics:    m,
	}
}

func (s *Signer) Serializer() Serializer {
	return s.serializer
}

// BuildAndSign reports installed as the running image and signs the report
// with every key.
func (s *Signer) BuildAndSign(installed InstalledImage, timeserverTime, previousTime time.Time, attacksDetected string, keys []*metadata.Key) (*metadata.Envelope, error) {
	return s.SignManifest(&Manifest{
		InstalledImage:         installed,
		TimeserverTime:         timeserverTime,
		PreviousTimeserverTime: previousTime,
		AttacksDetected:        attacksDetected,
	}, keys)
}

// SignManifest serializes m into a new envelope and signs it.
func (s *Signer) SignManifest(m *Manifest, keys []*metadata.Key) (*metadata.Envelope, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	payload, err := s.serializer.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("serialize manifest: %w", err)
	}
	env := &metadata.Envelope{Signed: payload, Signatures: []metadata.Signature{}}
	if _, err := s.Sign(env, keys); err != nil {
		return nil, err
	}
	return env, nil
}

// Sign adds a signature by each key that has not signed env yet and
// returns the number of signatures added. Every key must carry private
// material; otherwise env is left untouched.
func (s *Signer) Sign(env *metadata.Envelope, keys []*metadata.Key) (int, error) {
	if err := checkKeys(keys); err != nil {
		s.metrics.ObserveManifestSignature(err)
		return 0, err
	}
	added := 0
	for _, k := range keys {
		ok, err := env.AddSignature(k)
		if err != nil {
			err = fmt.Errorf("%w: %w", domain.ErrSigningKeyInvalid, err)
			s.metrics.ObserveManifestSignature(err)
			return added, err
		}
		if !ok {
			s.logger.Debug("manifest already signed by key", zap.String("keyid", keyID(k)))
			continue
		}
		added++
		s.metrics.ObserveManifestSignature(nil)
	}
	s.logger.Info("ECU manifest signed",
		zap.String("serializer", s.serializer.Name()),
		zap.Int("added", added),
		zap.Int("signatures", len(env.Signatures)))
	return added, nil
}

// Open verifies env against the ECU's keys and decodes the manifest.
func (s *Signer) Open(env *metadata.Envelope, keys *metadata.RoleKeys) (*Manifest, error) {
	if _, err := verify.Verify(env, keys); err != nil {
		return nil, err
	}
	m, err := s.serializer.Unmarshal(env.Signed)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// ParseSignedManifest decodes an envelope produced by Envelope.Bytes. The
// payload is left to the serializer, which need not be CBOR.
func ParseSignedManifest(data []byte) (*metadata.Envelope, error) {
	var env metadata.Envelope
	if err := metadata.Decode(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}
	if len(env.Signed) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidManifest)
	}
	return &env, nil
}

func checkKeys(keys []*metadata.Key) error {
	if len(keys) == 0 {
		return fmt.Errorf("%w: %w", domain.ErrSigningKeyInvalid, ErrNoSigningKeys)
	}
	for i, k := range keys {
		if k == nil || !k.IsPrivate() {
			return fmt.Errorf("%w: key %d has no private material", domain.ErrSigningKeyInvalid, i)
		}
		if _, err := k.ID(); err != nil {
			return fmt.Errorf("%w: key %d: %w", domain.ErrSigningKeyInvalid, i, err)
		}
	}
	return nil
}

func keyID(k *metadata.Key) string {
	id, _ := k.ID()
	return id
}
