/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package verify

import (
	"testing"

	"github.com/kentakayama/uptane-verifier/internal/domain"
	"github.com/kentakayama/uptane-verifier/internal/metadata"
	"github.com/kentakayama/uptane-verifier/internal/uptanetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func roleOf(t *testing.T, threshold int, keys ...*metadata.Key) *metadata.RoleKeys {
	rk := &metadata.RoleKeys{Name: "targets", Threshold: threshold, Keys: map[string]*metadata.Key{}}
	for _, k := range keys {
		rk.Keys[uptanetest.KeyID(t, k)] = k.Public()
	}
	return rk
}

func signedEnvelope(t *testing.T, keys ...*metadata.Key) *metadata.Envelope {
	env, err := metadata.NewEnvelope(map[string]any{"_type": "targets", "version": 1})
	require.NoError(t, err)
	for _, k := range keys {
		_, err := env.AddSignature(k)
		require.NoError(t, err)
	}
	return env
}

func TestVerify_Threshold(t *testing.T) {
	k1, k2, k3 := uptanetest.NewKey(t), uptanetest.NewKey(t), uptanetest.NewKey(t)
	role := roleOf(t, 2, k1, k2, k3)

	res, err := Verify(signedEnvelope(t, k1, k3), role)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{uptanetest.KeyID(t, k1), uptanetest.KeyID(t, k3)}, res.Valid)

	_, err = Verify(signedEnvelope(t, k2), role)
	require.ErrorIs(t, err, domain.ErrThresholdNotMet)

	var ve *domain.VerificationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "targets", ve.Role)
}

func TestVerify_DuplicateSignaturesCountOnce(t *testing.T) {
	k1, k2 := uptanetest.NewKey(t), uptanetest.NewKey(t)
	env := signedEnvelope(t, k1)
	// a second signature by the same key, appended by hand
	env.Signatures = append(env.Signatures, env.Signatures[0])

	res, err := Verify(env, roleOf(t, 2, k1, k2))
	require.ErrorIs(t, err, domain.ErrThresholdNotMet)
	assert.Len(t, res.Valid, 1)
}

func TestVerify_UnknownKeysIgnored(t *testing.T) {
	k1, outsider := uptanetest.NewKey(t), uptanetest.NewKey(t)
	env := signedEnvelope(t, outsider, k1)

	res, err := Verify(env, roleOf(t, 1, k1))
	require.NoError(t, err)
	assert.Equal(t, []string{uptanetest.KeyID(t, outsider)}, res.Unknown)

	_, err = Verify(signedEnvelope(t, outsider), roleOf(t, 1, k1))
	assert.ErrorIs(t, err, domain.ErrThresholdNotMet)
}

func TestVerify_TamperedPayload(t *testing.T) {
	k1, k2 := uptanetest.NewKey(t), uptanetest.NewKey(t)
	env := signedEnvelope(t, k1, k2)
	env.Signed = append([]byte{}, env.Signed...)
	env.Signed[len(env.Signed)-1] ^= 0x01

	res, err := Verify(env, roleOf(t, 1, k1, k2))
	require.ErrorIs(t, err, domain.ErrThresholdNotMet)
	assert.Empty(t, res.Valid)
	assert.Len(t, res.Invalid, 2)
}

func TestVerifier_Cached(t *testing.T) {
	v, err := NewVerifier(4, zaptest.NewLogger(t))
	require.NoError(t, err)
	k1, k2 := uptanetest.NewKey(t), uptanetest.NewKey(t)
	env := signedEnvelope(t, k1)

	for i := 0; i < 2; i++ {
		_, err := v.Verify(env, roleOf(t, 1, k1))
		require.NoError(t, err)
		// same envelope, different role: the cached outcome must not leak
		_, err = v.Verify(env, roleOf(t, 1, k2))
		require.ErrorIs(t, err, domain.ErrThresholdNotMet)
	}
	assert.Equal(t, 2, v.cache.Len())
}

func TestVerify_ZeroThreshold(t *testing.T) {
	k1 := uptanetest.NewKey(t)
	_, err := Verify(signedEnvelope(t), roleOf(t, 0, k1))
	assert.ErrorIs(t, err, domain.ErrThresholdNotMet)
}
