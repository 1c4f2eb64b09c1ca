/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package util

import (
	"encoding/json"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSet(t *testing.T) {
	s := NewSet("director", "imagerepo")
	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Has("director"))
	assert.False(t, s.Add("director"))
	assert.True(t, s.Add("timeserver"))
	assert.True(t, s.Has("timeserver"))
	assert.Equal(t, 3, s.Len())
}

func TestRenderCBOR_NestedPayload(t *testing.T) {
	payload, err := cbor.Marshal(map[string]any{"_type": "timestamp", "version": 3})
	require.NoError(t, err)
	env, err := cbor.Marshal(map[string]any{
		"signed":     payload,
		"signatures": []any{map[string]any{"keyid": "ab", "sig": []byte{0xde, 0xad}}},
	})
	require.NoError(t, err)

	out, err := RenderCBOR(env)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, map[string]any{"<<": map[string]any{"_type": "timestamp", "version": 3.0}}, got["signed"])
	assert.Equal(t, []any{map[string]any{"keyid": "ab", "sig": "h'dead'"}}, got["signatures"])
}

func TestRenderCBOR_Malformed(t *testing.T) {
	_, err := RenderCBOR([]byte{0xa1})
	assert.Error(t, err)
}
