/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package util

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

const (
	cborMajorArray = 0x80
	cborMajorMap   = 0xa0
	cborMajorMask  = 0xe0
)

// RenderCBOR decodes a CBOR item and renders it as indented JSON. Byte
// strings that carry an encoded array or map, such as the payload of a
// signed envelope, are decoded and shown under a "<<" key; other byte
// strings are shown as h'..'.
func RenderCBOR(data []byte) (string, error) {
	var decoded any
	if err := cbor.Unmarshal(data, &decoded); err != nil {
		return "", fmt.Errorf("decode CBOR: %w", err)
	}
	pretty, err := json.MarshalIndent(toJSON(decoded), "", "  ")
	if err != nil {
		return "", err
	}
	return string(pretty), nil
}

func toJSON(value any) any {
	switch v := value.(type) {
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			out[i] = toJSON(elem)
		}
		return out
	case map[any]any:
		// encoding/json orders the keys
		out := make(map[string]any, len(v))
		for key, val := range v {
			out[keyString(key)] = toJSON(val)
		}
		return out
	case []byte:
		if embedded, ok := decodeEmbedded(v); ok {
			return map[string]any{"<<": toJSON(embedded)}
		}
		return fmt.Sprintf("h'%x'", v)
	case cbor.Tag:
		return map[string]any{
			"tag":     v.Number,
			"content": toJSON(v.Content),
		}
	default:
		return v
	}
}

func decodeEmbedded(b []byte) (any, bool) {
	if len(b) == 0 {
		return nil, false
	}
	switch b[0] & cborMajorMask {
	case cborMajorArray, cborMajorMap:
	default:
		return nil, false
	}
	var v any
	if err := cbor.Unmarshal(b, &v); err != nil {
		return nil, false
	}
	return v, true
}

func keyString(key any) string {
	switch k := key.(type) {
	case string:
		return k
	case []byte:
		return fmt.Sprintf("h'%x'", k)
	default:
		return fmt.Sprint(k)
	}
}
