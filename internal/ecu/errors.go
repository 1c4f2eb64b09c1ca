/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package ecu

import "errors"

var (
	ErrNoSigningKeys      = errors.New("no signing keys")
	ErrInvalidManifest    = errors.New("invalid ECU manifest")
	ErrUnknownSerializer  = errors.New("unknown manifest serializer")
	ErrNonCanonicalOutput = errors.New("manifest payload is not in canonical form")
)
