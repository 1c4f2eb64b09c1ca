/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package trust

import "errors"

var (
	ErrOutOfOrder    = errors.New("metadata supplied out of order")
	ErrNoTrustedRoot = errors.New("no trusted root pinned")
)
