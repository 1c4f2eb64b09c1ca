/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package uptane

import "errors"

var (
	ErrNotInitialized    = errors.New("client is not initialized")
	ErrUnknownRepository = errors.New("unknown repository")
)
