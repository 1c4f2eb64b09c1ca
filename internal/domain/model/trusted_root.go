/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package model

import "time"

// TrustedRoot is a root document pinned for a repository.
type TrustedRoot struct {
	ID         int64
	Repository string
	Version    int64
	Metadata   []byte // signed envelope as fetched
	CreatedAt  time.Time
}
