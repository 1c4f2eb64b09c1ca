/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package model

import "time"

// TrustedSnapshot is the last snapshot accepted for a repository. It is
// kept so a later snapshot can be checked for dropped roles.
type TrustedSnapshot struct {
	Repository string
	Version    int64
	Metadata   []byte // signed envelope as fetched
	UpdatedAt  time.Time
}
