/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package model

import "time"

// RoleVersion is the highest accepted version of a role in a repository.
type RoleVersion struct {
	Repository string
	Role       string
	Version    int64
	UpdatedAt  time.Time
}
