/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package model

// TrustState is everything persisted for one repository after a successful
// resolution.
type TrustState struct {
	Repository string
	Root       *TrustedRoot
	Snapshot   *TrustedSnapshot
	Versions   []*RoleVersion
}

// VersionOf returns the recorded version for role, or 0.
func (s *TrustState) VersionOf(role string) int64 {
	for _, v := range s.Versions {
		if v.Role == role {
			return v.Version
		}
	}
	return 0
}
