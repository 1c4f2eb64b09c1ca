/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package metadata

import (
	"path"
	"strings"
)

// MatchPath reports whether target falls under pattern. Patterns are
// path.Match globs; a pattern ending in "/" matches everything below it.
func MatchPath(pattern, target string) bool {
	if strings.HasSuffix(pattern, "/") {
		return strings.HasPrefix(target, pattern)
	}
	ok, err := path.Match(pattern, target)
	return err == nil && ok
}

// Matches reports whether any of the role's paths covers target.
func (d *DelegatedRole) Matches(target string) bool {
	for _, p := range d.Paths {
		if MatchPath(p, target) {
			return true
		}
	}
	return false
}
