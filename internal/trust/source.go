/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package trust

// Source hands out metadata the caller has already fetched. Version 0 asks
// for the current document of a role; roots are also asked for by explicit
// version while walking the root chain. A missing document is reported with
// an error wrapping domain.ErrNotFound.
type Source interface {
	Fetch(role string, version int64) ([]byte, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(role string, version int64) ([]byte, error)

func (f SourceFunc) Fetch(role string, version int64) ([]byte, error) {
	return f(role, version)
}
