/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package trust

import (
	"sort"
	"time"

	"github.com/kentakayama/uptane-verifier/internal/domain/model"
	"github.com/kentakayama/uptane-verifier/internal/metadata"
)

// Phase is the position of a session in the role chain.
type Phase int

const (
	AwaitingRoot Phase = iota
	AwaitingTimestamp
	AwaitingSnapshot
	AwaitingTargets
	Resolved
)

func (p Phase) String() string {
	switch p {
	case AwaitingRoot:
		return "awaiting-root"
	case AwaitingTimestamp:
		return "awaiting-timestamp"
	case AwaitingSnapshot:
		return "awaiting-snapshot"
	case AwaitingTargets:
		return "awaiting-targets"
	case Resolved:
		return "resolved"
	}
	return "unknown"
}

// State is the trust committed for a repository. A published State is
// never modified, so readers can keep using the one they loaded.
type State struct {
	Repository string
	Root       *metadata.Signed[metadata.Root]
	Timestamp  *metadata.Signed[metadata.Timestamp]
	Snapshot   *metadata.Signed[metadata.Snapshot]
	Targets    map[string]*metadata.Signed[metadata.Targets]
	// Versions holds the highest accepted version of every non-root role.
	Versions map[string]int64

	// rotated is carried from the session that built the state, see
	// Session.rotated.
	rotated map[string]int64
}

// Version returns the accepted version of role, or 0.
func (s *State) Version(role string) int64 {
	if role == string(metadata.RoleRoot) {
		if s.Root == nil {
			return 0
		}
		return s.Root.Doc.Version
	}
	return s.Versions[role]
}

func (s *State) toModel(now time.Time) *model.TrustState {
	out := &model.TrustState{
		Repository: s.Repository,
		Root: &model.TrustedRoot{
			Repository: s.Repository,
			Version:    s.Root.Doc.Version,
			Metadata:   s.Root.Raw,
			CreatedAt:  now,
		},
	}
	if s.Snapshot != nil {
		out.Snapshot = &model.TrustedSnapshot{
			Repository: s.Repository,
			Version:    s.Snapshot.Doc.Version,
			Metadata:   s.Snapshot.Raw,
			UpdatedAt:  now,
		}
	}
	roles := make([]string, 0, len(s.Versions))
	for role := range s.Versions {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	for _, role := range roles {
		out.Versions = append(out.Versions, &model.RoleVersion{
			Repository: s.Repository,
			Role:       role,
			Version:    s.Versions[role],
			UpdatedAt:  now,
		})
	}
	return out
}
