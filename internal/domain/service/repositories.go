/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package service

import (
	"context"

	"github.com/kentakayama/uptane-verifier/internal/domain/model"
)

// TrustedRootRepository defines the interface for pinned root persistence.
type TrustedRootRepository interface {
	FindLatest(ctx context.Context, repository string) (*model.TrustedRoot, error)
	Create(ctx context.Context, r *model.TrustedRoot) (int64, error)
}

// RoleVersionRepository defines the interface for version high-water marks.
type RoleVersionRepository interface {
	ListByRepository(ctx context.Context, repository string) ([]*model.RoleVersion, error)
	ReplaceForRepository(ctx context.Context, repository string, versions []*model.RoleVersion) error
}

// TrustedSnapshotRepository defines the interface for the last accepted
// snapshot of a repository.
type TrustedSnapshotRepository interface {
	Find(ctx context.Context, repository string) (*model.TrustedSnapshot, error)
	Put(ctx context.Context, snap *model.TrustedSnapshot) error
	Delete(ctx context.Context, repository string) error
}

// TrustStateStore persists the trust committed for a repository. Save must
// be atomic: either the whole state is stored or none of it.
type TrustStateStore interface {
	Load(ctx context.Context, repository string) (*model.TrustState, error)
	Save(ctx context.Context, state *model.TrustState) error
}
