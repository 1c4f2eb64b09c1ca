/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kentakayama/uptane-verifier/internal/domain/model"
)

// TrustStateStore stores the committed trust of each repository.
type TrustStateStore struct {
	db *sql.DB
}

func NewTrustStateStore(db *sql.DB) *TrustStateStore {
	return &TrustStateStore{db: db}
}

// Load returns the persisted state of a repository, or nil when nothing has
// been pinned yet.
func (s *TrustStateStore) Load(ctx context.Context, repository string) (*model.TrustState, error) {
	root, err := NewTrustedRootRepository(s.db).FindLatest(ctx, repository)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, nil
	}
	snapshot, err := NewTrustedSnapshotRepository(s.db).Find(ctx, repository)
	if err != nil {
		return nil, err
	}
	versions, err := NewRoleVersionRepository(s.db).ListByRepository(ctx, repository)
	if err != nil {
		return nil, err
	}
	return &model.TrustState{
		Repository: repository,
		Root:       root,
		Snapshot:   snapshot,
		Versions:   versions,
	}, nil
}

// Save writes the root, the snapshot and the version marks in one
// transaction. A state without snapshot clears the stored one.
func (s *TrustStateStore) Save(ctx context.Context, state *model.TrustState) error {
	if state == nil || state.Root == nil {
		return fmt.Errorf("trust state without root")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	root := *state.Root
	root.Repository = state.Repository
	if _, err := NewTrustedRootRepository(tx).Create(ctx, &root); err != nil {
		return err
	}
	snapshots := NewTrustedSnapshotRepository(tx)
	if state.Snapshot != nil {
		snap := *state.Snapshot
		snap.Repository = state.Repository
		err = snapshots.Put(ctx, &snap)
	} else {
		err = snapshots.Delete(ctx, state.Repository)
	}
	if err != nil {
		return err
	}
	if err := NewRoleVersionRepository(tx).ReplaceForRepository(ctx, state.Repository, state.Versions); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
