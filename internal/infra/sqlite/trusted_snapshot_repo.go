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

// TrustedSnapshotRepository handles persistence of the last accepted
// snapshot of each repository.
type TrustedSnapshotRepository struct {
	db DBTX
}

func NewTrustedSnapshotRepository(db DBTX) *TrustedSnapshotRepository {
	return &TrustedSnapshotRepository{db: db}
}

// Find returns the stored snapshot of a repository, or nil.
func (r *TrustedSnapshotRepository) Find(ctx context.Context, repository string) (*model.TrustedSnapshot, error) {
	const q = `
		SELECT repository, version, metadata, updated_at
		FROM trusted_snapshots
		WHERE repository = ?
	`
	var snap model.TrustedSnapshot
	err := r.db.QueryRowContext(ctx, q, repository).Scan(&snap.Repository, &snap.Version, &snap.Metadata, &snap.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan trusted_snapshot: %w", err)
	}
	return &snap, nil
}

// Put stores snap as the snapshot of its repository, replacing any
// earlier one.
func (r *TrustedSnapshotRepository) Put(ctx context.Context, snap *model.TrustedSnapshot) error {
	const q = `
		INSERT INTO trusted_snapshots (repository, version, metadata, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (repository) DO UPDATE SET
			version = excluded.version,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`
	if _, err := r.db.ExecContext(ctx, q, snap.Repository, snap.Version, snap.Metadata, snap.UpdatedAt); err != nil {
		return fmt.Errorf("upsert trusted_snapshot: %w", err)
	}
	return nil
}

// Delete removes the snapshot of a repository.
func (r *TrustedSnapshotRepository) Delete(ctx context.Context, repository string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM trusted_snapshots WHERE repository = ?`, repository); err != nil {
		return fmt.Errorf("delete trusted_snapshot: %w", err)
	}
	return nil
}
