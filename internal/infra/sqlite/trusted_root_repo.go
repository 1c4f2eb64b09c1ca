/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kentakayama/uptane-verifier/internal/domain/model"
)

// TrustedRootRepository handles pinned root persistence.
type TrustedRootRepository struct {
	db DBTX
}

func NewTrustedRootRepository(db DBTX) *TrustedRootRepository {
	return &TrustedRootRepository{db: db}
}

// FindLatest returns the root with the largest version for a repository.
func (r *TrustedRootRepository) FindLatest(ctx context.Context, repository string) (*model.TrustedRoot, error) {
	const q = `
		SELECT id, repository, version, metadata, created_at
		FROM trusted_roots
		WHERE repository = ?
		ORDER BY version DESC
		LIMIT 1
	`
	row := r.db.QueryRowContext(ctx, q, repository)
	var root model.TrustedRoot
	if err := row.Scan(&root.ID, &root.Repository, &root.Version, &root.Metadata, &root.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan trusted_root: %w", err)
	}
	return &root, nil
}

// Create inserts a pinned root and returns the inserted id. Inserting a
// version that is already stored for the repository is a no-op.
func (r *TrustedRootRepository) Create(ctx context.Context, root *model.TrustedRoot) (int64, error) {
	if root.Version < 1 {
		return 0, errors.New("root version must be positive")
	}
	const q = `
		INSERT INTO trusted_roots (repository, version, metadata, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (repository, version) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, q, root.Repository, root.Version, root.Metadata, root.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert trusted_root: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return id, nil
}
