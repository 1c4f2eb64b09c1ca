/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package sqlite

import (
	"context"
	"fmt"

	"github.com/kentakayama/uptane-verifier/internal/domain/model"
)

// RoleVersionRepository handles per-role version high-water marks.
type RoleVersionRepository struct {
	db DBTX
}

func NewRoleVersionRepository(db DBTX) *RoleVersionRepository {
	return &RoleVersionRepository{db: db}
}

// ListByRepository returns every recorded role version of a repository,
// ordered by role name.
func (r *RoleVersionRepository) ListByRepository(ctx context.Context, repository string) ([]*model.RoleVersion, error) {
	const q = `
		SELECT repository, role, version, updated_at
		FROM role_versions
		WHERE repository = ?
		ORDER BY role
	`
	rows, err := r.db.QueryContext(ctx, q, repository)
	if err != nil {
		return nil, fmt.Errorf("query role_versions: %w", err)
	}
	defer rows.Close()

	var out []*model.RoleVersion
	for rows.Next() {
		var v model.RoleVersion
		if err := rows.Scan(&v.Repository, &v.Role, &v.Version, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan role_version: %w", err)
		}
		out = append(out, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate role_versions: %w", err)
	}
	return out, nil
}

// ReplaceForRepository drops the marks of a repository and stores versions.
// Run it inside a transaction so readers never see a partial set.
func (r *RoleVersionRepository) ReplaceForRepository(ctx context.Context, repository string, versions []*model.RoleVersion) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM role_versions WHERE repository = ?`, repository); err != nil {
		return fmt.Errorf("delete role_versions: %w", err)
	}
	const q = `
		INSERT INTO role_versions (repository, role, version, updated_at)
		VALUES (?, ?, ?, ?)
	`
	for _, v := range versions {
		if _, err := r.db.ExecContext(ctx, q, repository, v.Role, v.Version, v.UpdatedAt); err != nil {
			return fmt.Errorf("insert role_version %s: %w", v.Role, err)
		}
	}
	return nil
}
