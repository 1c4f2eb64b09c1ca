/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package trust

import (
	"context"
	"fmt"
	"testing"

	"github.com/kentakayama/uptane-verifier/internal/domain"
	"github.com/kentakayama/uptane-verifier/internal/metadata"
	"github.com/kentakayama/uptane-verifier/internal/uptanetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelegation_Found(t *testing.T) {
	ctx := context.Background()
	fx := uptanetest.NewRepository(t, "imagerepo")
	fx.Delegate("targets", metadata.DelegatedRole{Name: "role1", Paths: []string{"file*.txt"}, RestrictedPaths: true})
	want := fx.AddDelegatedTarget("role1", "file3.txt", []byte("This is some example file.\n"), nil)
	fx.Publish()
	repo := newTestRepository(t, fx, RepositoryOptions{})

	fi, err := repo.Resolve(ctx, "file3.txt", fx)
	require.NoError(t, err)
	assert.True(t, want.SameTarget(fi))
	assert.Equal(t, int64(1), repo.Trusted().Version("role1"))
}

func TestDelegation_OwnTargetsFirst(t *testing.T) {
	ctx := context.Background()
	fx := uptanetest.NewRepository(t, "imagerepo")
	want := fx.AddTarget("file.txt", []byte("top"), nil)
	fx.Delegate("targets", metadata.DelegatedRole{Name: "role1", Paths: []string{"*"}})
	fx.AddDelegatedTarget("role1", "file.txt", []byte("delegated"), nil)
	fx.Publish()
	repo := newTestRepository(t, fx, RepositoryOptions{})

	fi, err := repo.Resolve(ctx, "file.txt", fx)
	require.NoError(t, err)
	assert.True(t, want.SameTarget(fi))
}

func TestDelegation_RestrictedPathViolation(t *testing.T) {
	ctx := context.Background()
	fx := uptanetest.NewRepository(t, "imagerepo")
	fx.Delegate("targets", metadata.DelegatedRole{Name: "role1", Paths: []string{"file*.txt"}, RestrictedPaths: true})
	fx.AddDelegatedTarget("role1", "file3.txt", []byte("ok"), nil)
	fx.AddDelegatedTarget("role1", "bootloader.bin", []byte("evil"), nil)
	fx.Publish()
	repo := newTestRepository(t, fx, RepositoryOptions{})

	_, err := repo.Resolve(ctx, "file3.txt", fx)
	require.ErrorIs(t, err, domain.ErrDelegationPathViolation)
	assert.False(t, domain.Retryable(err))
	assert.Zero(t, repo.Trusted().Version("role1"))
}

func TestDelegation_UnrestrictedExtraPathsTolerated(t *testing.T) {
	ctx := context.Background()
	fx := uptanetest.NewRepository(t, "imagerepo")
	fx.Delegate("targets", metadata.DelegatedRole{Name: "role1", Paths: []string{"file*.txt"}})
	fx.AddDelegatedTarget("role1", "file3.txt", []byte("ok"), nil)
	fx.AddDelegatedTarget("role1", "bootloader.bin", []byte("ignored"), nil)
	fx.Publish()
	repo := newTestRepository(t, fx, RepositoryOptions{})

	_, err := repo.Resolve(ctx, "file3.txt", fx)
	require.NoError(t, err)
	// the search never enters role1 for a path it was not delegated
	_, err = repo.Resolve(ctx, "bootloader.bin", fx)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDelegation_Backtracking(t *testing.T) {
	ctx := context.Background()
	fx := uptanetest.NewRepository(t, "imagerepo")
	fx.Delegate("targets", metadata.DelegatedRole{Name: "role1", Paths: []string{"images/"}})
	fx.Delegate("targets", metadata.DelegatedRole{Name: "role2", Paths: []string{"images/*.img"}})
	want := fx.AddDelegatedTarget("role2", "images/ecu.img", []byte("firmware"), nil)
	fx.Publish()
	repo := newTestRepository(t, fx, RepositoryOptions{})

	fi, err := repo.Resolve(ctx, "images/ecu.img", fx)
	require.NoError(t, err)
	assert.True(t, want.SameTarget(fi))
}

func TestDelegation_Terminating(t *testing.T) {
	ctx := context.Background()
	fx := uptanetest.NewRepository(t, "imagerepo")
	fx.Delegate("targets", metadata.DelegatedRole{Name: "role1", Paths: []string{"images/"}, Terminating: true})
	fx.Delegate("targets", metadata.DelegatedRole{Name: "role2", Paths: []string{"images/*.img"}})
	fx.AddDelegatedTarget("role2", "images/ecu.img", []byte("firmware"), nil)
	fx.Publish()
	repo := newTestRepository(t, fx, RepositoryOptions{})

	_, err := repo.Resolve(ctx, "images/ecu.img", fx)
	require.ErrorIs(t, err, domain.ErrNotFound)
	// role2 was never needed
	assert.Zero(t, repo.Trusted().Version("role2"))
}

func TestDelegation_Nested(t *testing.T) {
	ctx := context.Background()
	fx := uptanetest.NewRepository(t, "imagerepo")
	fx.Delegate("targets", metadata.DelegatedRole{Name: "a", Paths: []string{"*"}})
	fx.Delegate("a", metadata.DelegatedRole{Name: "b", Paths: []string{"*"}})
	want := fx.AddDelegatedTarget("b", "deep.bin", []byte("deep"), nil)
	fx.Publish()
	repo := newTestRepository(t, fx, RepositoryOptions{})

	fi, err := repo.Resolve(ctx, "deep.bin", fx)
	require.NoError(t, err)
	assert.True(t, want.SameTarget(fi))
}

func TestDelegation_DepthExceeded(t *testing.T) {
	ctx := context.Background()
	fx := uptanetest.NewRepository(t, "imagerepo")
	parent := "targets"
	for i := 0; i < 4; i++ {
		name := fmt.Sprintf("level%d", i+1)
		fx.Delegate(parent, metadata.DelegatedRole{Name: name, Paths: []string{"*"}})
		parent = name
	}
	fx.AddDelegatedTarget(parent, "deep.bin", []byte("deep"), nil)
	fx.Publish()

	cfg := testConfig(t)
	cfg.MaxDelegationDepth = 3
	repo, err := NewRepository(fx.Name, cfg, RepositoryOptions{})
	require.NoError(t, err)
	require.NoError(t, repo.Bootstrap(ctx, fx.RootBytes(1)))

	_, err = repo.Resolve(ctx, "deep.bin", fx)
	assert.ErrorIs(t, err, domain.ErrDelegationDepthExceeded)

	cfg.MaxDelegationDepth = 4
	repo, err = NewRepository(fx.Name, cfg, RepositoryOptions{})
	require.NoError(t, err)
	require.NoError(t, repo.Bootstrap(ctx, fx.RootBytes(1)))
	_, err = repo.Resolve(ctx, "deep.bin", fx)
	assert.NoError(t, err)
}

func TestDelegation_Cycle(t *testing.T) {
	ctx := context.Background()
	fx := uptanetest.NewRepository(t, "imagerepo")
	fx.Delegate("targets", metadata.DelegatedRole{Name: "a", Paths: []string{"*"}})
	fx.Delegate("a", metadata.DelegatedRole{Name: "b", Paths: []string{"*"}})
	fx.Delegate("b", metadata.DelegatedRole{Name: "a", Paths: []string{"*"}})
	fx.Publish()
	repo := newTestRepository(t, fx, RepositoryOptions{})

	_, err := repo.Resolve(ctx, "loop.bin", fx)
	assert.ErrorIs(t, err, domain.ErrDelegationDepthExceeded)
}

func TestDelegation_MetadataUnavailable(t *testing.T) {
	ctx := context.Background()
	fx := uptanetest.NewRepository(t, "imagerepo")
	fx.Delegate("targets", metadata.DelegatedRole{Name: "role1", Paths: []string{"*"}})
	fx.Publish()
	repo := newTestRepository(t, fx, RepositoryOptions{})

	src := SourceFunc(func(role string, version int64) ([]byte, error) {
		if role == "role1" {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, role)
		}
		return fx.Fetch(role, version)
	})
	_, err := repo.Resolve(ctx, "a.bin", src)
	require.ErrorIs(t, err, domain.ErrMetadataUnavailable)
	assert.NotErrorIs(t, err, domain.ErrNotFound)
}

func TestDelegation_RoleRollback(t *testing.T) {
	ctx := context.Background()
	fx := uptanetest.NewRepository(t, "imagerepo")
	fx.Delegate("targets", metadata.DelegatedRole{Name: "role1", Paths: []string{"*"}})
	fx.AddDelegatedTarget("role1", "a.bin", []byte("a"), nil)
	fx.Publish()
	fx.Publish()
	repo := newTestRepository(t, fx, RepositoryOptions{})
	_, err := repo.Resolve(ctx, "a.bin", fx)
	require.NoError(t, err)
	require.Equal(t, int64(2), repo.Trusted().Version("role1"))

	fx.Delegated["role1"].Version = 0
	fx.Publish()
	_, err = repo.Resolve(ctx, "a.bin", fx)
	assert.ErrorIs(t, err, domain.ErrRollbackDetected)
}
