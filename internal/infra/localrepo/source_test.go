/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package localrepo

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kentakayama/uptane-verifier/internal/config"
	"github.com/kentakayama/uptane-verifier/internal/domain"
	"github.com/kentakayama/uptane-verifier/internal/metadata"
	"github.com/kentakayama/uptane-verifier/internal/trust"
	"github.com/kentakayama/uptane-verifier/internal/uptanetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSource_Paths(t *testing.T) {
	s := New("/srv/metadata/director")
	p, err := s.Path("root", 3)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/srv/metadata/director", "3.root.cbor"), p)
	p, err = s.Path("role1", 0)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/srv/metadata/director", "role1.cbor"), p)

	for _, bad := range []string{"", "../root", "a/b", ".hidden"} {
		_, err := s.Path(bad, 0)
		assert.Error(t, err, bad)
	}
}

func TestSource_Missing(t *testing.T) {
	_, err := New(t.TempDir()).Fetch("timestamp", 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// A repository written to disk refreshes like the in-memory one.
func TestSource_Refresh(t *testing.T) {
	fx := uptanetest.NewRepository(t, "director")
	fx.AddTarget("file2.txt", []byte("This is another example file.\n"), nil)
	fx.Publish()
	fx.RotateRoot(metadata.RoleTimestamp)
	fx.Publish()

	src := New(filepath.Join(t.TempDir(), "director"))
	for v := int64(1); v <= 2; v++ {
		require.NoError(t, src.Write("root", v, fx.RootBytes(v)))
	}
	for _, role := range []string{"root", "timestamp", "snapshot", "targets"} {
		require.NoError(t, src.Write(role, 0, fx.Bytes(role)))
	}

	cfg := config.Default()
	cfg.Logger = zaptest.NewLogger(t)
	cfg.Now = func() time.Time { return uptanetest.Epoch }
	repo, err := trust.NewRepository("director", cfg, trust.RepositoryOptions{})
	require.NoError(t, err)
	require.NoError(t, repo.Bootstrap(context.Background(), fx.RootBytes(1)))

	fi, err := repo.Resolve(context.Background(), "file2.txt", src)
	require.NoError(t, err)
	assert.Equal(t, int64(len("This is another example file.\n")), fi.Length)
	assert.Equal(t, int64(2), repo.Trusted().Version("root"))
}
