/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package sqlite

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/kentakayama/uptane-verifier/internal/domain/model"
)

func TestTrustedRoot_CreateFindLatest_OK(t *testing.T) {
	ctx := context.Background()
	db, err := InitDB(ctx, ":memory:")
	if err != nil {
		t.Fatalf("InitDB error: %v", err)
	}
	defer CloseDB(db)

	repo := NewTrustedRootRepository(db)
	now := time.Now().UTC().Truncate(time.Second)
	for _, v := range []int64{1, 3, 2} {
		r := &model.TrustedRoot{
			Repository: "director",
			Version:    v,
			Metadata:   []byte{byte(v)},
			CreatedAt:  now,
		}
		if _, err := repo.Create(ctx, r); err != nil {
			t.Fatalf("Create error: %v", err)
		}
	}
	// other repositories must not leak into the lookup
	if _, err := repo.Create(ctx, &model.TrustedRoot{Repository: "imagerepo", Version: 9, Metadata: []byte{9}, CreatedAt: now}); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	got, err := repo.FindLatest(ctx, "director")
	if err != nil {
		t.Fatalf("FindLatest error: %v", err)
	}
	if got == nil {
		t.Fatalf("expected root, got nil")
	}
	if got.Version != 3 {
		t.Fatalf("version mismatch: want 3 got %d", got.Version)
	}
	if !bytes.Equal(got.Metadata, []byte{3}) {
		t.Fatalf("metadata mismatch: got %x", got.Metadata)
	}
	if !got.CreatedAt.Equal(now) {
		t.Fatalf("CreatedAt mismatch: got %v want %v", got.CreatedAt, now)
	}
}

func TestTrustedRoot_Create_DuplicateVersionIgnored(t *testing.T) {
	ctx := context.Background()
	db, err := InitDB(ctx, ":memory:")
	if err != nil {
		t.Fatalf("InitDB error: %v", err)
	}
	defer CloseDB(db)

	repo := NewTrustedRootRepository(db)
	first := &model.TrustedRoot{Repository: "director", Version: 1, Metadata: []byte("first")}
	if _, err := repo.Create(ctx, first); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	second := &model.TrustedRoot{Repository: "director", Version: 1, Metadata: []byte("second")}
	if _, err := repo.Create(ctx, second); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	got, err := repo.FindLatest(ctx, "director")
	if err != nil {
		t.Fatalf("FindLatest error: %v", err)
	}
	if !bytes.Equal(got.Metadata, []byte("first")) {
		t.Fatalf("pinned root was overwritten: %q", got.Metadata)
	}
}

func TestTrustedRoot_Create_RejectsZeroVersion(t *testing.T) {
	ctx := context.Background()
	db, err := InitDB(ctx, ":memory:")
	if err != nil {
		t.Fatalf("InitDB error: %v", err)
	}
	defer CloseDB(db)

	if _, err := NewTrustedRootRepository(db).Create(ctx, &model.TrustedRoot{Repository: "director"}); err == nil {
		t.Fatalf("expected error for version 0")
	}
}

func TestTrustedRoot_FindLatest_NotFound(t *testing.T) {
	ctx := context.Background()
	db, err := InitDB(ctx, ":memory:")
	if err != nil {
		t.Fatalf("InitDB error: %v", err)
	}
	defer CloseDB(db)

	got, err := NewTrustedRootRepository(db).FindLatest(ctx, "missing")
	if err != nil {
		t.Fatalf("FindLatest error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}
