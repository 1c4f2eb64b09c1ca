/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

// Package localrepo serves repository metadata from a local directory.
package localrepo

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/kentakayama/uptane-verifier/internal/domain"
)

const ext = ".cbor"

// Source reads <dir>/<role>.cbor for the current document of a role and
// <dir>/<version>.<role>.cbor for a specific version.
type Source struct {
	dir string
}

func New(dir string) *Source {
	return &Source{dir: dir}
}

func (s *Source) Dir() string {
	return s.dir
}

// Path returns the file a document is read from.
func (s *Source) Path(role string, version int64) (string, error) {
	if role == "" || role != filepath.Base(role) || strings.HasPrefix(role, ".") {
		return "", fmt.Errorf("invalid role name %q", role)
	}
	name := role + ext
	if version > 0 {
		name = fmt.Sprintf("%d.%s", version, name)
	}
	return filepath.Join(s.dir, name), nil
}

func (s *Source) Fetch(role string, version int64) ([]byte, error) {
	path, err := s.Path(role, version)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, path)
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Write stores a document so that Fetch serves it.
func (s *Source) Write(role string, version int64, data []byte) error {
	path, err := s.Path(role, version)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
