/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package trust

import (
	"context"
	"errors"

	"github.com/kentakayama/uptane-verifier/internal/domain"
	"github.com/kentakayama/uptane-verifier/internal/metadata"
	"go.uber.org/zap"
)

// Target looks path up starting at top-level targets. Delegated roles are
// fetched from src the first time the search enters them.
func (s *Session) Target(ctx context.Context, path string, src Source) (*metadata.FileInfo, error) {
	if s.phase != Resolved {
		return nil, s.outOfOrder(string(metadata.RoleTargets))
	}
	top := s.targets[string(metadata.RoleTargets)]
	return s.search(ctx, string(metadata.RoleTargets), top, path, src, 0)
}

// search checks the role's own entries first, then its delegations in
// listed order. A NotFound from a non-terminating delegation moves on to
// the next one; any other error ends the search.
func (s *Session) search(ctx context.Context, role string, t *metadata.Signed[metadata.Targets], path string, src Source, depth int) (*metadata.FileInfo, error) {
	if fi, ok := t.Doc.Targets[path]; ok {
		s.logger.Debug("target found", zap.String("path", path), zap.String("role", role), zap.Int("depth", depth))
		return &fi, nil
	}
	if t.Doc.Delegations == nil {
		return nil, s.notFound(role, t.Doc.Version, path)
	}

	for i := range t.Doc.Delegations.Roles {
		d := &t.Doc.Delegations.Roles[i]
		if !d.Matches(path) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if depth+1 > s.maxDepth {
			return nil, s.fail(domain.NewError(domain.ErrDelegationDepthExceeded, d.Name, 0,
				"delegated from %q beyond depth %d", role, s.maxDepth), 0)
		}
		child, err := s.delegate(t.Doc.Delegations, d, src)
		if err != nil {
			return nil, err
		}
		fi, err := s.search(ctx, d.Name, child, path, src, depth+1)
		if err == nil {
			return fi, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		if d.Terminating {
			s.logger.Debug("terminating delegation ends search", zap.String("role", d.Name), zap.String("path", path))
			return nil, err
		}
	}
	return nil, s.notFound(role, t.Doc.Version, path)
}

// delegate returns the verified targets document of a delegated role,
// loading it from src unless this session already holds it.
func (s *Session) delegate(parent *metadata.Delegations, d *metadata.DelegatedRole, src Source) (*metadata.Signed[metadata.Targets], error) {
	keys := parent.RoleKeys(d)
	if cached, ok := s.targets[d.Name]; ok {
		if _, err := s.verifier.Verify(cached.Envelope, keys); err != nil {
			return nil, s.fail(err, cached.Doc.Version)
		}
		if err := checkRestricted(d, cached); err != nil {
			return nil, s.fail(err, cached.Doc.Version)
		}
		return cached, nil
	}

	data, err := src.Fetch(d.Name, 0)
	if err != nil {
		return nil, s.fail(domain.NewError(domain.ErrMetadataUnavailable, d.Name, 0, "%v", err), 0)
	}
	child, err := s.loadTargets(d.Name, data, keys)
	if err != nil {
		return nil, err
	}
	if err := checkRestricted(d, child); err != nil {
		return nil, s.fail(err, child.Doc.Version)
	}
	s.storeTargets(d.Name, child)
	return child, nil
}

// checkRestricted rejects a role that lists a target outside the paths it
// was delegated, when the delegation asks for that.
func checkRestricted(d *metadata.DelegatedRole, t *metadata.Signed[metadata.Targets]) error {
	if !d.RestrictedPaths {
		return nil
	}
	for path := range t.Doc.Targets {
		if !d.Matches(path) {
			return domain.NewError(domain.ErrDelegationPathViolation, d.Name, t.Doc.Version,
				"lists %q outside %v", path, d.Paths)
		}
	}
	return nil
}

func (s *Session) notFound(role string, version int64, path string) error {
	return domain.WithRepository(domain.NewError(domain.ErrNotFound, role, version, "no entry for %q", path), s.repository)
}
