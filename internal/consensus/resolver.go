/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package consensus

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kentakayama/uptane-verifier/internal/domain"
	"github.com/kentakayama/uptane-verifier/internal/metadata"
	"github.com/kentakayama/uptane-verifier/internal/metrics"
	"github.com/kentakayama/uptane-verifier/internal/trust"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Target is a target every repository required by its pin vouched for.
type Target struct {
	Path string
	// FileInfo holds the agreed length and hashes. Custom data stays per
	// repository in Custom.
	FileInfo     metadata.FileInfo
	Repositories []string
	Custom       map[string]map[string]any
}

// Resolver combines the verified targets of several repositories according
// to a pinning.
type Resolver struct {
	pinning      *Pinning
	repositories map[string]*trust.Repository
	logger       *zap.Logger
	metrics      *metrics.Metrics
}

func NewResolver(pinning *Pinning, repos []*trust.Repository, logger *zap.Logger, m *metrics.Metrics) (*Resolver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Resolver{
		pinning:      pinning,
		repositories: make(map[string]*trust.Repository, len(repos)),
		logger:       logger,
		metrics:      m,
	}
	for _, repo := range repos {
		r.repositories[repo.Name()] = repo
	}
	for _, name := range pinning.RepositoryNames() {
		if _, ok := r.repositories[name]; !ok {
			return nil, fmt.Errorf("pinned repository %q is not configured", name)
		}
	}
	return r, nil
}

// ResolveTarget walks the pins matching path in order. A pin whose
// repositories all lack the path passes the search on unless it is
// terminating; any other failure ends it.
func (r *Resolver) ResolveTarget(ctx context.Context, path string, sources map[string]trust.Source) (target *Target, err error) {
	defer func() { r.metrics.ObserveResolution(err) }()

	for i := range r.pinning.Delegations {
		pin := &r.pinning.Delegations[i]
		if !pin.Matches(path) {
			continue
		}
		var t *Target
		switch pin.Policy() {
		case MatchAnyOf:
			t, err = r.anyOf(ctx, pin, path, sources)
		default:
			t, err = r.allOf(ctx, pin, path, sources)
		}
		if err == nil {
			r.logger.Info("target resolved",
				zap.String("path", path),
				zap.Int("pin", i),
				zap.Strings("repositories", t.Repositories))
			return t, nil
		}
		if !errors.Is(err, domain.ErrNotFound) || pin.Terminating {
			r.logger.Warn("target not resolved", zap.String("path", path), zap.Int("pin", i), zap.Error(err))
			return nil, err
		}
		r.logger.Debug("pin does not list target, trying next", zap.String("path", path), zap.Int("pin", i))
	}
	return nil, domain.NewError(domain.ErrNotFound, "", 0, "no pinned repository lists %q", path)
}

type lookup struct {
	fi  *metadata.FileInfo
	err error
}

// allOf asks every repository in parallel and requires identical length and
// hashes from all of them.
func (r *Resolver) allOf(ctx context.Context, pin *Pin, path string, sources map[string]trust.Source) (*Target, error) {
	results := make([]lookup, len(pin.Repositories))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range pin.Repositories {
		g.Go(func() error {
			fi, err := r.lookup(gctx, name, path, sources)
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				return err
			}
			results[i] = lookup{fi: fi, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var missing []string
	for i, res := range results {
		if res.err != nil {
			missing = append(missing, pin.Repositories[i])
		}
	}
	switch {
	case len(missing) == len(results):
		return nil, domain.NewError(domain.ErrNotFound, "", 0, "%q not listed by %s", path, strings.Join(missing, ", "))
	case len(missing) > 0:
		return nil, domain.NewError(domain.ErrConsensusFailed, "", 0, "%q not listed by %s", path, strings.Join(missing, ", "))
	}

	first := results[0].fi
	for i, res := range results[1:] {
		if !first.SameTarget(res.fi) {
			return nil, domain.NewError(domain.ErrConsensusFailed, "", 0, "%q differs between %s and %s",
				path, pin.Repositories[0], pin.Repositories[i+1])
		}
	}

	t := newTarget(path, first)
	for i, res := range results {
		t.add(pin.Repositories[i], res.fi)
	}
	return t, nil
}

// anyOf asks the repositories in listed order and takes the first that
// lists the path. A repository that fails verification is skipped; its
// error is returned when no other repository lists the path.
func (r *Resolver) anyOf(ctx context.Context, pin *Pin, path string, sources map[string]trust.Source) (*Target, error) {
	var firstErr error
	for _, name := range pin.Repositories {
		fi, err := r.lookup(ctx, name, path, sources)
		if err == nil {
			t := newTarget(path, fi)
			t.add(name, fi)
			return t, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			r.logger.Warn("repository skipped", zap.String("repository", name), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return nil, domain.NewError(domain.ErrNotFound, "", 0, "%q not listed by %s", path, strings.Join(pin.Repositories, ", "))
}

func (r *Resolver) lookup(ctx context.Context, name, path string, sources map[string]trust.Source) (*metadata.FileInfo, error) {
	src, ok := sources[name]
	if !ok {
		return nil, domain.WithRepository(domain.NewError(domain.ErrMetadataUnavailable, "", 0, "no metadata source"), name)
	}
	return r.repositories[name].Resolve(ctx, path, src)
}

func newTarget(path string, fi *metadata.FileInfo) *Target {
	return &Target{
		Path:     path,
		FileInfo: metadata.FileInfo{Length: fi.Length, Hashes: fi.Hashes},
		Custom:   map[string]map[string]any{},
	}
}

func (t *Target) add(repository string, fi *metadata.FileInfo) {
	t.Repositories = append(t.Repositories, repository)
	if fi.Custom != nil {
		t.Custom[repository] = fi.Custom
	}
}
