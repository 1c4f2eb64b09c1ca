/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package trust

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kentakayama/uptane-verifier/internal/config"
	"github.com/kentakayama/uptane-verifier/internal/domain"
	"github.com/kentakayama/uptane-verifier/internal/domain/service"
	"github.com/kentakayama/uptane-verifier/internal/metadata"
	"github.com/kentakayama/uptane-verifier/internal/metrics"
	"github.com/kentakayama/uptane-verifier/internal/verify"
	"go.uber.org/zap"
)

// Repository holds the committed trust of one metadata repository. Any
// number of sessions may run against it; commits are serialised and
// readers always see a complete State.
type Repository struct {
	name         string
	logger       *zap.Logger
	now          func() time.Time
	maxDepth     int
	maxRotations int
	verifier     *verify.Verifier
	store        service.TrustStateStore
	metrics      *metrics.Metrics

	mu    sync.Mutex
	state atomic.Pointer[State]
}

// RepositoryOptions carries the optional collaborators of a Repository.
type RepositoryOptions struct {
	// Store persists committed trust. Without one trust lives in memory.
	Store service.TrustStateStore
	// Verifier is shared between repositories when set.
	Verifier *verify.Verifier
	Metrics  *metrics.Metrics
}

func NewRepository(name string, cfg config.ClientConfig, opts RepositoryOptions) (*Repository, error) {
	if name == "" {
		return nil, errors.New("repository name must not be empty")
	}
	logger := cfg.GetLogger().With(zap.String("repository", name))
	verifier := opts.Verifier
	if verifier == nil {
		var err error
		verifier, err = verify.NewVerifier(cfg.VerifyCacheSize, logger)
		if err != nil {
			return nil, err
		}
	}
	maxDepth := cfg.MaxDelegationDepth
	if maxDepth < 1 {
		maxDepth = 8
	}
	maxRotations := cfg.MaxRootRotations
	if maxRotations < 1 {
		maxRotations = 32
	}
	return &Repository{
		name:         name,
		logger:       logger,
		now:          cfg.Clock(),
		maxDepth:     maxDepth,
		maxRotations: maxRotations,
		verifier:     verifier,
		store:        opts.Store,
		metrics:      opts.Metrics,
	}, nil
}

func (r *Repository) Name() string {
	return r.name
}

// Trusted returns the committed state, or nil before a root was pinned.
func (r *Repository) Trusted() *State {
	return r.state.Load()
}

// Load restores persisted trust. The stored root is checked against its own
// root role again and the stored snapshot against the root's snapshot role;
// expiry is not checked, since newer documents may follow.
func (r *Repository) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	persisted, err := r.store.Load(ctx, r.name)
	if err != nil {
		return fmt.Errorf("load trust of %q: %w", r.name, err)
	}
	if persisted == nil {
		return nil
	}
	root, err := metadata.ParseRoot(persisted.Root.Metadata)
	if err != nil {
		return domain.WithRepository(err, r.name)
	}
	if _, err := r.verifier.Verify(root.Envelope, root.Doc.RoleKeys(metadata.RoleRoot)); err != nil {
		return domain.WithRepository(err, r.name)
	}
	state := &State{
		Repository: r.name,
		Root:       root,
		Targets:    map[string]*metadata.Signed[metadata.Targets]{},
		Versions:   make(map[string]int64, len(persisted.Versions)),
	}
	for _, v := range persisted.Versions {
		state.Versions[v.Role] = v.Version
	}
	if persisted.Snapshot != nil {
		snap, err := metadata.ParseSnapshot(persisted.Snapshot.Metadata)
		if err != nil {
			return domain.WithRepository(err, r.name)
		}
		if _, err := r.verifier.Verify(snap.Envelope, root.Doc.RoleKeys(metadata.RoleSnapshot)); err != nil {
			return domain.WithRepository(err, r.name)
		}
		state.Snapshot = snap
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Store(state)
	r.logger.Info("trust restored", zap.Int64("root", root.Doc.Version), zap.Int("roles", len(state.Versions)))
	return nil
}

// Bootstrap pins rootData as the first trusted root. It does nothing when a
// root is already pinned; later roots arrive through Refresh.
func (r *Repository) Bootstrap(ctx context.Context, rootData []byte) error {
	if cur := r.Trusted(); cur != nil {
		r.logger.Debug("root already pinned", zap.Int64("version", cur.Root.Doc.Version))
		return nil
	}
	s := r.Begin()
	if err := s.UpdateRoot(rootData); err != nil {
		return err
	}
	return r.commit(ctx, s.state())
}

// Begin starts a session on a copy of the committed state.
func (r *Repository) Begin() *Session {
	s := &Session{
		repository: r.name,
		phase:      AwaitingRoot,
		now:        r.now(),
		maxDepth:   r.maxDepth,
		verifier:   r.verifier,
		logger:     r.logger,
		targets:    map[string]*metadata.Signed[metadata.Targets]{},
		versions:   map[string]int64{},
		rotated:    map[string]int64{},
	}
	if base := r.state.Load(); base != nil {
		s.base = base
		s.root = base.Root
		s.prevSnapshot = base.Snapshot
		s.versions = maps.Clone(base.Versions)
	}
	return s
}

// Commit publishes a resolved session. It fails with RollbackDetected when
// another commit already moved past what the session verified.
func (r *Repository) Commit(ctx context.Context, s *Session) error {
	if s.phase != Resolved {
		return s.outOfOrder(string(metadata.RoleTargets))
	}
	return r.commit(ctx, s.state())
}

func (r *Repository) commit(ctx context.Context, next *State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkStale(next); err != nil {
		return domain.WithRepository(err, r.name)
	}
	if r.store != nil {
		if err := r.store.Save(ctx, next.toModel(r.now())); err != nil {
			return fmt.Errorf("persist trust of %q: %w", r.name, err)
		}
	}
	r.state.Store(next)
	r.logger.Debug("trust committed",
		zap.Int64("root", next.Version(string(metadata.RoleRoot))),
		zap.Int64("timestamp", next.Version(string(metadata.RoleTimestamp))),
		zap.Int64("snapshot", next.Version(string(metadata.RoleSnapshot))))
	return nil
}

// checkStale compares next with the committed state. A version mark may
// only go down when a root newer than the committed one rotated the keys of
// that role.
func (r *Repository) checkStale(next *State) error {
	cur := r.state.Load()
	if cur == nil {
		return nil
	}
	curRoot, nextRoot := cur.Root.Doc.Version, next.Root.Doc.Version
	if nextRoot < curRoot {
		return domain.NewError(domain.ErrRollbackDetected, string(metadata.RoleRoot), nextRoot,
			"root v%d committed meanwhile", curRoot)
	}
	for role, v := range cur.Versions {
		if next.rotated[role] > curRoot {
			continue
		}
		if next.Versions[role] < v {
			return domain.NewError(domain.ErrRollbackDetected, role, next.Versions[role],
				"v%d committed meanwhile", v)
		}
	}
	return nil
}

// Refresh walks the root chain and the top-level roles using src. The
// returned session is Resolved but not committed.
func (r *Repository) Refresh(ctx context.Context, src Source) (s *Session, err error) {
	defer func() { r.metrics.ObserveRefresh(r.name, err) }()

	s = r.Begin()
	if s.root == nil {
		return nil, domain.WithRepository(fmt.Errorf("%w: %w", domain.ErrMetadataUnavailable, ErrNoTrustedRoot), r.name)
	}

	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next := s.root.Doc.Version + 1
		if i == r.maxRotations {
			r.logger.Warn("root rotation limit reached", zap.Int("limit", r.maxRotations), zap.Int64("next", next))
			break
		}
		data, err := src.Fetch(string(metadata.RoleRoot), next)
		if errors.Is(err, domain.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, s.fail(domain.NewError(domain.ErrMetadataUnavailable, string(metadata.RoleRoot), next, "%v", err), next)
		}
		if err := s.UpdateRoot(data); err != nil {
			return nil, err
		}
		if s.root.Doc.Version != next {
			return nil, s.fail(domain.NewError(domain.ErrMalformedMetadata, string(metadata.RoleRoot), s.root.Doc.Version,
				"fetched as v%d", next), s.root.Doc.Version)
		}
	}

	steps := []struct {
		role   metadata.RoleType
		update func([]byte) error
	}{
		{metadata.RoleTimestamp, s.UpdateTimestamp},
		{metadata.RoleSnapshot, s.UpdateSnapshot},
		{metadata.RoleTargets, s.UpdateTargets},
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := src.Fetch(string(step.role), 0)
		if err != nil {
			return nil, s.fail(domain.NewError(domain.ErrMetadataUnavailable, string(step.role), 0, "%v", err), 0)
		}
		if err := step.update(data); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Resolve refreshes the repository and looks path up. The refreshed trust
// is committed when the lookup succeeds or ends in NotFound, which are both
// complete verifications.
func (r *Repository) Resolve(ctx context.Context, path string, src Source) (*metadata.FileInfo, error) {
	s, err := r.Refresh(ctx, src)
	if err != nil {
		return nil, err
	}
	fi, err := s.Target(ctx, path, src)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if cerr := r.Commit(ctx, s); cerr != nil {
		return nil, cerr
	}
	return fi, err
}
