/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package trust

import (
	"bytes"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/kentakayama/uptane-verifier/internal/domain"
	"github.com/kentakayama/uptane-verifier/internal/metadata"
	"github.com/kentakayama/uptane-verifier/internal/verify"
	"go.uber.org/zap"
)

// Session walks the role chain of one repository on a private copy of the
// committed trust. Every Update method either accepts the document and
// advances, or leaves the session as it was so the caller can retry with
// fresher bytes. Nothing is visible to other readers until the session is
// committed.
type Session struct {
	repository string
	base       *State
	phase      Phase
	now        time.Time
	maxDepth   int
	verifier   *verify.Verifier
	logger     *zap.Logger

	root         *metadata.Signed[metadata.Root]
	timestamp    *metadata.Signed[metadata.Timestamp]
	snapshot     *metadata.Signed[metadata.Snapshot]
	prevSnapshot *metadata.Signed[metadata.Snapshot]
	targets      map[string]*metadata.Signed[metadata.Targets]
	versions     map[string]int64
	// rotated maps a role to the last root version that changed its keys.
	rotated map[string]int64
}

// Phase returns the current position in the role chain.
func (s *Session) Phase() Phase {
	return s.phase
}

// Root returns the root the session currently trusts.
func (s *Session) Root() *metadata.Signed[metadata.Root] {
	return s.root
}

// UpdateRoot accepts a newer root. It must be signed by a threshold of the
// trusted root's keys and by a threshold of its own root keys; with no
// trusted root yet only the latter applies.
func (s *Session) UpdateRoot(data []byte) error {
	role := string(metadata.RoleRoot)
	if s.phase != AwaitingRoot {
		return s.outOfOrder(role)
	}
	next, err := metadata.ParseRoot(data)
	if err != nil {
		return s.fail(err, 0)
	}
	version := next.Doc.Version

	if s.root != nil {
		if _, err := s.verifier.Verify(next.Envelope, s.root.Doc.RoleKeys(metadata.RoleRoot)); err != nil {
			return s.fail(err, version)
		}
	}
	if _, err := s.verifier.Verify(next.Envelope, next.Doc.RoleKeys(metadata.RoleRoot)); err != nil {
		return s.fail(err, version)
	}

	if s.root != nil {
		current := s.root.Doc.Version
		switch {
		case version < current:
			return s.fail(domain.NewError(domain.ErrRollbackDetected, role, version,
				"trusted root is v%d", current), version)
		case version == current:
			if bytes.Equal(next.Envelope.Signed, s.root.Envelope.Signed) {
				return nil
			}
			return s.fail(domain.NewError(domain.ErrRollbackDetected, role, version,
				"root v%d republished with different content", current), version)
		}
		s.resetRotatedRoles(s.root.Doc, next.Doc)
	}

	s.logger.Info("root accepted", zap.Int64("version", version))
	s.root = next
	return nil
}

// resetRotatedRoles forgets version marks of roles whose keys changed, so a
// repository can recover after its timestamp or snapshot keys were used to
// publish absurdly high versions.
func (s *Session) resetRotatedRoles(prev, next *metadata.Root) {
	if !sameKeys(prev.RoleKeys(metadata.RoleTimestamp), next.RoleKeys(metadata.RoleTimestamp)) {
		s.forget(next.Version, metadata.RoleTimestamp, metadata.RoleSnapshot)
		s.logger.Info("timestamp keys rotated, resetting timestamp and snapshot versions")
	}
	if !sameKeys(prev.RoleKeys(metadata.RoleSnapshot), next.RoleKeys(metadata.RoleSnapshot)) {
		s.forget(next.Version, metadata.RoleSnapshot)
		s.logger.Info("snapshot keys rotated, resetting snapshot version")
	}
}

func (s *Session) forget(rootVersion int64, roles ...metadata.RoleType) {
	for _, role := range roles {
		delete(s.versions, string(role))
		s.rotated[string(role)] = rootVersion
	}
	s.prevSnapshot = nil
}

func sameKeys(a, b *metadata.RoleKeys) bool {
	if a.Threshold != b.Threshold || len(a.Keys) != len(b.Keys) {
		return false
	}
	for id := range a.Keys {
		if _, ok := b.Keys[id]; !ok {
			return false
		}
	}
	return true
}

// finishRoot closes the root phase. The final root has to be current.
func (s *Session) finishRoot() error {
	role := string(metadata.RoleRoot)
	if s.root == nil {
		return s.fail(fmt.Errorf("%w: %w", domain.ErrMetadataUnavailable, ErrNoTrustedRoot), 0)
	}
	if s.root.Doc.IsExpired(s.now) {
		return s.fail(domain.NewError(domain.ErrExpiredMetadata, role, s.root.Doc.Version,
			"expired at %s", s.root.Doc.Expires.Format(time.RFC3339)), s.root.Doc.Version)
	}
	s.phase = AwaitingTimestamp
	return nil
}

// UpdateTimestamp accepts a timestamp whose version is not lower than the
// last accepted one. An equal version is an idempotent refresh.
func (s *Session) UpdateTimestamp(data []byte) error {
	role := string(metadata.RoleTimestamp)
	switch s.phase {
	case AwaitingRoot:
		if err := s.finishRoot(); err != nil {
			return err
		}
	case AwaitingTimestamp:
	default:
		return s.outOfOrder(role)
	}

	ts, err := metadata.ParseTimestamp(data)
	if err != nil {
		return s.fail(err, 0)
	}
	version := ts.Doc.Version
	if _, err := s.verifier.Verify(ts.Envelope, s.root.Doc.RoleKeys(metadata.RoleTimestamp)); err != nil {
		return s.fail(err, version)
	}
	if prev := s.versions[role]; version < prev {
		return s.fail(domain.NewError(domain.ErrRollbackDetected, role, version,
			"trusted timestamp is v%d", prev), version)
	}
	snapshotVersion := ts.Doc.SnapshotMeta().Version
	if prev := s.versions[string(metadata.RoleSnapshot)]; snapshotVersion < prev {
		return s.fail(domain.NewError(domain.ErrRollbackDetected, role, version,
			"lists snapshot v%d, trusted snapshot is v%d", snapshotVersion, prev), version)
	}
	if ts.Doc.IsExpired(s.now) {
		return s.fail(domain.NewError(domain.ErrExpiredMetadata, role, version,
			"expired at %s", ts.Doc.Expires.Format(time.RFC3339)), version)
	}

	s.timestamp = ts
	s.versions[role] = version
	s.phase = AwaitingSnapshot
	return nil
}

// UpdateSnapshot accepts the snapshot the timestamp describes.
func (s *Session) UpdateSnapshot(data []byte) error {
	role := string(metadata.RoleSnapshot)
	if s.phase != AwaitingSnapshot {
		return s.outOfOrder(role)
	}

	meta := s.timestamp.Doc.SnapshotMeta()
	if err := meta.Verify(data); err != nil {
		return s.fail(domain.NewError(domain.ErrSnapshotMismatch, role, meta.Version, "%v", err), meta.Version)
	}
	snap, err := metadata.ParseSnapshot(data)
	if err != nil {
		return s.fail(err, 0)
	}
	version := snap.Doc.Version
	if _, err := s.verifier.Verify(snap.Envelope, s.root.Doc.RoleKeys(metadata.RoleSnapshot)); err != nil {
		return s.fail(err, version)
	}
	if version != meta.Version {
		return s.fail(domain.NewError(domain.ErrSnapshotMismatch, role, version,
			"timestamp lists v%d", meta.Version), version)
	}
	if prev := s.versions[role]; version < prev {
		return s.fail(domain.NewError(domain.ErrRollbackDetected, role, version,
			"trusted snapshot is v%d", prev), version)
	}
	if s.prevSnapshot != nil {
		for name, old := range s.prevSnapshot.Doc.Meta {
			mf, ok := snap.Doc.Meta[name]
			if !ok {
				return s.fail(domain.NewError(domain.ErrRollbackDetected, role, version,
					"%s no longer listed", name), version)
			}
			if mf.Version < old.Version {
				return s.fail(domain.NewError(domain.ErrRollbackDetected, role, version,
					"lists %s v%d, previously v%d", name, mf.Version, old.Version), version)
			}
		}
	}
	for name, mf := range snap.Doc.Meta {
		if prev := s.versions[name]; mf.Version < prev {
			return s.fail(domain.NewError(domain.ErrRollbackDetected, role, version,
				"lists %s v%d, trusted %s is v%d", name, mf.Version, name, prev), version)
		}
	}
	if snap.Doc.IsExpired(s.now) {
		return s.fail(domain.NewError(domain.ErrExpiredMetadata, role, version,
			"expired at %s", snap.Doc.Expires.Format(time.RFC3339)), version)
	}

	s.snapshot = snap
	s.versions[role] = version
	s.phase = AwaitingTargets
	return nil
}

// UpdateTargets accepts the top-level targets document. Delegated roles are
// loaded later, only when a lookup needs them.
func (s *Session) UpdateTargets(data []byte) error {
	role := string(metadata.RoleTargets)
	if s.phase != AwaitingTargets {
		return s.outOfOrder(role)
	}
	t, err := s.loadTargets(role, data, s.root.Doc.RoleKeys(metadata.RoleTargets))
	if err != nil {
		return err
	}
	s.storeTargets(role, t)
	s.phase = Resolved
	return nil
}

// loadTargets checks a targets document against the snapshot and keys. It
// does not record it.
func (s *Session) loadTargets(role string, data []byte, keys *metadata.RoleKeys) (*metadata.Signed[metadata.Targets], error) {
	meta, ok := s.snapshot.Doc.Meta[role]
	if !ok {
		return nil, s.fail(domain.NewError(domain.ErrTargetsMismatch, role, 0, "not listed in snapshot"), 0)
	}
	if err := meta.Verify(data); err != nil {
		return nil, s.fail(domain.NewError(domain.ErrTargetsMismatch, role, meta.Version, "%v", err), meta.Version)
	}
	t, err := metadata.ParseTargets(data)
	if err != nil {
		return nil, s.fail(withRoleName(err, role), 0)
	}
	version := t.Doc.Version
	if _, err := s.verifier.Verify(t.Envelope, keys); err != nil {
		return nil, s.fail(err, version)
	}
	if version != meta.Version {
		return nil, s.fail(domain.NewError(domain.ErrTargetsMismatch, role, version,
			"snapshot lists v%d", meta.Version), version)
	}
	if prev := s.versions[role]; version < prev {
		return nil, s.fail(domain.NewError(domain.ErrRollbackDetected, role, version,
			"trusted %s is v%d", role, prev), version)
	}
	if t.Doc.IsExpired(s.now) {
		return nil, s.fail(domain.NewError(domain.ErrExpiredMetadata, role, version,
			"expired at %s", t.Doc.Expires.Format(time.RFC3339)), version)
	}
	return t, nil
}

func (s *Session) storeTargets(role string, t *metadata.Signed[metadata.Targets]) {
	s.targets[role] = t
	s.versions[role] = t.Doc.Version
}

// state builds the State a commit would publish.
func (s *Session) state() *State {
	return &State{
		Repository: s.repository,
		Root:       s.root,
		Timestamp:  s.timestamp,
		Snapshot:   s.snapshot,
		Targets:    maps.Clone(s.targets),
		Versions:   maps.Clone(s.versions),
		rotated:    maps.Clone(s.rotated),
	}
}

func (s *Session) outOfOrder(role string) error {
	return s.fail(domain.NewError(ErrOutOfOrder, role, 0, "session is %s", s.phase), 0)
}

// fail stamps repository and version onto err and logs it.
func (s *Session) fail(err error, version int64) error {
	var ve *domain.VerificationError
	if errors.As(err, &ve) && ve.Version == 0 {
		ve.Version = version
	}
	err = domain.WithRepository(err, s.repository)
	s.logger.Warn("metadata rejected", zap.Stringer("phase", s.phase), zap.Error(err))
	return err
}

func withRoleName(err error, role string) error {
	var ve *domain.VerificationError
	if errors.As(err, &ve) {
		ve.Role = role
	}
	return err
}
