/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

// Package uptanetest builds signed metadata repositories for tests.
package uptanetest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"maps"
	"testing"
	"time"

	"github.com/kentakayama/uptane-verifier/internal/domain"
	"github.com/kentakayama/uptane-verifier/internal/metadata"
	"github.com/stretchr/testify/require"
	"github.com/veraison/go-cose"
)

// Epoch is the fixed verification time fixtures are built around.
var Epoch = time.Date(2016, 10, 10, 11, 37, 30, 0, time.UTC)

// NewKey generates an ECDSA P-256 COSE key with private material.
func NewKey(t testing.TB) *metadata.Key {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	x, y, d := make([]byte, 32), make([]byte, 32), make([]byte, 32)
	priv.X.FillBytes(x)
	priv.Y.FillBytes(y)
	priv.D.FillBytes(d)
	k, err := cose.NewKeyEC2(cose.AlgorithmESP256, x, y, d)
	require.NoError(t, err)
	return metadata.NewKey(k)
}

// KeyID returns the id of k.
func KeyID(t testing.TB, k *metadata.Key) string {
	t.Helper()
	id, err := k.ID()
	require.NoError(t, err)
	return id
}

// Sign encodes doc into an envelope signed by every key.
func Sign(t testing.TB, doc any, keys ...*metadata.Key) []byte {
	t.Helper()
	env, err := metadata.NewEnvelope(doc)
	require.NoError(t, err)
	for _, k := range keys {
		_, err := env.AddSignature(k)
		require.NoError(t, err)
	}
	data, err := env.Bytes()
	require.NoError(t, err)
	return data
}

// Repository is an in-memory metadata repository. Documents are edited in
// place and signed by Publish.
type Repository struct {
	t       testing.TB
	Name    string
	Expires time.Time

	// Keys holds the private signing keys of each top-level role.
	Keys      map[metadata.RoleType][]*metadata.Key
	Root      *metadata.Root
	Timestamp *metadata.Timestamp
	Snapshot  *metadata.Snapshot
	Targets   *metadata.Targets
	// Delegated holds delegated targets documents by role name.
	Delegated     map[string]*metadata.Targets
	DelegatedKeys map[string][]*metadata.Key

	roots  map[int64][]byte
	served map[string][]byte
	// Content holds the bytes of every target added.
	Content map[string][]byte
}

// NewRepository creates a repository with one key per role, publishes root
// v1 and empty timestamp, snapshot and targets.
func NewRepository(t testing.TB, name string) *Repository {
	t.Helper()
	expires := Epoch.AddDate(1, 0, 0)
	r := &Repository{
		t:             t,
		Name:          name,
		Expires:       expires,
		Keys:          map[metadata.RoleType][]*metadata.Key{},
		Root:          &metadata.Root{Header: header(metadata.RoleRoot, expires), Keys: map[string]*metadata.Key{}, Roles: map[metadata.RoleType]*metadata.Role{}},
		Timestamp:     &metadata.Timestamp{Header: header(metadata.RoleTimestamp, expires), Meta: map[string]metadata.MetaFile{}},
		Snapshot:      &metadata.Snapshot{Header: header(metadata.RoleSnapshot, expires), Meta: map[string]metadata.MetaFile{}},
		Targets:       &metadata.Targets{Header: header(metadata.RoleTargets, expires), Targets: map[string]metadata.FileInfo{}},
		Delegated:     map[string]*metadata.Targets{},
		DelegatedKeys: map[string][]*metadata.Key{},
		roots:         map[int64][]byte{},
		served:        map[string][]byte{},
		Content:       map[string][]byte{},
	}
	for _, role := range metadata.TopLevelRoles {
		r.setRoleKeys(role, NewKey(t))
	}
	r.Root.Version = 1
	r.publishRoot(r.Keys[metadata.RoleRoot])
	r.Publish()
	return r
}

func header(role metadata.RoleType, expires time.Time) metadata.Header {
	return metadata.Header{Type: role, Expires: expires}
}

func (r *Repository) setRoleKeys(role metadata.RoleType, keys ...*metadata.Key) {
	if old, ok := r.Root.Roles[role]; ok {
		for _, id := range old.KeyIDs {
			delete(r.Root.Keys, id)
		}
	}
	def := &metadata.Role{Threshold: 1}
	for _, k := range keys {
		id := KeyID(r.t, k)
		r.Root.Keys[id] = k.Public()
		def.KeyIDs = append(def.KeyIDs, id)
	}
	r.Root.Roles[role] = def
	r.Keys[role] = keys
}

func (r *Repository) publishRoot(signers []*metadata.Key) {
	data := Sign(r.t, r.Root, signers...)
	r.roots[r.Root.Version] = data
	r.served[string(metadata.RoleRoot)] = data
}

// RootBytes returns the published root of the given version.
func (r *Repository) RootBytes(version int64) []byte {
	return r.roots[version]
}

// RotateRoot replaces the keys of the given roles and publishes the next
// root, signed by the previous and the new root keys. Call Publish to have
// the other documents signed by the new keys.
func (r *Repository) RotateRoot(roles ...metadata.RoleType) {
	r.t.Helper()
	oldRootKeys := r.Keys[metadata.RoleRoot]
	for _, role := range roles {
		r.setRoleKeys(role, NewKey(r.t))
	}
	r.Root.Version++
	signers := append([]*metadata.Key{}, oldRootKeys...)
	for _, k := range r.Keys[metadata.RoleRoot] {
		if !contains(oldRootKeys, k) {
			signers = append(signers, k)
		}
	}
	r.publishRoot(signers)
}

func contains(keys []*metadata.Key, k *metadata.Key) bool {
	for _, c := range keys {
		if c == k {
			return true
		}
	}
	return false
}

// AddTarget lists content under path in top-level targets.
func (r *Repository) AddTarget(path string, content []byte, custom map[string]any) metadata.FileInfo {
	return r.AddDelegatedTarget(string(metadata.RoleTargets), path, content, custom)
}

// AddDelegatedTarget lists content under path in the named targets role.
func (r *Repository) AddDelegatedTarget(role, path string, content []byte, custom map[string]any) metadata.FileInfo {
	r.t.Helper()
	hashes, err := metadata.HashesOf(content, "sha256", "sha512")
	require.NoError(r.t, err)
	fi := metadata.FileInfo{Length: int64(len(content)), Hashes: hashes, Custom: custom}
	r.targetsOf(role).Targets[path] = fi
	r.Content[path] = content
	return fi
}

// Delegate adds d to the delegations of parent with a fresh key and
// creates the delegated document. d.KeyIDs and d.Threshold are filled in.
func (r *Repository) Delegate(parent string, d metadata.DelegatedRole) *metadata.Key {
	r.t.Helper()
	key := NewKey(r.t)
	id := KeyID(r.t, key)
	d.KeyIDs = []string{id}
	d.Threshold = 1

	p := r.targetsOf(parent)
	if p.Delegations == nil {
		p.Delegations = &metadata.Delegations{Keys: map[string]*metadata.Key{}}
	}
	p.Delegations.Keys[id] = key.Public()
	p.Delegations.Roles = append(p.Delegations.Roles, d)

	if _, ok := r.Delegated[d.Name]; !ok {
		r.Delegated[d.Name] = &metadata.Targets{Header: header(metadata.RoleTargets, r.Expires), Targets: map[string]metadata.FileInfo{}}
	}
	r.DelegatedKeys[d.Name] = append(r.DelegatedKeys[d.Name], key)
	return key
}

func (r *Repository) targetsOf(role string) *metadata.Targets {
	if role == string(metadata.RoleTargets) {
		return r.Targets
	}
	t, ok := r.Delegated[role]
	require.True(r.t, ok, "unknown targets role %q", role)
	return t
}

// Publish bumps and signs targets, every delegated role, snapshot and
// timestamp, in that order.
func (r *Repository) Publish() {
	r.t.Helper()
	r.Targets.Version++
	targets := Sign(r.t, r.Targets, r.Keys[metadata.RoleTargets]...)
	r.served[string(metadata.RoleTargets)] = targets
	r.Snapshot.Meta[string(metadata.RoleTargets)] = r.metaFile(r.Targets.Version, targets)

	for name, doc := range r.Delegated {
		doc.Version++
		data := Sign(r.t, doc, r.DelegatedKeys[name]...)
		r.served[name] = data
		r.Snapshot.Meta[name] = r.metaFile(doc.Version, data)
	}

	r.Snapshot.Version++
	snapshot := Sign(r.t, r.Snapshot, r.Keys[metadata.RoleSnapshot]...)
	r.served[string(metadata.RoleSnapshot)] = snapshot

	r.Timestamp.Version++
	r.Timestamp.Meta[string(metadata.RoleSnapshot)] = r.metaFile(r.Snapshot.Version, snapshot)
	r.served[string(metadata.RoleTimestamp)] = Sign(r.t, r.Timestamp, r.Keys[metadata.RoleTimestamp]...)
}

func (r *Repository) metaFile(version int64, data []byte) metadata.MetaFile {
	hashes, err := metadata.HashesOf(data, "sha256")
	require.NoError(r.t, err)
	return metadata.MetaFile{Version: version, Length: int64(len(data)), Hashes: hashes}
}

// Bytes returns what the repository currently serves for role.
func (r *Repository) Bytes(role string) []byte {
	return r.served[role]
}

// Set overrides what the repository serves for role.
func (r *Repository) Set(role string, data []byte) {
	r.served[role] = data
}

// Served copies everything currently served, for replaying it later.
func (r *Repository) Served() map[string][]byte {
	return maps.Clone(r.served)
}

// Fetch serves published metadata. It satisfies trust.Source.
func (r *Repository) Fetch(role string, version int64) ([]byte, error) {
	if role == string(metadata.RoleRoot) && version > 0 {
		if data, ok := r.roots[version]; ok {
			return data, nil
		}
		return nil, fmt.Errorf("%w: root v%d", domain.ErrNotFound, version)
	}
	if data, ok := r.served[role]; ok {
		return data, nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, role)
}
