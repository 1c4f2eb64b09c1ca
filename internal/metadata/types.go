/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package metadata

import "time"

// RoleType is the value of the "_type" field of a document.
type RoleType string

const (
	RoleRoot      RoleType = "root"
	RoleTimestamp RoleType = "timestamp"
	RoleSnapshot  RoleType = "snapshot"
	RoleTargets   RoleType = "targets"
)

// TopLevelRoles lists the roles every root must define.
var TopLevelRoles = []RoleType{RoleRoot, RoleTimestamp, RoleSnapshot, RoleTargets}

// IsTopLevel reports whether name is one of the four top-level role names.
func IsTopLevel(name string) bool {
	for _, r := range TopLevelRoles {
		if string(r) == name {
			return true
		}
	}
	return false
}

// Header is shared by every signed document.
type Header struct {
	Type    RoleType  `cbor:"_type"`
	Version int64     `cbor:"version"`
	Expires time.Time `cbor:"expires"`
}

func (h *Header) header() *Header { return h }

// IsExpired reports whether the document has expired at now.
func (h *Header) IsExpired(now time.Time) bool {
	return h.Expires.Before(now)
}

// Role is the set of keys and the threshold of a top-level role.
type Role struct {
	KeyIDs    []string `cbor:"keyids"`
	Threshold int      `cbor:"threshold"`
}

type Root struct {
	Header
	Keys  map[string]*Key    `cbor:"keys"`
	Roles map[RoleType]*Role `cbor:"roles"`
}

// MetaFile describes another metadata file by version, length and digests.
type MetaFile struct {
	Version int64  `cbor:"version"`
	Length  int64  `cbor:"length"`
	Hashes  Hashes `cbor:"hashes"`
}

type Timestamp struct {
	Header
	Meta map[string]MetaFile `cbor:"meta"`
}

// SnapshotMeta returns the snapshot description carried by the timestamp.
func (t *Timestamp) SnapshotMeta() MetaFile {
	return t.Meta[string(RoleSnapshot)]
}

type Snapshot struct {
	Header
	Meta map[string]MetaFile `cbor:"meta"`
}

type Targets struct {
	Header
	Targets     map[string]FileInfo `cbor:"targets"`
	Delegations *Delegations        `cbor:"delegations,omitempty"`
}

// Delegations carries the keys and the ordered delegated roles of a
// targets document.
type Delegations struct {
	Keys  map[string]*Key `cbor:"keys"`
	Roles []DelegatedRole `cbor:"roles"`
}

// DelegatedRole grants Name authority over Paths.
type DelegatedRole struct {
	Name            string   `cbor:"name"`
	KeyIDs          []string `cbor:"keyids"`
	Threshold       int      `cbor:"threshold"`
	Paths           []string `cbor:"paths"`
	RestrictedPaths bool     `cbor:"restricted_paths"`
	Terminating     bool     `cbor:"terminating"`
}

// RoleKeys is a resolved role: the keys themselves rather than ids.
type RoleKeys struct {
	Name      string
	Keys      map[string]*Key
	Threshold int
}

// RoleKeys resolves a top-level role of the root.
func (r *Root) RoleKeys(role RoleType) *RoleKeys {
	rk := &RoleKeys{Name: string(role), Keys: map[string]*Key{}}
	def, ok := r.Roles[role]
	if !ok {
		return rk
	}
	rk.Threshold = def.Threshold
	for _, id := range def.KeyIDs {
		if k, ok := r.Keys[id]; ok {
			rk.Keys[id] = k
		}
	}
	return rk
}

// RoleKeys resolves a delegated role.
func (d *Delegations) RoleKeys(role *DelegatedRole) *RoleKeys {
	rk := &RoleKeys{Name: role.Name, Threshold: role.Threshold, Keys: map[string]*Key{}}
	for _, id := range role.KeyIDs {
		if k, ok := d.Keys[id]; ok {
			rk.Keys[id] = k
		}
	}
	return rk
}
