/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package metadata

import (
	"errors"
	"fmt"

	"github.com/kentakayama/uptane-verifier/internal/domain"
	"github.com/veraison/go-cose"
)

type document interface {
	header() *Header
	validate() error
}

// Signed is a parsed document together with the envelope it came in.
type Signed[T any] struct {
	Envelope *Envelope
	Doc      *T
	// Raw is the envelope exactly as fetched.
	Raw []byte
}

func ParseRoot(data []byte) (*Signed[Root], error) {
	return parse[Root](data, RoleRoot)
}

func ParseTimestamp(data []byte) (*Signed[Timestamp], error) {
	return parse[Timestamp](data, RoleTimestamp)
}

func ParseSnapshot(data []byte) (*Signed[Snapshot], error) {
	return parse[Snapshot](data, RoleSnapshot)
}

// ParseTargets parses top-level and delegated targets documents alike.
func ParseTargets(data []byte) (*Signed[Targets], error) {
	return parse[Targets](data, RoleTargets)
}

// PeekType returns the declared type of an envelope payload without
// validating the rest of the document.
func PeekType(data []byte) (RoleType, error) {
	env, err := ParseEnvelope(data)
	if err != nil {
		return "", err
	}
	h, err := peekHeader(env.Signed)
	if err != nil {
		return "", err
	}
	return h.Type, nil
}

func peekHeader(payload []byte) (*Header, error) {
	var h Header
	if err := looseDecMode.Unmarshal(payload, &h); err != nil {
		return nil, domain.NewError(domain.ErrMalformedMetadata, "", 0, "header: %v", err)
	}
	return &h, nil
}

func parse[T any, P interface {
	*T
	document
}](data []byte, want RoleType) (*Signed[T], error) {
	env, err := ParseEnvelope(data)
	if err != nil {
		return nil, withRole(err, want)
	}

	// the declared type is checked before the payload is decoded as T
	h, err := peekHeader(env.Signed)
	if err != nil {
		return nil, withRole(err, want)
	}
	if h.Type != want {
		return nil, domain.NewError(domain.ErrMalformedMetadata, string(want), h.Version, "expected _type %q, got %q", want, h.Type)
	}

	var doc T
	p := P(&doc)
	if err := decodeStrict(env.Signed, p); err != nil {
		return nil, domain.NewError(domain.ErrMalformedMetadata, string(want), h.Version, "%v", err)
	}
	if err := p.header().validate(); err != nil {
		return nil, domain.NewError(domain.ErrMalformedMetadata, string(want), h.Version, "%v", err)
	}
	if err := p.validate(); err != nil {
		return nil, domain.NewError(domain.ErrMalformedMetadata, string(want), h.Version, "%v", err)
	}
	return &Signed[T]{Envelope: env, Doc: &doc, Raw: data}, nil
}

func withRole(err error, role RoleType) error {
	var ve *domain.VerificationError
	if errors.As(err, &ve) && ve.Role == "" {
		ve.Role = string(role)
	}
	return err
}

func (h *Header) validate() error {
	if h.Version < 1 {
		return fmt.Errorf("version %d out of range", h.Version)
	}
	if h.Expires.IsZero() {
		return fmt.Errorf("missing expires")
	}
	return nil
}

func (r *Root) validate() error {
	if err := validateKeys(r.Keys); err != nil {
		return err
	}
	for _, name := range TopLevelRoles {
		role, ok := r.Roles[name]
		if !ok || role == nil {
			return fmt.Errorf("missing role %q", name)
		}
		if err := validateRoleKeyIDs(string(name), role.KeyIDs, role.Threshold, r.Keys); err != nil {
			return err
		}
	}
	for name := range r.Roles {
		if !IsTopLevel(string(name)) {
			return fmt.Errorf("unexpected role %q in root", name)
		}
	}
	return nil
}

func (t *Timestamp) validate() error {
	meta, ok := t.Meta[string(RoleSnapshot)]
	if !ok {
		return fmt.Errorf("missing snapshot meta")
	}
	if err := meta.validate(); err != nil {
		return fmt.Errorf("snapshot meta: %w", err)
	}
	return nil
}

func (s *Snapshot) validate() error {
	if _, ok := s.Meta[string(RoleTargets)]; !ok {
		return fmt.Errorf("missing targets meta")
	}
	for name, meta := range s.Meta {
		if err := meta.validate(); err != nil {
			return fmt.Errorf("%s meta: %w", name, err)
		}
	}
	return nil
}

func (t *Targets) validate() error {
	for path, fi := range t.Targets {
		if path == "" {
			return fmt.Errorf("empty target path")
		}
		if err := fi.validate(); err != nil {
			return fmt.Errorf("target %q: %w", path, err)
		}
	}
	if t.Delegations == nil {
		return nil
	}
	return t.Delegations.validate()
}

func (d *Delegations) validate() error {
	if err := validateKeys(d.Keys); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(d.Roles))
	for i := range d.Roles {
		role := &d.Roles[i]
		if role.Name == "" {
			return fmt.Errorf("delegated role %d has no name", i)
		}
		if IsTopLevel(role.Name) {
			return fmt.Errorf("delegated role may not be named %q", role.Name)
		}
		if _, dup := seen[role.Name]; dup {
			return fmt.Errorf("delegated role %q listed twice", role.Name)
		}
		seen[role.Name] = struct{}{}
		if len(role.Paths) == 0 {
			return fmt.Errorf("delegated role %q has no paths", role.Name)
		}
		if err := validateRoleKeyIDs(role.Name, role.KeyIDs, role.Threshold, d.Keys); err != nil {
			return err
		}
	}
	return nil
}

func validateKeys(keys map[string]*Key) error {
	for id, k := range keys {
		if k == nil {
			return fmt.Errorf("key %s is empty", id)
		}
		if k.Type != cose.KeyTypeEC2 && k.Type != cose.KeyTypeOKP {
			return fmt.Errorf("key %s has unsupported type %v", id, k.Type)
		}
		if k.IsPrivate() {
			return fmt.Errorf("key %s carries private material", id)
		}
		got, err := k.ID()
		if err != nil {
			return fmt.Errorf("key %s: %w", id, err)
		}
		if got != id {
			return fmt.Errorf("key listed as %s has id %s", id, got)
		}
	}
	return nil
}

func validateRoleKeyIDs(role string, ids []string, threshold int, keys map[string]*Key) error {
	if threshold < 1 {
		return fmt.Errorf("role %q threshold %d out of range", role, threshold)
	}
	if len(ids) == 0 {
		return fmt.Errorf("role %q has no keys", role)
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("role %q lists key %s twice", role, id)
		}
		seen[id] = struct{}{}
		if _, ok := keys[id]; !ok {
			return fmt.Errorf("role %q references unknown key %s", role, id)
		}
	}
	return nil
}
