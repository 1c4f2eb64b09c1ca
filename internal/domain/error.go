/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound                = errors.New("item not found")
	ErrMalformedMetadata       = errors.New("malformed metadata")
	ErrExpiredMetadata         = errors.New("metadata expired")
	ErrRollbackDetected        = errors.New("rollback detected")
	ErrThresholdNotMet         = errors.New("signature threshold not met")
	ErrUnknownKey              = errors.New("signature by a key outside the role")
	ErrSnapshotMismatch        = errors.New("snapshot does not match timestamp")
	ErrTargetsMismatch         = errors.New("targets do not match snapshot")
	ErrDelegationPathViolation = errors.New("delegated role lists a path outside its grant")
	ErrDelegationDepthExceeded = errors.New("delegation depth exceeded")
	ErrConsensusFailed         = errors.New("repositories did not reach consensus")
	ErrSigningKeyInvalid       = errors.New("signing key invalid")
	ErrHashMismatch            = errors.New("hash or length mismatch")

	// ErrMetadataUnavailable means the caller's fetch layer had no bytes for
	// a role. Unlike ErrNotFound it never means a target is absent.
	ErrMetadataUnavailable = errors.New("metadata not available")
)

// VerificationError attaches the repository, role and version that were
// being processed when a check failed.
type VerificationError struct {
	Repository string
	Role       string
	Version    int64
	Err        error
	Detail     string
}

func (e *VerificationError) Error() string {
	var b strings.Builder
	if e.Repository != "" {
		fmt.Fprintf(&b, "repository %q: ", e.Repository)
	}
	if e.Role != "" {
		fmt.Fprintf(&b, "role %q", e.Role)
		if e.Version > 0 {
			fmt.Fprintf(&b, " v%d", e.Version)
		}
		b.WriteString(": ")
	}
	b.WriteString(e.Err.Error())
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e *VerificationError) Unwrap() error {
	return e.Err
}

// NewError builds a VerificationError for role at version.
func NewError(err error, role string, version int64, format string, args ...any) *VerificationError {
	return &VerificationError{
		Role:    role,
		Version: version,
		Err:     err,
		Detail:  fmt.Sprintf(format, args...),
	}
}

// WithRepository stamps the repository name onto err. Errors that already
// name a repository are returned as-is.
func WithRepository(err error, repository string) error {
	if err == nil {
		return nil
	}
	var ve *VerificationError
	if errors.As(err, &ve) {
		if ve.Repository == "" {
			ve.Repository = repository
		}
		return err
	}
	return &VerificationError{Repository: repository, Err: err}
}

// Retryable reports whether supplying fresher metadata may clear err.
// Delegation path violations and consensus failures need an operator.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrDelegationPathViolation) && !errors.Is(err, ErrConsensusFailed)
}
