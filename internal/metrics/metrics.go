/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package metrics

import (
	"errors"

	"github.com/kentakayama/uptane-verifier/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

const LabelResult = "result"

// Result types
const (
	Success = "ok"

	ErrMalformed  = "err_malformed"
	ErrExpired    = "err_expired"
	ErrRollback   = "err_rollback"
	ErrVerify     = "err_verify"
	ErrMismatch   = "err_content_mismatch"
	ErrDelegation = "err_delegation"
	ErrConsensus  = "err_consensus"
	ErrNotFound   = "err_not_found"
	ErrHash       = "err_hash"
	ErrKey        = "err_key"
	ErrInternal   = "err_internal"
	ErrFetch      = "err_fetch"
)

// Metrics holds the counters of a client. A nil *Metrics records nothing.
type Metrics struct {
	Refreshes          *prometheus.CounterVec
	Resolutions        *prometheus.CounterVec
	Downloads          *prometheus.CounterVec
	ManifestSignatures *prometheus.CounterVec
}

// New creates the counters and registers them with reg when reg is not nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Refreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uptane_repository_refreshes_total",
				Help: "Number of metadata refreshes per repository",
			},
			[]string{"repository", LabelResult},
		),
		Resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uptane_target_resolutions_total",
				Help: "Number of target resolutions across pinned repositories",
			},
			[]string{LabelResult},
		),
		Downloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uptane_target_downloads_total",
				Help: "Number of verified target downloads",
			},
			[]string{LabelResult},
		),
		ManifestSignatures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uptane_manifest_signatures_total",
				Help: "Number of signatures added to ECU manifests",
			},
			[]string{LabelResult},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Refreshes, m.Resolutions, m.Downloads, m.ManifestSignatures)
	}
	return m
}

// Result maps an error onto a result label.
func Result(err error) string {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, domain.ErrMalformedMetadata):
		return ErrMalformed
	case errors.Is(err, domain.ErrExpiredMetadata):
		return ErrExpired
	case errors.Is(err, domain.ErrRollbackDetected):
		return ErrRollback
	case errors.Is(err, domain.ErrThresholdNotMet):
		return ErrVerify
	case errors.Is(err, domain.ErrSnapshotMismatch), errors.Is(err, domain.ErrTargetsMismatch):
		return ErrMismatch
	case errors.Is(err, domain.ErrDelegationPathViolation), errors.Is(err, domain.ErrDelegationDepthExceeded):
		return ErrDelegation
	case errors.Is(err, domain.ErrConsensusFailed):
		return ErrConsensus
	case errors.Is(err, domain.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, domain.ErrHashMismatch):
		return ErrHash
	case errors.Is(err, domain.ErrSigningKeyInvalid):
		return ErrKey
	case errors.Is(err, domain.ErrMetadataUnavailable):
		return ErrFetch
	default:
		return ErrInternal
	}
}

func (m *Metrics) ObserveRefresh(repository string, err error) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(repository, Result(err)).Inc()
}

func (m *Metrics) ObserveResolution(err error) {
	if m == nil {
		return
	}
	m.Resolutions.WithLabelValues(Result(err)).Inc()
}

func (m *Metrics) ObserveDownload(err error) {
	if m == nil {
		return
	}
	m.Downloads.WithLabelValues(Result(err)).Inc()
}

func (m *Metrics) ObserveManifestSignature(err error) {
	if m == nil {
		return
	}
	m.ManifestSignatures.WithLabelValues(Result(err)).Inc()
}
