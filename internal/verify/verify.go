/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package verify

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	arc "github.com/hashicorp/golang-lru/arc/v2"
	"github.com/kentakayama/uptane-verifier/internal/domain"
	"github.com/kentakayama/uptane-verifier/internal/metadata"
	"github.com/kentakayama/uptane-verifier/internal/util"
	"go.uber.org/zap"
)

const DefaultCacheSize = 256

// Result lists what happened to each signature of an envelope.
type Result struct {
	// Valid holds the distinct role key ids with a valid signature.
	Valid []string
	// Unknown holds key ids that are not part of the role. They are ignored.
	Unknown []string
	// Invalid holds role key ids whose signature did not verify.
	Invalid []string
}

// Verifier checks envelopes against role keys and thresholds. Outcomes are
// cached by payload, signatures and role, so the cache never changes a
// decision.
type Verifier struct {
	cache  *arc.ARCCache[string, *Result]
	logger *zap.Logger
}

func NewVerifier(cacheSize int, logger *zap.Logger) (*Verifier, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cache, err := arc.NewARC[string, *Result](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create verification cache: %w", err)
	}
	return &Verifier{cache: cache, logger: logger}, nil
}

// Verify succeeds iff at least role.Threshold distinct keys of the role
// signed the payload.
func (v *Verifier) Verify(env *metadata.Envelope, role *metadata.RoleKeys) (*Result, error) {
	var res *Result
	key := cacheKey(env, role)
	if cached, ok := v.cache.Get(key); ok {
		res = cached
	} else {
		res = check(env, role)
		v.cache.Add(key, res)
	}

	for _, id := range res.Unknown {
		v.logger.Debug("ignoring signature",
			zap.String("role", role.Name),
			zap.String("keyid", id),
			zap.Error(domain.ErrUnknownKey))
	}
	if len(res.Valid) < role.Threshold || role.Threshold < 1 {
		return res, domain.NewError(domain.ErrThresholdNotMet, role.Name, 0,
			"%d of %d valid signatures", len(res.Valid), role.Threshold)
	}
	return res, nil
}

// Verify is the uncached form of Verifier.Verify.
func Verify(env *metadata.Envelope, role *metadata.RoleKeys) (*Result, error) {
	res := check(env, role)
	if len(res.Valid) < role.Threshold || role.Threshold < 1 {
		return res, domain.NewError(domain.ErrThresholdNotMet, role.Name, 0,
			"%d of %d valid signatures", len(res.Valid), role.Threshold)
	}
	return res, nil
}

func check(env *metadata.Envelope, role *metadata.RoleKeys) *Result {
	res := &Result{}
	valid := util.NewSet[string]()
	for _, sig := range env.Signatures {
		key, ok := role.Keys[sig.KeyID]
		if !ok {
			res.Unknown = append(res.Unknown, sig.KeyID)
			continue
		}
		if valid.Has(sig.KeyID) {
			// duplicates count once
			continue
		}
		if err := key.Verify(env.Signed, sig.Sig); err != nil {
			res.Invalid = append(res.Invalid, sig.KeyID)
			continue
		}
		valid.Add(sig.KeyID)
		res.Valid = append(res.Valid, sig.KeyID)
	}
	return res
}

func cacheKey(env *metadata.Envelope, role *metadata.RoleKeys) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d:", len(env.Signed))
	h.Write(env.Signed)
	for _, sig := range env.Signatures {
		fmt.Fprintf(h, "%d:%s:%d:", len(sig.KeyID), sig.KeyID, len(sig.Sig))
		h.Write(sig.Sig)
	}
	ids := make([]string, 0, len(role.Keys))
	for id := range role.Keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return fmt.Sprintf("%s|%s|%d|%s", role.Name, strings.Join(ids, ","), role.Threshold, hex.EncodeToString(h.Sum(nil)))
}
