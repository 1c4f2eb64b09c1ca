/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package metadata

import (
	"bytes"
	"crypto"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"fmt"

	"github.com/kentakayama/uptane-verifier/internal/domain"
)

// Hashes maps a digest algorithm name to the digest.
type Hashes map[string][]byte

var hashAlgorithms = map[string]crypto.Hash{
	"sha256": crypto.SHA256,
	"sha512": crypto.SHA512,
}

// SupportedHash reports whether alg can be verified.
func SupportedHash(alg string) bool {
	_, ok := hashAlgorithms[alg]
	return ok
}

// HashesOf computes the digests of data for each algorithm in algs.
func HashesOf(data []byte, algs ...string) (Hashes, error) {
	out := make(Hashes, len(algs))
	for _, alg := range algs {
		h, ok := hashAlgorithms[alg]
		if !ok {
			return nil, fmt.Errorf("unsupported hash algorithm %q", alg)
		}
		hasher := h.New()
		hasher.Write(data)
		out[alg] = hasher.Sum(nil)
	}
	return out, nil
}

// Equal reports whether both sets name the same algorithms with the same
// digests.
func (h Hashes) Equal(o Hashes) bool {
	if len(h) != len(o) {
		return false
	}
	for alg, d := range h {
		od, ok := o[alg]
		if !ok || !bytes.Equal(d, od) {
			return false
		}
	}
	return true
}

func (h Hashes) validate() error {
	if len(h) == 0 {
		return fmt.Errorf("no hashes")
	}
	for alg, d := range h {
		hash, ok := hashAlgorithms[alg]
		if !ok {
			return fmt.Errorf("unsupported hash algorithm %q", alg)
		}
		if len(d) != hash.Size() {
			return fmt.Errorf("%s digest has %d bytes", alg, len(d))
		}
	}
	return nil
}

// FileInfo describes a target file.
type FileInfo struct {
	Length int64          `cbor:"length"`
	Hashes Hashes         `cbor:"hashes"`
	Custom map[string]any `cbor:"custom,omitempty"`
}

// SameTarget compares the security-relevant part of two fileinfos. Custom
// annotations are not compared.
func (f *FileInfo) SameTarget(o *FileInfo) bool {
	return f.Length == o.Length && f.Hashes.Equal(o.Hashes)
}

func (f *FileInfo) validate() error {
	if f.Length < 0 {
		return fmt.Errorf("negative length %d", f.Length)
	}
	return f.Hashes.validate()
}

// VerifyLengthHashes checks data against an expected length and every
// listed digest.
func VerifyLengthHashes(data []byte, length int64, hashes Hashes) error {
	if int64(len(data)) != length {
		return fmt.Errorf("%w: length %d, expected %d", domain.ErrHashMismatch, len(data), length)
	}
	if len(hashes) == 0 {
		return fmt.Errorf("%w: no digests to compare", domain.ErrHashMismatch)
	}
	for alg, want := range hashes {
		h, ok := hashAlgorithms[alg]
		if !ok {
			return fmt.Errorf("%w: unsupported hash algorithm %q", domain.ErrHashMismatch, alg)
		}
		hasher := h.New()
		hasher.Write(data)
		if got := hasher.Sum(nil); !bytes.Equal(got, want) {
			return fmt.Errorf("%w: %s %x, expected %x", domain.ErrHashMismatch, alg, got, want)
		}
	}
	return nil
}

// Verify checks downloaded target bytes against the fileinfo.
func (f *FileInfo) Verify(data []byte) error {
	return VerifyLengthHashes(data, f.Length, f.Hashes)
}

// Verify checks fetched metadata bytes against the description.
func (m *MetaFile) Verify(data []byte) error {
	return VerifyLengthHashes(data, m.Length, m.Hashes)
}

func (m *MetaFile) validate() error {
	if m.Version < 1 {
		return fmt.Errorf("version %d out of range", m.Version)
	}
	if m.Length < 1 {
		return fmt.Errorf("length %d out of range", m.Length)
	}
	return m.Hashes.validate()
}
