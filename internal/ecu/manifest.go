/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package ecu

import (
	"fmt"
	"time"

	"github.com/kentakayama/uptane-verifier/internal/metadata"
)

// InstalledImage names the image an ECU runs and the fileinfo it was
// verified against.
type InstalledImage struct {
	Filepath string            `cbor:"filepath"`
	FileInfo metadata.FileInfo `cbor:"fileinfo"`
}

// Manifest is the version report an ECU sends to the Director.
type Manifest struct {
	ECUSerial              string         `cbor:"ecu_serial,omitempty"`
	InstalledImage         InstalledImage `cbor:"installed_image"`
	TimeserverTime         time.Time      `cbor:"timeserver_time"`
	PreviousTimeserverTime time.Time      `cbor:"previous_timeserver_time"`
	// AttacksDetected is empty when nothing was detected.
	AttacksDetected string `cbor:"attacks_detected"`
}

func (m *Manifest) Validate() error {
	if m.InstalledImage.Filepath == "" {
		return fmt.Errorf("%w: empty filepath", ErrInvalidManifest)
	}
	fi := m.InstalledImage.FileInfo
	if fi.Length < 0 {
		return fmt.Errorf("%w: negative length %d", ErrInvalidManifest, fi.Length)
	}
	if len(fi.Hashes) == 0 {
		return fmt.Errorf("%w: installed image has no hashes", ErrInvalidManifest)
	}
	for alg := range fi.Hashes {
		if !metadata.SupportedHash(alg) {
			return fmt.Errorf("%w: unsupported hash algorithm %q", ErrInvalidManifest, alg)
		}
	}
	if m.TimeserverTime.IsZero() {
		return fmt.Errorf("%w: missing timeserver time", ErrInvalidManifest)
	}
	if m.PreviousTimeserverTime.After(m.TimeserverTime) {
		return fmt.Errorf("%w: previous timeserver time %s is after %s", ErrInvalidManifest,
			m.PreviousTimeserverTime.Format(time.RFC3339), m.TimeserverTime.Format(time.RFC3339))
	}
	return nil
}
