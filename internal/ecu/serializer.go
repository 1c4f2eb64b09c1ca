/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package ecu

import (
	"bytes"
	"encoding/asn1"
	"fmt"
	"sort"
	"time"

	"github.com/kentakayama/uptane-verifier/internal/metadata"
)

const (
	SerializerCBOR = "cbor"
	SerializerDER  = "der"
)

// Serializer turns a manifest into the payload bytes that get signed.
// Unmarshal must reject payloads that differ from their own re-encoding.
type Serializer interface {
	Name() string
	Marshal(m *Manifest) ([]byte, error)
	Unmarshal(data []byte) (*Manifest, error)
}

// NewSerializer returns the serializer registered under name.
func NewSerializer(name string) (Serializer, error) {
	switch name {
	case "", SerializerCBOR:
		return CBORSerializer{}, nil
	case SerializerDER:
		return DERSerializer{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSerializer, name)
}

// CBORSerializer encodes manifests with the canonical metadata codec.
type CBORSerializer struct{}

func (CBORSerializer) Name() string { return SerializerCBOR }

func (CBORSerializer) Marshal(m *Manifest) ([]byte, error) {
	return metadata.Encode(m)
}

func (CBORSerializer) Unmarshal(data []byte) (*Manifest, error) {
	if !metadata.IsCanonical(data) {
		return nil, ErrNonCanonicalOutput
	}
	var m Manifest
	if err := metadata.Decode(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}
	return &m, nil
}

type derHash struct {
	Algorithm string `asn1:"utf8"`
	Digest    []byte
}

// derManifest is
//
//	ECUVersionManifest ::= SEQUENCE {
//	  ecuSerial              [0] EXPLICIT UTF8String OPTIONAL,
//	  filepath               UTF8String,
//	  length                 INTEGER,
//	  hashes                 SEQUENCE OF SEQUENCE { alg UTF8String, digest OCTET STRING },
//	  custom                 [1] EXPLICIT OCTET STRING OPTIONAL, -- canonical CBOR map
//	  timeserverTime         GeneralizedTime,
//	  previousTimeserverTime GeneralizedTime,
//	  attacksDetected        UTF8String }
type derManifest struct {
	ECUSerial              string `asn1:"optional,explicit,tag:0,utf8"`
	Filepath               string `asn1:"utf8"`
	Length                 int64
	Hashes                 []derHash
	Custom                 []byte    `asn1:"optional,explicit,tag:1"`
	TimeserverTime         time.Time `asn1:"generalized"`
	PreviousTimeserverTime time.Time `asn1:"generalized"`
	AttacksDetected        string    `asn1:"utf8"`
}

// DERSerializer encodes manifests as ASN.1 DER. Hashes are ordered by
// algorithm name and custom data is carried as canonical CBOR.
type DERSerializer struct{}

func (DERSerializer) Name() string { return SerializerDER }

func (DERSerializer) Marshal(m *Manifest) ([]byte, error) {
	fi := m.InstalledImage.FileInfo
	dm := derManifest{
		ECUSerial:              m.ECUSerial,
		Filepath:               m.InstalledImage.Filepath,
		Length:                 fi.Length,
		TimeserverTime:         m.TimeserverTime.UTC(),
		PreviousTimeserverTime: m.PreviousTimeserverTime.UTC(),
		AttacksDetected:        m.AttacksDetected,
	}
	algs := make([]string, 0, len(fi.Hashes))
	for alg := range fi.Hashes {
		algs = append(algs, alg)
	}
	sort.Strings(algs)
	for _, alg := range algs {
		dm.Hashes = append(dm.Hashes, derHash{Algorithm: alg, Digest: fi.Hashes[alg]})
	}
	if len(fi.Custom) > 0 {
		custom, err := metadata.Encode(fi.Custom)
		if err != nil {
			return nil, fmt.Errorf("encode custom: %w", err)
		}
		dm.Custom = custom
	}
	return asn1.Marshal(dm)
}

func (s DERSerializer) Unmarshal(data []byte) (*Manifest, error) {
	var dm derManifest
	rest, err := asn1.Unmarshal(data, &dm)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidManifest, len(rest))
	}

	m := &Manifest{
		ECUSerial: dm.ECUSerial,
		InstalledImage: InstalledImage{
			Filepath: dm.Filepath,
			FileInfo: metadata.FileInfo{Length: dm.Length, Hashes: make(metadata.Hashes, len(dm.Hashes))},
		},
		TimeserverTime:         dm.TimeserverTime,
		PreviousTimeserverTime: dm.PreviousTimeserverTime,
		AttacksDetected:        dm.AttacksDetected,
	}
	for _, h := range dm.Hashes {
		if _, dup := m.InstalledImage.FileInfo.Hashes[h.Algorithm]; dup {
			return nil, fmt.Errorf("%w: duplicate %s digest", ErrInvalidManifest, h.Algorithm)
		}
		m.InstalledImage.FileInfo.Hashes[h.Algorithm] = h.Digest
	}
	if len(dm.Custom) > 0 {
		if err := metadata.Decode(dm.Custom, &m.InstalledImage.FileInfo.Custom); err != nil {
			return nil, fmt.Errorf("%w: custom: %w", ErrInvalidManifest, err)
		}
	}

	again, err := s.Marshal(m)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(again, data) {
		return nil, ErrNonCanonicalOutput
	}
	return m, nil
}
