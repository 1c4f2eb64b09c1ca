/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_OK(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":memory:", cfg.DatabasePath)
	assert.Equal(t, 8, cfg.MaxDelegationDepth)
	assert.Equal(t, 32, cfg.MaxRootRotations)
	assert.Equal(t, "cbor", cfg.Manifest.Serializer)
	timeout, err := cfg.Download.TimeoutDuration()
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, timeout)
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.toml")
	data := []byte(`
database_path = "/var/lib/uptane/trust.db"
max_delegation_depth = 3

[[repositories]]
name = "director"
root_file = "director/root.cbor"

[[repositories]]
name = "imagerepo"
root_file = "imagerepo/root.cbor"

[download]
mirrors = ["https://mirror1.example.com/targets", "http://mirror2.example.com/"]
timeout = "5s"

[manifest]
serializer = "der"
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	want := ClientConfig{
		DatabasePath:       "/var/lib/uptane/trust.db",
		MaxDelegationDepth: 3,
		MaxRootRotations:   32,
		VerifyCacheSize:    256,
		Repositories: []RepositoryConfig{
			{Name: "director", RootFile: "director/root.cbor"},
			{Name: "imagerepo", RootFile: "imagerepo/root.cbor"},
		},
		Download: DownloadConfig{
			Mirrors:   []string{"https://mirror1.example.com/targets", "http://mirror2.example.com/"},
			Timeout:   "5s",
			UserAgent: "uptane-verifier/download",
		},
		Manifest: ManifestConfig{Serializer: "der"},
	}
	if diff := cmp.Diff(want, cfg, cmpopts.IgnoreFields(ClientConfig{}, "Logger", "Now")); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"unknown field":     `colour = "blue"`,
		"zero depth":        `max_delegation_depth = 0`,
		"bad timeout":       "[download]\ntimeout = \"soon\"",
		"bad mirror scheme": "[download]\nmirrors = [\"ftp://example.com\"]",
		"duplicate repo":    "[[repositories]]\nname = \"a\"\n[[repositories]]\nname = \"a\"",
		"unnamed repo":      "[[repositories]]\nroot_file = \"x\"",
		"bad serializer":    "[manifest]\nserializer = \"ber\"",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestClientConfig_Fallbacks(t *testing.T) {
	var cfg ClientConfig
	assert.NotNil(t, cfg.GetLogger())
	assert.False(t, cfg.Clock()().IsZero())

	fixed := time.Date(2016, 10, 10, 11, 37, 30, 0, time.UTC)
	cfg.Now = func() time.Time { return fixed }
	assert.Equal(t, fixed, cfg.Clock()())
}
