/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/kentakayama/uptane-verifier/resources"
	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"
)

// ClientConfig captures the tunables of an Uptane verification client.
type ClientConfig struct {
	// DatabasePath is where pinned trust is persisted. ":memory:" keeps it
	// for the lifetime of the process only.
	DatabasePath string `toml:"database_path"`
	// MaxDelegationDepth bounds the delegation search below top-level targets.
	MaxDelegationDepth int `toml:"max_delegation_depth"`
	// MaxRootRotations bounds how many new roots one refresh may walk.
	MaxRootRotations int `toml:"max_root_rotations"`
	// VerifyCacheSize is the number of verification outcomes kept.
	VerifyCacheSize int `toml:"verify_cache_size"`
	// PinningFile is the repository pinning document. Empty selects the
	// embedded default.
	PinningFile  string             `toml:"pinning_file"`
	Repositories []RepositoryConfig `toml:"repositories"`
	Download     DownloadConfig     `toml:"download"`
	Manifest     ManifestConfig     `toml:"manifest"`

	Logger *zap.Logger      `toml:"-"`
	Now    func() time.Time `toml:"-"`
}

// RepositoryConfig names a repository and the root it is bootstrapped from.
type RepositoryConfig struct {
	Name     string `toml:"name"`
	RootFile string `toml:"root_file"`
}

// DownloadConfig configures the content mirrors targets are fetched from.
type DownloadConfig struct {
	Mirrors     []string `toml:"mirrors"`
	Timeout     string   `toml:"timeout"`
	InsecureTLS bool     `toml:"insecure_tls"`
	UserAgent   string   `toml:"user_agent"`
}

// ManifestConfig selects how ECU manifests are encoded before signing.
type ManifestConfig struct {
	Serializer string `toml:"serializer"`
}

// TimeoutDuration parses Timeout. An empty value means no timeout.
func (d DownloadConfig) TimeoutDuration() (time.Duration, error) {
	if d.Timeout == "" {
		return 0, nil
	}
	return time.ParseDuration(d.Timeout)
}

// Default returns the embedded defaults.
func Default() ClientConfig {
	cfg, err := decode(ClientConfig{}, resources.DefaultClientConfig)
	if err != nil {
		panic(fmt.Sprintf("embedded client config: %v", err))
	}
	return cfg
}

// Parse overlays data on the defaults and validates the result.
func Parse(data []byte) (ClientConfig, error) {
	cfg, err := decode(Default(), data)
	if err != nil {
		return ClientConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

// Load reads a TOML file and overlays it on the defaults.
func Load(path string) (ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("read client config: %w", err)
	}
	return Parse(data)
}

func decode(base ClientConfig, data []byte) (ClientConfig, error) {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&base); err != nil {
		return ClientConfig{}, fmt.Errorf("decode client config: %w", err)
	}
	return base, nil
}

// Validate checks the configuration for values the client cannot run with.
func (c *ClientConfig) Validate() error {
	if c.DatabasePath == "" {
		return errors.New("database_path must not be empty")
	}
	if c.MaxDelegationDepth < 1 {
		return fmt.Errorf("max_delegation_depth %d must be positive", c.MaxDelegationDepth)
	}
	if c.MaxRootRotations < 1 {
		return fmt.Errorf("max_root_rotations %d must be positive", c.MaxRootRotations)
	}
	if c.VerifyCacheSize < 1 {
		return fmt.Errorf("verify_cache_size %d must be positive", c.VerifyCacheSize)
	}
	seen := make(map[string]struct{}, len(c.Repositories))
	for i, r := range c.Repositories {
		if r.Name == "" {
			return fmt.Errorf("repositories[%d]: name must not be empty", i)
		}
		if _, dup := seen[r.Name]; dup {
			return fmt.Errorf("repository %q configured twice", r.Name)
		}
		seen[r.Name] = struct{}{}
	}
	if _, err := c.Download.TimeoutDuration(); err != nil {
		return fmt.Errorf("download.timeout: %w", err)
	}
	for _, m := range c.Download.Mirrors {
		u, err := url.Parse(m)
		if err != nil {
			return fmt.Errorf("download mirror %q: %w", m, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("download mirror %q: unsupported scheme", m)
		}
	}
	switch c.Manifest.Serializer {
	case "", "cbor", "der":
	default:
		return fmt.Errorf("manifest.serializer %q must be cbor or der", c.Manifest.Serializer)
	}
	return nil
}

// GetLogger returns the configured logger or a no-op one.
func (c *ClientConfig) GetLogger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

// Clock returns the configured time source or time.Now.
func (c *ClientConfig) Clock() func() time.Time {
	if c.Now == nil {
		return time.Now
	}
	return c.Now
}
