/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

// Package uptane ties the verification engine together: repositories with
// their pinned trust, the pinning resolver, content mirrors and the ECU
// manifest signer.
package uptane

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/kentakayama/uptane-verifier/internal/config"
	"github.com/kentakayama/uptane-verifier/internal/consensus"
	"github.com/kentakayama/uptane-verifier/internal/download"
	"github.com/kentakayama/uptane-verifier/internal/ecu"
	"github.com/kentakayama/uptane-verifier/internal/infra/mirror"
	"github.com/kentakayama/uptane-verifier/internal/infra/sqlite"
	"github.com/kentakayama/uptane-verifier/internal/metadata"
	"github.com/kentakayama/uptane-verifier/internal/metrics"
	"github.com/kentakayama/uptane-verifier/internal/trust"
	"github.com/kentakayama/uptane-verifier/internal/util"
	"github.com/kentakayama/uptane-verifier/internal/verify"
	"go.uber.org/zap"
)

type Client struct {
	cfg        config.ClientConfig
	pinning    *consensus.Pinning
	logger     *zap.Logger
	metrics    *metrics.Metrics
	verifier   *verify.Verifier
	downloader *download.Downloader
	signer     *ecu.Signer

	db           *sql.DB
	repositories map[string]*trust.Repository
	resolver     *consensus.Resolver
}

// Options carries optional collaborators of a Client.
type Options struct {
	Metrics *metrics.Metrics
	// Fetcher replaces the HTTP content mirror fetcher.
	Fetcher download.Fetcher
}

// NewClient prepares a client. pinning may be nil, in which case the
// configured pinning file or the embedded default is used. No trust is
// loaded until Init.
func NewClient(cfg config.ClientConfig, pinning *consensus.Pinning, opts Options) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid client config: %w", err)
	}
	logger := cfg.GetLogger()

	if pinning == nil {
		if cfg.PinningFile != "" {
			var err error
			if pinning, err = consensus.LoadPinning(cfg.PinningFile); err != nil {
				return nil, err
			}
		} else {
			pinning = consensus.DefaultPinning()
		}
	}
	known := util.NewSet[string]()
	for _, r := range cfg.Repositories {
		known.Add(r.Name)
	}
	for _, name := range pinning.RepositoryNames() {
		if !known.Has(name) {
			cfg.Repositories = append(cfg.Repositories, config.RepositoryConfig{Name: name})
		}
	}

	verifier, err := verify.NewVerifier(cfg.VerifyCacheSize, logger)
	if err != nil {
		return nil, err
	}

	fetcher := opts.Fetcher
	if fetcher == nil {
		if fetcher, err = mirror.NewHTTPFetcher(cfg.Download, logger); err != nil {
			return nil, err
		}
	}
	serializer, err := ecu.NewSerializer(cfg.Manifest.Serializer)
	if err != nil {
		return nil, err
	}

	return &Client{
		cfg:        cfg,
		pinning:    pinning,
		logger:     logger,
		metrics:    opts.Metrics,
		verifier:   verifier,
		downloader: download.NewDownloader(fetcher, cfg.Download.Mirrors, logger, opts.Metrics),
		signer:     ecu.NewSigner(serializer, logger, opts.Metrics),
	}, nil
}

func (c *Client) Init(ctx context.Context) error {
	return c.InitWithPath(ctx, c.cfg.DatabasePath)
}

// InitWithPath opens the trust database, restores every repository and
// pins configured root files for repositories without trust yet.
func (c *Client) InitWithPath(ctx context.Context, dbPath string) (err error) {
	db, err := sqlite.InitDB(ctx, dbPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer func() {
		if err != nil {
			sqlite.CloseDB(db)
		}
	}()
	store := sqlite.NewTrustStateStore(db)

	repos := make(map[string]*trust.Repository, len(c.cfg.Repositories))
	list := make([]*trust.Repository, 0, len(c.cfg.Repositories))
	for _, rc := range c.cfg.Repositories {
		repo, err := trust.NewRepository(rc.Name, c.cfg, trust.RepositoryOptions{
			Store:    store,
			Verifier: c.verifier,
			Metrics:  c.metrics,
		})
		if err != nil {
			return err
		}
		if err := repo.Load(ctx); err != nil {
			return err
		}
		if rc.RootFile != "" {
			rootData, err := os.ReadFile(rc.RootFile)
			if err != nil {
				return fmt.Errorf("read root of %q: %w", rc.Name, err)
			}
			if err := repo.Bootstrap(ctx, rootData); err != nil {
				return err
			}
		}
		repos[rc.Name] = repo
		list = append(list, repo)
	}

	resolver, err := consensus.NewResolver(c.pinning, list, c.logger, c.metrics)
	if err != nil {
		return err
	}

	c.db = db
	c.repositories = repos
	c.resolver = resolver
	c.logger.Info("client initialized", zap.String("database", dbPath), zap.Int("repositories", len(repos)))
	return nil
}

func (c *Client) Pinning() *consensus.Pinning {
	return c.pinning
}

// Repository returns the named repository, or nil before Init or for an
// unknown name.
func (c *Client) Repository(name string) *trust.Repository {
	return c.repositories[name]
}

// Bootstrap pins rootData as the first root of repository.
func (c *Client) Bootstrap(ctx context.Context, repository string, rootData []byte) error {
	if c.resolver == nil {
		return ErrNotInitialized
	}
	repo, ok := c.repositories[repository]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRepository, repository)
	}
	return repo.Bootstrap(ctx, rootData)
}

// ResolveTarget refreshes the repositories pinned for path from sources and
// returns the fileinfo they agree on.
func (c *Client) ResolveTarget(ctx context.Context, path string, sources map[string]trust.Source) (*consensus.Target, error) {
	if c.resolver == nil {
		return nil, ErrNotInitialized
	}
	return c.resolver.ResolveTarget(ctx, path, sources)
}

// DownloadTarget fetches a resolved target from the content mirrors.
func (c *Client) DownloadTarget(ctx context.Context, target *consensus.Target) ([]byte, error) {
	return c.downloader.Download(ctx, target.Path, &target.FileInfo)
}

// VerifyTarget checks bytes obtained outside the mirrors against a resolved
// target.
func (c *Client) VerifyTarget(target *consensus.Target, data []byte) error {
	return download.Verify(target.Path, data, &target.FileInfo)
}

// Installed describes a verified target as the image an ECU now runs.
func Installed(target *consensus.Target) ecu.InstalledImage {
	return ecu.InstalledImage{Filepath: target.Path, FileInfo: target.FileInfo}
}

// SignManifest reports the installed image of an ECU, signed by keys.
func (c *Client) SignManifest(ecuSerial string, installed ecu.InstalledImage, timeserverTime, previousTime time.Time, attacksDetected string, keys []*metadata.Key) (*metadata.Envelope, error) {
	return c.signer.SignManifest(&ecu.Manifest{
		ECUSerial:              ecuSerial,
		InstalledImage:         installed,
		TimeserverTime:         timeserverTime,
		PreviousTimeserverTime: previousTime,
		AttacksDetected:        attacksDetected,
	}, keys)
}

// AddManifestSignatures signs an existing manifest with the keys that have
// not signed it yet.
func (c *Client) AddManifestSignatures(env *metadata.Envelope, keys []*metadata.Key) (int, error) {
	return c.signer.Sign(env, keys)
}

// OpenManifest verifies a signed manifest against the keys of an ECU.
func (c *Client) OpenManifest(env *metadata.Envelope, keys *metadata.RoleKeys) (*ecu.Manifest, error) {
	return c.signer.Open(env, keys)
}

func (c *Client) Close() error {
	if c.db != nil {
		err := sqlite.CloseDB(c.db)
		c.db = nil
		return err
	}
	return nil
}
