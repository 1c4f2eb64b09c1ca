/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package download

import (
	"context"
	"errors"
	"fmt"

	"github.com/kentakayama/uptane-verifier/internal/metadata"
	"github.com/kentakayama/uptane-verifier/internal/metrics"
	"go.uber.org/zap"
)

var (
	ErrNoMirrors         = errors.New("no content mirrors configured")
	ErrAllMirrorsFailed  = errors.New("no mirror served verified content")
	ErrUnsupportedMirror = errors.New("unsupported mirror")
)

// Fetcher retrieves target content from one mirror. It must not return more
// than limit bytes.
type Fetcher interface {
	Fetch(ctx context.Context, mirror, path string, limit int64) ([]byte, error)
}

// Downloader fetches target content from content mirrors, which are
// independent of the repositories that vouched for the target. Content is
// only handed out after it matched the resolved fileinfo.
type Downloader struct {
	fetcher Fetcher
	mirrors []string
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewDownloader(fetcher Fetcher, mirrors []string, logger *zap.Logger, m *metrics.Metrics) *Downloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{
		fetcher: fetcher,
		mirrors: mirrors,
		logger:  logger,
		metrics: m,
	}
}

// Download tries the mirrors in order until one serves content matching fi.
func (d *Downloader) Download(ctx context.Context, path string, fi *metadata.FileInfo) (data []byte, err error) {
	defer func() { d.metrics.ObserveDownload(err) }()

	if len(d.mirrors) == 0 {
		return nil, ErrNoMirrors
	}
	var errs []error
	for _, mirror := range d.mirrors {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := d.fetcher.Fetch(ctx, mirror, path, fi.Length)
		if err == nil {
			err = fi.Verify(data)
		}
		if err == nil {
			d.logger.Info("target downloaded", zap.String("path", path), zap.String("mirror", mirror), zap.Int64("length", fi.Length))
			return data, nil
		}
		d.logger.Warn("mirror rejected", zap.String("path", path), zap.String("mirror", mirror), zap.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", mirror, err))
	}
	return nil, fmt.Errorf("%w for %q: %w", ErrAllMirrorsFailed, path, errors.Join(errs...))
}

// Verify checks content obtained elsewhere against fi.
func Verify(path string, data []byte, fi *metadata.FileInfo) error {
	if err := fi.Verify(data); err != nil {
		return fmt.Errorf("target %q: %w", path, err)
	}
	return nil
}
