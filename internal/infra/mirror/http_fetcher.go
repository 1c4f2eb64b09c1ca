/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package mirror

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/kentakayama/uptane-verifier/internal/config"
	"github.com/kentakayama/uptane-verifier/internal/domain"
	"github.com/kentakayama/uptane-verifier/internal/download"
	"go.uber.org/zap"
)

const defaultUserAgent = "uptane-verifier/download"

// HTTPFetcher downloads target content from HTTP(S) content mirrors.
type HTTPFetcher struct {
	httpClient *http.Client
	userAgent  string
	logger     *zap.Logger
}

func NewHTTPFetcher(cfg config.DownloadConfig, logger *zap.Logger) (*HTTPFetcher, error) {
	timeout, err := cfg.TimeoutDuration()
	if err != nil {
		return nil, fmt.Errorf("parse download timeout: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.InsecureTLS},
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	return &HTTPFetcher{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		userAgent: userAgent,
		logger:    logger,
	}, nil
}

// Fetch reads mirror/path. Bodies longer than limit are refused without
// reading them further.
func (f *HTTPFetcher) Fetch(ctx context.Context, mirror, path string, limit int64) ([]byte, error) {
	base, err := url.Parse(mirror)
	if err != nil {
		return nil, fmt.Errorf("parse mirror URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q", download.ErrUnsupportedMirror, base.Scheme)
	}
	target := base.JoinPath(path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/octet-stream")
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, target.Redacted())
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return nil, fmt.Errorf("unexpected status %s: %s", resp.Status, bytes.TrimSpace(body))
	}
	if resp.ContentLength > limit {
		return nil, fmt.Errorf("%w: mirror announces %d bytes, expected %d", domain.ErrHashMismatch, resp.ContentLength, limit)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes served", domain.ErrHashMismatch, limit)
	}
	f.logger.Debug("content fetched", zap.String("url", target.Redacted()), zap.Int("bytes", len(data)))
	return data, nil
}
