/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package download

import (
	"context"
	"errors"
	"testing"

	"github.com/kentakayama/uptane-verifier/internal/domain"
	"github.com/kentakayama/uptane-verifier/internal/metadata"
	"github.com/kentakayama/uptane-verifier/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type mapFetcher map[string]map[string][]byte

func (f mapFetcher) Fetch(_ context.Context, mirror, path string, _ int64) ([]byte, error) {
	data, ok := f[mirror][path]
	if !ok {
		return nil, errors.New("404 Not Found")
	}
	return data, nil
}

func fileInfo(t *testing.T, content []byte) *metadata.FileInfo {
	hashes, err := metadata.HashesOf(content, "sha256", "sha512")
	require.NoError(t, err)
	return &metadata.FileInfo{Length: int64(len(content)), Hashes: hashes}
}

func TestDownload_FallsBackToNextMirror(t *testing.T) {
	content := []byte("This is an example file.\n")
	fetcher := mapFetcher{
		"https://evil.example.com":   {"file2.txt": []byte("This is a malicious file.\n")},
		"https://broken.example.com": {},
		"https://good.example.com":   {"file2.txt": content},
	}
	m := metrics.New(prometheus.NewRegistry())
	d := NewDownloader(fetcher, []string{"https://evil.example.com", "https://broken.example.com", "https://good.example.com"}, zaptest.NewLogger(t), m)

	data, err := d.Download(context.Background(), "file2.txt", fileInfo(t, content))
	require.NoError(t, err)
	assert.Equal(t, content, data)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Downloads.WithLabelValues(metrics.Success)))
}

func TestDownload_HashMismatchNotReleased(t *testing.T) {
	content := []byte("This is an example file.\n")
	fetcher := mapFetcher{"https://evil.example.com": {"file2.txt": []byte("This is a malicious file!\n")}}
	m := metrics.New(prometheus.NewRegistry())
	d := NewDownloader(fetcher, []string{"https://evil.example.com"}, zaptest.NewLogger(t), m)

	data, err := d.Download(context.Background(), "file2.txt", fileInfo(t, content))
	require.ErrorIs(t, err, domain.ErrHashMismatch)
	assert.ErrorIs(t, err, ErrAllMirrorsFailed)
	assert.Nil(t, data)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Downloads.WithLabelValues(metrics.ErrHash)))
}

func TestDownload_NoMirrors(t *testing.T) {
	d := NewDownloader(mapFetcher{}, nil, nil, nil)
	_, err := d.Download(context.Background(), "file2.txt", fileInfo(t, []byte("x")))
	assert.ErrorIs(t, err, ErrNoMirrors)
}

func TestDownload_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := NewDownloader(mapFetcher{}, []string{"https://good.example.com"}, nil, nil)
	_, err := d.Download(ctx, "file2.txt", fileInfo(t, []byte("x")))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestVerify(t *testing.T) {
	content := []byte("firmware")
	fi := fileInfo(t, content)
	assert.NoError(t, Verify("fw.bin", content, fi))
	err := Verify("fw.bin", []byte("firmwarE"), fi)
	assert.ErrorIs(t, err, domain.ErrHashMismatch)
	assert.Contains(t, err.Error(), "fw.bin")
}
