/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package uptane

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kentakayama/uptane-verifier/internal/config"
	"github.com/kentakayama/uptane-verifier/internal/domain"
	"github.com/kentakayama/uptane-verifier/internal/ecu"
	"github.com/kentakayama/uptane-verifier/internal/metadata"
	"github.com/kentakayama/uptane-verifier/internal/metrics"
	"github.com/kentakayama/uptane-verifier/internal/trust"
	"github.com/kentakayama/uptane-verifier/internal/uptanetest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	file1 = []byte("This is an example file.\n")
	file2 = []byte("This is another example file.\n")
	file3 = []byte("This is some example file.\n")
)

type world struct {
	director *uptanetest.Repository
	image    *uptanetest.Repository
	mirror   *httptest.Server
	sources  map[string]trust.Source
}

// newWorld publishes the image repository with file1, file2 and a role1
// delegation holding file3, and a director assigning file2 and file3.
func newWorld(t *testing.T) *world {
	w := &world{
		director: uptanetest.NewRepository(t, "director"),
		image:    uptanetest.NewRepository(t, "imagerepo"),
	}
	w.image.AddTarget("file1.txt", file1, nil)
	w.image.AddTarget("file2.txt", file2, map[string]any{"type": "application"})
	w.image.Delegate("targets", metadata.DelegatedRole{Name: "role1", Paths: []string{"file*.txt"}, RestrictedPaths: true})
	w.image.AddDelegatedTarget("role1", "file3.txt", file3, nil)
	w.image.Publish()

	w.director.AddTarget("file2.txt", file2, map[string]any{"ecu-serial-number": "ecu11111"})
	w.director.AddTarget("file3.txt", file3, nil)
	w.director.Publish()

	w.sources = map[string]trust.Source{"director": w.director, "imagerepo": w.image}

	mux := http.NewServeMux()
	mux.HandleFunc("/targets/", func(rw http.ResponseWriter, r *http.Request) {
		content, ok := w.image.Content[strings.TrimPrefix(r.URL.Path, "/targets/")]
		if !ok {
			http.NotFound(rw, r)
			return
		}
		rw.Write(content)
	})
	w.mirror = httptest.NewServer(mux)
	t.Cleanup(w.mirror.Close)
	return w
}

func (w *world) config(t *testing.T) config.ClientConfig {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Logger = zaptest.NewLogger(t)
	cfg.Now = func() time.Time { return uptanetest.Epoch }
	cfg.DatabasePath = filepath.Join(dir, "trust.db")
	cfg.Download.Mirrors = []string{w.mirror.URL + "/targets"}
	for _, r := range []*uptanetest.Repository{w.director, w.image} {
		rootFile := filepath.Join(dir, r.Name+".root.cbor")
		require.NoError(t, os.WriteFile(rootFile, r.RootBytes(1), 0o600))
		cfg.Repositories = append(cfg.Repositories, config.RepositoryConfig{Name: r.Name, RootFile: rootFile})
	}
	return cfg
}

func newClient(t *testing.T, cfg config.ClientConfig, m *metrics.Metrics) *Client {
	c, err := NewClient(cfg, nil, Options{Metrics: m})
	require.NoError(t, err)
	require.NoError(t, c.Init(context.Background()))
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClient_ResolveDownloadAndReport(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	m := metrics.New(prometheus.NewRegistry())
	c := newClient(t, w.config(t), m)

	// custom annotations differ, length and hashes agree
	target, err := c.ResolveTarget(ctx, "file2.txt", w.sources)
	require.NoError(t, err)
	assert.Equal(t, int64(len(file2)), target.FileInfo.Length)
	assert.Nil(t, target.FileInfo.Custom)
	assert.Equal(t, []string{"director", "imagerepo"}, target.Repositories)
	assert.Equal(t, "ecu11111", target.Custom["director"]["ecu-serial-number"])

	data, err := c.DownloadTarget(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, file2, data)
	require.NoError(t, c.VerifyTarget(target, data))
	assert.ErrorIs(t, c.VerifyTarget(target, file1), domain.ErrHashMismatch)

	// the image repository alone cannot authorize file1
	_, err = c.ResolveTarget(ctx, "file1.txt", w.sources)
	require.ErrorIs(t, err, domain.ErrConsensusFailed)
	assert.False(t, domain.Retryable(err))

	// file3 is reached through role1 on the image repository
	target3, err := c.ResolveTarget(ctx, "file3.txt", w.sources)
	require.NoError(t, err)
	assert.Equal(t, int64(len(file3)), target3.FileInfo.Length)
	assert.Equal(t, int64(1), c.Repository("imagerepo").Trusted().Version("role1"))

	key := uptanetest.NewKey(t)
	env, err := c.SignManifest("ecu11111", Installed(target), uptanetest.Epoch, uptanetest.Epoch, "", []*metadata.Key{key})
	require.NoError(t, err)
	raw, err := env.Bytes()
	require.NoError(t, err)
	parsed, err := ecu.ParseSignedManifest(raw)
	require.NoError(t, err)
	manifest, err := c.OpenManifest(parsed, &metadata.RoleKeys{
		Name:      "ecu",
		Threshold: 1,
		Keys:      map[string]*metadata.Key{uptanetest.KeyID(t, key): key.Public()},
	})
	require.NoError(t, err)
	assert.Equal(t, "ecu11111", manifest.ECUSerial)
	assert.Equal(t, "file2.txt", manifest.InstalledImage.Filepath)
	assert.True(t, target.FileInfo.SameTarget(&manifest.InstalledImage.FileInfo))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Resolutions.WithLabelValues(metrics.Success)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Resolutions.WithLabelValues(metrics.ErrConsensus)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Downloads.WithLabelValues(metrics.Success)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ManifestSignatures.WithLabelValues(metrics.Success)))
}

func TestClient_TrustSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	cfg := w.config(t)

	c, err := NewClient(cfg, nil, Options{})
	require.NoError(t, err)
	require.NoError(t, c.Init(ctx))
	w.director.RotateRoot()
	_, err = c.ResolveTarget(ctx, "file2.txt", w.sources)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	// a replayed old timestamp is refused after the restart
	oldTimestamp := w.director.Bytes("timestamp")
	w.director.Publish()
	c = newClient(t, cfg, nil)
	director := c.Repository("director").Trusted()
	require.NotNil(t, director)
	assert.Equal(t, int64(2), director.Version("root"))
	assert.Equal(t, int64(2), director.Version("timestamp"))

	_, err = c.ResolveTarget(ctx, "file2.txt", w.sources)
	require.NoError(t, err)
	assert.Equal(t, int64(3), c.Repository("director").Trusted().Version("timestamp"))

	w.director.Set("timestamp", oldTimestamp)
	_, err = c.ResolveTarget(ctx, "file2.txt", w.sources)
	assert.ErrorIs(t, err, domain.ErrRollbackDetected)
}

func TestClient_BootstrapPinnedRepositories(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	cfg := config.Default()
	cfg.Logger = zaptest.NewLogger(t)
	cfg.Now = func() time.Time { return uptanetest.Epoch }

	c, err := NewClient(cfg, nil, Options{})
	require.NoError(t, err)
	_, err = c.ResolveTarget(ctx, "file2.txt", w.sources)
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, c.Bootstrap(ctx, "director", w.director.RootBytes(1)), ErrNotInitialized)

	require.NoError(t, c.Init(ctx))
	t.Cleanup(func() { c.Close() })
	require.NotNil(t, c.Repository("director"))
	require.NotNil(t, c.Repository("imagerepo"))

	require.NoError(t, c.Bootstrap(ctx, "director", w.director.RootBytes(1)))
	assert.ErrorIs(t, c.Bootstrap(ctx, "timeserver", w.director.RootBytes(1)), ErrUnknownRepository)

	_, err = c.ResolveTarget(ctx, "file2.txt", w.sources)
	assert.ErrorIs(t, err, trust.ErrNoTrustedRoot)

	require.NoError(t, c.Bootstrap(ctx, "imagerepo", w.image.RootBytes(1)))
	_, err = c.ResolveTarget(ctx, "file2.txt", w.sources)
	assert.NoError(t, err)
}

func TestNewClient_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Manifest.Serializer = "ber"
	_, err := NewClient(cfg, nil, Options{})
	assert.Error(t, err)

	cfg = config.Default()
	cfg.PinningFile = filepath.Join(t.TempDir(), "missing.json")
	_, err = NewClient(cfg, nil, Options{})
	assert.Error(t, err)
}
