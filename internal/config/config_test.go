package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ralt/repoindex/internal/models"
	"github.com/ralt/repoindex/internal/storage"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
listen: 127.0.0.1:9000
storage:
  type: local
  path: /srv/repos
lock:
  timeout: 45s
log:
  level: debug
repositories:
  - name: apt
    type: deb
    archs: [amd64, arm64]
  - name: yum
    type: rpm
    naming-policy: plain
  - name: feed
    type: nuget
    allow-override: true
`

func TestParse(t *testing.T) {
	cfg, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
	assert.Equal(t, StorageConfig{Type: "local", Path: "/srv/repos"}, cfg.Storage)
	assert.Equal(t, 45*time.Second, cfg.Lock.Timeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	require.Len(t, cfg.Repositories, 3)

	apt, ok := cfg.Repository("apt")
	require.True(t, ok)
	assert.Equal(t, "stable", apt.Codename)
	assert.Equal(t, []string{"main"}, apt.Components)
	assert.Equal(t, []string{"amd64", "arm64"}, apt.Arches)

	yum, ok := cfg.Repository("yum")
	require.True(t, ok)
	assert.Equal(t, "sha256", yum.Digest)
	assert.Equal(t, "plain", yum.NamingPolicy)

	feed, ok := cfg.Repository("feed")
	require.True(t, ok)
	assert.True(t, feed.AllowOverride)

	_, ok = cfg.Repository("missing")
	assert.False(t, ok)
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(strings.NewReader(""))
	require.NoError(t, err)

	assert.Equal(t, DefaultListen, cfg.Listen)
	assert.Equal(t, "local", cfg.Storage.Type)
	assert.Equal(t, DefaultStoragePath, cfg.Storage.Path)
	assert.Equal(t, DefaultLogLevel, cfg.Log.Level)
	assert.Empty(t, cfg.Repositories)
}

func TestParseErrors(t *testing.T) {
	tests := map[string]string{
		"unknown key":        "listen: :80\nbogus: true\n",
		"bad yaml":           "listen: [",
		"storage type":       "storage:\n  type: s3\n",
		"log level":          "log:\n  level: loud\n",
		"memory with redis":  "storage:\n  type: memory\nlock:\n  redis:\n    addr: localhost:6379\n",
		"negative timeout":   "lock:\n  timeout: -1s\n",
		"repository type":    "repositories:\n  - name: x\n    type: apk\n",
		"repository name":    "repositories:\n  - name: a/b\n    type: deb\n",
		"duplicate":          "repositories:\n  - name: x\n    type: deb\n  - name: x\n    type: rpm\n",
		"rpm digest":         "repositories:\n  - name: x\n    type: rpm\n    digest: md5\n",
		"malformed duration": "lock:\n  timeout: soon\n",
	}

	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(data))
			require.Error(t, err)
			assert.True(t, models.IsType(err, models.ErrInvalidConfig), "got %v", err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repoindex.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Repositories, 3)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, models.IsType(err, models.ErrInvalidConfig), "got %v", err)
}

func TestOpenLocalStorage(t *testing.T) {
	cfg, err := Parse(strings.NewReader("storage:\n  path: " + t.TempDir() + "\n"))
	require.NoError(t, err)

	ctx := context.Background()
	st, closer, err := cfg.OpenStorage(ctx)
	require.NoError(t, err)
	defer closer()

	require.NoError(t, st.Write(ctx, "apt/key", []byte("value")))
	data, err := st.Read(ctx, "apt/key")
	require.NoError(t, err)
	assert.Equal(t, "value", string(data))
	assert.FileExists(t, filepath.Join(cfg.Storage.Path, "apt", "key"))
}

func TestOpenStorageWithRedisLock(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg, err := Parse(strings.NewReader("storage:\n  path: " + t.TempDir() + "\nlock:\n  redis:\n    addr: " + mr.Addr() + "\n    ttl: 10s\n"))
	require.NoError(t, err)

	ctx := context.Background()
	st, closer, err := cfg.OpenStorage(ctx)
	require.NoError(t, err)
	defer closer()

	var keys []string
	err = st.WithExclusiveAccess(ctx, "apt/dists/stable", func(ctx context.Context, _ storage.Storage) error {
		keys = mr.Keys()
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, keys, 1)
	assert.Empty(t, mr.Keys(), "lock must be released")
}

func TestOpenStorageRedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg, err := Parse(strings.NewReader("storage:\n  path: " + t.TempDir() + "\nlock:\n  redis:\n    addr: " + addr + "\n"))
	require.NoError(t, err)

	_, _, err = cfg.OpenStorage(context.Background())
	assert.True(t, models.IsType(err, models.ErrStorageUnavailable), "got %v", err)
}

func TestConfigureLogging(t *testing.T) {
	defer logrus.SetOutput(os.Stderr)
	defer logrus.SetLevel(logrus.InfoLevel)

	closer, err := LogConfig{Level: "warn"}.ConfigureLogging(false)
	require.NoError(t, err)
	require.NoError(t, closer.Close())
	assert.Equal(t, logrus.WarnLevel, logrus.GetLevel())

	closer, err = LogConfig{Level: "warn"}.ConfigureLogging(true)
	require.NoError(t, err)
	require.NoError(t, closer.Close())
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())

	file := filepath.Join(t.TempDir(), "repoindex.log")
	closer, err = LogConfig{Level: "info", File: file, MaxSizeMB: 1}.ConfigureLogging(false)
	require.NoError(t, err)
	logrus.Info("rotated logging works")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "rotated logging works")

	_, err = LogConfig{Level: "loud"}.ConfigureLogging(false)
	assert.True(t, models.IsType(err, models.ErrInvalidConfig))
}
