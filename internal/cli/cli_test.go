package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/ralt/repoindex/internal/generator/deb"
	"github.com/ralt/repoindex/internal/models"
	"github.com/ralt/repoindex/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// writeConfig creates a configuration with a local store and one Debian
// repository named apt.
func writeConfig(t *testing.T) (configPath, storeDir string) {
	t.Helper()
	dir := t.TempDir()
	storeDir = filepath.Join(dir, "store")
	configPath = filepath.Join(dir, "config.yaml")

	config := fmt.Sprintf(`storage:
  type: local
  path: %s
repositories:
  - name: apt
    type: deb
    archs: [amd64, arm64]
`, storeDir)
	require.NoError(t, os.WriteFile(configPath, []byte(config), 0o644))
	return configPath, storeDir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeDeb(t *testing.T, dir, name, version, arch string) string {
	t.Helper()
	p := filepath.Join(dir, fmt.Sprintf("%s_%s_%s.deb", name, version, arch))
	blob := testutil.BuildDeb(testutil.DebOptions{Name: name, Version: version, Architecture: arch})
	require.NoError(t, os.WriteFile(p, blob, 0o644))
	return p
}

func packages(t *testing.T, storeDir, arch string) []string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(storeDir, "apt", "dists", "stable", "main", "binary-"+arch, "Packages"))
	require.NoError(t, err)
	paragraphs, err := deb.ParseParagraphs(data)
	require.NoError(t, err)

	var out []string
	for _, p := range paragraphs {
		out = append(out, p.Get("Package")+"="+p.Get("Version"))
	}
	return out
}

func TestUploadDirectoryAndRemove(t *testing.T) {
	configPath, storeDir := writeConfig(t)

	in := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(in, "nested"), 0o755))
	writeDeb(t, in, "alpha", "1.0", "amd64")
	writeDeb(t, in, "alpha", "2.0", "amd64")
	writeDeb(t, filepath.Join(in, "nested"), "beta", "0.1", "all")
	require.NoError(t, os.WriteFile(filepath.Join(in, "README"), []byte("not a package"), 0o644))

	_, err := execute(t, "--config", configPath, "upload", "apt", in, "--jobs", "3")
	require.NoError(t, err)

	assert.Equal(t, []string{"beta=0.1", "alpha=1.0", "alpha=2.0"}, packages(t, storeDir, "amd64"))
	assert.Equal(t, []string{"beta=0.1"}, packages(t, storeDir, "arm64"))

	_, err = execute(t, "--config", configPath, "remove", "apt", "pool/main/a/alpha/alpha_1.0_amd64.deb")
	require.NoError(t, err)
	assert.Equal(t, []string{"beta=0.1", "alpha=2.0"}, packages(t, storeDir, "amd64"))
	assert.NoFileExists(t, filepath.Join(storeDir, "apt", "pool", "main", "a", "alpha", "alpha_1.0_amd64.deb"))

	_, err = execute(t, "--config", configPath, "remove", "apt", "pool/main/a/alpha/alpha_1.0_amd64.deb")
	assert.True(t, models.IsType(err, models.ErrNotFound), "got %v", err)
}

func TestRemoveChecksumFromFile(t *testing.T) {
	configPath, storeDir := writeConfig(t)
	in := t.TempDir()
	alpha := writeDeb(t, in, "alpha", "1.0", "amd64")
	other := writeDeb(t, in, "other", "1.0", "amd64")

	_, err := execute(t, "--config", configPath, "upload", "apt", alpha)
	require.NoError(t, err)

	target := "pool/main/a/alpha/alpha_1.0_amd64.deb"
	_, err = execute(t, "--config", configPath, "remove", "apt", target, "--checksum-from", other)
	assert.True(t, models.IsType(err, models.ErrChecksumMismatch), "got %v", err)
	assert.Equal(t, []string{"alpha=1.0"}, packages(t, storeDir, "amd64"))

	_, err = execute(t, "--config", configPath, "remove", "apt", target, "--checksum-from", alpha, "--checksum-type", "sha1")
	require.NoError(t, err)
	assert.Empty(t, packages(t, storeDir, "amd64"))
}

func TestUploadReportsFailures(t *testing.T) {
	configPath, storeDir := writeConfig(t)
	in := t.TempDir()
	good := writeDeb(t, in, "alpha", "1.0", "amd64")
	bad := filepath.Join(in, "broken.deb")
	require.NoError(t, os.WriteFile(bad, []byte("garbage"), 0o644))

	_, err := execute(t, "--config", configPath, "upload", "apt", good, bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 uploads failed")
	assert.Equal(t, []string{"alpha=1.0"}, packages(t, storeDir, "amd64"))

	// Re-uploading needs an override
	_, err = execute(t, "--config", configPath, "upload", "apt", good)
	assert.Error(t, err)
	_, err = execute(t, "--config", configPath, "upload", "apt", good, "--override")
	assert.NoError(t, err)
}

func TestUnknownRepository(t *testing.T) {
	configPath, _ := writeConfig(t)
	_, err := execute(t, "--config", configPath, "upload", "yum", t.TempDir())
	assert.True(t, models.IsType(err, models.ErrInvalidConfig), "got %v", err)

	_, err = execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "remove", "apt", "x")
	assert.True(t, models.IsType(err, models.ErrInvalidConfig), "got %v", err)
}

func TestInspect(t *testing.T) {
	p := writeDeb(t, t.TempDir(), "hello", "1:2.0-1", "all")

	out, err := execute(t, "inspect", p, "--arch", "amd64,arm64")
	require.NoError(t, err)

	var got inspection
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))
	assert.Equal(t, "deb", got.Type)
	assert.Equal(t, "hello", got.Name)
	assert.Equal(t, "1:2.0-1", got.Version)
	assert.Equal(t, []string{"hello:1:2.0-1:amd64", "hello:1:2.0-1:arm64"}, got.Identities)
	assert.Len(t, got.Checksums["sha256"], 64)

	bad := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(bad, []byte("hello"), 0o644))
	_, err = execute(t, "inspect", bad)
	assert.True(t, models.IsType(err, models.ErrInvalidPackageFormat), "got %v", err)

	_, err = execute(t, "inspect", bad, "--type", "apk")
	assert.True(t, models.IsType(err, models.ErrInvalidConfig), "got %v", err)
}
