package repository

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ralt/repoindex/internal/models"
	"github.com/ralt/repoindex/internal/scanner"
	"github.com/ralt/repoindex/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeKey(t *testing.T) string {
	t.Helper()
	e, err := openpgp.NewEntity("Repo Signer", "test", "signer@example.com", nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PrivateKeyType, nil)
	require.NoError(t, err)
	require.NoError(t, e.SerializePrivate(w, nil))
	require.NoError(t, w.Close())

	path := filepath.Join(t.TempDir(), "signing.asc")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func TestNewRegistry(t *testing.T) {
	r, err := NewRegistry([]models.RepositoryConfig{
		{Name: "yum", Type: "rpm"},
		{Name: "apt", Type: "deb"},
		{Name: "feed", Type: "nuget"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"apt", "feed", "yum"}, r.Names())

	for name, typ := range map[string]scanner.PackageType{"apt": scanner.TypeDeb, "yum": scanner.TypeRpm, "feed": scanner.TypeNuget} {
		gen, ok := r.Get(name)
		require.True(t, ok, name)
		assert.Equal(t, typ, gen.Type())
		assert.Equal(t, name, gen.Config().Name)
	}

	apt, _ := r.Get("apt")
	assert.Equal(t, "stable", apt.Config().Codename, "defaults are applied")

	_, ok := r.Get("missing")
	assert.False(t, ok)
}

func TestNewRegistryErrors(t *testing.T) {
	tests := map[string][]models.RepositoryConfig{
		"duplicate":    {{Name: "a", Type: "deb"}, {Name: "a", Type: "nuget"}},
		"unknown type": {{Name: "a", Type: "apk"}},
		"no name":      {{Type: "deb"}},
	}
	for name, configs := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewRegistry(configs)
			assert.True(t, models.IsType(err, models.ErrInvalidConfig), "got %v", err)
		})
	}

	_, err := NewRegistry([]models.RepositoryConfig{{Name: "apt", Type: "deb", GPGKeyPath: filepath.Join(t.TempDir(), "missing.asc")}})
	assert.True(t, models.IsType(err, models.ErrSigning), "got %v", err)
}

func TestSignedRepository(t *testing.T) {
	key := writeKey(t)
	gen, err := NewGenerator(&models.RepositoryConfig{Name: "apt", Type: "deb", GPGKeyPath: key})
	require.NoError(t, err)

	st := storage.NewMemory()
	ctx := context.Background()
	require.NoError(t, gen.Regenerate(ctx, st, nil))

	for _, name := range []string{"Release", "InRelease", "Release.gpg"} {
		exists, err := st.Exists(ctx, "apt/dists/stable/"+name)
		require.NoError(t, err)
		assert.True(t, exists, name)
	}

	inRelease, err := st.Read(ctx, "apt/dists/stable/InRelease")
	require.NoError(t, err)
	assert.Contains(t, string(inRelease), "-----BEGIN PGP SIGNED MESSAGE-----")

	// NuGet feeds ignore the key
	_, err = NewGenerator(&models.RepositoryConfig{Name: "feed", Type: "nuget", GPGKeyPath: key})
	assert.NoError(t, err)
}
