package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ralt/repoindex/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksumsOf(t *testing.T) {
	sums := ChecksumsOf([]byte("hello"))

	assert.Equal(t, int64(5), sums.Size)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", sums.MD5)
	assert.Equal(t, "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d", sums.SHA1)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", sums.SHA256)
	assert.Len(t, sums.SHA512, 128)

	v, ok := sums.Get("SHA256")
	require.True(t, ok)
	assert.Equal(t, sums.SHA256, v)
	_, ok = sums.Get("crc32")
	assert.False(t, ok)
}

func TestCalculateChecksumsMatchesInMemory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blob")
	require.NoError(t, os.WriteFile(path, []byte("package bytes"), 0644))

	fromFile, err := CalculateChecksums(path)
	require.NoError(t, err)
	assert.Equal(t, ChecksumsOf([]byte("package bytes")), fromFile)
}

func TestDigest(t *testing.T) {
	data := []byte("hello")
	for alg, want := range map[string]string{
		"md5":    "5d41402abc4b2a76b9719d911017c592",
		"sha1":   "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d",
		"SHA256": "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
	} {
		got, err := Digest(alg, data)
		require.NoError(t, err, alg)
		assert.Equal(t, want, got, alg)
	}

	_, err := Digest("whirlpool", data)
	assert.Error(t, err)
}

func TestVerifyDigest(t *testing.T) {
	data := []byte("hello")

	assert.NoError(t, VerifyDigest("sha256", "2CF24DBA5FB0A30E26E83B2AC5B9E29E1B161E5C1FA7425E73043362938B9824", data))
	assert.NoError(t, VerifyDigest("md5", "5d41402abc4b2a76b9719d911017c592", data))

	err := VerifyDigest("sha256", strings.Repeat("0", 64), data)
	assert.True(t, models.IsType(err, models.ErrChecksumMismatch))

	err = VerifyDigest("sha1", "deadbeef", data)
	assert.True(t, models.IsType(err, models.ErrChecksumMismatch))

	err = VerifyDigest("sha512", "not-hex", data)
	assert.True(t, models.IsType(err, models.ErrChecksumMismatch))
}

func TestGzipIsReproducible(t *testing.T) {
	data := []byte(strings.Repeat("Package: hello\n", 100))

	first, err := GzipCompress(data)
	require.NoError(t, err)
	second, err := GzipCompress(data)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	out, err := GzipDecompress(first)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestNewDecompressorPassthrough(t *testing.T) {
	r, err := NewDecompressor("control.tar", strings.NewReader("plain"))
	require.NoError(t, err)
	defer r.Close()

	buf := make([]byte, 5)
	_, err = r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "plain", string(buf))

	_, err = NewDecompressor("control.tar.bz2", strings.NewReader(""))
	assert.Error(t, err)
}

func TestWriteFileAtomic(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a", "b", "file")

	require.NoError(t, WriteFileAtomic(path, []byte("one"), 0644))
	require.NoError(t, WriteFileAtomic(path, []byte("two"), 0644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestPruneEmptyDirs(t *testing.T) {
	root := t.TempDir()
	deep := filepath.Join(root, "a", "b", "c")
	require.NoError(t, EnsureDir(deep))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "keep"), nil, 0644))

	PruneEmptyDirs(deep, root)

	_, err := os.Stat(filepath.Join(root, "a", "b"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(root, "a"))
	assert.NoError(t, err)
}
