package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name   string
		header []byte
		file   string
		want   PackageType
	}{
		{"deb magic", []byte("!<arch>\ndebian-binary   "), "", TypeDeb},
		{"deb extension", nil, "hello_1.0_amd64.deb", TypeDeb},
		{"rpm magic", []byte{0xED, 0xAB, 0xEE, 0xDB, 0x03}, "", TypeRpm},
		{"rpm extension", nil, "hello-1.0-1.x86_64.rpm", TypeRpm},
		{"nupkg", []byte("PK\x03\x04rest"), "Hello.1.0.0.NUPKG", TypeNuget},
		{"plain zip", []byte("PK\x03\x04rest"), "archive.zip", TypeUnknown},
		{"nupkg with wrong content", []byte("garbage"), "x.nupkg", TypeUnknown},
		{"unknown", []byte("hello"), "README", TypeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Detect(tt.header, tt.file))
		})
	}
}

func TestParseType(t *testing.T) {
	for _, pt := range []PackageType{TypeDeb, TypeRpm, TypeNuget} {
		got, err := ParseType(pt.String())
		require.NoError(t, err)
		assert.Equal(t, pt, got)
	}
	_, err := ParseType("apk")
	assert.Error(t, err)
}

func TestFileSystemScanner(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.deb"), []byte("!<arch>\ndebian"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.nupkg"), []byte("PK\x03\x04"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden.deb"), []byte("!<arch>\n"), 0644))

	pkgs, err := NewFileSystemScanner().Scan(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, pkgs, 2)
	assert.Equal(t, TypeDeb, pkgs[0].Type)
	assert.Equal(t, TypeNuget, pkgs[1].Type)
	assert.Equal(t, int64(4), pkgs[1].Size)
}
