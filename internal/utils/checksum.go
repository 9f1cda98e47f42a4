package utils

import (
	"bytes"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/opencontainers/go-digest"
	"github.com/ralt/repoindex/internal/models"
)

// Checksum contains the digests and size of a blob
type Checksum struct {
	MD5    string
	SHA1   string
	SHA256 string
	SHA512 string
	Size   int64
}

// ChecksumsOf calculates every checksum of data in a single pass
func ChecksumsOf(data []byte) *Checksum {
	// bytes.Reader never fails
	sums, _ := checksumReader(bytes.NewReader(data))
	return sums
}

// CalculateChecksums calculates all checksums for a file in a single pass
func CalculateChecksums(path string) (*Checksum, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return checksumReader(f)
}

func checksumReader(r io.Reader) (*Checksum, error) {
	md5Hash := md5.New()
	sha1Hash := sha1.New()
	sha256Hash := sha256.New()
	sha512Hash := sha512.New()

	multiWriter := io.MultiWriter(md5Hash, sha1Hash, sha256Hash, sha512Hash)

	n, err := io.Copy(multiWriter, r)
	if err != nil {
		return nil, err
	}

	return &Checksum{
		MD5:    hex.EncodeToString(md5Hash.Sum(nil)),
		SHA1:   hex.EncodeToString(sha1Hash.Sum(nil)),
		SHA256: hex.EncodeToString(sha256Hash.Sum(nil)),
		SHA512: hex.EncodeToString(sha512Hash.Sum(nil)),
		Size:   n,
	}, nil
}

// Get returns the hex digest stored for alg.
func (c *Checksum) Get(alg string) (string, bool) {
	switch strings.ToLower(alg) {
	case "md5":
		return c.MD5, true
	case "sha1":
		return c.SHA1, true
	case "sha256":
		return c.SHA256, true
	case "sha512":
		return c.SHA512, true
	}
	return "", false
}

// legacyHashes are the digests go-digest does not register.
var legacyHashes = map[string]func() hash.Hash{
	"md5":  md5.New,
	"sha1": sha1.New,
}

// Digest returns the hex encoded alg digest of data.
func Digest(alg string, data []byte) (string, error) {
	alg = strings.ToLower(alg)
	if newHash, ok := legacyHashes[alg]; ok {
		h := newHash()
		h.Write(data)
		return hex.EncodeToString(h.Sum(nil)), nil
	}
	a := digest.Algorithm(alg)
	if !a.Available() {
		return "", fmt.Errorf("unsupported digest algorithm %q", alg)
	}
	return a.FromBytes(data).Encoded(), nil
}

// VerifyDigest checks that expected is the hex alg digest of data.
func VerifyDigest(alg, expected string, data []byte) error {
	alg = strings.ToLower(alg)
	expected = strings.ToLower(strings.TrimSpace(expected))

	if _, ok := legacyHashes[alg]; ok {
		actual, _ := Digest(alg, data)
		if actual != expected {
			return models.Errorf(models.ErrChecksumMismatch, "%s mismatch: expected %s, got %s", alg, expected, actual)
		}
		return nil
	}

	d := digest.NewDigestFromEncoded(digest.Algorithm(alg), expected)
	if err := d.Validate(); err != nil {
		return models.Errorf(models.ErrChecksumMismatch, "invalid %s checksum: %v", alg, err)
	}
	verifier := d.Verifier()
	verifier.Write(data)
	if !verifier.Verified() {
		return models.Errorf(models.ErrChecksumMismatch, "%s mismatch: expected %s, got %s", alg, expected, d.Algorithm().FromBytes(data).Encoded())
	}
	return nil
}
