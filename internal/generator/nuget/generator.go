// Package nuget maintains NuGet v3 feeds: package content laid out as a flat
// container plus one registration index per package id.
package nuget

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/ralt/repoindex/internal/index"
	"github.com/ralt/repoindex/internal/models"
	"github.com/ralt/repoindex/internal/scanner"
	"github.com/ralt/repoindex/internal/storage"
	"github.com/ralt/repoindex/internal/utils"
	"github.com/ralt/repoindex/internal/version"
	"github.com/sirupsen/logrus"
)

// Generator implements the generator.Generator interface for NuGet feeds
type Generator struct {
	config  *models.RepositoryConfig
	updater *index.Updater[RegistrationLeaf]
}

// NewGenerator creates a NuGet generator. Feeds are not signed.
func NewGenerator(config *models.RepositoryConfig) *Generator {
	return &Generator{
		config:  config,
		updater: index.NewUpdater[RegistrationLeaf](version.CompareSemantic),
	}
}

// Type returns the package type this generator supports
func (g *Generator) Type() scanner.PackageType { return scanner.TypeNuget }

// Config returns the repository configuration
func (g *Generator) Config() *models.RepositoryConfig { return g.config }

// AllowOverride reports whether a version can be pushed again.
func (g *Generator) AllowOverride() bool { return g.config.AllowOverride }

// RequireChecksum reports false: id and version address a single blob.
func (g *Generator) RequireChecksum() bool { return false }

func (g *Generator) versionDir(pkg *models.PackageMetadata) string {
	return g.config.Key(pkg.Name, pkg.Version)
}

// BlobKey returns <id>/<version>/<id>.<version>.nupkg
func (g *Generator) BlobKey(pkg *models.PackageMetadata) string {
	return path.Join(g.versionDir(pkg), pkg.Name+"."+pkg.Version+".nupkg")
}

func (g *Generator) nuspecKey(pkg *models.PackageMetadata) string {
	return path.Join(g.versionDir(pkg), pkg.Name+".nuspec")
}

func (g *Generator) hashKey(pkg *models.PackageMetadata) string {
	return g.BlobKey(pkg) + ".sha512"
}

func (g *Generator) registrationKey(id string) string {
	return g.config.Key("registrations", id, "index.json")
}

func (g *Generator) versionsKey(id string) string {
	return g.config.Key(id, "index.json")
}

// ResolveKey accepts <id>/<version> or the full path of a .nupkg.
func (g *Generator) ResolveKey(target string) (string, error) {
	parts := strings.Split(strings.Trim(path.Clean("/"+target), "/"), "/")
	if len(parts) == 3 && strings.HasSuffix(parts[2], ".nupkg") {
		parts = parts[:2]
	}
	if len(parts) != 2 || parts[0] == "" || parts[0] == "registrations" {
		return "", models.Errorf(models.ErrNotFound, "%s does not name a package version", target)
	}
	v, ok := version.ParseSemantic(parts[1])
	if !ok {
		return "", models.Errorf(models.ErrNotFound, "%s does not name a package version", target)
	}
	return g.BlobKey(&models.PackageMetadata{
		Name:    strings.ToLower(parts[0]),
		Version: strings.ToLower(v.Normalized()),
	}), nil
}

// IndexRoot returns the package id directory: versions of different ids
// are indexed independently.
func (g *Generator) IndexRoot(pkg *models.PackageMetadata) string {
	return g.config.Key(pkg.Name)
}

func (g *Generator) readIndex(ctx context.Context, st storage.Storage, id string) (index.Index[RegistrationLeaf], error) {
	key := g.registrationKey(id)
	data, err := st.Read(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return index.Index[RegistrationLeaf]{}, nil
	}
	if err != nil {
		return index.Index[RegistrationLeaf]{}, err
	}
	entries, err := parseRegistration(data)
	if err != nil {
		return index.Index[RegistrationLeaf]{}, models.Wrap(models.ErrStorageUnavailable, key, fmt.Errorf("corrupt index: %w", err))
	}
	return g.updater.From(entries), nil
}

func (g *Generator) writeIndex(ctx context.Context, st storage.Storage, id string, idx index.Index[RegistrationLeaf]) error {
	data, err := generateRegistration(g.updater, idx)
	if err != nil {
		return fmt.Errorf("failed to render registration: %w", err)
	}
	if err := st.Write(ctx, g.registrationKey(id), data); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"repo": g.config.Name, "id": id, "versions": idx.Len()}).Debug("Wrote registration")
	return nil
}

// Contains reports whether this version of the package is registered.
func (g *Generator) Contains(ctx context.Context, st storage.Storage, pkg *models.PackageMetadata) (bool, error) {
	idx, err := g.readIndex(ctx, st, pkg.Name)
	if err != nil {
		return false, err
	}
	return idx.Contains(pkg.Identity("")), nil
}

// Publish writes the package with its nuspec and base64 SHA-512 hash.
func (g *Generator) Publish(ctx context.Context, st storage.Storage, pkg *models.PackageMetadata, blob []byte) error {
	raw, _, err := ReadNuspec(blob)
	if err != nil {
		return models.Wrap(models.ErrInvalidPackageFormat, pkg.Name, err)
	}

	sum, err := utils.Digest("sha512", blob)
	if err != nil {
		return err
	}
	digest, err := hex.DecodeString(sum)
	if err != nil {
		return err
	}

	if err := st.Write(ctx, g.BlobKey(pkg), blob); err != nil {
		return err
	}
	if err := st.Write(ctx, g.nuspecKey(pkg), raw); err != nil {
		return err
	}
	return st.Write(ctx, g.hashKey(pkg), []byte(base64.StdEncoding.EncodeToString(digest)))
}

// Unpublish deletes the package and its derived artifacts.
func (g *Generator) Unpublish(ctx context.Context, st storage.Storage, pkg *models.PackageMetadata) error {
	for _, key := range []string{g.hashKey(pkg), g.nuspecKey(pkg), g.BlobKey(pkg)} {
		if err := st.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// Add registers the version, replacing a previous registration of it.
func (g *Generator) Add(ctx context.Context, st storage.Storage, pkg *models.PackageMetadata) error {
	idx, err := g.readIndex(ctx, st, pkg.Name)
	if err != nil {
		return err
	}
	if v, ok := version.ParseSemantic(pkg.Version); ok {
		logrus.WithFields(logrus.Fields{
			"id":         pkg.Name,
			"version":    pkg.Version,
			"prerelease": v.IsPrerelease(),
			"semver2":    v.IsSemVer2(),
		}).Debug("Registering version")
	}
	leaf := RegistrationLeaf{ID: placeholder, PackageContent: placeholder, CatalogEntry: catalogEntry(pkg)}
	return g.writeIndex(ctx, st, pkg.Name, g.updater.Add(idx, index.Entry[RegistrationLeaf]{ID: pkg.Identity(""), Value: leaf}))
}

// Remove unregisters the version.
func (g *Generator) Remove(ctx context.Context, st storage.Storage, pkg *models.PackageMetadata) (bool, error) {
	idx, err := g.readIndex(ctx, st, pkg.Name)
	if err != nil {
		return false, err
	}
	idx, removed := g.updater.Remove(idx, pkg.Identity(""))
	if !removed {
		return false, nil
	}
	return true, g.writeIndex(ctx, st, pkg.Name, idx)
}

// Regenerate rewrites the flat container version list from the
// registration.
func (g *Generator) Regenerate(ctx context.Context, st storage.Storage, pkg *models.PackageMetadata) error {
	idx, err := g.readIndex(ctx, st, pkg.Name)
	if err != nil {
		return err
	}
	data, err := generateVersions(idx)
	if err != nil {
		return fmt.Errorf("failed to render versions: %w", err)
	}
	return st.Write(ctx, g.versionsKey(pkg.Name), data)
}
