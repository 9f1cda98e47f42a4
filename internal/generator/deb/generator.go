package deb

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/ralt/repoindex/internal/index"
	"github.com/ralt/repoindex/internal/models"
	"github.com/ralt/repoindex/internal/scanner"
	"github.com/ralt/repoindex/internal/signer"
	"github.com/ralt/repoindex/internal/storage"
	"github.com/ralt/repoindex/internal/utils"
	"github.com/ralt/repoindex/internal/version"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// indexArtifact matches the per-architecture index files listed in Release
var indexArtifact = regexp.MustCompile(`^[^/]+/binary-[^/]+/Packages(\.gz)?$`)

// Generator maintains an APT repository: a pool of .deb files, one Packages
// index per configured architecture and a signed Release manifest.
type Generator struct {
	config  *models.RepositoryConfig
	signer  signer.Signer
	updater *index.Updater[Paragraph]
	now     func() time.Time
}

// NewGenerator creates a Debian generator for config. s may be nil for an
// unsigned repository.
func NewGenerator(config *models.RepositoryConfig, s signer.Signer) *Generator {
	return &Generator{
		config:  config,
		signer:  s,
		updater: index.NewUpdater[Paragraph](version.Compare),
		now:     time.Now,
	}
}

// Type returns the package type this generator supports
func (g *Generator) Type() scanner.PackageType { return scanner.TypeDeb }

// Config returns the repository configuration
func (g *Generator) Config() *models.RepositoryConfig { return g.config }

// AllowOverride is configured per repository for Debian.
func (g *Generator) AllowOverride() bool { return g.config.AllowOverride }

// RequireChecksum reports false: removals are addressed by pool path.
func (g *Generator) RequireChecksum() bool { return false }

// BlobKey returns pool/<component>/<prefix>/<name>/<name>_<version>_<arch>.deb
// with the epoch stripped from the version.
func (g *Generator) BlobKey(pkg *models.PackageMetadata) string {
	ver := pkg.Version
	if i := strings.IndexByte(ver, ':'); i >= 0 {
		ver = ver[i+1:]
	}
	filename := fmt.Sprintf("%s_%s_%s.deb", pkg.Name, ver, pkg.Architecture)
	return g.config.Key("pool", g.config.Component(), poolPrefix(pkg.Name), pkg.Name, filename)
}

// poolPrefix follows the Debian archive layout: lib packages are split
// by their fourth letter.
func poolPrefix(name string) string {
	if strings.HasPrefix(name, "lib") && len(name) > 3 {
		return name[:4]
	}
	first := name[:1]
	if first >= "a" && first <= "z" || first >= "0" && first <= "9" {
		return first
	}
	return "0"
}

// ResolveKey accepts the pool path of a package.
func (g *Generator) ResolveKey(target string) (string, error) {
	target = strings.TrimPrefix(path.Clean("/"+target), "/")
	if !strings.HasPrefix(target, "pool/") || !strings.HasSuffix(target, ".deb") {
		return "", models.Errorf(models.ErrNotFound, "%s is not a package in the pool", target)
	}
	return g.config.Key(target), nil
}

// IndexRoot returns the distribution directory: every architecture index
// shares the Release manifest, so they are guarded together.
func (g *Generator) IndexRoot(*models.PackageMetadata) string {
	return g.distsKey()
}

func (g *Generator) distsKey() string {
	return g.config.Key("dists", g.config.Codename)
}

func (g *Generator) packagesKey(arch string) string {
	return g.config.Key("dists", g.config.Codename, g.config.Component(), "binary-"+arch, "Packages")
}

// readIndex loads the index of arch. Packages.gz is authoritative; a
// missing index is empty.
func (g *Generator) readIndex(ctx context.Context, st storage.Storage, arch string) (index.Index[Paragraph], error) {
	key := g.packagesKey(arch)

	var data []byte
	compressed, err := st.Read(ctx, key+".gz")
	switch {
	case err == nil:
		data, err = utils.GzipDecompress(compressed)
		if err != nil {
			return index.Index[Paragraph]{}, models.Wrap(models.ErrStorageUnavailable, key+".gz", fmt.Errorf("corrupt index: %w", err))
		}
	case errors.Is(err, storage.ErrNotFound):
		data, err = st.Read(ctx, key)
		if errors.Is(err, storage.ErrNotFound) {
			return index.Index[Paragraph]{}, nil
		}
		if err != nil {
			return index.Index[Paragraph]{}, err
		}
	default:
		return index.Index[Paragraph]{}, err
	}

	entries, err := ParsePackagesFile(data, arch)
	if err != nil {
		return index.Index[Paragraph]{}, models.Wrap(models.ErrStorageUnavailable, key, fmt.Errorf("corrupt index: %w", err))
	}
	return g.updater.From(entries), nil
}

// readIndexes loads the index of every arch concurrently.
func (g *Generator) readIndexes(ctx context.Context, st storage.Storage, arches []string) ([]index.Index[Paragraph], error) {
	indexes := make([]index.Index[Paragraph], len(arches))

	eg, ctx := errgroup.WithContext(ctx)
	for i, arch := range arches {
		eg.Go(func() error {
			idx, err := g.readIndex(ctx, st, arch)
			if err != nil {
				return err
			}
			indexes[i] = idx
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return indexes, nil
}

func (g *Generator) writeIndex(ctx context.Context, st storage.Storage, arch string, idx index.Index[Paragraph]) error {
	key := g.packagesKey(arch)
	data := GeneratePackagesFile(idx)

	compressed, err := utils.GzipCompress(data)
	if err != nil {
		return fmt.Errorf("failed to compress Packages: %w", err)
	}

	if err := st.Write(ctx, key, data); err != nil {
		return err
	}
	if err := st.Write(ctx, key+".gz", compressed); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{"repo": g.config.Name, "arch": arch, "packages": idx.Len()}).Debug("Wrote Packages index")
	return nil
}

// Contains reports whether pkg is already indexed for any of its variants.
func (g *Generator) Contains(ctx context.Context, st storage.Storage, pkg *models.PackageMetadata) (bool, error) {
	indexes, err := g.readIndexes(ctx, st, pkg.Variants)
	if err != nil {
		return false, err
	}
	for i, arch := range pkg.Variants {
		if indexes[i].Contains(pkg.Identity(arch)) {
			return true, nil
		}
	}
	return false, nil
}

// Publish writes the package into the pool.
func (g *Generator) Publish(ctx context.Context, st storage.Storage, pkg *models.PackageMetadata, blob []byte) error {
	return st.Write(ctx, g.BlobKey(pkg), blob)
}

// Unpublish deletes the package from the pool.
func (g *Generator) Unpublish(ctx context.Context, st storage.Storage, pkg *models.PackageMetadata) error {
	return st.Delete(ctx, g.BlobKey(pkg))
}

// Add inserts pkg into the Packages index of each of its architectures.
func (g *Generator) Add(ctx context.Context, st storage.Storage, pkg *models.PackageMetadata) error {
	indexes, err := g.readIndexes(ctx, st, pkg.Variants)
	if err != nil {
		return err
	}

	entry := PackagesEntry(pkg)
	for i, arch := range pkg.Variants {
		idx := g.updater.Add(indexes[i], index.Entry[Paragraph]{ID: pkg.Identity(arch), Value: entry})
		if err := g.writeIndex(ctx, st, arch, idx); err != nil {
			return fmt.Errorf("failed to write index for %s: %w", arch, err)
		}
	}
	return nil
}

// indexedArches returns the architectures that have a Packages index in
// storage, configured or not.
func (g *Generator) indexedArches(ctx context.Context, st storage.Storage) ([]string, error) {
	prefix := g.config.Key("dists", g.config.Codename, g.config.Component())
	keys, err := st.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	var arches []string
	for _, key := range keys {
		dir, file, ok := strings.Cut(strings.TrimPrefix(key, prefix+"/"), "/")
		if !ok || (file != "Packages" && file != "Packages.gz") {
			continue
		}
		if arch, ok := strings.CutPrefix(dir, "binary-"); ok && arch != "" && !slices.Contains(arches, arch) {
			arches = append(arches, arch)
		}
	}
	return arches, nil
}

// Remove deletes pkg from the Packages index of each of its architectures
// and from any index left over from architectures no longer configured.
func (g *Generator) Remove(ctx context.Context, st storage.Storage, pkg *models.PackageMetadata) (bool, error) {
	arches, err := g.indexedArches(ctx, st)
	if err != nil {
		return false, err
	}
	for _, arch := range pkg.Variants {
		if !slices.Contains(arches, arch) {
			arches = append(arches, arch)
		}
	}

	indexes, err := g.readIndexes(ctx, st, arches)
	if err != nil {
		return false, err
	}

	found := false
	for i, arch := range arches {
		idx, removed := g.updater.Remove(indexes[i], pkg.Identity(arch))
		if !removed {
			continue
		}
		found = true
		if err := g.writeIndex(ctx, st, arch, idx); err != nil {
			return true, fmt.Errorf("failed to write index for %s: %w", arch, err)
		}
	}
	return found, nil
}

// Regenerate rebuilds Release from the index artifacts present in storage
// and refreshes InRelease and Release.gpg.
func (g *Generator) Regenerate(ctx context.Context, st storage.Storage, _ *models.PackageMetadata) error {
	distsKey := g.distsKey()

	keys, err := st.List(ctx, distsKey)
	if err != nil {
		return err
	}
	var artifacts []string
	for _, key := range keys {
		if indexArtifact.MatchString(strings.TrimPrefix(key, distsKey+"/")) {
			artifacts = append(artifacts, key)
		}
	}

	files, err := CalculateReleaseFileInfos(ctx, st, distsKey, artifacts)
	if err != nil {
		return err
	}

	release := GenerateReleaseFile(g.config, files, g.now())
	if err := st.Write(ctx, path.Join(distsKey, "Release"), release); err != nil {
		return err
	}

	inReleaseKey := path.Join(distsKey, "InRelease")
	releaseGpgKey := path.Join(distsKey, "Release.gpg")

	if g.signer == nil {
		// Modern apt reads InRelease first, even for [trusted=yes] sources
		if err := st.Write(ctx, inReleaseKey, release); err != nil {
			return err
		}
		return st.Delete(ctx, releaseGpgKey)
	}

	inRelease, err := g.signer.SignCleartext(release)
	if err != nil {
		return models.Wrap(models.ErrSigning, g.config.Name, fmt.Errorf("failed to sign InRelease: %w", err))
	}
	releaseGpg, err := g.signer.SignDetached(release)
	if err != nil {
		return models.Wrap(models.ErrSigning, g.config.Name, fmt.Errorf("failed to create Release.gpg: %w", err))
	}

	if err := st.Write(ctx, inReleaseKey, inRelease); err != nil {
		return err
	}
	return st.Write(ctx, releaseGpgKey, releaseGpg)
}
