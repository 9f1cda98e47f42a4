package rpm

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
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
)

// primaryArtifact matches primary metadata under either naming policy
var primaryArtifact = regexp.MustCompile(`^(?:[0-9a-f]+-)?primary\.xml\.gz$`)

// Generator implements the generator.Generator interface for RPM repositories
type Generator struct {
	config  *models.RepositoryConfig
	signer  signer.Signer
	updater *index.Updater[xmlPkg]
	now     func() time.Time
}

// NewGenerator creates a new RPM generator. s may be nil for an unsigned
// repository.
func NewGenerator(config *models.RepositoryConfig, s signer.Signer) *Generator {
	return &Generator{
		config:  config,
		signer:  s,
		updater: index.NewUpdater[xmlPkg](version.Compare),
		now:     time.Now,
	}
}

// Type returns the package type this generator supports
func (g *Generator) Type() scanner.PackageType { return scanner.TypeRpm }

// Config returns the repository configuration
func (g *Generator) Config() *models.RepositoryConfig { return g.config }

// AllowOverride reports whether re-uploads replace without override=true.
func (g *Generator) AllowOverride() bool { return g.config.AllowOverride }

// RequireChecksum reports true: a removal must prove which build it targets.
func (g *Generator) RequireChecksum() bool { return true }

// BlobKey returns Packages/<name>-<version>-<release>.<arch>.rpm
func (g *Generator) BlobKey(pkg *models.PackageMetadata) string {
	_, ver, rel := splitEVR(pkg.Version)
	return g.config.Key("Packages", fmt.Sprintf("%s-%s-%s.%s.rpm", pkg.Name, ver, rel, pkg.Architecture))
}

// ResolveKey accepts Packages/<file>.rpm or a bare <file>.rpm.
func (g *Generator) ResolveKey(target string) (string, error) {
	target = strings.TrimPrefix(path.Clean("/"+target), "/")
	target = strings.TrimPrefix(target, "Packages/")
	if target == "" || strings.Contains(target, "/") || !strings.HasSuffix(target, ".rpm") {
		return "", models.Errorf(models.ErrNotFound, "%s is not an RPM package", target)
	}
	return g.config.Key("Packages", target), nil
}

// IndexRoot returns the repodata directory shared by every package
func (g *Generator) IndexRoot(*models.PackageMetadata) string {
	return g.repodataKey()
}

func (g *Generator) repodataKey() string {
	return g.config.Key("repodata")
}

// primaryKeys lists the primary metadata files currently in repodata.
func (g *Generator) primaryKeys(ctx context.Context, st storage.Storage) ([]string, error) {
	keys, err := st.List(ctx, g.repodataKey())
	if err != nil {
		return nil, err
	}
	var primaries []string
	for _, key := range keys {
		if primaryArtifact.MatchString(strings.TrimPrefix(key, g.repodataKey()+"/")) {
			primaries = append(primaries, key)
		}
	}
	return primaries, nil
}

// currentPrimary returns the key of the authoritative primary metadata, or
// "" for a repository without one. When several are present, repomd.xml
// decides.
func (g *Generator) currentPrimary(ctx context.Context, st storage.Storage) (string, error) {
	primaries, err := g.primaryKeys(ctx, st)
	if err != nil {
		return "", err
	}
	switch len(primaries) {
	case 0:
		return "", nil
	case 1:
		return primaries[0], nil
	}

	data, err := st.Read(ctx, path.Join(g.repodataKey(), "repomd.xml"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return primaries[len(primaries)-1], nil
		}
		return "", err
	}
	href, err := primaryLocation(data)
	if err != nil {
		return "", models.Wrap(models.ErrStorageUnavailable, g.config.Name, fmt.Errorf("corrupt repomd.xml: %w", err))
	}
	return g.config.Key(href), nil
}

func (g *Generator) readIndex(ctx context.Context, st storage.Storage) (index.Index[xmlPkg], error) {
	key, err := g.currentPrimary(ctx, st)
	if err != nil || key == "" {
		return index.Index[xmlPkg]{}, err
	}

	compressed, err := st.Read(ctx, key)
	if err != nil {
		return index.Index[xmlPkg]{}, err
	}
	data, err := utils.GzipDecompress(compressed)
	if err != nil {
		return index.Index[xmlPkg]{}, models.Wrap(models.ErrStorageUnavailable, key, fmt.Errorf("corrupt index: %w", err))
	}
	entries, err := parsePrimaryXML(data)
	if err != nil {
		return index.Index[xmlPkg]{}, models.Wrap(models.ErrStorageUnavailable, key, err)
	}
	return g.updater.From(entries), nil
}

// writeIndex stores idx under the name the naming policy gives it and
// deletes every other primary file, so that exactly one remains.
func (g *Generator) writeIndex(ctx context.Context, st storage.Storage, idx index.Index[xmlPkg]) error {
	primaryXML, err := generatePrimaryXML(idx)
	if err != nil {
		return fmt.Errorf("failed to generate primary.xml: %w", err)
	}
	primaryGz, err := utils.GzipCompress(primaryXML)
	if err != nil {
		return fmt.Errorf("failed to compress primary.xml: %w", err)
	}

	name := "primary.xml.gz"
	if g.config.NamingPolicy != "plain" {
		name = utils.ChecksumsOf(primaryGz).SHA256 + "-" + name
	}
	key := path.Join(g.repodataKey(), name)

	stale, err := g.primaryKeys(ctx, st)
	if err != nil {
		return err
	}
	if err := st.Write(ctx, key, primaryGz); err != nil {
		return err
	}
	for _, old := range stale {
		if old == key {
			continue
		}
		if err := st.Delete(ctx, old); err != nil {
			return err
		}
	}

	logrus.WithFields(logrus.Fields{"repo": g.config.Name, "packages": idx.Len()}).Debug("Wrote primary.xml")
	return nil
}

// Contains reports whether the package is already indexed.
func (g *Generator) Contains(ctx context.Context, st storage.Storage, pkg *models.PackageMetadata) (bool, error) {
	idx, err := g.readIndex(ctx, st)
	if err != nil {
		return false, err
	}
	return idx.Contains(pkg.Identity(pkg.Architecture)), nil
}

// Publish writes the package into Packages/.
func (g *Generator) Publish(ctx context.Context, st storage.Storage, pkg *models.PackageMetadata, blob []byte) error {
	return st.Write(ctx, g.BlobKey(pkg), blob)
}

// Unpublish deletes the package from Packages/.
func (g *Generator) Unpublish(ctx context.Context, st storage.Storage, pkg *models.PackageMetadata) error {
	return st.Delete(ctx, g.BlobKey(pkg))
}

// Add inserts the package into primary.xml, replacing an entry of the same
// name, version and arch.
func (g *Generator) Add(ctx context.Context, st storage.Storage, pkg *models.PackageMetadata) error {
	idx, err := g.readIndex(ctx, st)
	if err != nil {
		return err
	}
	entry := index.Entry[xmlPkg]{ID: pkg.Identity(pkg.Architecture), Value: primaryEntry(pkg, g.config.Digest)}
	return g.writeIndex(ctx, st, g.updater.Add(idx, entry))
}

// Remove deletes the package from primary.xml.
func (g *Generator) Remove(ctx context.Context, st storage.Storage, pkg *models.PackageMetadata) (bool, error) {
	idx, err := g.readIndex(ctx, st)
	if err != nil {
		return false, err
	}
	idx, removed := g.updater.Remove(idx, pkg.Identity(pkg.Architecture))
	if !removed {
		return false, nil
	}
	return true, g.writeIndex(ctx, st, idx)
}

// Regenerate rewrites repomd.xml for the current primary metadata and signs
// it when a key is configured.
func (g *Generator) Regenerate(ctx context.Context, st storage.Storage, _ *models.PackageMetadata) error {
	key, err := g.currentPrimary(ctx, st)
	if err != nil {
		return err
	}
	if key == "" {
		if err := g.writeIndex(ctx, st, index.Index[xmlPkg]{}); err != nil {
			return err
		}
		if key, err = g.currentPrimary(ctx, st); err != nil {
			return err
		}
	}

	compressed, err := st.Read(ctx, key)
	if err != nil {
		return err
	}
	open, err := utils.GzipDecompress(compressed)
	if err != nil {
		return models.Wrap(models.ErrStorageUnavailable, key, fmt.Errorf("corrupt index: %w", err))
	}

	repomdXML, err := generateRepomdXML([]metadataFile{{
		Type:       "primary",
		Href:       g.config.Relative(key),
		Compressed: compressed,
		Open:       open,
	}}, g.config.Digest, g.now())
	if err != nil {
		return fmt.Errorf("failed to generate repomd.xml: %w", err)
	}

	repomdKey := path.Join(g.repodataKey(), "repomd.xml")
	if err := st.Write(ctx, repomdKey, repomdXML); err != nil {
		return err
	}

	if g.signer == nil {
		if err := st.Delete(ctx, repomdKey+".asc"); err != nil {
			return err
		}
		return st.Delete(ctx, repomdKey+".key")
	}
	signature, err := g.signer.SignDetached(repomdXML)
	if err != nil {
		return models.Wrap(models.ErrSigning, g.config.Name, fmt.Errorf("failed to sign repomd.xml: %w", err))
	}
	// Published next to the signature for clients using repo_gpgcheck
	publicKey, err := g.signer.PublicKey()
	if err != nil {
		return models.Wrap(models.ErrSigning, g.config.Name, fmt.Errorf("failed to export public key: %w", err))
	}
	if err := st.Write(ctx, repomdKey+".asc", signature); err != nil {
		return err
	}
	return st.Write(ctx, repomdKey+".key", publicKey)
}
