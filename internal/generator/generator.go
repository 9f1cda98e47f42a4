package generator

import (
	"context"

	"github.com/ralt/repoindex/internal/models"
	"github.com/ralt/repoindex/internal/scanner"
	"github.com/ralt/repoindex/internal/storage"
)

// Generator maintains the index and release manifest of one repository of a
// single package format. Every storage key it deals in is prefixed with the
// repository name.
//
// Extract and the key helpers are pure. The storage operations are called by
// the transaction coordinator while it holds exclusive access to
// IndexRoot(meta), always in the order Publish, Add, Regenerate for an upload
// and Remove, Regenerate, Unpublish for a removal.
type Generator interface {
	// Type returns the package type this generator supports
	Type() scanner.PackageType

	// Config returns the repository this generator maintains
	Config() *models.RepositoryConfig

	// Extract parses a package blob. It never touches storage and fails
	// with InvalidPackageFormat or UnsupportedVariant.
	Extract(blob []byte) (*models.PackageMetadata, error)

	// BlobKey is the storage key the package blob is published under
	BlobKey(meta *models.PackageMetadata) string

	// ResolveKey maps a client supplied path, relative to the repository,
	// to the blob key it designates.
	ResolveKey(target string) (string, error)

	// IndexRoot is the key exclusive access is taken on for meta
	IndexRoot(meta *models.PackageMetadata) string

	// AllowOverride reports whether re-uploading an existing identity
	// replaces it without an explicit override request
	AllowOverride() bool

	// RequireChecksum reports whether removals must carry the blob checksum
	RequireChecksum() bool

	// Contains reports whether any identity of meta is already indexed
	Contains(ctx context.Context, st storage.Storage, meta *models.PackageMetadata) (bool, error)

	// Publish writes the blob and any artifacts derived from it
	Publish(ctx context.Context, st storage.Storage, meta *models.PackageMetadata, blob []byte) error

	// Unpublish deletes the blob and its derived artifacts
	Unpublish(ctx context.Context, st storage.Storage, meta *models.PackageMetadata) error

	// Add inserts meta into the index of every variant it applies to
	Add(ctx context.Context, st storage.Storage, meta *models.PackageMetadata) error

	// Remove deletes meta from every variant index. It reports whether any
	// entry was present.
	Remove(ctx context.Context, st storage.Storage, meta *models.PackageMetadata) (bool, error)

	// Regenerate rebuilds the release manifest from the persisted indexes
	Regenerate(ctx context.Context, st storage.Storage, meta *models.PackageMetadata) error
}
