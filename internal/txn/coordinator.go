// Package txn runs uploads and removals against a repository index: the
// package is extracted outside any lock, then the index, the release
// manifest and the blob are updated together under exclusive access to the
// index root, and restored if anything in between fails.
package txn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ralt/repoindex/internal/generator"
	"github.com/ralt/repoindex/internal/metrics"
	"github.com/ralt/repoindex/internal/models"
	"github.com/ralt/repoindex/internal/storage"
	"github.com/ralt/repoindex/internal/utils"
	"github.com/sirupsen/logrus"
)

// UploadRequest is a package pushed by a client
type UploadRequest struct {
	Blob []byte
	// Filename is the name the client gave the package, for diagnostics
	Filename string
	// Override replaces an existing package with the same identity
	Override bool
}

// RemoveRequest designates a published package
type RemoveRequest struct {
	// Target is the package path relative to the repository
	Target string
	// ChecksumType and Checksum prove which blob is meant, e.g. "sha256"
	ChecksumType string
	Checksum     string
	// Force skips the checksum requirement
	Force bool
}

// Result describes a finished transaction
type Result struct {
	Repository string
	Package    *models.PackageMetadata
	Identities []models.Identity
	// Key is the storage key of the blob
	Key   string
	State State
	// Replaced is set when an upload overwrote an indexed identity
	Replaced bool
}

// Coordinator serializes index updates per index root.
type Coordinator struct {
	storage storage.Storage
	metrics *metrics.Metrics
	newID   func() string
}

// NewCoordinator returns a coordinator working on st. m may be nil.
func NewCoordinator(st storage.Storage, m *metrics.Metrics) *Coordinator {
	return &Coordinator{
		storage: st,
		metrics: m,
		newID:   uuid.NewString,
	}
}

// tx follows one request through its states.
type tx struct {
	c      *Coordinator
	gen    generator.Generator
	op     string
	start  time.Time
	log    *logrus.Entry
	result *Result
}

func (c *Coordinator) begin(gen generator.Generator, op string, fields logrus.Fields) *tx {
	repo := gen.Config().Name
	t := &tx{
		c:      c,
		gen:    gen,
		op:     op,
		start:  time.Now(),
		log:    logrus.WithFields(fields).WithFields(logrus.Fields{"repo": repo, "op": op}),
		result: &Result{Repository: repo},
	}
	t.enter(StateReceived)
	return t
}

func (t *tx) enter(s State) {
	t.result.State = s
	t.log.WithField("state", s).Debug("Transaction state changed")
}

func (t *tx) identify(meta *models.PackageMetadata) {
	t.result.Package = meta
	t.result.Identities = meta.Identities()
	t.result.Key = t.gen.BlobKey(meta)
	t.log = t.log.WithField("package", meta.Name+":"+meta.Version)
}

// finish records the outcome and returns the result with err.
func (t *tx) finish(err error) (*Result, error) {
	outcome := "committed"
	if err != nil {
		t.enter(StateFailed)
		outcome = strings.ToLower(models.TypeOf(err).String())
		t.log.WithError(err).Warn("Transaction failed")
	} else {
		t.enter(StateCommitted)
		t.log.WithField("identities", len(t.result.Identities)).Info("Transaction committed")
	}
	t.c.metrics.ObserveTransaction(t.result.Repository, t.gen.Type().String(), t.op, outcome, time.Since(t.start))
	return t.result, err
}

// exclusively runs update under the lock on the index root of meta with a
// journaled storage, rolling every change back if update fails.
func (t *tx) exclusively(ctx context.Context, meta *models.PackageMetadata, update func(ctx context.Context, st storage.Storage) error) error {
	t.enter(StateAwaitingExclusiveAccess)
	waitStart := time.Now()

	return t.c.storage.WithExclusiveAccess(ctx, t.gen.IndexRoot(meta), func(ctx context.Context, st storage.Storage) error {
		t.c.metrics.ObserveLockWait(t.result.Repository, time.Since(waitStart))
		t.enter(StateUpdating)

		j := newJournal(st)
		err := update(ctx, j)
		if err == nil {
			t.log.WithField("keys", len(j.changed())).Debug("Index updated")
			return nil
		}

		var failures int
		if len(j.changed()) > 0 {
			failures = j.rollback(ctx, t.log)
			t.c.metrics.Rollback(t.result.Repository, failures)
			t.log.WithField("failures", failures).Warn("Rolled back index update")
		}

		// Rejections decided inside the section keep their own classification
		if models.IsType(err, models.ErrIdentityConflict) || models.IsType(err, models.ErrNotFound) {
			return err
		}
		return &models.IndexError{Type: models.ErrTransactionAborted, Package: meta.Name, Err: err}
	})
}

// Upload extracts req.Blob and publishes it with the index and manifest of
// the repository gen maintains.
func (c *Coordinator) Upload(ctx context.Context, gen generator.Generator, req UploadRequest) (*Result, error) {
	t := c.begin(gen, "upload", logrus.Fields{"filename": req.Filename, "size": len(req.Blob)})

	// The blob is kept until the transaction ends so that a crash leaves a
	// trace under .upload instead of a half published package
	tempKey := gen.Config().Key(".upload", c.newID())
	if err := c.storage.Write(ctx, tempKey, req.Blob); err != nil {
		return t.finish(err)
	}
	defer func() {
		if err := c.storage.Delete(context.WithoutCancel(ctx), tempKey); err != nil {
			t.log.WithError(err).WithField("key", tempKey).Error("Failed to delete temporary upload")
		}
	}()

	t.enter(StateExtracting)
	meta, err := gen.Extract(req.Blob)
	if err != nil {
		return t.finish(models.Wrap(models.ErrInvalidPackageFormat, req.Filename, err))
	}
	t.identify(meta)

	override := req.Override || gen.AllowOverride()

	// Cheap rejection before queueing for the lock
	if !override {
		exists, err := gen.Contains(ctx, c.storage, meta)
		if err != nil {
			return t.finish(err)
		}
		if exists {
			return t.finish(conflict(meta))
		}
	}

	err = t.exclusively(ctx, meta, func(ctx context.Context, st storage.Storage) error {
		exists, err := gen.Contains(ctx, st, meta)
		if err != nil {
			return err
		}
		if exists && !override {
			return conflict(meta)
		}
		t.result.Replaced = exists

		if err := gen.Publish(ctx, st, meta, req.Blob); err != nil {
			return fmt.Errorf("failed to publish package: %w", err)
		}
		if err := gen.Add(ctx, st, meta); err != nil {
			return fmt.Errorf("failed to update index: %w", err)
		}
		if err := gen.Regenerate(ctx, st, meta); err != nil {
			return fmt.Errorf("failed to regenerate manifest: %w", err)
		}
		return nil
	})
	return t.finish(err)
}

func conflict(meta *models.PackageMetadata) error {
	return &models.IndexError{
		Type:    models.ErrIdentityConflict,
		Package: meta.Name,
		Err:     fmt.Errorf("%s %s already exists, override it explicitly", meta.Name, meta.Version),
	}
}

// Remove unpublishes the package at req.Target and drops it from every
// index it appears in.
func (c *Coordinator) Remove(ctx context.Context, gen generator.Generator, req RemoveRequest) (*Result, error) {
	t := c.begin(gen, "remove", logrus.Fields{"target": req.Target})

	key, err := gen.ResolveKey(req.Target)
	if err != nil {
		return t.finish(err)
	}
	t.result.Key = key

	blob, err := c.storage.Read(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return t.finish(&models.IndexError{Type: models.ErrNotFound, Package: req.Target, Err: fmt.Errorf("package not found")})
	}
	if err != nil {
		return t.finish(err)
	}

	if err := verifyChecksum(gen, req, blob); err != nil {
		return t.finish(err)
	}

	t.enter(StateExtracting)
	meta, err := gen.Extract(blob)
	if err != nil {
		return t.finish(models.Wrap(models.ErrInvalidPackageFormat, req.Target, fmt.Errorf("stored package is unreadable: %w", err)))
	}
	t.identify(meta)
	if t.result.Key != key {
		return t.finish(&models.IndexError{Type: models.ErrNotFound, Package: req.Target, Err: fmt.Errorf("package is published as %s", gen.Config().Relative(t.result.Key))})
	}

	err = t.exclusively(ctx, meta, func(ctx context.Context, st storage.Storage) error {
		// A concurrent removal may have won the race for the lock
		exists, err := st.Exists(ctx, key)
		if err != nil {
			return err
		}
		if !exists {
			return &models.IndexError{Type: models.ErrNotFound, Package: req.Target, Err: fmt.Errorf("package not found")}
		}

		removed, err := gen.Remove(ctx, st, meta)
		if err != nil {
			return fmt.Errorf("failed to update index: %w", err)
		}
		if !removed {
			t.log.Warn("Package was not indexed, deleting the orphan blob")
		}
		if err := gen.Regenerate(ctx, st, meta); err != nil {
			return fmt.Errorf("failed to regenerate manifest: %w", err)
		}
		if err := gen.Unpublish(ctx, st, meta); err != nil {
			return fmt.Errorf("failed to unpublish package: %w", err)
		}
		return nil
	})
	return t.finish(err)
}

// verifyChecksum checks the checksum of a removal request unless it is
// forced. A checksum that is given is checked even where none is required.
func verifyChecksum(gen generator.Generator, req RemoveRequest, blob []byte) error {
	if req.Force {
		return nil
	}
	if req.Checksum == "" {
		if gen.RequireChecksum() {
			return &models.IndexError{Type: models.ErrChecksumMismatch, Package: req.Target, Err: fmt.Errorf("checksum required")}
		}
		return nil
	}
	alg := req.ChecksumType
	if alg == "" {
		alg = "sha256"
	}
	return models.Wrap(models.ErrChecksumMismatch, req.Target, utils.VerifyDigest(alg, req.Checksum, blob))
}
