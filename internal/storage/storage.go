// Package storage is the object store contract every repository index is
// kept in: whole-object reads and writes keyed by slash separated paths, plus
// per-key mutual exclusion.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ralt/repoindex/internal/models"
)

// ErrNotFound is returned by Read for a key that does not exist.
var ErrNotFound = errors.New("key not found")

// DefaultLockTimeout bounds how long WithExclusiveAccess waits for the lock.
const DefaultLockTimeout = 30 * time.Second

// Action runs inside an exclusive section. It must use the Storage it is
// given and must not request exclusive access to the same key again.
type Action func(ctx context.Context, s Storage) error

// Storage is the contract the index coordinator relies on.
type Storage interface {
	Exists(ctx context.Context, key string) (bool, error)
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	// List returns the sorted keys below prefix, treating prefix as a
	// directory.
	List(ctx context.Context, prefix string) ([]string, error)
	// WithExclusiveAccess runs action while holding the lock on key.
	WithExclusiveAccess(ctx context.Context, key string, action Action) error
}

// Backend holds the data. Implementations must make Write atomic per key.
type Backend interface {
	Exists(ctx context.Context, key string) (bool, error)
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// Locker grants mutual exclusion on a key. Acquire blocks until the lock is
// held or ctx is done.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Options tunes a Store.
type Options struct {
	// LockTimeout bounds the wait for exclusive access. Zero means
	// DefaultLockTimeout, a negative value waits for as long as ctx allows.
	LockTimeout time.Duration

	// OnLockAcquired, when set, is told how long each acquisition waited.
	OnLockAcquired func(key string, waited time.Duration)
}

// Store composes a Backend and a Locker into a Storage.
type Store struct {
	backend Backend
	locker  Locker
	opts    Options
}

// New returns a Storage backed by backend and locked through locker.
func New(backend Backend, locker Locker, opts Options) *Store {
	if opts.LockTimeout == 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	return &Store{backend: backend, locker: locker, opts: opts}
}

// NewMemory returns a Store with an in-memory backend and lock table.
func NewMemory() *Store {
	return New(NewMemoryBackend(), NewInMemoryLock(), Options{})
}

// Exists reports whether key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	ok, err := s.backend.Exists(ctx, key)
	if err != nil {
		return false, unavailable(key, err)
	}
	return ok, nil
}

// Read returns the content of key or ErrNotFound.
func (s *Store) Read(ctx context.Context, key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	data, err := s.backend.Read(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, unavailable(key, err)
	}
	return data, nil
}

// Write replaces the content of key.
func (s *Store) Write(ctx context.Context, key string, data []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := s.backend.Write(ctx, key, data); err != nil {
		return unavailable(key, err)
	}
	return nil
}

// Delete removes key. Deleting an absent key succeeds.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := s.backend.Delete(ctx, key); err != nil {
		return unavailable(key, err)
	}
	return nil
}

// List returns the sorted keys below prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		if err := ValidateKey(prefix); err != nil {
			return nil, err
		}
	}
	keys, err := s.backend.List(ctx, prefix)
	if err != nil {
		return nil, unavailable(prefix, err)
	}
	return keys, nil
}

// WithExclusiveAccess runs action holding the lock on key. The lock is
// released when action returns, whatever the outcome.
func (s *Store) WithExclusiveAccess(ctx context.Context, key string, action Action) error {
	acquireCtx := ctx
	if s.opts.LockTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, s.opts.LockTimeout)
		defer cancel()
	}

	start := time.Now()
	release, err := s.locker.Acquire(acquireCtx, key)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return models.Wrap(models.ErrStorageUnavailable, key,
				fmt.Errorf("timed out after %s waiting for exclusive access: %w", s.opts.LockTimeout, err))
		}
		return unavailable(key, err)
	}
	defer release()

	if s.opts.OnLockAcquired != nil {
		s.opts.OnLockAcquired(key, time.Since(start))
	}

	return action(ctx, s)
}

// ValidateKey rejects keys that could escape the store namespace.
func ValidateKey(key string) error {
	if key == "" {
		return models.Errorf(models.ErrInvalidPackageFormat, "empty storage key")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return models.Errorf(models.ErrInvalidPackageFormat, "invalid storage key %q", key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return models.Errorf(models.ErrInvalidPackageFormat, "invalid storage key %q", key)
		}
	}
	return nil
}

func unavailable(key string, err error) error {
	return models.Wrap(models.ErrStorageUnavailable, key, err)
}

// underPrefix reports whether key lies below the directory prefix.
func underPrefix(key, prefix string) bool {
	return prefix == "" || strings.HasPrefix(key, prefix+"/")
}
