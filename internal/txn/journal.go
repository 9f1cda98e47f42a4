package txn

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ralt/repoindex/internal/storage"
	"github.com/sirupsen/logrus"
)

type journalEntry struct {
	key     string
	prev    []byte
	existed bool
}

// journal is the storage view handed to generators inside an exclusive
// section. Before the first write or delete of a key it saves the value
// the key had, so that rollback can put every key back.
type journal struct {
	storage.Storage

	mu      sync.Mutex
	entries []journalEntry
	seen    map[string]bool
}

func newJournal(s storage.Storage) *journal {
	return &journal{Storage: s, seen: make(map[string]bool)}
}

func (j *journal) record(ctx context.Context, key string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.seen[key] {
		return nil
	}

	entry := journalEntry{key: key, existed: true}
	data, err := j.Storage.Read(ctx, key)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		entry.existed = false
	case err != nil:
		return err
	default:
		entry.prev = data
	}

	j.seen[key] = true
	j.entries = append(j.entries, entry)
	return nil
}

func (j *journal) Write(ctx context.Context, key string, data []byte) error {
	if err := j.record(ctx, key); err != nil {
		return err
	}
	return j.Storage.Write(ctx, key, data)
}

func (j *journal) Delete(ctx context.Context, key string) error {
	if err := j.record(ctx, key); err != nil {
		return err
	}
	return j.Storage.Delete(ctx, key)
}

// WithExclusiveAccess is refused: the caller already holds the section.
func (j *journal) WithExclusiveAccess(context.Context, string, storage.Action) error {
	return fmt.Errorf("nested exclusive access is not supported")
}

// changed returns the journaled keys in the order they were first touched.
func (j *journal) changed() []string {
	j.mu.Lock()
	defer j.mu.Unlock()

	keys := make([]string, 0, len(j.entries))
	for _, e := range j.entries {
		keys = append(keys, e.key)
	}
	return keys
}

// rollback restores every journaled key, newest first. Failures are logged
// and counted, never returned.
func (j *journal) rollback(ctx context.Context, log *logrus.Entry) int {
	j.mu.Lock()
	defer j.mu.Unlock()

	// The request may be gone, the repository must still be restored
	ctx = context.WithoutCancel(ctx)

	failures := 0
	for i := len(j.entries) - 1; i >= 0; i-- {
		e := j.entries[i]
		var err error
		if e.existed {
			err = j.Storage.Write(ctx, e.key, e.prev)
		} else {
			err = j.Storage.Delete(ctx, e.key)
		}
		if err != nil {
			failures++
			log.WithError(err).WithField("key", e.key).Error("Failed to restore key during rollback")
		}
	}
	return failures
}
