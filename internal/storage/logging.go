package storage

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

type loggingStorage struct {
	next Storage
}

// WithLogging logs every operation on s at debug level.
func WithLogging(s Storage) Storage {
	return &loggingStorage{next: s}
}

func (l *loggingStorage) log(op, key string, start time.Time, err error) {
	entry := logrus.WithFields(logrus.Fields{
		"op":       op,
		"key":      key,
		"duration": time.Since(start),
	})
	if err != nil && err != ErrNotFound {
		entry.WithError(err).Debug("Storage operation failed")
		return
	}
	entry.Debug("Storage operation")
}

func (l *loggingStorage) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	ok, err := l.next.Exists(ctx, key)
	l.log("exists", key, start, err)
	return ok, err
}

func (l *loggingStorage) Read(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	data, err := l.next.Read(ctx, key)
	l.log("read", key, start, err)
	return data, err
}

func (l *loggingStorage) Write(ctx context.Context, key string, data []byte) error {
	start := time.Now()
	err := l.next.Write(ctx, key, data)
	l.log("write", key, start, err)
	return err
}

func (l *loggingStorage) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := l.next.Delete(ctx, key)
	l.log("delete", key, start, err)
	return err
}

func (l *loggingStorage) List(ctx context.Context, prefix string) ([]string, error) {
	start := time.Now()
	keys, err := l.next.List(ctx, prefix)
	l.log("list", prefix, start, err)
	return keys, err
}

// WithExclusiveAccess hands the action a logging view of the locked store.
func (l *loggingStorage) WithExclusiveAccess(ctx context.Context, key string, action Action) error {
	start := time.Now()
	err := l.next.WithExclusiveAccess(ctx, key, func(ctx context.Context, s Storage) error {
		logrus.WithFields(logrus.Fields{"key": key, "waited": time.Since(start)}).Debug("Exclusive access granted")
		return action(ctx, &loggingStorage{next: s})
	})
	l.log("exclusive", key, start, err)
	return err
}
