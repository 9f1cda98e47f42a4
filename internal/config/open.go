package config

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/ralt/repoindex/internal/models"
	"github.com/ralt/repoindex/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// OpenStorage builds the storage described by the configuration. The
// returned function releases the connections it opened.
func (c *Config) OpenStorage(ctx context.Context) (storage.Storage, func() error, error) {
	var backend storage.Backend
	switch c.Storage.Type {
	case "memory":
		backend = storage.NewMemoryBackend()
	case "local":
		local, err := storage.NewLocalBackend(c.Storage.Path)
		if err != nil {
			return nil, nil, models.Wrap(models.ErrStorageUnavailable, c.Storage.Path, err)
		}
		backend = local
	default:
		return nil, nil, models.Errorf(models.ErrInvalidConfig, "unsupported storage type %q", c.Storage.Type)
	}

	closer := func() error { return nil }
	var locker storage.Locker = storage.NewInMemoryLock()

	if c.Lock.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     c.Lock.Redis.Addr,
			Password: c.Lock.Redis.Password,
			DB:       c.Lock.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, models.Wrap(models.ErrStorageUnavailable, c.Lock.Redis.Addr, fmt.Errorf("failed to reach redis: %w", err))
		}
		locker = storage.NewRedisLock(client, c.Lock.Redis.TTL)
		closer = client.Close
		logrus.WithField("addr", c.Lock.Redis.Addr).Info("Using redis for exclusive access")
	}

	st := storage.New(backend, locker, storage.Options{LockTimeout: c.Lock.Timeout})
	if logrus.IsLevelEnabled(logrus.DebugLevel) {
		return storage.WithLogging(st), closer, nil
	}
	return st, closer, nil
}

func parseLevel(level string) (logrus.Level, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return lvl, nil
}

// ConfigureLogging applies the level and, when a file is configured, tees
// the standard logger into a rotated log file. verbose forces debug.
func (l LogConfig) ConfigureLogging(verbose bool) (io.Closer, error) {
	lvl, err := parseLevel(l.Level)
	if err != nil {
		return nil, models.Wrap(models.ErrInvalidConfig, "", err)
	}
	if verbose {
		lvl = logrus.DebugLevel
	}
	logrus.SetLevel(lvl)

	if l.File == "" {
		return nopCloser{}, nil
	}

	rotated := &lumberjack.Logger{
		Filename:   l.File,
		MaxSize:    l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAge:     l.MaxAgeDays,
		Compress:   true,
	}
	logrus.SetOutput(io.MultiWriter(os.Stderr, rotated))
	return rotated, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
