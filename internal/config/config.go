// Package config loads the service configuration from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ralt/repoindex/internal/models"
	"gopkg.in/yaml.v3"
)

const (
	DefaultListen      = ":8080"
	DefaultStoragePath = "/var/lib/repoindex"
	DefaultLogLevel    = "info"
)

// Config is the top level configuration file
type Config struct {
	Listen       string                    `yaml:"listen"`
	Storage      StorageConfig             `yaml:"storage"`
	Lock         LockConfig                `yaml:"lock"`
	Log          LogConfig                 `yaml:"log"`
	Repositories []models.RepositoryConfig `yaml:"repositories"`
}

// StorageConfig selects the storage backend
type StorageConfig struct {
	Type string `yaml:"type"` // local or memory
	Path string `yaml:"path"`
}

// LockConfig tunes exclusive access to index roots
type LockConfig struct {
	// Timeout bounds the wait for an index root, e.g. "30s"
	Timeout time.Duration `yaml:"timeout"`
	// Redis shares locks between processes when Addr is set
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig points at the Redis server holding the locks
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// LogConfig configures logging
type LogConfig struct {
	Level string `yaml:"level"`
	// File enables a rotated log file in addition to stderr
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max-size-mb"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAgeDays int    `yaml:"max-age-days"`
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, models.Wrap(models.ErrInvalidConfig, path, fmt.Errorf("failed to open config: %w", err))
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a configuration, applies defaults and validates it.
// Unknown keys are rejected.
func Parse(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, models.Wrap(models.ErrInvalidConfig, "", err)
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, models.Wrap(models.ErrInvalidConfig, "", fmt.Errorf("failed to parse config: %w", err))
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset values, repositories included.
func (c *Config) ApplyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Storage.Type == "" {
		c.Storage.Type = "local"
	}
	if c.Storage.Type == "local" && c.Storage.Path == "" {
		c.Storage.Path = DefaultStoragePath
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 100
	}
	for i := range c.Repositories {
		c.Repositories[i].ApplyDefaults()
	}
}

// Validate checks the configuration after defaults were applied.
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case "local", "memory":
	default:
		return models.Errorf(models.ErrInvalidConfig, "unsupported storage type %q", c.Storage.Type)
	}
	if c.Lock.Timeout < 0 || c.Lock.Redis.TTL < 0 {
		return models.Errorf(models.ErrInvalidConfig, "lock durations must not be negative")
	}
	if c.Storage.Type == "memory" && c.Lock.Redis.Addr != "" {
		return models.Errorf(models.ErrInvalidConfig, "a redis lock needs shared storage, not memory")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return models.Wrap(models.ErrInvalidConfig, "", err)
	}

	seen := make(map[string]bool, len(c.Repositories))
	for i := range c.Repositories {
		repo := &c.Repositories[i]
		if err := repo.Validate(); err != nil {
			return err
		}
		if seen[repo.Name] {
			return &models.IndexError{Type: models.ErrInvalidConfig, Package: repo.Name, Err: fmt.Errorf("repository is configured twice")}
		}
		seen[repo.Name] = true
	}
	return nil
}

// Repository returns the configuration of the named repository.
func (c *Config) Repository(name string) (*models.RepositoryConfig, bool) {
	for i := range c.Repositories {
		if c.Repositories[i].Name == name {
			return &c.Repositories[i], true
		}
	}
	return nil, false
}
