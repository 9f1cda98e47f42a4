// Package repository builds the generator of every configured repository.
package repository

import (
	"fmt"
	"sort"

	"github.com/ralt/repoindex/internal/generator"
	"github.com/ralt/repoindex/internal/generator/deb"
	"github.com/ralt/repoindex/internal/generator/nuget"
	"github.com/ralt/repoindex/internal/generator/rpm"
	"github.com/ralt/repoindex/internal/models"
	"github.com/ralt/repoindex/internal/signer"
	"github.com/sirupsen/logrus"
)

// Registry maps repository names to their generators
type Registry struct {
	generators map[string]generator.Generator
}

// NewGenerator creates the generator for one repository, loading its
// signing key when one is configured.
func NewGenerator(config *models.RepositoryConfig) (generator.Generator, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	// A typed nil would defeat the nil checks of the generators
	var s signer.Signer
	if config.GPGKeyPath != "" {
		gpgSigner, err := signer.NewGPGSigner(config.GPGKeyPath, config.GPGPassphrase)
		if err != nil {
			return nil, &models.IndexError{
				Type:    models.ErrSigning,
				Package: config.Name,
				Err:     fmt.Errorf("failed to initialize GPG signer: %w", err),
			}
		}
		s = gpgSigner
		logrus.WithField("repo", config.Name).Info("GPG signer initialized")
	}

	switch config.Type {
	case "deb":
		return deb.NewGenerator(config, s), nil
	case "rpm":
		return rpm.NewGenerator(config, s), nil
	case "nuget":
		if s != nil {
			logrus.WithField("repo", config.Name).Warn("NuGet feeds are not signed, ignoring gpg-key")
		}
		return nuget.NewGenerator(config), nil
	}
	return nil, models.Errorf(models.ErrInvalidConfig, "unsupported repository type %q", config.Type)
}

// NewRegistry creates the generators of configs. Names must be unique.
func NewRegistry(configs []models.RepositoryConfig) (*Registry, error) {
	r := &Registry{generators: make(map[string]generator.Generator, len(configs))}
	for i := range configs {
		config := &configs[i]
		gen, err := NewGenerator(config)
		if err != nil {
			return nil, err
		}
		if _, dup := r.generators[config.Name]; dup {
			return nil, &models.IndexError{
				Type:    models.ErrInvalidConfig,
				Package: config.Name,
				Err:     fmt.Errorf("repository is configured twice"),
			}
		}
		r.generators[config.Name] = gen
	}
	return r, nil
}

// Get returns the generator of the named repository.
func (r *Registry) Get(name string) (generator.Generator, bool) {
	gen, ok := r.generators[name]
	return gen, ok
}

// Names returns the configured repository names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.generators))
	for name := range r.generators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
