package models

import (
	"fmt"
	"path"
	"strings"
)

// RepositoryConfig contains configuration for one hosted repository
type RepositoryConfig struct {
	// Name is also the storage key prefix of the repository
	Name string `yaml:"name"`
	Type string `yaml:"type"` // deb, rpm, nuget

	// Repository metadata
	Origin      string   `yaml:"origin"`
	Label       string   `yaml:"label"`
	Description string   `yaml:"description"`
	Codename    string   `yaml:"codename"`   // For Debian
	Suite       string   `yaml:"suite"`      // For Debian
	Components  []string `yaml:"components"` // For Debian (main, contrib, etc.)
	Arches      []string `yaml:"archs"`      // Architectures to support

	// RPM options
	Digest       string `yaml:"digest"`        // sha256, sha1, sha512
	NamingPolicy string `yaml:"naming-policy"` // sha256 or plain

	// Signing
	GPGKeyPath    string `yaml:"gpg-key"`
	GPGPassphrase string `yaml:"gpg-passphrase"`

	// AllowOverride accepts a re-upload of an existing identity without an
	// explicit override request.
	AllowOverride bool `yaml:"allow-override"`
}

// Key joins parts under the repository prefix.
func (c *RepositoryConfig) Key(parts ...string) string {
	return path.Join(append([]string{c.Name}, parts...)...)
}

// Relative strips the repository prefix from key.
func (c *RepositoryConfig) Relative(key string) string {
	return strings.TrimPrefix(key, c.Name+"/")
}

// Component returns the Debian component uploads are published to.
func (c *RepositoryConfig) Component() string {
	if len(c.Components) == 0 {
		return "main"
	}
	return c.Components[0]
}

// ApplyDefaults fills in unset values for the repository type.
func (c *RepositoryConfig) ApplyDefaults() {
	switch c.Type {
	case "deb":
		if c.Codename == "" {
			c.Codename = "stable"
		}
		if c.Suite == "" {
			c.Suite = c.Codename
		}
		if len(c.Components) == 0 {
			c.Components = []string{"main"}
		}
		if len(c.Arches) == 0 {
			c.Arches = []string{"amd64"}
		}
	case "rpm":
		if c.Digest == "" {
			c.Digest = "sha256"
		}
		if c.NamingPolicy == "" {
			c.NamingPolicy = "sha256"
		}
	}
	if c.Origin == "" {
		c.Origin = c.Name
	}
	if c.Label == "" {
		c.Label = c.Origin
	}
}

// Validate checks the configuration after defaults were applied.
func (c *RepositoryConfig) Validate() error {
	if c.Name == "" {
		return &IndexError{Type: ErrInvalidConfig, Err: fmt.Errorf("repository name is required")}
	}
	if strings.ContainsAny(c.Name, "/\\") || c.Name == "." || c.Name == ".." {
		return &IndexError{Type: ErrInvalidConfig, Package: c.Name, Err: fmt.Errorf("repository name must be a single path segment")}
	}
	switch c.Type {
	case "deb", "nuget":
	case "rpm":
		switch c.Digest {
		case "sha1", "sha256", "sha512":
		default:
			return &IndexError{Type: ErrInvalidConfig, Package: c.Name, Err: fmt.Errorf("unsupported digest %q", c.Digest)}
		}
		switch c.NamingPolicy {
		case "sha256", "plain":
		default:
			return &IndexError{Type: ErrInvalidConfig, Package: c.Name, Err: fmt.Errorf("unsupported naming policy %q", c.NamingPolicy)}
		}
	default:
		return &IndexError{Type: ErrInvalidConfig, Package: c.Name, Err: fmt.Errorf("unsupported repository type %q", c.Type)}
	}
	return nil
}
