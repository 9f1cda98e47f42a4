package models

import "fmt"

// Field is a single key/value pair of package metadata, kept in source order
type Field struct {
	Key   string
	Value string
}

// PackageMetadata represents a package with the metadata extracted from its blob.
// Values are never mutated once an extractor has returned them.
type PackageMetadata struct {
	// Core metadata
	Name         string
	Version      string
	Architecture string
	Description  string
	Maintainer   string
	Homepage     string
	License      string
	Dependencies []string

	// Variants the package is published under in this repository
	// (e.g. every configured architecture for an "all" Debian package).
	Variants []string

	// Blob information
	Filename  string
	Size      int64
	MD5Sum    string
	SHA1Sum   string
	SHA256Sum string
	SHA512Sum string

	// Type-specific metadata, in the order it was read
	Fields []Field
}

// Field returns the value of the first extra field named key.
func (p *PackageMetadata) Field(key string) (string, bool) {
	for _, f := range p.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Identity returns the identity key of the package inside the index for variant.
func (p *PackageMetadata) Identity(variant string) Identity {
	return Identity{Name: p.Name, Version: p.Version, Variant: variant}
}

// Identities returns one identity per variant, or a single variant-less
// identity for formats that do not partition by variant.
func (p *PackageMetadata) Identities() []Identity {
	if len(p.Variants) == 0 {
		return []Identity{p.Identity("")}
	}
	ids := make([]Identity, 0, len(p.Variants))
	for _, v := range p.Variants {
		ids = append(ids, p.Identity(v))
	}
	return ids
}

// Identity uniquely addresses one entry of an index
type Identity struct {
	Name    string
	Version string
	Variant string
}

// String renders the identity as name:version[:variant]
func (id Identity) String() string {
	if id.Variant == "" {
		return fmt.Sprintf("%s:%s", id.Name, id.Version)
	}
	return fmt.Sprintf("%s:%s:%s", id.Name, id.Version, id.Variant)
}
