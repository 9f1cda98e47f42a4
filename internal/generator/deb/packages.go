package deb

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/ralt/repoindex/internal/index"
	"github.com/ralt/repoindex/internal/models"
)

// fileFields are appended by the repository and never taken from control
var fileFields = []string{"Filename", "Size", "MD5sum", "SHA1", "SHA256", "SHA512"}

// PackagesEntry renders the Packages stanza of pkg: its control fields in
// control order followed by the file location and checksums.
func PackagesEntry(pkg *models.PackageMetadata) Paragraph {
	entry := Paragraph(pkg.Fields).Without(fileFields...)
	return append(entry,
		models.Field{Key: "Filename", Value: pkg.Filename},
		models.Field{Key: "Size", Value: strconv.FormatInt(pkg.Size, 10)},
		models.Field{Key: "MD5sum", Value: pkg.MD5Sum},
		models.Field{Key: "SHA1", Value: pkg.SHA1Sum},
		models.Field{Key: "SHA256", Value: pkg.SHA256Sum},
		models.Field{Key: "SHA512", Value: pkg.SHA512Sum},
	)
}

// GeneratePackagesFile renders an index as a Packages file. The output only
// depends on the index content.
func GeneratePackagesFile(idx index.Index[Paragraph]) []byte {
	var buf bytes.Buffer
	for i, e := range idx.Entries() {
		if i > 0 {
			buf.WriteString("\n")
		}
		e.Value.WriteTo(&buf)
	}
	return buf.Bytes()
}

// ParsePackagesFile reads the entries of the Packages file of arch.
func ParsePackagesFile(data []byte, arch string) ([]index.Entry[Paragraph], error) {
	paragraphs, err := ParseParagraphs(data)
	if err != nil {
		return nil, err
	}

	entries := make([]index.Entry[Paragraph], 0, len(paragraphs))
	for i, p := range paragraphs {
		name, version := p.Get("Package"), p.Get("Version")
		if name == "" || version == "" {
			return nil, fmt.Errorf("entry %d lacks Package or Version", i+1)
		}
		entries = append(entries, index.Entry[Paragraph]{
			ID:    models.Identity{Name: name, Version: version, Variant: arch},
			Value: p,
		})
	}
	return entries, nil
}
