package nuget

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/ralt/repoindex/internal/models"
	"github.com/ralt/repoindex/internal/utils"
	"github.com/ralt/repoindex/internal/version"
)

// maxNuspecSize bounds the manifest read out of a package
const maxNuspecSize = 4 << 20

// Keys of the nuspec values kept in PackageMetadata.Fields
const (
	fieldID               = "id"
	fieldVersion          = "version"
	fieldAuthors          = "authors"
	fieldTitle            = "title"
	fieldSummary          = "summary"
	fieldProjectURL       = "projectUrl"
	fieldLicenseURL       = "licenseUrl"
	fieldIconURL          = "iconUrl"
	fieldRequireLicense   = "requireLicenseAcceptance"
	fieldTags             = "tags"
	fieldMinClientVersion = "minClientVersion"
	// fieldDependency repeats, one "id:range:framework" value per dependency
	fieldDependency = "dependency"
)

// Nuspec is the package manifest. Element names are matched in any of the
// nuspec schema namespaces.
type Nuspec struct {
	XMLName  xml.Name        `xml:"package"`
	Metadata NuspecMetadata `xml:"metadata"`
}

// NuspecMetadata holds the <metadata> element of a nuspec
type NuspecMetadata struct {
	MinClientVersion         string             `xml:"minClientVersion,attr"`
	ID                       string             `xml:"id"`
	Version                  string             `xml:"version"`
	Title                    string             `xml:"title"`
	Authors                  string             `xml:"authors"`
	Description              string             `xml:"description"`
	Summary                  string             `xml:"summary"`
	ProjectURL               string             `xml:"projectUrl"`
	License                  string             `xml:"license"`
	LicenseURL               string             `xml:"licenseUrl"`
	Icon                     string             `xml:"icon"`
	IconURL                  string             `xml:"iconUrl"`
	RequireLicenseAcceptance string             `xml:"requireLicenseAcceptance"`
	Tags                     string             `xml:"tags"`
	Dependencies             *NuspecDependencies `xml:"dependencies"`
}

// NuspecDependencies lists dependencies either flat or grouped by target
// framework.
type NuspecDependencies struct {
	Dependencies []NuspecDependency `xml:"dependency"`
	Groups       []struct {
		TargetFramework string             `xml:"targetFramework,attr"`
		Dependencies    []NuspecDependency `xml:"dependency"`
	} `xml:"group"`
}

// NuspecDependency is a single <dependency> element
type NuspecDependency struct {
	ID      string `xml:"id,attr"`
	Version string `xml:"version,attr"`
}

// ReadNuspec returns the raw and decoded root .nuspec of a .nupkg.
func ReadNuspec(blob []byte) ([]byte, *Nuspec, error) {
	zr, err := zip.NewReader(bytes.NewReader(blob), int64(len(blob)))
	if err != nil {
		return nil, nil, fmt.Errorf("not a zip archive: %w", err)
	}

	for _, f := range zr.File {
		if strings.Contains(f.Name, "/") || !strings.EqualFold(path.Ext(f.Name), ".nuspec") {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open %s: %w", f.Name, err)
		}
		raw, err := io.ReadAll(io.LimitReader(rc, maxNuspecSize+1))
		rc.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read %s: %w", f.Name, err)
		}
		if len(raw) > maxNuspecSize {
			return nil, nil, fmt.Errorf("%s is too large", f.Name)
		}

		var nuspec Nuspec
		if err := xml.Unmarshal(raw, &nuspec); err != nil {
			return nil, nil, fmt.Errorf("failed to parse %s: %w", f.Name, err)
		}
		return raw, &nuspec, nil
	}

	return nil, nil, fmt.Errorf("package has no .nuspec at its root")
}

// Extract reads the nuspec of a .nupkg blob.
func (g *Generator) Extract(blob []byte) (*models.PackageMetadata, error) {
	_, nuspec, err := ReadNuspec(blob)
	if err != nil {
		return nil, models.Wrap(models.ErrInvalidPackageFormat, "", err)
	}

	pkg, err := metadataFromNuspec(&nuspec.Metadata)
	if err != nil {
		return nil, err
	}

	checksums := utils.ChecksumsOf(blob)
	pkg.Size = checksums.Size
	pkg.MD5Sum = checksums.MD5
	pkg.SHA1Sum = checksums.SHA1
	pkg.SHA256Sum = checksums.SHA256
	pkg.SHA512Sum = checksums.SHA512
	pkg.Filename = g.config.Relative(g.BlobKey(pkg))

	return pkg, nil
}

func metadataFromNuspec(m *NuspecMetadata) (*models.PackageMetadata, error) {
	m.ID = strings.TrimSpace(m.ID)
	m.Version = strings.TrimSpace(m.Version)

	for _, required := range []struct{ name, value string }{
		{"id", m.ID}, {"version", m.Version}, {"description", m.Description}, {"authors", m.Authors},
	} {
		if strings.TrimSpace(required.value) == "" {
			return nil, &models.IndexError{
				Type:    models.ErrInvalidPackageFormat,
				Package: m.ID,
				Err:     fmt.Errorf("nuspec is missing the %s element", required.name),
			}
		}
	}

	v, ok := version.ParseSemantic(m.Version)
	if !ok {
		return nil, &models.IndexError{
			Type:    models.ErrInvalidPackageFormat,
			Package: m.ID,
			Err:     fmt.Errorf("invalid version %q", m.Version),
		}
	}

	pkg := &models.PackageMetadata{
		Name:        strings.ToLower(m.ID),
		Version:     strings.ToLower(v.Normalized()),
		Description: m.Description,
		Maintainer:  m.Authors,
		Homepage:    m.ProjectURL,
		License:     firstOf(m.License, m.LicenseURL),
	}

	add := func(key, value string) {
		if value = strings.TrimSpace(value); value != "" {
			pkg.Fields = append(pkg.Fields, models.Field{Key: key, Value: value})
		}
	}
	add(fieldID, m.ID)
	add(fieldVersion, v.Normalized())
	add(fieldAuthors, m.Authors)
	add(fieldTitle, m.Title)
	add(fieldSummary, m.Summary)
	add(fieldProjectURL, m.ProjectURL)
	add(fieldLicenseURL, firstOf(m.License, m.LicenseURL))
	add(fieldIconURL, firstOf(m.Icon, m.IconURL))
	add(fieldRequireLicense, m.RequireLicenseAcceptance)
	add(fieldTags, m.Tags)
	add(fieldMinClientVersion, m.MinClientVersion)

	if deps := m.Dependencies; deps != nil {
		for _, d := range deps.Dependencies {
			pkg.Dependencies = append(pkg.Dependencies, d.ID)
			add(fieldDependency, d.ID+":"+d.Version+":")
		}
		for _, group := range deps.Groups {
			if len(group.Dependencies) == 0 {
				// An empty group still declares support for the framework
				add(fieldDependency, "::"+group.TargetFramework)
			}
			for _, d := range group.Dependencies {
				pkg.Dependencies = append(pkg.Dependencies, d.ID)
				add(fieldDependency, d.ID+":"+d.Version+":"+group.TargetFramework)
			}
		}
	}

	return pkg, nil
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
