package nuget

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ralt/repoindex/internal/index"
	"github.com/ralt/repoindex/internal/models"
	"github.com/ralt/repoindex/internal/version"
)

// placeholder stands in for absolute URLs, which are assigned by the
// serving layer
const placeholder = "null"

// Registration is the registration index of one package id: a single page
// holding every version.
type Registration struct {
	Count int                `json:"count"`
	Items []RegistrationPage `json:"items"`
}

// RegistrationPage is a page of registration leaves
type RegistrationPage struct {
	ID    string             `json:"@id"`
	Count int                `json:"count"`
	Lower string             `json:"lower"`
	Upper string             `json:"upper"`
	Items []RegistrationLeaf `json:"items"`
}

// RegistrationLeaf is one version of the package
type RegistrationLeaf struct {
	ID             string       `json:"@id"`
	PackageContent string       `json:"packageContent"`
	CatalogEntry   CatalogEntry `json:"catalogEntry"`
}

// CatalogEntry is the metadata of one version
type CatalogEntry struct {
	ID                       string            `json:"@id"`
	PackageID                string            `json:"id"`
	Version                  string            `json:"version"`
	Description              string            `json:"description"`
	Authors                  StringOrList      `json:"authors"`
	DependencyGroups         []DependencyGroup `json:"dependencyGroups"`
	MinClientVersion         string            `json:"minClientVersion,omitempty"`
	LicenseURL               string            `json:"licenseUrl,omitempty"`
	IconURL                  string            `json:"iconUrl,omitempty"`
	ProjectURL               string            `json:"projectUrl,omitempty"`
	RequireLicenseAcceptance string            `json:"requireLicenseAcceptance,omitempty"`
	Title                    string            `json:"title,omitempty"`
	Summary                  string            `json:"summary,omitempty"`
	Tags                     StringOrList      `json:"tags,omitempty"`
}

// DependencyGroup lists the dependencies of one target framework
type DependencyGroup struct {
	TargetFramework string       `json:"targetFramework,omitempty"`
	Dependencies    []Dependency `json:"dependencies"`
}

// Dependency is a package dependency with an optional version range
type Dependency struct {
	ID    string `json:"id"`
	Range string `json:"range,omitempty"`
}

// StringOrList is a JSON value written as a plain string when it holds a
// single element and as an array otherwise.
type StringOrList []string

// MarshalJSON implements json.Marshaler
func (s StringOrList) MarshalJSON() ([]byte, error) {
	if len(s) == 1 {
		return json.Marshal(s[0])
	}
	return json.Marshal([]string(s))
}

// UnmarshalJSON implements json.Unmarshaler
func (s *StringOrList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = StringOrList{single}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*s = list
	return nil
}

// catalogEntry renders the catalog entry of pkg from its nuspec fields.
func catalogEntry(pkg *models.PackageMetadata) CatalogEntry {
	field := func(key string) string {
		v, _ := pkg.Field(key)
		return v
	}

	entry := CatalogEntry{
		ID:                       placeholder,
		PackageID:                field(fieldID),
		Version:                  field(fieldVersion),
		Description:              pkg.Description,
		DependencyGroups:         dependencyGroups(pkg),
		MinClientVersion:         field(fieldMinClientVersion),
		LicenseURL:               field(fieldLicenseURL),
		IconURL:                  field(fieldIconURL),
		ProjectURL:               field(fieldProjectURL),
		RequireLicenseAcceptance: field(fieldRequireLicense),
		Title:                    field(fieldTitle),
		Summary:                  field(fieldSummary),
	}

	for _, author := range strings.Split(field(fieldAuthors), ",") {
		entry.Authors = append(entry.Authors, strings.TrimSpace(author))
	}
	if tags := strings.Fields(field(fieldTags)); len(tags) > 0 {
		entry.Tags = tags
	}

	return entry
}

// dependencyGroups groups the dependency fields by target framework, in
// the order frameworks first appear.
func dependencyGroups(pkg *models.PackageMetadata) []DependencyGroup {
	groups := []DependencyGroup{}
	at := map[string]int{}

	for _, f := range pkg.Fields {
		if f.Key != fieldDependency {
			continue
		}
		parts := strings.SplitN(f.Value, ":", 3)
		for len(parts) < 3 {
			parts = append(parts, "")
		}
		id, ver, framework := parts[0], parts[1], parts[2]

		i, ok := at[framework]
		if !ok {
			i = len(groups)
			at[framework] = i
			groups = append(groups, DependencyGroup{TargetFramework: framework, Dependencies: []Dependency{}})
		}
		if id == "" {
			continue
		}
		groups[i].Dependencies = append(groups[i].Dependencies, Dependency{ID: id, Range: versionRange(ver)})
	}
	return groups
}

// versionRange turns a bare minimum version into the interval notation.
func versionRange(v string) string {
	if v == "" || strings.HasPrefix(v, "[") || strings.HasPrefix(v, "(") {
		return v
	}
	return fmt.Sprintf("[%s, )", v)
}

func identityOf(entry CatalogEntry) models.Identity {
	return models.Identity{
		Name:    strings.ToLower(entry.PackageID),
		Version: strings.ToLower(version.NormalizeSemantic(entry.Version)),
	}
}

// generateRegistration renders idx. An empty index has no pages. The page
// bounds are the catalog versions of its first and last leaves.
func generateRegistration(updater *index.Updater[RegistrationLeaf], idx index.Index[RegistrationLeaf]) ([]byte, error) {
	reg := Registration{Items: []RegistrationPage{}}

	if lower, upper, ok := updater.BoundsBy(idx, catalogVersion); ok {
		page := RegistrationPage{
			ID:    placeholder,
			Count: idx.Len(),
			Lower: lower,
			Upper: upper,
		}
		for _, e := range idx.Entries() {
			page.Items = append(page.Items, e.Value)
		}
		reg.Count = 1
		reg.Items = append(reg.Items, page)
	}

	return marshal(reg)
}

func catalogVersion(e index.Entry[RegistrationLeaf]) string {
	return e.Value.CatalogEntry.Version
}

func parseRegistration(data []byte) ([]index.Entry[RegistrationLeaf], error) {
	var reg Registration
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("failed to parse registration: %w", err)
	}

	var entries []index.Entry[RegistrationLeaf]
	for _, page := range reg.Items {
		for _, leaf := range page.Items {
			entries = append(entries, index.Entry[RegistrationLeaf]{ID: identityOf(leaf.CatalogEntry), Value: leaf})
		}
	}
	return entries, nil
}

// Versions is the flat container listing of a package id
type Versions struct {
	Versions []string `json:"versions"`
}

func generateVersions(idx index.Index[RegistrationLeaf]) ([]byte, error) {
	v := Versions{Versions: []string{}}
	for _, e := range idx.Entries() {
		v.Versions = append(v.Versions, e.ID.Version)
	}
	return marshal(v)
}

// marshal encodes v without HTML escaping, so that version ranges keep
// their literal form.
func marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
