package rpm

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/ralt/repoindex/internal/index"
	"github.com/ralt/repoindex/internal/models"
)

const (
	commonNamespace = "http://linux.duke.edu/metadata/common"
	rpmNamespace    = "http://linux.duke.edu/metadata/rpm"
	repoNamespace   = "http://linux.duke.edu/metadata/repo"
)

// XML structures for primary.xml. Go can emit prefixed names but not match
// them on input, so elements of the rpm namespace have separate decoding
// structures.

type metadata struct {
	XMLName       xml.Name `xml:"metadata"`
	Xmlns         string   `xml:"xmlns,attr"`
	XmlnsRpm      string   `xml:"xmlns:rpm,attr"`
	PackagesCount int      `xml:"packages,attr"`
	Packages      []xmlPkg `xml:"package"`
}

// xmlPkg is one <package> element, the value stored in the index
type xmlPkg struct {
	pkgCommon
	Format xmlFormat `xml:"format"`
}

type pkgCommon struct {
	Type        string      `xml:"type,attr"`
	Name        string      `xml:"name"`
	Arch        string      `xml:"arch"`
	Version     xmlVersion  `xml:"version"`
	Checksum    xmlChecksum `xml:"checksum"`
	Summary     string      `xml:"summary"`
	Description string      `xml:"description"`
	Packager    string      `xml:"packager"`
	URL         string      `xml:"url"`
	Time        xmlTime     `xml:"time"`
	Size        xmlSize     `xml:"size"`
	Location    xmlLocation `xml:"location"`
}

type xmlVersion struct {
	Epoch string `xml:"epoch,attr"`
	Ver   string `xml:"ver,attr"`
	Rel   string `xml:"rel,attr"`
}

type xmlChecksum struct {
	Type  string `xml:"type,attr"`
	Pkgid string `xml:"pkgid,attr"`
	Value string `xml:",chardata"`
}

type xmlTime struct {
	File  int64 `xml:"file,attr"`
	Build int64 `xml:"build,attr"`
}

type xmlSize struct {
	Package   int64 `xml:"package,attr"`
	Installed int64 `xml:"installed,attr"`
	Archive   int64 `xml:"archive,attr"`
}

type xmlLocation struct {
	Href string `xml:"href,attr"`
}

type xmlFormat struct {
	License   string      `xml:"rpm:license,omitempty"`
	Vendor    string      `xml:"rpm:vendor,omitempty"`
	Group     string      `xml:"rpm:group,omitempty"`
	BuildHost string      `xml:"rpm:buildhost,omitempty"`
	SourceRPM string      `xml:"rpm:sourcerpm,omitempty"`
	Provides  *xmlEntries `xml:"rpm:provides,omitempty"`
	Requires  *xmlEntries `xml:"rpm:requires,omitempty"`
}

type xmlEntries struct {
	Entries []xmlEntry `xml:"rpm:entry"`
}

type xmlEntry struct {
	Name string `xml:"name,attr"`
}

type readMetadata struct {
	Packages []readPkg `xml:"package"`
}

type readPkg struct {
	pkgCommon
	Format readFormat `xml:"format"`
}

type readFormat struct {
	License   string       `xml:"http://linux.duke.edu/metadata/rpm license"`
	Vendor    string       `xml:"http://linux.duke.edu/metadata/rpm vendor"`
	Group     string       `xml:"http://linux.duke.edu/metadata/rpm group"`
	BuildHost string       `xml:"http://linux.duke.edu/metadata/rpm buildhost"`
	SourceRPM string       `xml:"http://linux.duke.edu/metadata/rpm sourcerpm"`
	Provides  *readEntries `xml:"http://linux.duke.edu/metadata/rpm provides"`
	Requires  *readEntries `xml:"http://linux.duke.edu/metadata/rpm requires"`
}

type readEntries struct {
	Entries []xmlEntry `xml:"http://linux.duke.edu/metadata/rpm entry"`
}

func (r *readEntries) toXML() *xmlEntries {
	if r == nil || len(r.Entries) == 0 {
		return nil
	}
	return &xmlEntries{Entries: r.Entries}
}

func (p readPkg) toXML() xmlPkg {
	return xmlPkg{
		pkgCommon: p.pkgCommon,
		Format: xmlFormat{
			License:   p.Format.License,
			Vendor:    p.Format.Vendor,
			Group:     p.Format.Group,
			BuildHost: p.Format.BuildHost,
			SourceRPM: p.Format.SourceRPM,
			Provides:  p.Format.Provides.toXML(),
			Requires:  p.Format.Requires.toXML(),
		},
	}
}

func entriesOf(names []string) *xmlEntries {
	if len(names) == 0 {
		return nil
	}
	e := &xmlEntries{}
	for _, n := range names {
		e.Entries = append(e.Entries, xmlEntry{Name: n})
	}
	return e
}

// primaryEntry renders the <package> element of pkg. The package checksum
// uses digest, the algorithm configured for the repository.
func primaryEntry(pkg *models.PackageMetadata, digest string) xmlPkg {
	epoch, ver, rel := splitEVR(pkg.Version)
	buildTime := fieldInt(pkg, fieldBuildTime)

	var checksum string
	switch digest {
	case "sha1":
		checksum = pkg.SHA1Sum
	case "sha512":
		checksum = pkg.SHA512Sum
	default:
		digest, checksum = "sha256", pkg.SHA256Sum
	}

	var provides []string
	if v := fieldString(pkg, fieldProvides); v != "" {
		provides = strings.Split(v, "\n")
	}

	return xmlPkg{
		pkgCommon: pkgCommon{
			Type:        "rpm",
			Name:        pkg.Name,
			Arch:        pkg.Architecture,
			Version:     xmlVersion{Epoch: epoch, Ver: ver, Rel: rel},
			Checksum:    xmlChecksum{Type: digest, Pkgid: "YES", Value: checksum},
			Summary:     fieldString(pkg, fieldSummary),
			Description: pkg.Description,
			Packager:    pkg.Maintainer,
			URL:         pkg.Homepage,
			// The build time keeps the entry reproducible across re-uploads
			Time: xmlTime{File: buildTime, Build: buildTime},
			Size: xmlSize{
				Package:   pkg.Size,
				Installed: fieldInt(pkg, fieldInstalledSize),
				Archive:   pkg.Size,
			},
			Location: xmlLocation{Href: pkg.Filename},
		},
		Format: xmlFormat{
			License:   pkg.License,
			Vendor:    fieldString(pkg, fieldVendor),
			Group:     fieldString(pkg, fieldGroup),
			BuildHost: fieldString(pkg, fieldBuildHost),
			SourceRPM: fieldString(pkg, fieldSourceRPM),
			Provides:  entriesOf(provides),
			Requires:  entriesOf(pkg.Dependencies),
		},
	}
}

func identityOf(p xmlPkg) models.Identity {
	return models.Identity{
		Name:    p.Name,
		Version: evr(p.Version.Epoch, p.Version.Ver, p.Version.Rel),
		Variant: p.Arch,
	}
}

func generatePrimaryXML(idx index.Index[xmlPkg]) ([]byte, error) {
	entries := idx.Entries()
	packages := make([]xmlPkg, 0, len(entries))
	for _, e := range entries {
		packages = append(packages, e.Value)
	}

	meta := metadata{
		Xmlns:         commonNamespace,
		XmlnsRpm:      rpmNamespace,
		PackagesCount: len(packages),
		Packages:      packages,
	}

	xmlBytes, err := xml.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, err
	}

	return append([]byte(xml.Header), xmlBytes...), nil
}

func parsePrimaryXML(data []byte) ([]index.Entry[xmlPkg], error) {
	var meta readMetadata
	if err := xml.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse primary.xml: %w", err)
	}

	entries := make([]index.Entry[xmlPkg], 0, len(meta.Packages))
	for _, p := range meta.Packages {
		pkg := p.toXML()
		entries = append(entries, index.Entry[xmlPkg]{ID: identityOf(pkg), Value: pkg})
	}
	return entries, nil
}
