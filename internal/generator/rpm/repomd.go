package rpm

import (
	"encoding/xml"
	"fmt"
	"time"

	"github.com/ralt/repoindex/internal/utils"
)

type repomd struct {
	XMLName  xml.Name     `xml:"repomd"`
	Xmlns    string       `xml:"xmlns,attr"`
	XmlnsRpm string       `xml:"xmlns:rpm,attr"`
	Revision int64        `xml:"revision"`
	Data     []repomdData `xml:"data"`
}

type repomdData struct {
	Type         string         `xml:"type,attr"`
	Checksum     repomdChecksum `xml:"checksum"`
	OpenChecksum repomdChecksum `xml:"open-checksum"`
	Location     repomdLocation `xml:"location"`
	Timestamp    int64          `xml:"timestamp"`
	Size         int64          `xml:"size"`
	OpenSize     int64          `xml:"open-size"`
}

type repomdChecksum struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

type repomdLocation struct {
	Href string `xml:"href,attr"`
}

// metadataFile is one compressed metadata artifact listed in repomd.xml
type metadataFile struct {
	Type       string
	Href       string
	Compressed []byte
	Open       []byte
}

// generateRepomdXML lists files with digest checksums of both their
// compressed and uncompressed forms.
func generateRepomdXML(files []metadataFile, digest string, now time.Time) ([]byte, error) {
	md := repomd{
		Xmlns:    repoNamespace,
		XmlnsRpm: rpmNamespace,
		Revision: now.Unix(),
	}

	for _, f := range files {
		checksum, err := utils.Digest(digest, f.Compressed)
		if err != nil {
			return nil, err
		}
		openChecksum, err := utils.Digest(digest, f.Open)
		if err != nil {
			return nil, err
		}

		md.Data = append(md.Data, repomdData{
			Type:         f.Type,
			Checksum:     repomdChecksum{Type: digest, Value: checksum},
			OpenChecksum: repomdChecksum{Type: digest, Value: openChecksum},
			Location:     repomdLocation{Href: f.Href},
			Timestamp:    now.Unix(),
			Size:         int64(len(f.Compressed)),
			OpenSize:     int64(len(f.Open)),
		})
	}

	xmlBytes, err := xml.MarshalIndent(md, "", "  ")
	if err != nil {
		return nil, err
	}

	return append([]byte(xml.Header), xmlBytes...), nil
}

type readRepomd struct {
	Data []repomdData `xml:"data"`
}

// primaryLocation returns the href of the primary data in a repomd.xml.
func primaryLocation(data []byte) (string, error) {
	var md readRepomd
	if err := xml.Unmarshal(data, &md); err != nil {
		return "", fmt.Errorf("failed to parse repomd.xml: %w", err)
	}
	for _, d := range md.Data {
		if d.Type == "primary" {
			return d.Location.Href, nil
		}
	}
	return "", fmt.Errorf("repomd.xml lists no primary data")
}
