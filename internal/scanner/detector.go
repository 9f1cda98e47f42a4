package scanner

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Magic bytes for package detection
var (
	// Debian packages start with "!<arch>\ndebian"
	debMagic = []byte("!<arch>\ndebian")

	// RPM packages start with 0xED 0xAB 0xEE 0xDB
	rpmMagic = []byte{0xED, 0xAB, 0xEE, 0xDB}

	// NuGet packages are zip archives
	zipMagic = []byte("PK\x03\x04")
)

// headerSize is how much of a file detection looks at
const headerSize = 512

// DetectPackageType determines the package type of a file on disk
func DetectPackageType(path string) (PackageType, error) {
	f, err := os.Open(path)
	if err != nil {
		return TypeUnknown, err
	}
	defer f.Close()

	header := make([]byte, headerSize)
	n, err := io.ReadFull(f, header)
	if err != nil && n == 0 {
		return TypeUnknown, err
	}
	return Detect(header[:n], filepath.Base(path)), nil
}

// Detect determines the package type from the leading bytes of a blob and
// its file name. Either may be empty.
func Detect(header []byte, name string) PackageType {
	ext := strings.ToLower(filepath.Ext(name))

	if bytes.HasPrefix(header, debMagic) || ext == ".deb" {
		return TypeDeb
	}

	if bytes.HasPrefix(header, rpmMagic) || ext == ".rpm" {
		return TypeRpm
	}

	// Other zip based formats share the magic, so the extension decides
	if ext == ".nupkg" && (len(header) == 0 || bytes.HasPrefix(header, zipMagic)) {
		return TypeNuget
	}

	return TypeUnknown
}
