// Package testutil builds package fixtures in memory for tests.
package testutil

import (
	"archive/tar"
	"bytes"
	"fmt"
	"slices"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

// DebOptions describes a .deb fixture.
type DebOptions struct {
	Name         string
	Version      string
	Architecture string
	// Extra control lines appended verbatim, e.g. "Depends: libc6\n"
	Extra string
	// Compression of the control member: "gz" (default), "zst" or "none"
	Compression string
}

// BuildDeb returns a minimal but well formed .deb archive.
func BuildDeb(opts DebOptions) []byte {
	control := fmt.Sprintf("Package: %s\nVersion: %s\nArchitecture: %s\nMaintainer: Test <test@example.com>\nDescription: test package\n a longer description\n .\n second paragraph\n%s",
		opts.Name, opts.Version, opts.Architecture, opts.Extra)
	return BuildDebWithControl(control, opts.Compression)
}

// BuildDebWithControl wraps a raw control file into a .deb archive.
func BuildDebWithControl(control, compression string) []byte {
	tarData := tarOf(map[string]string{"./control": control})

	memberName := "control.tar"
	switch compression {
	case "", "gz":
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		w.Write(tarData)
		w.Close()
		tarData = buf.Bytes()
		memberName += ".gz"
	case "zst":
		enc, _ := zstd.NewWriter(nil)
		tarData = enc.EncodeAll(tarData, nil)
		enc.Close()
		memberName += ".zst"
	}

	var ar bytes.Buffer
	ar.WriteString("!<arch>\n")
	writeArMember(&ar, "debian-binary", []byte("2.0\n"))
	writeArMember(&ar, memberName, tarData)
	writeArMember(&ar, "data.tar", tarOf(nil))
	return ar.Bytes()
}

func writeArMember(buf *bytes.Buffer, name string, data []byte) {
	fmt.Fprintf(buf, "%-16s%-12s%-6s%-6s%-8s%-10d`\n", name+"/", "0", "0", "0", "100644", len(data))
	buf.Write(data)
	if len(data)%2 != 0 {
		buf.WriteByte('\n')
	}
}

func tarOf(files map[string]string) []byte {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, content := range files {
		tw.WriteHeader(&tar.Header{Name: name, Mode: 0644, Size: int64(len(content))})
		tw.Write([]byte(content))
	}
	tw.Close()
	return buf.Bytes()
}

// NupkgOptions describes a .nupkg fixture.
type NupkgOptions struct {
	ID          string
	Version     string
	Authors     string
	Description string
	// Extra metadata elements inserted verbatim into <metadata>
	Extra string
}

// BuildNupkg returns a zip archive with a root .nuspec.
func BuildNupkg(opts NupkgOptions) []byte {
	if opts.Authors == "" {
		opts.Authors = "Test Author"
	}
	if opts.Description == "" {
		opts.Description = "A test package"
	}
	nuspec := fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<package xmlns="http://schemas.microsoft.com/packaging/2013/05/nuspec.xsd">
  <metadata>
    <id>%s</id>
    <version>%s</version>
    <authors>%s</authors>
    <description>%s</description>
    %s
  </metadata>
</package>
`, opts.ID, opts.Version, opts.Authors, opts.Description, opts.Extra)
	return BuildZip(map[string]string{
		opts.ID + ".nuspec":   nuspec,
		"lib/net8.0/test.dll": "binary",
	})
}

// BuildZip returns a zip archive of files, written in name order.
func BuildZip(files map[string]string) []byte {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	slices.Sort(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, _ := zw.Create(name)
		w.Write([]byte(files[name]))
	}
	zw.Close()
	return buf.Bytes()
}
