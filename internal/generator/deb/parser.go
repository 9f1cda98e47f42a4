package deb

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/ralt/repoindex/internal/models"
	"github.com/ralt/repoindex/internal/utils"
)

const (
	arMagic      = "!<arch>\n"
	arHeaderSize = 60
	// maxControlSize bounds the control file read into memory
	maxControlSize = 1 << 20
)

// Extract parses a .deb blob and returns its metadata, with Variants set to
// the configured architectures the package is published for.
func (g *Generator) Extract(blob []byte) (*models.PackageMetadata, error) {
	control, err := ReadControl(bytes.NewReader(blob))
	if err != nil {
		return nil, models.Wrap(models.ErrInvalidPackageFormat, "", err)
	}

	pkg, err := metadataFromControl(control)
	if err != nil {
		return nil, err
	}

	pkg.Variants = g.variants(pkg.Architecture)
	if len(pkg.Variants) == 0 {
		return nil, &models.IndexError{
			Type:    models.ErrUnsupportedVariant,
			Package: pkg.Name,
			Err:     fmt.Errorf("architecture %q is not served by repository %s (%s)", pkg.Architecture, g.config.Name, strings.Join(g.config.Arches, ", ")),
		}
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

// variants maps a declared architecture onto the configured ones. "all"
// is published in every configured architecture.
func (g *Generator) variants(declared string) []string {
	var out []string
	for _, arch := range strings.Fields(declared) {
		if arch == "all" {
			return slices.Clone(g.config.Arches)
		}
		if slices.Contains(g.config.Arches, arch) && !slices.Contains(out, arch) {
			out = append(out, arch)
		}
	}
	return out
}

func metadataFromControl(control Paragraph) (*models.PackageMetadata, error) {
	pkg := &models.PackageMetadata{
		Name:         control.Get("Package"),
		Version:      control.Get("Version"),
		Architecture: control.Get("Architecture"),
		Maintainer:   control.Get("Maintainer"),
		Homepage:     control.Get("Homepage"),
		Description:  control.Get("Description"),
		Fields:       control,
	}

	for _, required := range []struct{ key, value string }{
		{"Package", pkg.Name},
		{"Version", pkg.Version},
		{"Architecture", pkg.Architecture},
	} {
		if required.value == "" {
			return nil, &models.IndexError{
				Type:    models.ErrInvalidPackageFormat,
				Package: pkg.Name,
				Err:     fmt.Errorf("control file is missing the %s field", required.key),
			}
		}
	}

	if deps := control.Get("Depends"); deps != "" {
		for _, dep := range strings.Split(deps, ",") {
			if dep = strings.TrimSpace(dep); dep != "" {
				pkg.Dependencies = append(pkg.Dependencies, dep)
			}
		}
	}

	return pkg, nil
}

// ReadControl streams an ar archive and returns the control paragraph of
// its control.tar member. The reader is consumed sequentially and never
// seeked, so the whole package does not need to be buffered.
func ReadControl(r io.Reader) (Paragraph, error) {
	magic := make([]byte, len(arMagic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != arMagic {
		return nil, fmt.Errorf("not an ar archive")
	}

	header := make([]byte, arHeaderSize)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("control.tar not found in package")
			}
			return nil, fmt.Errorf("failed to read ar header: %w", err)
		}
		if string(header[58:60]) != "`\n" {
			return nil, fmt.Errorf("corrupt ar header")
		}

		// GNU ar terminates names with a slash
		name := strings.TrimRight(strings.TrimSpace(string(header[0:16])), "/")
		size, err := strconv.ParseInt(strings.TrimSpace(string(header[48:58])), 10, 64)
		if err != nil || size < 0 {
			return nil, fmt.Errorf("invalid size for ar member %s", name)
		}

		if strings.HasPrefix(name, "control.tar") {
			control, err := readControlTar(name, io.LimitReader(r, size))
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			return control, nil
		}

		// Members are aligned to 2-byte boundaries
		skip := size + size%2
		if n, err := io.CopyN(io.Discard, r, skip); err != nil && !(errors.Is(err, io.EOF) && n >= size) {
			return nil, fmt.Errorf("truncated ar member %s", name)
		}
	}
}

func readControlTar(name string, r io.Reader) (Paragraph, error) {
	dr, err := utils.NewDecompressor(name, r)
	if err != nil {
		return nil, err
	}
	defer dr.Close()

	tr := tar.NewReader(dr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, fmt.Errorf("control file not found")
		}
		if err != nil {
			return nil, err
		}

		if hdr.Name != "./control" && hdr.Name != "control" {
			continue
		}

		data, err := io.ReadAll(io.LimitReader(tr, maxControlSize+1))
		if err != nil {
			return nil, err
		}
		if len(data) > maxControlSize {
			return nil, fmt.Errorf("control file too large")
		}

		paragraphs, err := ParseParagraphs(data)
		if err != nil {
			return nil, err
		}
		if len(paragraphs) == 0 {
			return nil, fmt.Errorf("control file is empty")
		}
		return paragraphs[0], nil
	}
}
