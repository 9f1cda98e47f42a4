package rpm

import (
	"bytes"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/ralt/repoindex/internal/models"
	"github.com/ralt/repoindex/internal/utils"
	"github.com/sassoftware/go-rpmutils"
)

// Keys of the RPM specific fields kept in PackageMetadata.Fields
const (
	fieldEpoch         = "Epoch"
	fieldRelease       = "Release"
	fieldSummary       = "Summary"
	fieldGroup         = "Group"
	fieldVendor        = "Vendor"
	fieldBuildHost     = "BuildHost"
	fieldSourceRPM     = "SourceRPM"
	fieldBuildTime     = "BuildTime"
	fieldInstalledSize = "InstalledSize"
	fieldProvides      = "Provides"
)

// Extract reads the header of an RPM blob.
func (g *Generator) Extract(blob []byte) (*models.PackageMetadata, error) {
	rpm, err := rpmutils.ReadRpm(bytes.NewReader(blob))
	if err != nil {
		return nil, models.Wrap(models.ErrInvalidPackageFormat, "", fmt.Errorf("failed to read RPM: %w", err))
	}
	return g.metadataFromHeader(rpm.Header, blob)
}

func (g *Generator) metadataFromHeader(h header, blob []byte) (*models.PackageMetadata, error) {
	name := tagName.from(h)
	ver := tagVersion.from(h)
	rel := tagRelease.from(h)
	arch := tagArch.from(h)

	for _, required := range []struct{ tag, value string }{
		{"name", name}, {"version", ver}, {"release", rel}, {"arch", arch},
	} {
		if required.value == "" {
			return nil, &models.IndexError{
				Type:    models.ErrInvalidPackageFormat,
				Package: name,
				Err:     fmt.Errorf("RPM header lacks the %s tag", required.tag),
			}
		}
	}

	if arch != "noarch" && len(g.config.Arches) > 0 && !slices.Contains(g.config.Arches, arch) {
		return nil, &models.IndexError{
			Type:    models.ErrUnsupportedVariant,
			Package: name,
			Err:     fmt.Errorf("architecture %s is not served by repository %s", arch, g.config.Name),
		}
	}

	epoch, _ := tagEpoch.from(h)
	buildTime, _ := tagBuildTime.from(h)
	installed, _ := tagSize.from(h)
	summary := tagSummary.from(h)

	description := tagDescription.from(h)
	if description == "" {
		description = summary
	}

	pkg := &models.PackageMetadata{
		Name:         name,
		Version:      evr(strconv.FormatInt(epoch, 10), ver, rel),
		Architecture: arch,
		Description:  description,
		Maintainer:   tagPackager.from(h),
		Homepage:     tagURL.from(h),
		License:      tagLicense.from(h),
		Dependencies: tagRequires.from(h),
		Variants:     []string{arch},
		Fields: []models.Field{
			{Key: fieldEpoch, Value: strconv.FormatInt(epoch, 10)},
			{Key: fieldRelease, Value: rel},
			{Key: fieldSummary, Value: summary},
			{Key: fieldGroup, Value: tagGroup.from(h)},
			{Key: fieldVendor, Value: tagVendor.from(h)},
			{Key: fieldBuildHost, Value: tagBuildHost.from(h)},
			{Key: fieldSourceRPM, Value: tagSourceRPM.from(h)},
			{Key: fieldBuildTime, Value: strconv.FormatInt(buildTime, 10)},
			{Key: fieldInstalledSize, Value: strconv.FormatInt(installed, 10)},
			{Key: fieldProvides, Value: strings.Join(tagProvides.from(h), "\n")},
		},
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

// evr renders epoch:version-release, leaving out a zero epoch.
func evr(epoch, ver, rel string) string {
	if epoch == "" || epoch == "0" {
		return ver + "-" + rel
	}
	return epoch + ":" + ver + "-" + rel
}

// splitEVR is the inverse of evr.
func splitEVR(v string) (epoch, ver, rel string) {
	epoch = "0"
	if i := strings.IndexByte(v, ':'); i >= 0 {
		epoch, v = v[:i], v[i+1:]
	}
	ver, rel = v, ""
	if i := strings.LastIndexByte(v, '-'); i >= 0 {
		ver, rel = v[:i], v[i+1:]
	}
	return epoch, ver, rel
}

func fieldInt(pkg *models.PackageMetadata, key string) int64 {
	v, _ := pkg.Field(key)
	n, _ := strconv.ParseInt(v, 10, 64)
	return n
}

func fieldString(pkg *models.PackageMetadata, key string) string {
	v, _ := pkg.Field(key)
	return v
}
