package rpm

import (
	"slices"
	"strings"

	"github.com/sassoftware/go-rpmutils"
)

// The header tags read from a package. Each tag has a fixed value shape so
// call sites never inspect what the header library returned.
var (
	tagName        = stringTag(rpmutils.NAME)
	tagVersion     = stringTag(rpmutils.VERSION)
	tagRelease     = stringTag(rpmutils.RELEASE)
	tagArch        = stringTag(rpmutils.ARCH)
	tagSummary     = stringTag(rpmutils.SUMMARY)
	tagDescription = stringTag(rpmutils.DESCRIPTION)
	tagPackager    = stringTag(rpmutils.PACKAGER)
	tagURL         = stringTag(rpmutils.URL)
	tagLicense     = stringTag(rpmutils.LICENSE)
	tagGroup       = stringTag(rpmutils.GROUP)
	tagVendor      = stringTag(rpmutils.VENDOR)
	tagBuildHost   = stringTag(rpmutils.BUILDHOST)
	tagSourceRPM   = stringTag(rpmutils.SOURCERPM)

	tagEpoch     = intTag(rpmutils.EPOCH)
	tagBuildTime = intTag(rpmutils.BUILDTIME)
	tagSize      = intTag(rpmutils.SIZE)

	tagRequires = stringsTag(rpmutils.REQUIRENAME)
	tagProvides = stringsTag(rpmutils.PROVIDENAME)
)

// header is the part of an rpmutils header the tags read from.
type header interface {
	Get(tag int) (interface{}, error)
}

// stringTag is a tag holding a single string
type stringTag int

func (t stringTag) from(h header) string {
	val, err := h.Get(int(t))
	if err != nil {
		return ""
	}

	switch v := val.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case []string:
		if len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

// intTag is a tag holding a single integer
type intTag int

func (t intTag) from(h header) (int64, bool) {
	val, err := h.Get(int(t))
	if err != nil {
		return 0, false
	}

	switch v := val.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint32:
		return int64(v), true
	case uint64:
		return int64(v), true
	case []int:
		if len(v) > 0 {
			return int64(v[0]), true
		}
	case []int32:
		if len(v) > 0 {
			return int64(v[0]), true
		}
	case []int64:
		if len(v) > 0 {
			return v[0], true
		}
	case []uint32:
		if len(v) > 0 {
			return int64(v[0]), true
		}
	case []uint64:
		if len(v) > 0 {
			return int64(v[0]), true
		}
	}
	return 0, false
}

// stringsTag is a tag holding a string array
type stringsTag int

func (t stringsTag) from(h header) []string {
	val, err := h.Get(int(t))
	if err != nil {
		return nil
	}

	var raw []string
	switch v := val.(type) {
	case []string:
		raw = v
	case string:
		raw = []string{v}
	}

	// Filter out empty strings and rpmlib() capabilities
	var result []string
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s != "" && !strings.HasPrefix(s, "rpmlib(") && !slices.Contains(result, s) {
			result = append(result, s)
		}
	}
	return result
}
