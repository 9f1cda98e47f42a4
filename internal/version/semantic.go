package version

import (
	"regexp"
	"strings"
)

var semanticPattern = regexp.MustCompile(
	`^(\d+)\.(\d+)(?:\.(\d+)(?:\.(\d+))?)?` +
		`(?:-([0-9A-Za-z\-]+(?:\.[0-9A-Za-z\-]+)*))?` +
		`(?:\+([0-9A-Za-z\-]+(?:\.[0-9A-Za-z\-]+)*))?$`,
)

// Semantic is a parsed NuGet style version.
type Semantic struct {
	Major, Minor, Patch, Revision string
	Label                         string
	Metadata                      string
}

// ParseSemantic parses major.minor[.patch[.revision]][-label][+metadata].
func ParseSemantic(v string) (Semantic, bool) {
	m := semanticPattern.FindStringSubmatch(v)
	if m == nil {
		return Semantic{}, false
	}
	return Semantic{
		Major:    m[1],
		Minor:    m[2],
		Patch:    m[3],
		Revision: m[4],
		Label:    m[5],
		Metadata: m[6],
	}, true
}

// IsPrerelease reports whether the version carries a pre-release label.
func (s Semantic) IsPrerelease() bool { return s.Label != "" }

// IsSemVer2 reports whether the version needs SemVer 2.0.0 aware clients.
func (s Semantic) IsSemVer2() bool {
	return s.Metadata != "" || strings.Contains(s.Label, ".")
}

// Normalized renders the version without leading zeros, zero revision and
// build metadata.
func (s Semantic) Normalized() string {
	var b strings.Builder
	b.WriteString(trimZeros(s.Major))
	b.WriteByte('.')
	b.WriteString(trimZeros(s.Minor))
	b.WriteByte('.')
	b.WriteString(trimZeros(orZero(s.Patch)))
	if rev := trimZeros(orZero(s.Revision)); rev != "0" {
		b.WriteByte('.')
		b.WriteString(rev)
	}
	if s.Label != "" {
		b.WriteByte('-')
		b.WriteString(s.Label)
	}
	return b.String()
}

// NormalizeSemantic normalizes v, returning it unchanged when unparseable.
func NormalizeSemantic(v string) string {
	s, ok := ParseSemantic(v)
	if !ok {
		return v
	}
	return s.Normalized()
}

// CompareSemantic orders NuGet versions. A pre-release sorts before the
// release it precedes and build metadata is ignored. Inputs that do not
// parse are ordered with Compare.
func CompareSemantic(a, b string) int {
	if a == b {
		return 0
	}
	sa, okA := ParseSemantic(a)
	sb, okB := ParseSemantic(b)
	if !okA || !okB {
		return Compare(a, b)
	}
	for _, pair := range [][2]string{
		{sa.Major, sb.Major},
		{sa.Minor, sb.Minor},
		{orZero(sa.Patch), orZero(sb.Patch)},
		{orZero(sa.Revision), orZero(sb.Revision)},
	} {
		if c := compareNumeric(pair[0], pair[1]); c != 0 {
			return c
		}
	}
	return compareLabels(sa.Label, sb.Label)
}

func compareLabels(a, b string) int {
	switch {
	case a == "" && b == "":
		return 0
	case a == "":
		return 1
	case b == "":
		return -1
	}
	partsA := strings.Split(a, ".")
	partsB := strings.Split(b, ".")
	for i := 0; i < len(partsA) && i < len(partsB); i++ {
		pa, pb := partsA[i], partsB[i]
		numA, numB := allDigits(pa), allDigits(pb)
		switch {
		case numA && numB:
			if c := compareNumeric(pa, pb); c != 0 {
				return c
			}
		case numA:
			return -1
		case numB:
			return 1
		default:
			if c := strings.Compare(strings.ToLower(pa), strings.ToLower(pb)); c != 0 {
				return c
			}
		}
	}
	switch {
	case len(partsA) < len(partsB):
		return -1
	case len(partsA) > len(partsB):
		return 1
	}
	return 0
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return true
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

func trimZeros(s string) string {
	t := strings.TrimLeft(s, "0")
	if t == "" {
		return "0"
	}
	return t
}
