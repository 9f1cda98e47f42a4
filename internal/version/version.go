// Package version orders package versions the way package managers do.
package version

import (
	"strconv"
	"strings"
)

// Comparator returns a negative number when a sorts before b, zero when they
// are equivalent and a positive number otherwise.
type Comparator func(a, b string) int

// Compare orders two versions of the form [epoch:]release[-revision].
//
// The epoch is an integer defaulting to 0. Release and revision are compared
// segment by segment: digit runs numerically, letter runs lexically, a digit
// run sorts after a letter run and '~' sorts before everything, even the end
// of the string. This matches dpkg and rpmvercmp on the inputs both accept.
func Compare(a, b string) int {
	if a == b {
		return 0
	}

	epochA, restA := splitEpoch(a)
	epochB, restB := splitEpoch(b)
	if epochA != epochB {
		if epochA < epochB {
			return -1
		}
		return 1
	}

	relA, revA := splitRevision(restA)
	relB, revB := splitRevision(restB)
	if c := compareSegments(relA, relB); c != 0 {
		return c
	}
	return compareSegments(revA, revB)
}

func splitEpoch(v string) (int64, string) {
	i := strings.IndexByte(v, ':')
	if i <= 0 {
		return 0, v
	}
	epoch, err := strconv.ParseInt(v[:i], 10, 64)
	if err != nil {
		return 0, v
	}
	return epoch, v[i+1:]
}

func splitRevision(v string) (string, string) {
	i := strings.LastIndexByte(v, '-')
	if i < 0 {
		return v, ""
	}
	return v[:i], v[i+1:]
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isAlpha(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }

func isSeparator(c byte) bool { return !isDigit(c) && !isAlpha(c) && c != '~' }

func compareSegments(a, b string) int {
	for {
		for len(a) > 0 && isSeparator(a[0]) {
			a = a[1:]
		}
		for len(b) > 0 && isSeparator(b[0]) {
			b = b[1:]
		}

		tildeA := len(a) > 0 && a[0] == '~'
		tildeB := len(b) > 0 && b[0] == '~'
		if tildeA || tildeB {
			if !tildeA {
				return 1
			}
			if !tildeB {
				return -1
			}
			a, b = a[1:], b[1:]
			continue
		}

		if len(a) == 0 || len(b) == 0 {
			break
		}

		var segA, segB string
		if isDigit(a[0]) {
			if !isDigit(b[0]) {
				return 1
			}
			segA, a = takeWhile(a, isDigit)
			segB, b = takeWhile(b, isDigit)
			if c := compareNumeric(segA, segB); c != 0 {
				return c
			}
			continue
		}
		if isDigit(b[0]) {
			return -1
		}
		segA, a = takeWhile(a, isAlpha)
		segB, b = takeWhile(b, isAlpha)
		if c := strings.Compare(segA, segB); c != 0 {
			return c
		}
	}

	switch {
	case len(a) == 0 && len(b) == 0:
		return 0
	case len(a) == 0:
		return -1
	default:
		return 1
	}
}

func takeWhile(s string, pred func(byte) bool) (string, string) {
	i := 0
	for i < len(s) && pred(s[i]) {
		i++
	}
	return s[:i], s[i:]
}

// compareNumeric compares arbitrarily long digit strings without overflow.
func compareNumeric(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}
