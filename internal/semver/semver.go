// Package semver implements the version predicate used to gate
// protocol-versioned fields (spec.md §4/C11): parse a "major.minor.patch"
// string and test it against a range expression.
package semver

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/foundryfieldworks/tagwire/internal/codecerr"
)

// Version is a parsed major.minor.patch triple. Missing components default
// to zero, so "1" == "1.0.0" and "1.2" == "1.2.0".
type Version struct {
	Major, Minor, Patch int
}

// Parse parses a dotted version string.
func Parse(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Version{}, codecerr.New(codecerr.Annotation, "bad-version", "empty version string")
	}
	parts := strings.SplitN(s, ".", 3)
	nums := make([]int, 3)
	for i, p := range parts {
		if p == "" {
			return Version{}, codecerr.Newf(codecerr.Annotation, "bad-version", "empty version component in %q", s)
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Version{}, codecerr.Newf(codecerr.Annotation, "bad-version", "invalid version component %q in %q", p, s)
		}
		nums[i] = n
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// Compare returns -1, 0, or 1 as v is less than, equal to, or greater than o.
func (v Version) Compare(o Version) int {
	if v.Major != o.Major {
		return cmp(v.Major, o.Major)
	}
	if v.Minor != o.Minor {
		return cmp(v.Minor, o.Minor)
	}
	return cmp(v.Patch, o.Patch)
}

func cmp(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Range is an inclusive [Min, Max] version range; HasMax false means
// unbounded above.
type Range struct {
	Min, Max Version
	HasMax   bool
}

// ParseRange parses either a single version ("1.2.0", meaning >= that
// version), or a "min-max" range ("1.0.0-2.0.0").
func ParseRange(s string) (Range, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Range{}, codecerr.New(codecerr.Annotation, "bad-version", "empty version range")
	}
	if idx := strings.Index(s, "-"); idx >= 0 && strings.Count(s, ".") >= 2 {
		// Disambiguate "1.0.0-2.0.0" from a single version with no dash;
		// split on the dash that is not part of a malformed token.
		min, err := Parse(strings.TrimSpace(s[:idx]))
		if err != nil {
			return Range{}, err
		}
		max, err := Parse(strings.TrimSpace(s[idx+1:]))
		if err != nil {
			return Range{}, err
		}
		return Range{Min: min, Max: max, HasMax: true}, nil
	}
	min, err := Parse(s)
	if err != nil {
		return Range{}, err
	}
	return Range{Min: min}, nil
}

// Contains reports whether v falls within r (inclusive).
func (r Range) Contains(v Version) bool {
	if v.Compare(r.Min) < 0 {
		return false
	}
	if r.HasMax && v.Compare(r.Max) > 0 {
		return false
	}
	return true
}

// Satisfies is a convenience combining Parse/ParseRange/Contains for a
// field's protocol-version gate: does the firmware/protocol version string
// fall inside the declared range expression?
func Satisfies(versionStr, rangeExpr string) (bool, error) {
	v, err := Parse(versionStr)
	if err != nil {
		return false, err
	}
	r, err := ParseRange(rangeExpr)
	if err != nil {
		return false, err
	}
	return r.Contains(v), nil
}
