// Package version parses, compares and groups tool version strings.
// Versions are compared numerically where parseable, lexically
// otherwise.
package version

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	extractRe = regexp.MustCompile(`(?i)\bv?(\d+(?:\.\d+)*(?:[\w.+-]*))\b`)
	numsRe    = regexp.MustCompile(`\d+`)
)

// Parse extracts the first version-looking token from command output or
// a directory name. Returns "" when nothing matches.
func Parse(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	// Take first line; version banners put the number up front.
	line := strings.SplitN(s, "\n", 2)[0]
	if m := extractRe.FindStringSubmatch(line); len(m) > 1 {
		return m[1]
	}
	if m := extractRe.FindStringSubmatch(s); len(m) > 1 {
		return m[1]
	}
	return ""
}

// Normalize trims whitespace and a leading "v".
func Normalize(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "v")
}

// IsVersion reports whether s contains at least one numeric component.
func IsVersion(s string) bool {
	return len(numsRe.FindString(s)) > 0
}

// parts returns the numeric components of a version string.
func parts(v string) []int {
	fields := numsRe.FindAllString(Normalize(v), -1)
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			break
		}
		out = append(out, n)
	}
	return out
}

// Major returns the leading numeric component as a string, or "0" when
// the version has none.
func Major(v string) string {
	p := parts(v)
	if len(p) == 0 {
		return "0"
	}
	return strconv.Itoa(p[0])
}

// Compare returns -1, 0 or 1 ordering a before b. Numeric components
// are compared first; when they tie, a pre-release suffix sorts lower
// than a release, then the comparison falls back to lexical order.
func Compare(a, b string) int {
	ap, bp := parts(a), parts(b)
	n := len(ap)
	if len(bp) > n {
		n = len(bp)
	}
	for i := 0; i < n; i++ {
		av, bv := 0, 0
		if i < len(ap) {
			av = ap[i]
		}
		if i < len(bp) {
			bv = bp[i]
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	an, bn := Normalize(a), Normalize(b)
	aPre, bPre := strings.Contains(an, "-"), strings.Contains(bn, "-")
	if aPre != bPre {
		if aPre {
			return -1
		}
		return 1
	}
	return strings.Compare(an, bn)
}

// Less reports a < b under Compare ordering.
func Less(a, b string) bool { return Compare(a, b) < 0 }

// SortDesc sorts version strings in place, highest first. Unparseable
// strings fall back to descending lexical order via Compare.
func SortDesc(versions []string) {
	sort.SliceStable(versions, func(i, j int) bool {
		return Compare(versions[i], versions[j]) > 0
	})
}
