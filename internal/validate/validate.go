// Package validate rejects malformed user input before it reaches
// configuration or the filesystem.
package validate

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

const maxToolNameLen = 64

var (
	toolNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)
	versionRe  = regexp.MustCompile(`^v?\d+(?:\.\d+)*(?:[\w.+-]*)$`)
)

// Error describes a rejected input value.
type Error struct {
	Field  string
	Value  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// ToolName checks that name is a safe lowercase identifier usable as a
// map key and a directory component.
func ToolName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return &Error{Field: "tool name", Value: name, Reason: "empty"}
	}
	if len(name) > maxToolNameLen {
		return &Error{Field: "tool name", Value: name, Reason: "too long"}
	}
	if strings.Contains(name, "..") {
		return &Error{Field: "tool name", Value: name, Reason: "path traversal"}
	}
	if !toolNameRe.MatchString(name) {
		return &Error{Field: "tool name", Value: name, Reason: "must match [a-z0-9][a-z0-9._-]*"}
	}
	return nil
}

// SanitizeToolName lowercases and trims a tool name.
func SanitizeToolName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Version checks that s looks like a version string and carries no
// path separators.
func Version(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return &Error{Field: "version", Value: s, Reason: "empty"}
	}
	if strings.ContainsAny(s, `/\`) || strings.Contains(s, "..") {
		return &Error{Field: "version", Value: s, Reason: "path characters not allowed"}
	}
	if !versionRe.MatchString(s) {
		return &Error{Field: "version", Value: s, Reason: "not a version string"}
	}
	return nil
}

// MirrorURL checks that raw is an absolute http(s) URL with a host.
func MirrorURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return &Error{Field: "mirror url", Value: raw, Reason: "empty"}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return &Error{Field: "mirror url", Value: raw, Reason: err.Error()}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &Error{Field: "mirror url", Value: raw, Reason: "scheme must be http or https"}
	}
	if u.Host == "" {
		return &Error{Field: "mirror url", Value: raw, Reason: "missing host"}
	}
	return nil
}

// Path checks that p is an absolute, clean filesystem path.
func Path(p string) error {
	p = strings.TrimSpace(p)
	if p == "" {
		return &Error{Field: "path", Value: p, Reason: "empty"}
	}
	if !filepath.IsAbs(p) {
		return &Error{Field: "path", Value: p, Reason: "must be absolute"}
	}
	if strings.Contains(p, "..") {
		return &Error{Field: "path", Value: p, Reason: "path traversal"}
	}
	return nil
}
