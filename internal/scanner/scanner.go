// Package scanner reconciles a tool's on-disk installation root with
// the configured catalog and probes the externally-visible install.
package scanner

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"toolvm/internal/config"
	"toolvm/internal/system"
	"toolvm/internal/version"
)

const probeTimeout = 10 * time.Second

// InstalledVersion is a version found on disk. System entries were not
// installed by the manager and must never be deleted or relocated.
type InstalledVersion struct {
	Version string `json:"version"`
	Path    string `json:"path"`
	System  bool   `json:"isSystem"`
	Locked  bool   `json:"locked"`
}

// Scanner lists installed versions under a tool's root directory.
type Scanner struct {
	store *config.Store
}

// New returns a Scanner backed by store.
func New(store *config.Store) *Scanner {
	return &Scanner{store: store}
}

// Scan lists subdirectories of the tool root whose names parse as
// versions, probes the externally-visible binary via the template's
// version command, and returns the result sorted descending with a
// system entry, if any, pinned first. A missing root is simply empty;
// any other read failure is returned alongside whatever was found, so
// callers never mistake an unreadable root for an empty one.
func (s *Scanner) Scan(ctx context.Context, tool string) ([]InstalledVersion, error) {
	tmpl, ok := s.store.Template(tool)
	if !ok {
		return nil, nil
	}
	st, _ := s.store.State(tool)

	var out []InstalledVersion
	var scanErr error
	if tmpl.ToolRoot != "" {
		entries, err := os.ReadDir(tmpl.ToolRoot)
		if err != nil && !os.IsNotExist(err) {
			scanErr = &config.FilesystemError{Op: "scan", Path: tmpl.ToolRoot, Err: err}
		}
		for _, e := range entries {
			if !e.IsDir() || !version.IsVersion(e.Name()) {
				continue
			}
			iv := InstalledVersion{
				Version: e.Name(),
				Path:    filepath.Join(tmpl.ToolRoot, e.Name()),
			}
			if st != nil {
				iv.Locked = st.IsLocked(iv.Version)
			}
			out = append(out, iv)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return version.Compare(out[i].Version, out[j].Version) > 0
	})

	if sys, ok := s.probeSystem(ctx, tool, tmpl); ok {
		out = append([]InstalledVersion{sys}, out...)
	}
	return out, scanErr
}

// probeSystem runs the template's version command and reports a system
// entry when the resolved binary lives outside the tool root.
func (s *Scanner) probeSystem(ctx context.Context, tool string, tmpl *config.ToolTemplate) (InstalledVersion, bool) {
	fields := strings.Fields(tmpl.VersionCommand)
	if len(fields) == 0 {
		return InstalledVersion{}, false
	}
	binPath, err := exec.LookPath(fields[0])
	if err != nil {
		return InstalledVersion{}, false
	}
	if resolved, err := filepath.EvalSymlinks(binPath); err == nil {
		binPath = resolved
	}
	if tmpl.ToolRoot != "" && underDir(binPath, tmpl.ToolRoot) {
		// A managed version already on PATH is not a system install.
		return InstalledVersion{}, false
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	out, err := runProbe(ctx, binPath, fields[1:]...)
	if err != nil && strings.TrimSpace(out) == "" {
		system.Logger.Debug("version probe failed", "tool", tool, "cmd", tmpl.VersionCommand, "err", err)
		return InstalledVersion{}, false
	}
	ver := version.Parse(out)
	if ver == "" {
		return InstalledVersion{}, false
	}
	return InstalledVersion{Version: ver, Path: binPath, System: true}, true
}

// runProbe executes the probe command and returns combined output.
func runProbe(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	// Avoid pagers and color escapes in version banners.
	cmd.Env = append(os.Environ(), "NO_COLOR=1")
	out, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return "", ctx.Err()
	}
	return string(out), err
}

func underDir(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}
