// Package envmgr mutates the persisted environment to activate a tool
// version: a home variable plus PATH segments, kept in a managed shell
// script with one block per tool so switching never accumulates stale
// segments.
package envmgr

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"toolvm/internal/config"
	"toolvm/internal/system"
)

// MachineScript is where machine-scope environment blocks live. A var
// so tests can redirect it.
var MachineScript = "/etc/profile.d/toolvm.sh"

const scriptHeader = "# Managed by toolvm. Blocks below are rewritten on version switch.\n"

// PermissionError reports that machine-scope mutation was requested
// without elevation. Distinct from I/O failure so callers can tell the
// user to elevate instead of chasing a disk problem.
type PermissionError struct {
	Scope string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("%s-scope environment change requires elevated privileges", e.Scope)
}

// Manager is the EnvironmentManager. Mutations are serialized: two
// interleaved applies could otherwise produce a PATH with duplicate or
// missing segments.
type Manager struct {
	store *config.Store
	mu    sync.Mutex
}

// New returns a Manager backed by store.
func New(store *config.Store) *Manager {
	return &Manager{store: store}
}

// ApplyVersion rewrites tool's environment block for version: the home
// variable becomes toolRoot/version and the PATH gains the rule's
// entries resolved against it. The current process environment is
// updated in step so child processes see the switch immediately.
func (m *Manager) ApplyVersion(tool, ver string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tmpl, ok := m.store.Template(tool)
	if !ok {
		return fmt.Errorf("tool not configured: %s", tool)
	}
	if tmpl.EnvRule.HomeVar == "" {
		return fmt.Errorf("tool %s has no home variable configured", tool)
	}
	scriptPath, err := m.scriptFor(tmpl)
	if err != nil {
		return err
	}

	home := filepath.Join(tmpl.ToolRoot, ver)
	block := renderBlock(tool, tmpl.EnvRule, home)
	if err := rewriteScript(scriptPath, tool, block); err != nil {
		return err
	}
	applyProcessEnv(tmpl.EnvRule, home)
	system.Logger.Debug("environment applied", "tool", tool, "version", ver, "script", scriptPath)
	return nil
}

// RemoveTool deletes tool's environment block and unsets its variables
// in the current process.
func (m *Manager) RemoveTool(tool string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tmpl, ok := m.store.Template(tool)
	if !ok {
		return fmt.Errorf("tool not configured: %s", tool)
	}
	scriptPath, err := m.scriptFor(tmpl)
	if err != nil {
		return err
	}
	if err := rewriteScript(scriptPath, tool, ""); err != nil {
		return err
	}
	if prev := os.Getenv(tmpl.EnvRule.HomeVar); prev != "" {
		os.Setenv("PATH", stripSegments(os.Getenv("PATH"), segments(tmpl.EnvRule, prev)))
	}
	os.Unsetenv(tmpl.EnvRule.HomeVar)
	return nil
}

// ScriptPath reports which script a tool's rule targets.
func (m *Manager) ScriptPath(tool string) (string, error) {
	tmpl, ok := m.store.Template(tool)
	if !ok {
		return "", fmt.Errorf("tool not configured: %s", tool)
	}
	return m.scriptFor(tmpl)
}

func (m *Manager) scriptFor(tmpl *config.ToolTemplate) (string, error) {
	if tmpl.EnvRule.Scope == config.ScopeMachine {
		if !system.IsElevated() {
			return "", &PermissionError{Scope: config.ScopeMachine}
		}
		return MachineScript, nil
	}
	return m.store.EnvScriptPath(), nil
}

// segments resolves the rule's relative PATH entries against home. An
// empty entry means home itself.
func segments(rule config.EnvRule, home string) []string {
	out := make([]string, 0, len(rule.PathEntries))
	for _, e := range rule.PathEntries {
		if e == "" || e == "." {
			out = append(out, home)
		} else {
			out = append(out, filepath.Join(home, e))
		}
	}
	return out
}

func renderBlock(tool string, rule config.EnvRule, home string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", blockStart(tool))
	fmt.Fprintf(&b, "export %s=%q\n", rule.HomeVar, home)
	if len(rule.PathEntries) > 0 {
		refs := make([]string, 0, len(rule.PathEntries))
		for _, e := range rule.PathEntries {
			if e == "" || e == "." {
				refs = append(refs, "$"+rule.HomeVar)
			} else {
				refs = append(refs, "$"+rule.HomeVar+"/"+filepath.ToSlash(e))
			}
		}
		fmt.Fprintf(&b, "export PATH=\"%s:$PATH\"\n", strings.Join(refs, ":"))
	}
	fmt.Fprintf(&b, "%s\n", blockEnd(tool))
	return b.String()
}

func blockStart(tool string) string { return "# >>> toolvm:" + tool + " >>>" }
func blockEnd(tool string) string   { return "# <<< toolvm:" + tool + " <<<" }

// rewriteScript replaces tool's managed block with block ("" removes
// it), leaving other tools' blocks untouched. The write is atomic.
func rewriteScript(path, tool, block string) error {
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return &config.FilesystemError{Op: "read", Path: path, Err: err}
	}
	content := string(existing)
	if content == "" {
		content = scriptHeader
	}
	content = removeBlock(content, tool)
	if block != "" {
		if !strings.HasSuffix(content, "\n") {
			content += "\n"
		}
		content += block
	}
	return writeScript(path, []byte(content))
}

func removeBlock(content, tool string) string {
	start := strings.Index(content, blockStart(tool))
	if start < 0 {
		return content
	}
	end := strings.Index(content[start:], blockEnd(tool))
	if end < 0 {
		// Truncated block, drop to the end.
		return content[:start]
	}
	tail := content[start+end+len(blockEnd(tool)):]
	tail = strings.TrimPrefix(tail, "\n")
	return content[:start] + tail
}

func writeScript(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &config.FilesystemError{Op: "mkdir", Path: dir, Err: err}
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return &config.FilesystemError{Op: "create", Path: path, Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &config.FilesystemError{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &config.FilesystemError{Op: "close", Path: path, Err: err}
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return &config.FilesystemError{Op: "chmod", Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &config.FilesystemError{Op: "rename", Path: path, Err: err}
	}
	return nil
}

// applyProcessEnv mirrors the script change into this process: the
// prior version's segments, derived from the old home value via the
// rule, are stripped before the new ones are prepended.
func applyProcessEnv(rule config.EnvRule, home string) {
	path := os.Getenv("PATH")
	if prev := os.Getenv(rule.HomeVar); prev != "" {
		path = stripSegments(path, segments(rule, prev))
	}
	newSegs := segments(rule, home)
	path = stripSegments(path, newSegs)
	if len(newSegs) > 0 {
		path = strings.Join(newSegs, string(os.PathListSeparator)) + string(os.PathListSeparator) + path
	}
	os.Setenv(rule.HomeVar, home)
	os.Setenv("PATH", path)
}

func stripSegments(path string, drop []string) string {
	dropSet := make(map[string]bool, len(drop))
	for _, d := range drop {
		dropSet[filepath.Clean(d)] = true
	}
	parts := strings.Split(path, string(os.PathListSeparator))
	kept := parts[:0]
	for _, p := range parts {
		if p == "" || dropSet[filepath.Clean(p)] {
			continue
		}
		kept = append(kept, p)
	}
	return strings.Join(kept, string(os.PathListSeparator))
}
