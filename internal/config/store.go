// Package config owns the persisted configuration (tool templates and
// per-tool installation state) plus the remote-version cache store.
// Every mutation is flushed with an atomic write before it returns.
package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"toolvm/internal/validate"
)

const (
	configFile = "config.json"
	cacheFile  = "cache.json"
)

// Dir returns the toolvm config directory under the user config base.
// On Linux this resolves to $XDG_CONFIG_HOME/toolvm; falls back to
// HOME when UserConfigDir is unavailable.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil || strings.TrimSpace(base) == "" {
		if home, herr := os.UserHomeDir(); herr == nil {
			base = home
		} else {
			return "", errors.New("cannot determine config directory")
		}
	}
	return filepath.Join(base, "toolvm"), nil
}

// Store is the ConfigStore: thread-safe access to the in-memory Config
// and its durable JSON file, plus the independently invalidatable
// remote-version cache.
type Store struct {
	mu    sync.RWMutex
	dir   string
	cfg   *Config
	cache map[string]*CacheEntry
}

// Open loads the store rooted at dir ("" selects the default config
// directory). It never returns a nil store with a nil error: an
// unreadable or malformed config file yields a store seeded with the
// bundled defaults plus a recoverable *ConfigError.
func Open(dir string) (*Store, error) {
	if dir == "" {
		d, err := Dir()
		if err != nil {
			return nil, err
		}
		dir = d
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &FilesystemError{Op: "mkdir", Path: dir, Err: err}
	}
	s := &Store{dir: dir, cache: map[string]*CacheEntry{}}
	loadErr := s.load()
	s.loadCache()
	return s, loadErr
}

func (s *Store) load() error {
	path := s.configPath()
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.cfg = defaultConfig()
			return s.persistLocked()
		}
		s.cfg = defaultConfig()
		return &ConfigError{Path: path, Err: err}
	}
	var cfg Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		s.cfg = defaultConfig()
		return &ConfigError{Path: path, Err: err}
	}
	applyDefaults(&cfg)
	if err := cfg.validate(); err != nil {
		s.cfg = defaultConfig()
		return &ConfigError{Path: path, Err: err}
	}
	s.cfg = &cfg
	return nil
}

// applyDefaults supplies the bundled template for any tool missing one
// and fills settings fields absent from older files.
func applyDefaults(cfg *Config) {
	if cfg.Settings.ToolTemplates == nil {
		cfg.Settings.ToolTemplates = map[string]*ToolTemplate{}
	}
	for name, t := range DefaultTemplates() {
		if _, ok := cfg.Settings.ToolTemplates[name]; !ok {
			cfg.Settings.ToolTemplates[name] = t
		}
	}
	if cfg.Settings.CacheExpireTime <= 0 {
		cfg.Settings.CacheExpireTime = DefaultCacheExpireTime
	}
	if cfg.Settings.RequestRateLimit <= 0 {
		cfg.Settings.RequestRateLimit = DefaultRequestRateLimit
	}
	if cfg.Settings.DownloadRetryCount <= 0 {
		cfg.Settings.DownloadRetryCount = DefaultDownloadRetryCount
	}
	if cfg.Tools == nil {
		cfg.Tools = map[string]*ToolState{}
	}
	for name := range cfg.Settings.ToolTemplates {
		if _, ok := cfg.Tools[name]; !ok {
			cfg.Tools[name] = newToolState()
		}
	}
	for _, st := range cfg.Tools {
		if st.InstalledVersions == nil {
			st.InstalledVersions = []string{}
		}
		if st.LockedVersions == nil {
			st.LockedVersions = []string{}
		}
	}
}

// Dir returns the store's root directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) configPath() string { return filepath.Join(s.dir, configFile) }
func (s *Store) cachePath() string  { return filepath.Join(s.dir, cacheFile) }

// HistoryPath is where the download history database lives.
func (s *Store) HistoryPath() string { return filepath.Join(s.dir, "history.db") }

// EnvScriptPath is the user-scope environment script.
func (s *Store) EnvScriptPath() string { return filepath.Join(s.dir, "env.sh") }

// DownloadsDir holds partial artifacts between download attempts.
func (s *Store) DownloadsDir() string { return filepath.Join(s.dir, "downloads") }

// Snapshot returns a deep copy of the current config.
func (s *Store) Snapshot() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.clone()
}

// Settings returns a copy of the global settings.
func (s *Store) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.cfg.Settings
	set.ToolTemplates = nil
	return set
}

// Template returns a copy of a tool's template.
func (s *Store) Template(tool string) (*ToolTemplate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.cfg.Settings.ToolTemplates[tool]
	if !ok {
		return nil, false
	}
	return t.clone(), true
}

// State returns a copy of a tool's installation state.
func (s *Store) State(tool string) (*ToolState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.cfg.Tools[tool]
	if !ok {
		return nil, false
	}
	return st.clone(), true
}

// ToolNames lists configured tools in sorted order.
func (s *Store) ToolNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.cfg.Settings.ToolTemplates))
	for name := range s.cfg.Settings.ToolTemplates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Mutate applies fn to the config under the single-writer lock and
// flushes the result atomically. If fn or the flush fails, the prior
// in-memory config stays authoritative.
func (s *Store) Mutate(fn func(*Config) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.cfg.clone()
	if err := fn(next); err != nil {
		return err
	}
	if err := next.validate(); err != nil {
		return err
	}
	prev := s.cfg
	s.cfg = next
	if err := s.persistLocked(); err != nil {
		s.cfg = prev
		return err
	}
	return nil
}

func (s *Store) persistLocked() error {
	b, err := json.MarshalIndent(s.cfg, "", "  ")
	if err != nil {
		return &FilesystemError{Op: "encode", Path: s.configPath(), Err: err}
	}
	return writeAtomic(s.configPath(), append(b, '\n'))
}

// writeAtomic writes data via a temp file in the same directory and
// renames it into place, so a failed write never corrupts the target.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &FilesystemError{Op: "mkdir", Path: dir, Err: err}
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return &FilesystemError{Op: "create", Path: path, Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &FilesystemError{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &FilesystemError{Op: "close", Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &FilesystemError{Op: "rename", Path: path, Err: err}
	}
	return nil
}

// AddTool registers a new tool: its bundled template when one exists,
// a blank skeleton otherwise, plus an empty state.
func (s *Store) AddTool(name string) error {
	name = validate.SanitizeToolName(name)
	if err := validate.ToolName(name); err != nil {
		return err
	}
	return s.Mutate(func(cfg *Config) error {
		if _, ok := cfg.Settings.ToolTemplates[name]; ok {
			return &DuplicateToolError{Name: name}
		}
		tmpl, ok := DefaultTemplates()[name]
		if !ok {
			tmpl = blankTemplate(name)
		}
		cfg.Settings.ToolTemplates[name] = tmpl
		if _, ok := cfg.Tools[name]; !ok {
			cfg.Tools[name] = newToolState()
		}
		return nil
	})
}

// DeleteTool removes a tool's template, state and cache entry. Files
// on disk are left alone: deleting configuration is not uninstalling.
func (s *Store) DeleteTool(name string) error {
	if err := s.Mutate(func(cfg *Config) error {
		delete(cfg.Settings.ToolTemplates, name)
		delete(cfg.Tools, name)
		return nil
	}); err != nil {
		return err
	}
	return s.DeleteCacheEntry(name)
}

// SetToolRoot updates where a tool's versions are stored.
func (s *Store) SetToolRoot(tool, path string) error {
	if path != "" {
		if err := validate.Path(path); err != nil {
			return err
		}
	}
	return s.Mutate(func(cfg *Config) error {
		t, ok := cfg.Settings.ToolTemplates[tool]
		if !ok {
			return errors.New("tool not configured: " + tool)
		}
		t.ToolRoot = filepath.Clean(path)
		return nil
	})
}

// SaveToolTemplate replaces a tool's template after validating its
// mirror URLs and root path.
func (s *Store) SaveToolTemplate(tool string, tmpl *ToolTemplate) error {
	if err := validate.ToolName(tool); err != nil {
		return err
	}
	for _, m := range tmpl.MirrorList {
		if err := validate.MirrorURL(m); err != nil {
			return err
		}
	}
	if tmpl.ToolRoot != "" {
		if err := validate.Path(tmpl.ToolRoot); err != nil {
			return err
		}
	}
	return s.Mutate(func(cfg *Config) error {
		cfg.Settings.ToolTemplates[tool] = tmpl.clone()
		return nil
	})
}

// ResetToDefault replaces the entire persisted config with the bundled
// default. Irreversible; confirmation is a collaborator concern.
func (s *Store) ResetToDefault() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.cfg
	s.cfg = defaultConfig()
	if err := s.persistLocked(); err != nil {
		s.cfg = prev
		return err
	}
	return nil
}
