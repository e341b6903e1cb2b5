package config

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Config is the persisted single source of truth: tool templates under
// settings plus per-tool installation state.
type Config struct {
	Settings Settings              `json:"settings" yaml:"settings"`
	Tools    map[string]*ToolState `json:"tools" yaml:"tools"`
}

// Settings holds tool templates and global knobs. Fields missing from
// a persisted file take the documented defaults on load.
type Settings struct {
	ToolTemplates      map[string]*ToolTemplate `json:"toolTemplates" yaml:"toolTemplates"`
	CacheExpireTime    int                      `json:"cacheExpireTime" yaml:"cacheExpireTime"`       // seconds
	RequestRateLimit   int                      `json:"requestRateLimit" yaml:"requestRateLimit"`     // requests/second
	DownloadRetryCount int                      `json:"downloadRetryCount" yaml:"downloadRetryCount"` // per-mirror attempts
	DownloadSpeedLimit int64                    `json:"downloadSpeedLimit" yaml:"downloadSpeedLimit"` // bytes/second, 0 = unlimited
}

const (
	DefaultCacheExpireTime    = 86400
	DefaultRequestRateLimit   = 10
	DefaultDownloadRetryCount = 3
)

// ToolTemplate describes how a tool is discovered, fetched and
// activated. Immutable except via SaveToolTemplate / SetToolRoot.
type ToolTemplate struct {
	ToolRoot       string     `json:"toolRoot" yaml:"toolRoot"`
	MirrorList     []string   `json:"mirrorList" yaml:"mirrorList"`
	VersionCommand string     `json:"versionCommand" yaml:"versionCommand"`
	EnvRule        EnvRule    `json:"envRule" yaml:"envRule"`
	FetchRule      *FetchRule `json:"fetchRule,omitempty" yaml:"fetchRule,omitempty"`
}

// EnvRule drives EnvironmentManager: the home variable plus PATH
// entries relative to the active version directory.
type EnvRule struct {
	HomeVar     string   `json:"homeVar" yaml:"homeVar"`
	PathEntries []string `json:"pathEntries" yaml:"pathEntries"`
	Scope       string   `json:"scope,omitempty" yaml:"scope,omitempty"` // ScopeUser or ScopeMachine
}

const (
	ScopeUser    = "user"
	ScopeMachine = "machine"
)

// FetchRule tells RemoteFetcher how to discover versions on a mirror
// (JSON index or HTML regex) and how artifact URLs are rendered.
// Template placeholders: {mirror} {version} {major} {minor} {patch}
// {arch} {os}.
type FetchRule struct {
	VersionPattern      string            `json:"versionPattern,omitempty" yaml:"versionPattern,omitempty"`
	IndexFile           string            `json:"indexFile,omitempty" yaml:"indexFile,omitempty"`
	VersionField        string            `json:"versionField,omitempty" yaml:"versionField,omitempty"`
	LTSField            string            `json:"ltsField,omitempty" yaml:"ltsField,omitempty"`
	DownloadURLTemplate string            `json:"downloadUrlTemplate" yaml:"downloadUrlTemplate"`
	ArchMap             map[string]string `json:"archMap,omitempty" yaml:"archMap,omitempty"`
}

// ToolState is the per-tool installation record. installedVersions and
// lockedVersions are kept sorted; lockedVersions is always a subset of
// installedVersions.
type ToolState struct {
	InstalledVersions []string `json:"installedVersions" yaml:"installedVersions"`
	CurrentVersion    string   `json:"currentVersion,omitempty" yaml:"currentVersion,omitempty"`
	LockedVersions    []string `json:"lockedVersions" yaml:"lockedVersions"`
}

// RemoteVersion is one entry of a tool's remote catalog as cached.
type RemoteVersion struct {
	Version     string `json:"version"`
	IsLTS       bool   `json:"isLts"`
	DownloadURL string `json:"downloadUrl,omitempty"`
}

// CacheEntry is one tool's cached remote catalog with its freshness
// timestamp.
type CacheEntry struct {
	FetchedAt time.Time       `json:"fetchedAt"`
	Versions  []RemoteVersion `json:"versions"`
}

// Fresh reports whether the entry is younger than ttl.
func (e *CacheEntry) Fresh(ttl time.Duration) bool {
	if e == nil {
		return false
	}
	return time.Since(e.FetchedAt) < ttl
}

// HasInstalled reports membership of v in the installed set.
func (s *ToolState) HasInstalled(v string) bool {
	return contains(s.InstalledVersions, v)
}

// IsLocked reports membership of v in the locked set.
func (s *ToolState) IsLocked(v string) bool {
	return contains(s.LockedVersions, v)
}

// AddInstalled inserts v into the installed set.
func (s *ToolState) AddInstalled(v string) {
	s.InstalledVersions = insert(s.InstalledVersions, v)
}

// RemoveInstalled drops v from both the installed and locked sets,
// preserving lockedVersions ⊆ installedVersions.
func (s *ToolState) RemoveInstalled(v string) {
	s.InstalledVersions = remove(s.InstalledVersions, v)
	s.LockedVersions = remove(s.LockedVersions, v)
}

// SetLocked toggles v's membership in the locked set. Locking a
// version that is not installed is rejected by the caller.
func (s *ToolState) SetLocked(v string, locked bool) {
	if locked {
		s.LockedVersions = insert(s.LockedVersions, v)
	} else {
		s.LockedVersions = remove(s.LockedVersions, v)
	}
}

func (s *ToolState) clone() *ToolState {
	cp := &ToolState{CurrentVersion: s.CurrentVersion}
	cp.InstalledVersions = append([]string(nil), s.InstalledVersions...)
	cp.LockedVersions = append([]string(nil), s.LockedVersions...)
	return cp
}

func (t *ToolTemplate) clone() *ToolTemplate {
	cp := *t
	cp.MirrorList = append([]string(nil), t.MirrorList...)
	cp.EnvRule.PathEntries = append([]string(nil), t.EnvRule.PathEntries...)
	if t.FetchRule != nil {
		fr := *t.FetchRule
		if t.FetchRule.ArchMap != nil {
			fr.ArchMap = make(map[string]string, len(t.FetchRule.ArchMap))
			for k, v := range t.FetchRule.ArchMap {
				fr.ArchMap[k] = v
			}
		}
		cp.FetchRule = &fr
	}
	return &cp
}

func (c *Config) clone() *Config {
	cp := &Config{Settings: c.Settings}
	cp.Settings.ToolTemplates = make(map[string]*ToolTemplate, len(c.Settings.ToolTemplates))
	for name, t := range c.Settings.ToolTemplates {
		cp.Settings.ToolTemplates[name] = t.clone()
	}
	cp.Tools = make(map[string]*ToolState, len(c.Tools))
	for name, s := range c.Tools {
		cp.Tools[name] = s.clone()
	}
	return cp
}

// validate enforces the structural invariants before any save.
func (c *Config) validate() error {
	if c.Settings.ToolTemplates == nil {
		return fmt.Errorf("settings.toolTemplates missing")
	}
	if c.Tools == nil {
		return fmt.Errorf("tools missing")
	}
	for name, st := range c.Tools {
		for _, v := range st.LockedVersions {
			if !st.HasInstalled(v) {
				return fmt.Errorf("tool %s: locked version %s is not installed", name, v)
			}
		}
	}
	return nil
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func insert(set []string, v string) []string {
	v = strings.TrimSpace(v)
	if v == "" || contains(set, v) {
		return set
	}
	set = append(set, v)
	sort.Strings(set)
	return set
}

func remove(set []string, v string) []string {
	out := set[:0]
	for _, s := range set {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
