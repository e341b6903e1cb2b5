package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestOpenSeedsDefaults(t *testing.T) {
	s := openTemp(t)
	if len(s.ToolNames()) == 0 {
		t.Fatal("expected bundled tools in a fresh store")
	}
	if _, ok := s.Template("python"); !ok {
		t.Fatal("bundled python template missing")
	}
	if _, err := os.Stat(s.configPath()); err != nil {
		t.Fatalf("fresh store did not persist config: %v", err)
	}
	set := s.Settings()
	if set.CacheExpireTime != DefaultCacheExpireTime {
		t.Errorf("cacheExpireTime = %d, want %d", set.CacheExpireTime, DefaultCacheExpireTime)
	}
	if set.DownloadRetryCount != DefaultDownloadRetryCount {
		t.Errorf("downloadRetryCount = %d, want %d", set.DownloadRetryCount, DefaultDownloadRetryCount)
	}
}

func TestRoundTripStable(t *testing.T) {
	s := openTemp(t)
	if err := s.Mutate(func(cfg *Config) error {
		cfg.Tools["python"].AddInstalled("3.12.1")
		cfg.Tools["python"].CurrentVersion = "3.12.1"
		return nil
	}); err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	first, err := os.ReadFile(s.configPath())
	if err != nil {
		t.Fatal(err)
	}

	// Reopen and rewrite without mutation.
	s2, err := Open(s.Dir())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := s2.Mutate(func(*Config) error { return nil }); err != nil {
		t.Fatalf("noop Mutate: %v", err)
	}
	second, err := os.ReadFile(s2.configPath())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Error("save(load()) changed the persisted bytes")
	}
}

func TestMalformedConfigFallsBack(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, configFile), []byte("{nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := Open(dir)
	if err == nil {
		t.Fatal("expected ConfigError for malformed file")
	}
	var cerr *ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("error = %T, want *ConfigError", err)
	}
	if s == nil || len(s.ToolNames()) == 0 {
		t.Fatal("store must stay usable with defaults after a ConfigError")
	}
}

func TestAddToolDuplicate(t *testing.T) {
	s := openTemp(t)
	if err := s.AddTool("mytool"); err != nil {
		t.Fatalf("AddTool: %v", err)
	}
	err := s.AddTool("mytool")
	var dup *DuplicateToolError
	if !errors.As(err, &dup) {
		t.Fatalf("second AddTool error = %v, want DuplicateToolError", err)
	}
}

func TestSaveToolTemplate(t *testing.T) {
	s := openTemp(t)
	tmpl := &ToolTemplate{
		ToolRoot:       filepath.Join(s.Dir(), "roots", "mytool"),
		MirrorList:     []string{"https://mirror.example.com/mytool/"},
		VersionCommand: "mytool --version",
		EnvRule:        EnvRule{HomeVar: "MYTOOL_HOME", PathEntries: []string{"bin"}},
	}
	if err := s.SaveToolTemplate("mytool", tmpl); err != nil {
		t.Fatalf("SaveToolTemplate: %v", err)
	}
	got, ok := s.Template("mytool")
	if !ok {
		t.Fatal("template not stored")
	}
	if got.EnvRule.HomeVar != "MYTOOL_HOME" {
		t.Errorf("homeVar = %q", got.EnvRule.HomeVar)
	}

	// The store keeps its own copy.
	tmpl.MirrorList[0] = "https://tampered.example.com/"
	got, _ = s.Template("mytool")
	if got.MirrorList[0] != "https://mirror.example.com/mytool/" {
		t.Error("stored template aliases caller memory")
	}

	bad := &ToolTemplate{MirrorList: []string{"ftp://nope/"}}
	if err := s.SaveToolTemplate("mytool", bad); err == nil {
		t.Error("expected mirror URL validation error")
	}
}

func TestAddToolRejectsBadNames(t *testing.T) {
	s := openTemp(t)
	for _, name := range []string{"", "../etc", "a/b"} {
		if err := s.AddTool(name); err == nil {
			t.Errorf("AddTool(%q) expected error", name)
		}
	}
}

func TestDeleteToolLeavesFilesDropsCache(t *testing.T) {
	s := openTemp(t)
	root := filepath.Join(t.TempDir(), "roots", "python")
	if err := os.MkdirAll(filepath.Join(root, "3.12.1"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := s.SetToolRoot("python", root); err != nil {
		t.Fatal(err)
	}
	if err := s.SetCacheEntry("python", &CacheEntry{
		FetchedAt: time.Now(),
		Versions:  []RemoteVersion{{Version: "3.12.1"}},
	}); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteTool("python"); err != nil {
		t.Fatalf("DeleteTool: %v", err)
	}
	if _, ok := s.Template("python"); ok {
		t.Error("template survived DeleteTool")
	}
	if s.CachedVersions("python") != nil {
		t.Error("cache entry survived DeleteTool")
	}
	// Installed files are not this layer's business.
	if _, err := os.Stat(filepath.Join(root, "3.12.1")); err != nil {
		t.Errorf("DeleteTool touched installed files: %v", err)
	}
}

func TestMutateRejectsLockInvariantViolation(t *testing.T) {
	s := openTemp(t)
	err := s.Mutate(func(cfg *Config) error {
		cfg.Tools["python"].LockedVersions = []string{"9.9.9"}
		return nil
	})
	if err == nil {
		t.Fatal("expected validation error for locked ⊄ installed")
	}
	st, _ := s.State("python")
	if len(st.LockedVersions) != 0 {
		t.Error("failed Mutate leaked into in-memory state")
	}
}

func TestMutateRollsBackOnPersistFailure(t *testing.T) {
	s := openTemp(t)
	// Replace the config file with a directory so the rename fails.
	if err := os.Remove(s.configPath()); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(s.configPath(), "block"), 0o755); err != nil {
		t.Fatal(err)
	}
	err := s.Mutate(func(cfg *Config) error {
		cfg.Tools["python"].AddInstalled("3.12.1")
		return nil
	})
	var ferr *FilesystemError
	if !errors.As(err, &ferr) {
		t.Fatalf("error = %v, want FilesystemError", err)
	}
	st, _ := s.State("python")
	if st.HasInstalled("3.12.1") {
		t.Error("failed persist left the mutation visible")
	}
}

func TestCacheFreshnessAndClear(t *testing.T) {
	s := openTemp(t)
	entry := &CacheEntry{
		FetchedAt: time.Now(),
		Versions:  []RemoteVersion{{Version: "20.11.0", IsLTS: true}},
	}
	if err := s.SetCacheEntry("node", entry); err != nil {
		t.Fatal(err)
	}
	got := s.CachedVersions("node")
	if got == nil || !got.Fresh(time.Hour) {
		t.Fatal("fresh entry reported stale")
	}
	stale := &CacheEntry{FetchedAt: time.Now().Add(-2 * time.Hour), Versions: entry.Versions}
	if stale.Fresh(time.Hour) {
		t.Error("stale entry reported fresh")
	}

	// The cache survives a reopen.
	s2, err := Open(s.Dir())
	if err != nil {
		t.Fatal(err)
	}
	if s2.CachedVersions("node") == nil {
		t.Fatal("cache entry lost across reopen")
	}

	if err := s2.ClearCache(); err != nil {
		t.Fatal(err)
	}
	if s2.CachedVersions("node") != nil {
		t.Error("ClearCache left an entry behind")
	}
}

func TestResetToDefault(t *testing.T) {
	s := openTemp(t)
	if err := s.AddTool("mytool"); err != nil {
		t.Fatal(err)
	}
	if err := s.ResetToDefault(); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Template("mytool"); ok {
		t.Error("ResetToDefault kept a user-added tool")
	}
	if _, ok := s.Template("python"); !ok {
		t.Error("ResetToDefault lost a bundled template")
	}
}
