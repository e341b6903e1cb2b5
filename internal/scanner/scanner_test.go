package scanner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"toolvm/internal/config"
)

func newStore(t *testing.T) *config.Store {
	t.Helper()
	s, err := config.Open(t.TempDir())
	if err != nil {
		t.Fatalf("config.Open: %v", err)
	}
	return s
}

func mkVersions(t *testing.T, root string, versions ...string) {
	t.Helper()
	for _, v := range versions {
		if err := os.MkdirAll(filepath.Join(root, v), 0o755); err != nil {
			t.Fatal(err)
		}
	}
}

func TestScanSortsDescending(t *testing.T) {
	store := newStore(t)
	root := filepath.Join(t.TempDir(), "python")
	mkVersions(t, root, "3.11.0", "3.12.1", "2.7.18", "not-a-dir-version")
	// Non-version names are skipped; so are plain files.
	if err := os.WriteFile(filepath.Join(root, "3.9.9"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := store.SetToolRoot("python", root); err != nil {
		t.Fatal(err)
	}
	if err := store.Mutate(func(cfg *config.Config) error {
		cfg.Tools["python"].AddInstalled("3.12.1")
		cfg.Tools["python"].SetLocked("3.12.1", true)
		// Probe nothing: the bundled command is python3, absent in CI.
		cfg.Settings.ToolTemplates["python"].VersionCommand = "definitely-not-on-path --version"
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	got, err := New(store).Scan(context.Background(), "python")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	want := []string{"3.12.1", "3.11.0", "2.7.18"}
	if len(got) != len(want) {
		t.Fatalf("Scan returned %d entries, want %d: %+v", len(got), len(want), got)
	}
	for i, v := range want {
		if got[i].Version != v {
			t.Errorf("entry %d = %s, want %s", i, got[i].Version, v)
		}
	}
	if !got[0].Locked {
		t.Error("locked flag not mirrored from config")
	}
	if got[0].System {
		t.Error("managed entry flagged as system")
	}
}

func TestScanMissingRootIsEmpty(t *testing.T) {
	store := newStore(t)
	if err := store.SetToolRoot("python", filepath.Join(t.TempDir(), "missing")); err != nil {
		t.Fatal(err)
	}
	if err := store.Mutate(func(cfg *config.Config) error {
		cfg.Settings.ToolTemplates["python"].VersionCommand = "definitely-not-on-path --version"
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	got, err := New(store).Scan(context.Background(), "python")
	if err != nil {
		t.Fatalf("missing root must scan clean, got %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty scan, got %+v", got)
	}
}

func TestScanUnreadableRootReturnsError(t *testing.T) {
	store := newStore(t)
	// A regular file where the root directory should be: reads fail
	// without the root being absent.
	rootFile := filepath.Join(t.TempDir(), "rootfile")
	if err := os.WriteFile(rootFile, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := store.SetToolRoot("python", rootFile); err != nil {
		t.Fatal(err)
	}
	if err := store.Mutate(func(cfg *config.Config) error {
		cfg.Settings.ToolTemplates["python"].VersionCommand = "definitely-not-on-path --version"
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	got, err := New(store).Scan(context.Background(), "python")
	if err == nil {
		t.Fatal("expected error for unreadable root")
	}
	var ferr *config.FilesystemError
	if !errors.As(err, &ferr) {
		t.Fatalf("error = %T, want *config.FilesystemError", err)
	}
	if len(got) != 0 {
		t.Errorf("unreadable root still yielded entries: %+v", got)
	}
}

func TestScanSystemEntryPinnedFirst(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell-script probe")
	}
	store := newStore(t)
	binDir := t.TempDir()
	script := filepath.Join(binDir, "faketool")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho faketool 9.9.9\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))

	root := filepath.Join(t.TempDir(), "faketool")
	mkVersions(t, root, "1.0.0", "2.0.0")
	if err := store.AddTool("faketool"); err != nil {
		t.Fatal(err)
	}
	if err := store.SetToolRoot("faketool", root); err != nil {
		t.Fatal(err)
	}

	got, err := New(store).Scan(context.Background(), "faketool")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Scan returned %d entries, want 3: %+v", len(got), got)
	}
	if !got[0].System || got[0].Version != "9.9.9" {
		t.Errorf("first entry = %+v, want system 9.9.9", got[0])
	}
	if got[1].Version != "2.0.0" || got[2].Version != "1.0.0" {
		t.Errorf("managed order = %s, %s", got[1].Version, got[2].Version)
	}
}

func TestScanUnknownTool(t *testing.T) {
	store := newStore(t)
	got, err := New(store).Scan(context.Background(), "nope")
	if got != nil || err != nil {
		t.Fatalf("expected nil for unconfigured tool, got %+v, %v", got, err)
	}
}
