package manager

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"toolvm/internal/config"
	"toolvm/internal/envmgr"
	"toolvm/internal/history"
	"toolvm/internal/testutil"
)

func newManager(t *testing.T) (*Manager, *config.Store) {
	t.Helper()
	store, err := config.Open(t.TempDir())
	if err != nil {
		t.Fatalf("config.Open: %v", err)
	}
	// Probes would hit real binaries on the test host; point the
	// bundled tools at commands that cannot resolve.
	if err := store.Mutate(func(cfg *config.Config) error {
		for _, tmpl := range cfg.Settings.ToolTemplates {
			tmpl.VersionCommand = "toolvm-test-absent --version"
		}
		cfg.Settings.DownloadRetryCount = 1
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	m := New(store)
	t.Cleanup(m.Close)
	return m, store
}

func giveRoot(t *testing.T, store *config.Store, tool string, versions ...string) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), tool)
	for _, v := range versions {
		if err := os.MkdirAll(filepath.Join(root, v), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.SetToolRoot(tool, root); err != nil {
		t.Fatal(err)
	}
	return root
}

func install(t *testing.T, store *config.Store, tool string, versions ...string) {
	t.Helper()
	if err := store.Mutate(func(cfg *config.Config) error {
		for _, v := range versions {
			cfg.Tools[tool].AddInstalled(v)
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
}

func TestSwitchVersionPersistsOnSuccess(t *testing.T) {
	defer testutil.WithEnv(t, "PATH", "/usr/bin")()
	defer testutil.WithEnv(t, "PYTHON_HOME", "")()

	m, store := newManager(t)
	giveRoot(t, store, "python", "3.12.1", "3.11.0")
	install(t, store, "python", "3.12.1", "3.11.0")

	if err := m.SwitchVersion(context.Background(), "python", "3.12.1"); err != nil {
		t.Fatalf("SwitchVersion: %v", err)
	}
	cur, err := m.CurrentVersion("python")
	if err != nil || cur != "3.12.1" {
		t.Errorf("current = %q, %v", cur, err)
	}

	// Reopen: the switch survived persistence.
	s2, err := config.Open(store.Dir())
	if err != nil {
		t.Fatal(err)
	}
	st, _ := s2.State("python")
	if st.CurrentVersion != "3.12.1" {
		t.Errorf("persisted current = %q", st.CurrentVersion)
	}
}

func TestSwitchVersionNotInstalled(t *testing.T) {
	m, store := newManager(t)
	giveRoot(t, store, "python", "3.12.1")
	install(t, store, "python", "3.12.1")
	if err := m.SwitchVersion(context.Background(), "python", "3.12.1"); err != nil {
		t.Fatal(err)
	}

	err := m.SwitchVersion(context.Background(), "python", "9.9.9")
	var nf *VersionNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("error = %v, want VersionNotFoundError", err)
	}
	cur, _ := m.CurrentVersion("python")
	if cur != "3.12.1" {
		t.Errorf("failed switch changed current to %q", cur)
	}
}

func TestSwitchVersionEnvFailureLeavesCurrent(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission gate invisible as root")
	}
	m, store := newManager(t)
	giveRoot(t, store, "python", "3.12.1", "3.11.0")
	install(t, store, "python", "3.12.1", "3.11.0")
	if err := m.SwitchVersion(context.Background(), "python", "3.11.0"); err != nil {
		t.Fatal(err)
	}

	// Machine scope without elevation: env application fails.
	if err := store.Mutate(func(cfg *config.Config) error {
		cfg.Settings.ToolTemplates["python"].EnvRule.Scope = config.ScopeMachine
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	err := m.SwitchVersion(context.Background(), "python", "3.12.1")
	var perr *envmgr.PermissionError
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v, want PermissionError", err)
	}
	cur, _ := m.CurrentVersion("python")
	if cur != "3.11.0" {
		t.Errorf("failed env apply moved current to %q", cur)
	}
}

func TestUninstallGuards(t *testing.T) {
	m, store := newManager(t)
	root := giveRoot(t, store, "python", "3.12.1", "3.11.0", "3.10.0")
	install(t, store, "python", "3.12.1", "3.11.0", "3.10.0")
	if err := m.LockVersion("python", "3.11.0", true); err != nil {
		t.Fatal(err)
	}
	if err := m.SwitchVersion(context.Background(), "python", "3.12.1"); err != nil {
		t.Fatal(err)
	}

	var inv *InvalidStateError
	if err := m.UninstallVersion(context.Background(), "python", "3.11.0"); !errors.As(err, &inv) {
		t.Errorf("uninstall locked: %v, want InvalidStateError", err)
	}
	if err := m.UninstallVersion(context.Background(), "python", "3.12.1"); !errors.As(err, &inv) {
		t.Errorf("uninstall current: %v, want InvalidStateError", err)
	}
	// Guard failures leave directory and config untouched.
	if _, err := os.Stat(filepath.Join(root, "3.11.0")); err != nil {
		t.Error("guarded uninstall removed the directory")
	}
	st, _ := store.State("python")
	if !st.HasInstalled("3.11.0") || !st.IsLocked("3.11.0") {
		t.Error("guarded uninstall mutated config")
	}

	// The unguarded version goes away completely.
	if err := m.UninstallVersion(context.Background(), "python", "3.10.0"); err != nil {
		t.Fatalf("uninstall: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "3.10.0")); !os.IsNotExist(err) {
		t.Error("directory survived uninstall")
	}
	st, _ = store.State("python")
	if st.HasInstalled("3.10.0") {
		t.Error("config entry survived uninstall")
	}
}

func TestLockInvariantAfterMutations(t *testing.T) {
	m, store := newManager(t)
	giveRoot(t, store, "python", "3.12.1", "3.11.0")
	install(t, store, "python", "3.12.1", "3.11.0")

	if err := m.LockVersion("python", "3.12.1", true); err != nil {
		t.Fatal(err)
	}
	var nf *VersionNotFoundError
	if err := m.LockVersion("python", "9.9.9", true); !errors.As(err, &nf) {
		t.Errorf("locking uninstalled version: %v, want VersionNotFoundError", err)
	}

	check := func(stage string) {
		st, _ := store.State("python")
		for _, v := range st.LockedVersions {
			if !st.HasInstalled(v) {
				t.Errorf("%s: locked %s not in installed set", stage, v)
			}
		}
	}
	check("after lock")
	if err := m.LockVersion("python", "3.12.1", false); err != nil {
		t.Fatal(err)
	}
	check("after unlock")
	if err := m.UninstallVersion(context.Background(), "python", "3.11.0"); err != nil {
		t.Fatal(err)
	}
	check("after uninstall")
}

func TestRescanClearsVanishedCurrent(t *testing.T) {
	m, store := newManager(t)
	root := giveRoot(t, store, "python", "3.12.1", "3.11.0")
	install(t, store, "python", "3.12.1", "3.11.0")
	if err := m.SwitchVersion(context.Background(), "python", "3.12.1"); err != nil {
		t.Fatal(err)
	}

	// The directory vanishes outside the manager's control.
	if err := os.RemoveAll(filepath.Join(root, "3.12.1")); err != nil {
		t.Fatal(err)
	}
	m.markStale("python")

	// A switch on a stale tool rescans first; the vanished version is
	// no longer switchable and current has been cleared.
	err := m.SwitchVersion(context.Background(), "python", "3.12.1")
	var nf *VersionNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("switch to vanished version: %v, want VersionNotFoundError", err)
	}
	cur, _ := m.CurrentVersion("python")
	if cur != "" {
		t.Errorf("vanished current not cleared: %q", cur)
	}
	st, _ := store.State("python")
	if st.HasInstalled("3.12.1") {
		t.Error("vanished version still in installed set")
	}
	if !st.HasInstalled("3.11.0") {
		t.Error("surviving version lost in rescan")
	}
}

func zipArtifact(t *testing.T, topDir string, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(topDir + "/" + name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestInstallVersionRegistersAndRecords(t *testing.T) {
	artifact := zipArtifact(t, "python-3.12.1", map[string]string{"bin/python": "x"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(artifact)))
		w.Write(artifact)
	}))
	defer srv.Close()

	m, store := newManager(t)
	giveRoot(t, store, "python")
	if err := store.Mutate(func(cfg *config.Config) error {
		tmpl := cfg.Settings.ToolTemplates["python"]
		// A dead primary mirror: the artifact comes from the fallback.
		tmpl.MirrorList = []string{"http://127.0.0.1:1/", srv.URL + "/"}
		tmpl.FetchRule = &config.FetchRule{DownloadURLTemplate: "{mirror}python-{version}.zip"}
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	events, cancel := m.Subscribe()
	defer cancel()

	if err := m.InstallVersion(context.Background(), "python", "3.12.1"); err != nil {
		t.Fatalf("InstallVersion: %v", err)
	}
	st, _ := store.State("python")
	if !st.HasInstalled("3.12.1") {
		t.Error("installed set not updated after install")
	}

	recs, err := m.History("python")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Status != history.StatusSuccess {
		t.Errorf("history = %+v, want one success record", recs)
	}
	if want := srv.URL + "/python-3.12.1.zip"; len(recs) == 1 && recs[0].URL != want {
		t.Errorf("history URL = %q, want the mirror that served (%q)", recs[0].URL, want)
	}

	// The installed event arrived on the bus.
	deadline := time.After(3 * time.Second)
	for {
		select {
		case e := <-events:
			if e.Kind == EventInstalled && e.Version == "3.12.1" {
				return
			}
		case <-deadline:
			t.Fatal("no installed event observed")
		}
	}
}

func TestRescanKeepsStateWhenRootUnreadable(t *testing.T) {
	m, store := newManager(t)
	root := giveRoot(t, store, "python", "3.12.1")
	install(t, store, "python", "3.12.1")
	if err := m.LockVersion("python", "3.12.1", true); err != nil {
		t.Fatal(err)
	}

	// Swap the root for a regular file: reads fail without the root
	// being gone. A transient failure must not erase records.
	if err := os.RemoveAll(root); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(root, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := m.ListInstalled(context.Background(), "python"); err == nil {
		t.Fatal("expected error for unreadable root")
	}
	st, _ := store.State("python")
	if !st.HasInstalled("3.12.1") {
		t.Error("failed rescan erased the installed set")
	}
	if !st.IsLocked("3.12.1") {
		t.Error("failed rescan erased the lock")
	}
}

func TestInstallFailureRecordsHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	m, store := newManager(t)
	giveRoot(t, store, "python")
	if err := store.Mutate(func(cfg *config.Config) error {
		tmpl := cfg.Settings.ToolTemplates["python"]
		tmpl.MirrorList = []string{srv.URL + "/"}
		tmpl.FetchRule = &config.FetchRule{DownloadURLTemplate: "{mirror}python-{version}.zip"}
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	if err := m.InstallVersion(context.Background(), "python", "3.12.1"); err == nil {
		t.Fatal("expected install failure")
	}
	recs, _ := m.History("python")
	if len(recs) != 1 || recs[0].Status != history.StatusFailed {
		t.Errorf("history = %+v, want one failed record", recs)
	}
	if m.Status() == "" {
		t.Error("failure did not set a status message")
	}
}

func TestDeleteToolConfigInvalidatesCache(t *testing.T) {
	m, store := newManager(t)
	if err := store.SetCacheEntry("python", &config.CacheEntry{
		FetchedAt: time.Now(),
		Versions:  []config.RemoteVersion{{Version: "3.12.1"}},
	}); err != nil {
		t.Fatal(err)
	}
	if err := m.DeleteToolConfig("python"); err != nil {
		t.Fatal(err)
	}
	if _, ok := store.Template("python"); ok {
		t.Error("template survived DeleteToolConfig")
	}
	if store.CachedVersions("python") != nil {
		t.Error("cache survived DeleteToolConfig")
	}
}

func TestSnapshotIdle(t *testing.T) {
	m, _ := newManager(t)
	s := m.Snapshot()
	if s.InProgress || s.Download != nil {
		t.Errorf("idle snapshot reports a download: %+v", s)
	}
}

func TestSubscribeAfterCloseIsClosed(t *testing.T) {
	b := newBus(10 * time.Millisecond)
	b.close()
	ch, cancel := b.subscribe()
	if _, ok := <-ch; ok {
		t.Fatal("channel from a closed bus delivered an event")
	}
	cancel()
}

func TestProgressEventsCoalesced(t *testing.T) {
	m, _ := newManager(t)
	events, cancel := m.Subscribe()
	defer cancel()

	// A burst of progress updates for one tool collapses to the
	// latest snapshot per flush tick.
	for i := 0; i < 500; i++ {
		m.events.emit(Event{Kind: EventProgress, Tool: "python", Progress: nil})
	}
	time.Sleep(350 * time.Millisecond)
	got := 0
	for {
		select {
		case e := <-events:
			if e.Kind == EventProgress {
				got++
			}
		default:
			if got == 0 || got > 10 {
				t.Errorf("received %d progress events for a 500-update burst", got)
			}
			return
		}
	}
}
