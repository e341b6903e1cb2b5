package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

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

func setMirrors(t *testing.T, store *config.Store, tool string, rule *config.FetchRule, mirrors ...string) {
	t.Helper()
	if err := store.Mutate(func(cfg *config.Config) error {
		tmpl := cfg.Settings.ToolTemplates[tool]
		tmpl.MirrorList = mirrors
		tmpl.FetchRule = rule
		return nil
	}); err != nil {
		t.Fatal(err)
	}
}

const pythonListing = `
<a href="3.12.1/">3.12.1/</a>
<a href="3.11.0/">3.11.0/</a>
<a href="3.11.5/">3.11.5/</a>
<a href="2.7.18/">2.7.18/</a>
`

var pythonRule = &config.FetchRule{
	VersionPattern:      `href="(\d+\.\d+\.\d+)/"`,
	DownloadURLTemplate: "{mirror}{version}/Python-{version}.tgz",
}

func TestFetchVersionsMirrorFallback(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(pythonListing))
	}))
	defer good.Close()

	store := newStore(t)
	setMirrors(t, store, "python", pythonRule, bad.URL+"/", good.URL+"/")

	got, err := New(store).FetchVersions(context.Background(), "python", true)
	if err != nil {
		t.Fatalf("FetchVersions: %v", err)
	}
	want := []string{"3.12.1", "3.11.5", "3.11.0", "2.7.18"}
	if len(got) != len(want) {
		t.Fatalf("got %d versions, want %d: %+v", len(got), len(want), got)
	}
	for i, v := range want {
		if got[i].Version != v {
			t.Errorf("version %d = %s, want %s", i, got[i].Version, v)
		}
	}

	// The successful mirror's result is written through to the cache.
	cached := store.CachedVersions("python")
	if cached == nil || len(cached.Versions) != len(want) {
		t.Fatal("cache not written through after successful fetch")
	}
	if cached.Versions[0].DownloadURL != good.URL+"/3.12.1/Python-3.12.1.tgz" {
		t.Errorf("downloadUrl = %s", cached.Versions[0].DownloadURL)
	}
}

func TestFetchVersionsAllMirrorsFail(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer bad.Close()

	store := newStore(t)
	setMirrors(t, store, "python", pythonRule, bad.URL+"/a/", bad.URL+"/b/")

	_, err := New(store).FetchVersions(context.Background(), "python", true)
	var mex *MirrorsExhaustedError
	if !errors.As(err, &mex) {
		t.Fatalf("error = %v, want MirrorsExhaustedError", err)
	}
	if len(mex.Attempts) != 2 {
		t.Errorf("attempts = %d, want 2", len(mex.Attempts))
	}
	if store.CachedVersions("python") != nil {
		t.Error("failed fetch must leave the cache unmodified")
	}
}

func TestFetchVersionsStaleCacheFallback(t *testing.T) {
	store := newStore(t)
	stale := &config.CacheEntry{
		FetchedAt: time.Now().Add(-48 * time.Hour),
		Versions:  []config.RemoteVersion{{Version: "3.10.0"}},
	}
	if err := store.SetCacheEntry("python", stale); err != nil {
		t.Fatal(err)
	}
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer bad.Close()
	setMirrors(t, store, "python", pythonRule, bad.URL+"/")

	got, err := New(store).FetchVersions(context.Background(), "python", false)
	var mex *MirrorsExhaustedError
	if !errors.As(err, &mex) {
		t.Fatalf("error = %v, want MirrorsExhaustedError", err)
	}
	if len(got) != 1 || got[0].Version != "3.10.0" {
		t.Errorf("stale fallback = %+v, want the cached entry", got)
	}
}

func TestFetchVersionsFreshCacheShortCircuits(t *testing.T) {
	store := newStore(t)
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(pythonListing))
	}))
	defer srv.Close()
	setMirrors(t, store, "python", pythonRule, srv.URL+"/")

	f := New(store)
	if _, err := f.FetchVersions(context.Background(), "python", false); err != nil {
		t.Fatal(err)
	}
	if _, err := f.FetchVersions(context.Background(), "python", false); err != nil {
		t.Fatal(err)
	}
	if hits != 1 {
		t.Errorf("mirror hit %d times, want 1 (fresh cache short-circuit)", hits)
	}
}

func TestFetchVersionsJSONIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/index.json" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`[
			{"version":"v20.11.0","lts":"Iron"},
			{"version":"v21.6.1","lts":false},
			{"version":"v18.19.0","lts":"Hydrogen"}
		]`))
	}))
	defer srv.Close()

	store := newStore(t)
	setMirrors(t, store, "node", &config.FetchRule{
		IndexFile:           "index.json",
		VersionField:        "version",
		LTSField:            "lts",
		DownloadURLTemplate: "{mirror}v{version}/node-v{version}.tar.gz",
	}, srv.URL+"/")

	got, err := New(store).FetchVersions(context.Background(), "node", true)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d versions: %+v", len(got), got)
	}
	if got[0].Version != "21.6.1" || got[0].IsLTS {
		t.Errorf("first = %+v, want 21.6.1 non-LTS", got[0])
	}
	if got[1].Version != "20.11.0" || !got[1].IsLTS {
		t.Errorf("second = %+v, want 20.11.0 LTS", got[1])
	}
}

func TestFetchVersionsFollowsRateLimitChanges(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(pythonListing))
	}))
	defer srv.Close()

	store := newStore(t)
	setMirrors(t, store, "python", pythonRule, srv.URL+"/")

	f := New(store)
	if err := store.Mutate(func(cfg *config.Config) error {
		cfg.Settings.RequestRateLimit = 3
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.FetchVersions(context.Background(), "python", true); err != nil {
		t.Fatal(err)
	}
	if got := int(f.limiter.Limit()); got != 3 {
		t.Errorf("limiter = %d req/s after settings change, want 3", got)
	}
	if f.limiter.Burst() != 3 {
		t.Errorf("burst = %d, want 3", f.limiter.Burst())
	}
}

func TestMirrorHealthOrdering(t *testing.T) {
	h := newHealthTracker()
	mirrors := []string{"a", "b", "c"}
	h.failure("a")
	h.failure("a")
	h.success("b")

	got := h.order(mirrors)
	if got[0] != "b" && got[0] != "c" {
		t.Errorf("order = %v, failing mirror should sort last", got)
	}
	if got[2] != "a" {
		t.Errorf("order = %v, want a last", got)
	}

	// A success resets the failure streak.
	h.success("a")
	got = h.order(mirrors)
	if got[0] != "a" {
		t.Errorf("order after reset = %v, want configured order restored", got)
	}
}

func TestGroupVersions(t *testing.T) {
	vs := []config.RemoteVersion{
		{Version: "3.12.1"},
		{Version: "3.11.0"},
		{Version: "3.11.5"},
		{Version: "2.7.18"},
	}
	groups := GroupVersions(vs, []string{"3.11.5"})
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}
	if groups[0].Major != "3" || groups[1].Major != "2" {
		t.Errorf("major order = %s, %s", groups[0].Major, groups[1].Major)
	}
	want := []string{"3.12.1", "3.11.5", "3.11.0"}
	for i, v := range want {
		if groups[0].Versions[i].Version != v {
			t.Errorf("group 3 member %d = %s, want %s", i, groups[0].Versions[i].Version, v)
		}
	}
	if !groups[0].Versions[1].Installed {
		t.Error("installed flag lost for 3.11.5")
	}
	if groups[0].Versions[0].Installed {
		t.Error("3.12.1 wrongly flagged installed")
	}
}

func TestGroupVersionsLTSFlag(t *testing.T) {
	vs := []config.RemoteVersion{
		{Version: "20.11.0", IsLTS: true},
		{Version: "21.6.1"},
	}
	groups := GroupVersions(vs, nil)
	if len(groups) != 2 {
		t.Fatalf("got %d groups", len(groups))
	}
	if groups[0].HasLTS || !groups[1].HasLTS {
		t.Errorf("hasLts: major 21 = %v, major 20 = %v", groups[0].HasLTS, groups[1].HasLTS)
	}
}
