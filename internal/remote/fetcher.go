// Package remote retrieves installable version catalogs from a tool's
// configured mirrors, tried in health order with cache write-through.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"toolvm/internal/config"
	"toolvm/internal/system"
	"toolvm/internal/version"
)

const (
	requestTimeout = 15 * time.Second
	maxBodyBytes   = 16 << 20
)

// Fetcher is the RemoteFetcher: per-tool version catalogs with mirror
// fallback, rate limiting and write-through caching.
type Fetcher struct {
	store   *config.Store
	client  *http.Client
	limiter *rate.Limiter
	health  *healthTracker
}

// New returns a Fetcher backed by store. The request rate limit comes
// from the store's settings and is re-read on every fetch.
func New(store *config.Store) *Fetcher {
	f := &Fetcher{
		store:   store,
		client:  &http.Client{Timeout: requestTimeout},
		limiter: rate.NewLimiter(rate.Limit(config.DefaultRequestRateLimit), config.DefaultRequestRateLimit),
		health:  newHealthTracker(),
	}
	f.syncRateLimit()
	return f
}

// syncRateLimit folds settings changes made after construction into
// the shared limiter.
func (f *Fetcher) syncRateLimit() {
	rps := f.store.Settings().RequestRateLimit
	if rps <= 0 {
		rps = config.DefaultRequestRateLimit
	}
	if f.limiter.Limit() != rate.Limit(rps) {
		f.limiter.SetLimit(rate.Limit(rps))
		f.limiter.SetBurst(rps)
	}
}

// MirrorStatuses reports the health of every mirror seen so far.
func (f *Fetcher) MirrorStatuses() []MirrorStatus { return f.health.snapshot() }

// FetchVersions returns a tool's installable versions, newest first.
// A fresh cache entry short-circuits the fetch unless force is set.
// Mirrors are tried in health order; a success overwrites the cache.
// When every mirror fails, a stale cache entry is returned alongside
// the MirrorsExhaustedError so callers can degrade gracefully; the
// cache itself is left unmodified.
func (f *Fetcher) FetchVersions(ctx context.Context, tool string, force bool) ([]config.RemoteVersion, error) {
	tmpl, ok := f.store.Template(tool)
	if !ok {
		return nil, fmt.Errorf("tool not configured: %s", tool)
	}
	f.syncRateLimit()
	ttl := time.Duration(f.store.Settings().CacheExpireTime) * time.Second
	cached := f.store.CachedVersions(tool)
	if !force && cached.Fresh(ttl) {
		return cached.Versions, nil
	}
	if len(tmpl.MirrorList) == 0 {
		return nil, fmt.Errorf("tool %s has no mirrors configured", tool)
	}

	var attempts []Attempt
	for _, mirror := range f.health.order(tmpl.MirrorList) {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		versions, err := f.fetchFromMirror(ctx, mirror, tmpl.FetchRule)
		if err != nil {
			system.Logger.Debug("mirror fetch failed", "tool", tool, "mirror", mirror, "err", err)
			f.health.failure(mirror)
			attempts = append(attempts, Attempt{Mirror: mirror, Err: err})
			continue
		}
		f.health.success(mirror)
		entry := &config.CacheEntry{FetchedAt: time.Now(), Versions: versions}
		if err := f.store.SetCacheEntry(tool, entry); err != nil {
			system.Logger.Warn("cache write failed", "tool", tool, "err", err)
		}
		return versions, nil
	}

	err := &MirrorsExhaustedError{Tool: tool, Attempts: attempts}
	if cached != nil {
		return cached.Versions, err
	}
	return nil, err
}

// fetchFromMirror discovers versions on one mirror: a JSON index when
// the rule names one, an HTML regex scrape otherwise.
func (f *Fetcher) fetchFromMirror(ctx context.Context, mirror string, rule *config.FetchRule) ([]config.RemoteVersion, error) {
	if rule == nil {
		return nil, fmt.Errorf("no fetch rule")
	}
	if rule.IndexFile != "" {
		return f.fetchIndex(ctx, mirror, rule)
	}
	return f.fetchHTML(ctx, mirror, rule)
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
}

func (f *Fetcher) fetchIndex(ctx context.Context, mirror string, rule *config.FetchRule) ([]config.RemoteVersion, error) {
	body, err := f.get(ctx, joinURL(mirror, rule.IndexFile))
	if err != nil {
		return nil, err
	}
	var raw []map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("index parse: %w", err)
	}
	versionField := rule.VersionField
	if versionField == "" {
		versionField = "version"
	}
	out := make([]config.RemoteVersion, 0, len(raw))
	for _, item := range raw {
		vs, _ := item[versionField].(string)
		v := version.Normalize(vs)
		if v == "" || !version.IsVersion(v) {
			continue
		}
		rv := config.RemoteVersion{Version: v, IsLTS: isLTS(item[rule.LTSField])}
		rv.DownloadURL = RenderURL(rule, mirror, v)
		out = append(out, rv)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("index yielded no versions")
	}
	sortRemote(out)
	return out, nil
}

func (f *Fetcher) fetchHTML(ctx context.Context, mirror string, rule *config.FetchRule) ([]config.RemoteVersion, error) {
	if rule.VersionPattern == "" {
		return nil, fmt.Errorf("no version pattern")
	}
	re, err := regexp.Compile(rule.VersionPattern)
	if err != nil {
		return nil, fmt.Errorf("version pattern: %w", err)
	}
	body, err := f.get(ctx, mirror)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []config.RemoteVersion
	for _, m := range re.FindAllStringSubmatch(string(body), -1) {
		if len(m) < 2 {
			continue
		}
		v := version.Normalize(m[1])
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, config.RemoteVersion{
			Version:     v,
			DownloadURL: RenderURL(rule, mirror, v),
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no versions matched pattern")
	}
	sortRemote(out)
	return out, nil
}

// isLTS interprets the LTS marker of a JSON index entry: node-style
// indexes use false or a codename string, others a plain bool.
func isLTS(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		return x != "" && !strings.EqualFold(x, "false")
	default:
		return false
	}
}

// sortRemote orders versions descending by full version.
func sortRemote(vs []config.RemoteVersion) {
	sort.SliceStable(vs, func(i, j int) bool {
		return version.Compare(vs[i].Version, vs[j].Version) > 0
	})
}

// RenderURL expands a fetch rule's download URL template for one
// mirror and version. Placeholders: {mirror} {version} {major} {minor}
// {patch} {os} {arch}.
func RenderURL(rule *config.FetchRule, mirror, ver string) string {
	if rule == nil || rule.DownloadURLTemplate == "" {
		return ""
	}
	p := strings.Split(version.Normalize(ver)+"..", ".")
	arch := runtime.GOARCH
	if rule.ArchMap != nil {
		if mapped, ok := rule.ArchMap[arch]; ok {
			arch = mapped
		}
	}
	r := strings.NewReplacer(
		"{mirror}", mirror,
		"{version}", ver,
		"{major}", p[0],
		"{minor}", p[1],
		"{patch}", p[2],
		"{os}", runtime.GOOS,
		"{arch}", arch,
	)
	return r.Replace(rule.DownloadURLTemplate)
}

func joinURL(base, rel string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(rel, "/")
}
