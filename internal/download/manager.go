// Package download fetches and unpacks version artifacts with mirror
// fallback, resume, retry and progress reporting. One download per
// tool may be in flight at a time.
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"toolvm/internal/config"
	"toolvm/internal/remote"
	"toolvm/internal/system"
	"toolvm/internal/validate"
)

const copyChunk = 64 << 10

// Progress is a point-in-time snapshot of one tool's download.
type Progress struct {
	Tool       string `json:"toolName"`
	Version    string `json:"version"`
	Downloaded int64  `json:"downloadedBytes"`
	Total      int64  `json:"totalBytes"`
}

// ProgressFunc receives progress snapshots between stream chunks.
type ProgressFunc func(Progress)

type task struct {
	version string
	cancel  context.CancelFunc

	mu   sync.Mutex
	last Progress
}

func (t *task) set(p Progress) {
	t.mu.Lock()
	t.last = p
	t.mu.Unlock()
}

func (t *task) snapshot() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// Manager is the DownloadManager.
type Manager struct {
	store  *config.Store
	client *http.Client

	mu     sync.Mutex
	active map[string]*task
}

// New returns a Manager backed by store.
func New(store *config.Store) *Manager {
	return &Manager{
		store: store,
		// No overall timeout: large artifacts stream for minutes.
		// Cancellation and per-request dial timeouts cover hangs.
		client: &http.Client{Transport: &http.Transport{
			ResponseHeaderTimeout: 30 * time.Second,
			Proxy:                 http.ProxyFromEnvironment,
		}},
		active: map[string]*task{},
	}
}

// Active reports the in-flight download for a tool, if any.
func (m *Manager) Active(tool string) (Progress, bool) {
	m.mu.Lock()
	t, ok := m.active[tool]
	m.mu.Unlock()
	if !ok {
		return Progress{}, false
	}
	return t.snapshot(), true
}

// Cancel aborts a tool's in-flight download. It reports whether one
// was active; the aborted call itself returns ErrCanceled.
func (m *Manager) Cancel(tool string) bool {
	m.mu.Lock()
	t, ok := m.active[tool]
	m.mu.Unlock()
	if ok {
		t.cancel()
	}
	return ok
}

// Download fetches the artifact for tool/version, validates its size
// and extracts it into toolRoot/version. Mirrors are tried in order;
// each gets the configured retry budget before the next is attempted.
// On success the URL that actually served the artifact is returned.
// A failed or canceled download leaves no version directory behind.
func (m *Manager) Download(ctx context.Context, tool, ver string, onProgress ProgressFunc) (string, error) {
	if err := validate.Version(ver); err != nil {
		return "", err
	}
	tmpl, ok := m.store.Template(tool)
	if !ok {
		return "", fmt.Errorf("tool not configured: %s", tool)
	}
	if tmpl.ToolRoot == "" {
		return "", fmt.Errorf("tool %s has no root directory configured", tool)
	}
	if len(tmpl.MirrorList) == 0 || tmpl.FetchRule == nil {
		return "", fmt.Errorf("tool %s has no download source configured", tool)
	}
	target := filepath.Join(tmpl.ToolRoot, ver)
	if _, err := os.Stat(target); err == nil {
		return "", fmt.Errorf("%s %s is already installed", tool, ver)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	t := &task{version: ver, cancel: cancel}
	t.set(Progress{Tool: tool, Version: ver})

	m.mu.Lock()
	if prev, busy := m.active[tool]; busy {
		m.mu.Unlock()
		return "", &InProgressError{Tool: tool, ActiveVersion: prev.version}
	}
	m.active[tool] = t
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.active, tool)
		m.mu.Unlock()
	}()

	report := func(p Progress) {
		t.set(p)
		if onProgress != nil {
			onProgress(p)
		}
	}

	set := m.store.Settings()
	partPath := filepath.Join(m.store.DownloadsDir(), tool+"-"+ver+".part")
	if err := os.MkdirAll(m.store.DownloadsDir(), 0o755); err != nil {
		return "", &config.FilesystemError{Op: "mkdir", Path: m.store.DownloadsDir(), Err: err}
	}

	var limiter *rate.Limiter
	if set.DownloadSpeedLimit > 0 {
		burst := int(set.DownloadSpeedLimit)
		if burst < copyChunk {
			burst = copyChunk
		}
		limiter = rate.NewLimiter(rate.Limit(set.DownloadSpeedLimit), burst)
	}

	var attempts []remote.Attempt
	served := ""
	for _, mirror := range tmpl.MirrorList {
		url := remote.RenderURL(tmpl.FetchRule, mirror, ver)
		if url == "" {
			attempts = append(attempts, remote.Attempt{Mirror: mirror, Err: fmt.Errorf("no artifact url")})
			continue
		}
		err := m.fetchWithRetry(ctx, url, partPath, set.DownloadRetryCount, limiter, tool, ver, report)
		if err == nil {
			served = url
			break
		}
		if ctx.Err() != nil {
			os.Remove(partPath)
			return "", ErrCanceled
		}
		system.Logger.Debug("mirror download failed", "tool", tool, "mirror", mirror, "err", err)
		attempts = append(attempts, remote.Attempt{Mirror: mirror, Err: err})
	}
	if served == "" {
		os.Remove(partPath)
		return "", &remote.MirrorsExhaustedError{Tool: tool, Attempts: attempts}
	}

	if err := m.install(partPath, target, tmpl.FetchRule); err != nil {
		os.Remove(partPath)
		return "", err
	}
	os.Remove(partPath)
	return served, nil
}

// install extracts the finished artifact into the target directory via
// a staging directory, so a half-extracted version is never visible.
func (m *Manager) install(partPath, target string, rule *config.FetchRule) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return &config.FilesystemError{Op: "mkdir", Path: filepath.Dir(target), Err: err}
	}
	staging := target + ".extracting"
	os.RemoveAll(staging)
	archivePath := partPath + archiveExt(rule)
	if err := os.Rename(partPath, archivePath); err != nil {
		return &config.FilesystemError{Op: "rename", Path: archivePath, Err: err}
	}
	defer os.Remove(archivePath)
	if err := extractArchive(archivePath, staging); err != nil {
		os.RemoveAll(staging)
		return fmt.Errorf("extract: %w", err)
	}
	if err := os.Rename(staging, target); err != nil {
		os.RemoveAll(staging)
		return &config.FilesystemError{Op: "rename", Path: target, Err: err}
	}
	return nil
}

// archiveExt guesses the artifact extension from the URL template so
// the extractor can dispatch on it.
func archiveExt(rule *config.FetchRule) string {
	t := rule.DownloadURLTemplate
	switch {
	case strings.HasSuffix(t, ".zip"):
		return ".zip"
	case strings.HasSuffix(t, ".tgz"):
		return ".tgz"
	default:
		return ".tar.gz"
	}
}

// fetchWithRetry streams url into partPath, retrying transient
// failures with exponential backoff up to maxRetries per mirror.
func (m *Manager) fetchWithRetry(ctx context.Context, url, partPath string, maxRetries int, limiter *rate.Limiter, tool, ver string, report ProgressFunc) error {
	if maxRetries <= 0 {
		maxRetries = config.DefaultDownloadRetryCount
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	return backoff.Retry(func() error {
		return m.fetchOnce(ctx, url, partPath, limiter, tool, ver, report)
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(maxRetries-1)), ctx))
}

// fetchOnce performs a single streaming attempt, resuming an existing
// partial file via a Range request when the server supports it.
func (m *Manager) fetchOnce(ctx context.Context, url, partPath string, limiter *rate.Limiter, tool, ver string, report ProgressFunc) error {
	var offset int64
	if fi, err := os.Stat(partPath); err == nil {
		offset = fi.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// Full body: a previous partial is restarted from zero.
		offset = 0
	case http.StatusPartialContent:
		// Appending to the existing partial.
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return fmt.Errorf("status %d", resp.StatusCode)
	default:
		err := fmt.Errorf("status %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			// Client errors will not heal with retries.
			return backoff.Permanent(err)
		}
		return err
	}

	total := offset + resp.ContentLength
	if resp.ContentLength < 0 {
		total = 0
	}

	flags := os.O_WRONLY | os.O_CREATE
	if offset == 0 {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_APPEND
	}
	out, err := os.OpenFile(partPath, flags, 0o644)
	if err != nil {
		return backoff.Permanent(&config.FilesystemError{Op: "create", Path: partPath, Err: err})
	}

	written := offset
	buf := make([]byte, copyChunk)
	report(Progress{Tool: tool, Version: ver, Downloaded: written, Total: total})
	for {
		if ctx.Err() != nil {
			out.Close()
			return backoff.Permanent(ctx.Err())
		}
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if limiter != nil {
				if werr := limiter.WaitN(ctx, n); werr != nil {
					out.Close()
					return backoff.Permanent(werr)
				}
			}
			if _, werr := out.Write(buf[:n]); werr != nil {
				out.Close()
				return backoff.Permanent(&config.FilesystemError{Op: "write", Path: partPath, Err: werr})
			}
			written += int64(n)
			report(Progress{Tool: tool, Version: ver, Downloaded: written, Total: total})
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			out.Close()
			// Keep the partial for the next attempt's Range resume.
			return fmt.Errorf("stream: %w", rerr)
		}
	}
	if err := out.Close(); err != nil {
		return backoff.Permanent(&config.FilesystemError{Op: "close", Path: partPath, Err: err})
	}
	if total > 0 && written != total {
		os.Remove(partPath)
		return fmt.Errorf("size mismatch: got %d bytes, server declared %d", written, total)
	}
	return nil
}
