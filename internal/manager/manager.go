// Package manager orchestrates the version-management components
// behind one operation surface: install, switch, uninstall, lock and
// tool configuration, with cross-component invariants enforced here
// and nowhere else.
package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"toolvm/internal/config"
	"toolvm/internal/download"
	"toolvm/internal/envmgr"
	"toolvm/internal/history"
	"toolvm/internal/remote"
	"toolvm/internal/scanner"
	"toolvm/internal/system"
	"toolvm/internal/validate"
	"toolvm/internal/watcher"
)

// Manager is the VersionManager. Collaborators call only into it; it
// fans out to the other components and persists resulting state.
type Manager struct {
	store     *config.Store
	scanner   *scanner.Scanner
	fetcher   *remote.Fetcher
	downloads *download.Manager
	env       *envmgr.Manager
	hist      *history.Store
	watch     *watcher.Watcher
	events    *bus

	// mu serializes multi-step mutations so a background download's
	// completion and a user edit cannot interleave.
	mu    sync.Mutex
	stale map[string]bool

	statusMu sync.Mutex
	status   string

	wg sync.WaitGroup
}

// New wires up a Manager over the given store. The history database
// and filesystem watcher are best-effort: losing either degrades the
// feature, not the manager.
func New(store *config.Store) *Manager {
	m := &Manager{
		store:     store,
		scanner:   scanner.New(store),
		fetcher:   remote.New(store),
		downloads: download.New(store),
		env:       envmgr.New(store),
		events:    newBus(100 * time.Millisecond),
		stale:     map[string]bool{},
	}
	hist, err := history.Open(store.HistoryPath())
	if err != nil {
		system.Logger.Warn("download history unavailable", "err", err)
	} else {
		m.hist = hist
	}
	w, err := watcher.New(m.markStale)
	if err != nil {
		system.Logger.Warn("filesystem watcher unavailable", "err", err)
	} else {
		m.watch = w
		for _, tool := range store.ToolNames() {
			if tmpl, ok := store.Template(tool); ok {
				_ = w.Watch(tool, tmpl.ToolRoot)
			}
		}
	}
	return m
}

// Close waits for background tasks and releases the watcher, event
// bus and history store.
func (m *Manager) Close() {
	m.wg.Wait()
	if m.watch != nil {
		m.watch.Close()
	}
	m.events.close()
	if m.hist != nil {
		m.hist.Close()
	}
}

// Subscribe returns a channel of events (progress, status, operation
// results) plus a cancel func. Progress is coalesced; a slow receiver
// drops events instead of blocking operations.
func (m *Manager) Subscribe() (<-chan Event, func()) { return m.events.subscribe() }

// Status reports the last human-readable status message.
func (m *Manager) Status() string {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()
	return m.status
}

func (m *Manager) setStatus(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	m.statusMu.Lock()
	m.status = msg
	m.statusMu.Unlock()
	m.events.emit(Event{Kind: EventStatus, Message: msg})
}

// IsElevated reports whether machine-scope operations are available.
func (m *Manager) IsElevated() bool { return system.IsElevated() }

// Store exposes the config store for read-side collaborators.
func (m *Manager) Store() *config.Store { return m.store }

// MirrorStatuses reports remote mirror health.
func (m *Manager) MirrorStatuses() []remote.MirrorStatus { return m.fetcher.MirrorStatuses() }

// EnvScriptPath reports which script a tool's environment rule writes.
func (m *Manager) EnvScriptPath(tool string) (string, error) { return m.env.ScriptPath(tool) }

// Snapshot is the published state collaborators poll: last status,
// privilege flag and the in-flight download, if any.
type Snapshot struct {
	Status     string             `json:"statusMessage"`
	Elevated   bool               `json:"isElevated"`
	InProgress bool               `json:"inProgress"`
	Download   *download.Progress `json:"download,omitempty"`
}

// Snapshot returns the current published state.
func (m *Manager) Snapshot() Snapshot {
	s := Snapshot{Status: m.Status(), Elevated: m.IsElevated()}
	for _, tool := range m.store.ToolNames() {
		if p, ok := m.downloads.Active(tool); ok {
			s.InProgress = true
			s.Download = &p
			break
		}
	}
	return s
}

// DownloadProgress reports a tool's in-flight download, if any.
func (m *Manager) DownloadProgress(tool string) (download.Progress, bool) {
	return m.downloads.Active(tool)
}

func (m *Manager) markStale(tool string) {
	m.mu.Lock()
	m.stale[tool] = true
	m.mu.Unlock()
}

// Stale reports whether a tool's installed set may be out of date.
func (m *Manager) Stale(tool string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stale[tool]
}

// ListInstalled scans a tool's root and reconciles the persisted
// installed set with what is actually on disk.
func (m *Manager) ListInstalled(ctx context.Context, tool string) ([]scanner.InstalledVersion, error) {
	if _, ok := m.store.Template(tool); !ok {
		return nil, &VersionNotFoundError{Tool: tool}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rescanLocked(ctx, tool)
}

// rescanLocked replaces the persisted installed set with the managed
// versions found on disk. A currentVersion whose directory vanished
// outside the manager is cleared and surfaced, never silently kept.
func (m *Manager) rescanLocked(ctx context.Context, tool string) ([]scanner.InstalledVersion, error) {
	list, scanErr := m.scanner.Scan(ctx, tool)
	if scanErr != nil {
		// Root unreadable, not empty: keep the persisted sets rather
		// than erasing installed records and locks.
		return list, scanErr
	}
	managed := []string{}
	systemVer := ""
	for _, iv := range list {
		if iv.System {
			systemVer = iv.Version
		} else {
			managed = append(managed, iv.Version)
		}
	}
	sort.Strings(managed)
	cleared := ""
	err := m.store.Mutate(func(cfg *config.Config) error {
		st, ok := cfg.Tools[tool]
		if !ok {
			st = &config.ToolState{}
			cfg.Tools[tool] = st
		}
		st.InstalledVersions = managed
		kept := []string{}
		for _, v := range st.LockedVersions {
			if st.HasInstalled(v) {
				kept = append(kept, v)
			}
		}
		st.LockedVersions = kept
		if st.CurrentVersion != "" && !st.HasInstalled(st.CurrentVersion) && st.CurrentVersion != systemVer {
			cleared = st.CurrentVersion
			st.CurrentVersion = ""
		}
		return nil
	})
	if err != nil {
		return list, err
	}
	delete(m.stale, tool)
	if cleared != "" {
		m.setStatus("%s %s disappeared from disk; current version cleared", tool, cleared)
	}
	return list, nil
}

// ListRemote fetches and groups a tool's installable versions. When
// every mirror fails but a stale cache exists, the cached groups are
// returned alongside the error.
func (m *Manager) ListRemote(ctx context.Context, tool string, force bool) ([]remote.Group, error) {
	st, ok := m.store.State(tool)
	if !ok {
		return nil, &VersionNotFoundError{Tool: tool}
	}
	versions, err := m.fetcher.FetchVersions(ctx, tool, force)
	if len(versions) == 0 && err != nil {
		m.setStatus("fetching %s versions failed: %v", tool, err)
		return nil, err
	}
	if err != nil {
		m.setStatus("all %s mirrors failed; showing cached versions", tool)
	}
	return remote.GroupVersions(versions, st.InstalledVersions), err
}

// CurrentVersion reports a tool's active version.
func (m *Manager) CurrentVersion(tool string) (string, error) {
	st, ok := m.store.State(tool)
	if !ok {
		return "", &VersionNotFoundError{Tool: tool}
	}
	return st.CurrentVersion, nil
}

// SwitchVersion activates an installed version: the environment is
// rewritten first and currentVersion persisted only on success, so a
// failed switch is never observable in config.
func (m *Manager) SwitchVersion(ctx context.Context, tool, ver string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.store.State(tool)
	if !ok {
		return m.fail(&VersionNotFoundError{Tool: tool})
	}
	if m.stale[tool] {
		if _, err := m.rescanLocked(ctx, tool); err != nil {
			return m.fail(err)
		}
		st, _ = m.store.State(tool)
	}

	isSystem := false
	if !st.HasInstalled(ver) {
		// The system install is switchable without being managed.
		scanned, _ := m.scanner.Scan(ctx, tool)
		for _, iv := range scanned {
			if iv.System && iv.Version == ver {
				isSystem = true
				break
			}
		}
		if !isSystem {
			return m.fail(&VersionNotFoundError{Tool: tool, Version: ver})
		}
	}

	if isSystem {
		// Dropping the managed block lets the system install win.
		if err := m.env.RemoveTool(tool); err != nil {
			return m.fail(fmt.Errorf("switch %s to system %s: %w", tool, ver, err))
		}
	} else {
		if err := m.env.ApplyVersion(tool, ver); err != nil {
			return m.fail(fmt.Errorf("switch %s to %s: %w", tool, ver, err))
		}
	}

	if err := m.store.Mutate(func(cfg *config.Config) error {
		cfg.Tools[tool].CurrentVersion = ver
		return nil
	}); err != nil {
		return m.fail(err)
	}
	m.setStatus("%s switched to %s", tool, ver)
	m.events.emit(Event{Kind: EventSwitched, Tool: tool, Version: ver})
	return nil
}

// InstallVersion downloads and registers a version. The download runs
// outside the mutation lock; only the post-download registration is
// serialized.
func (m *Manager) InstallVersion(ctx context.Context, tool, ver string) error {
	tmpl, ok := m.store.Template(tool)
	if !ok {
		return m.fail(&VersionNotFoundError{Tool: tool})
	}

	url, err := m.downloads.Download(ctx, tool, ver, func(p download.Progress) {
		m.events.emit(Event{Kind: EventProgress, Tool: tool, Version: ver, Progress: &p})
	})
	if url == "" && tmpl.FetchRule != nil && len(tmpl.MirrorList) > 0 {
		// No mirror served the artifact; record the primary attempt.
		url = remote.RenderURL(tmpl.FetchRule, tmpl.MirrorList[0], ver)
	}
	switch {
	case err == nil:
		m.record(history.Record{Tool: tool, Version: ver, Status: history.StatusSuccess, URL: url})
	case isCanceled(err):
		m.record(history.Record{Tool: tool, Version: ver, Status: history.StatusCanceled, URL: url})
		m.setStatus("%s %s download canceled", tool, ver)
		m.events.emit(Event{Kind: EventCanceled, Tool: tool, Version: ver})
		return err
	default:
		m.record(history.Record{Tool: tool, Version: ver, Status: history.StatusFailed, URL: url, Error: err.Error()})
		return m.fail(fmt.Errorf("install %s %s: %w", tool, ver, err))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.rescanLocked(ctx, tool); err != nil {
		return m.fail(err)
	}
	st, _ := m.store.State(tool)
	if st == nil || !st.HasInstalled(ver) {
		return m.fail(fmt.Errorf("install %s %s: version directory missing after extraction", tool, ver))
	}
	m.setStatus("%s %s installed", tool, ver)
	m.events.emit(Event{Kind: EventInstalled, Tool: tool, Version: ver})
	return nil
}

// CancelDownload aborts a tool's in-flight download.
func (m *Manager) CancelDownload(tool string) bool {
	return m.downloads.Cancel(tool)
}

// UninstallVersion removes an installed version's directory and its
// config entries. Locked, current and system versions are protected.
func (m *Manager) UninstallVersion(ctx context.Context, tool, ver string) error {
	if err := validate.Version(ver); err != nil {
		return m.fail(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tmpl, ok := m.store.Template(tool)
	if !ok {
		return m.fail(&VersionNotFoundError{Tool: tool})
	}
	st, _ := m.store.State(tool)
	if st == nil || !st.HasInstalled(ver) {
		scanned, _ := m.scanner.Scan(ctx, tool)
		for _, iv := range scanned {
			if iv.System && iv.Version == ver {
				return m.fail(&InvalidStateError{Tool: tool, Version: ver, Reason: "system install is not managed by toolvm"})
			}
		}
		return m.fail(&VersionNotFoundError{Tool: tool, Version: ver})
	}
	if st.IsLocked(ver) {
		return m.fail(&InvalidStateError{Tool: tool, Version: ver, Reason: "version is locked"})
	}
	if st.CurrentVersion == ver {
		return m.fail(&InvalidStateError{Tool: tool, Version: ver, Reason: "version is current; switch away first"})
	}

	dir := filepath.Join(tmpl.ToolRoot, ver)
	if err := os.RemoveAll(dir); err != nil {
		return m.fail(&config.FilesystemError{Op: "remove", Path: dir, Err: err})
	}
	if err := m.store.Mutate(func(cfg *config.Config) error {
		cfg.Tools[tool].RemoveInstalled(ver)
		return nil
	}); err != nil {
		return m.fail(err)
	}
	delete(m.stale, tool)
	m.setStatus("%s %s uninstalled", tool, ver)
	m.events.emit(Event{Kind: EventRemoved, Tool: tool, Version: ver})
	return nil
}

// LockVersion toggles uninstall protection for an installed version.
// Environment state is untouched.
func (m *Manager) LockVersion(tool, ver string, locked bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.store.State(tool)
	if !ok {
		return m.fail(&VersionNotFoundError{Tool: tool})
	}
	if !st.HasInstalled(ver) {
		return m.fail(&VersionNotFoundError{Tool: tool, Version: ver})
	}
	if err := m.store.Mutate(func(cfg *config.Config) error {
		cfg.Tools[tool].SetLocked(ver, locked)
		return nil
	}); err != nil {
		return m.fail(err)
	}
	verb := "locked"
	if !locked {
		verb = "unlocked"
	}
	m.setStatus("%s %s %s", tool, ver, verb)
	m.events.emit(Event{Kind: EventLocked, Tool: tool, Version: ver, Message: verb})
	return nil
}

// AddToolConfig registers a tool and starts watching its root.
func (m *Manager) AddToolConfig(ctx context.Context, name string) error {
	if err := m.store.AddTool(name); err != nil {
		return m.fail(err)
	}
	name = validate.SanitizeToolName(name)
	if tmpl, ok := m.store.Template(name); ok && m.watch != nil {
		_ = m.watch.Watch(name, tmpl.ToolRoot)
	}
	m.mu.Lock()
	_, err := m.rescanLocked(ctx, name)
	m.mu.Unlock()
	if err != nil {
		return m.fail(err)
	}
	m.setStatus("tool %s added", name)
	return nil
}

// DeleteToolConfig removes a tool's configuration and cache. Any
// in-flight download is canceled; installed files stay on disk.
func (m *Manager) DeleteToolConfig(name string) error {
	m.downloads.Cancel(name)
	if m.watch != nil {
		m.watch.Unwatch(name)
	}
	if err := m.store.DeleteTool(name); err != nil {
		return m.fail(err)
	}
	m.mu.Lock()
	delete(m.stale, name)
	m.mu.Unlock()
	m.setStatus("tool %s removed from configuration", name)
	return nil
}

// SetToolRoot moves a tool's managed root and rewires the watcher.
func (m *Manager) SetToolRoot(ctx context.Context, tool, path string) error {
	if err := m.store.SetToolRoot(tool, path); err != nil {
		return m.fail(err)
	}
	if m.watch != nil {
		m.watch.Unwatch(tool)
		_ = m.watch.Watch(tool, path)
	}
	m.mu.Lock()
	_, err := m.rescanLocked(ctx, tool)
	m.mu.Unlock()
	if err != nil {
		return m.fail(err)
	}
	m.setStatus("%s root set to %s", tool, path)
	return nil
}

// SaveToolTemplate replaces a tool's template. The cached remote
// catalog is dropped (the fetch rule may have changed) and the watcher
// follows the template's root.
func (m *Manager) SaveToolTemplate(ctx context.Context, tool string, tmpl *config.ToolTemplate) error {
	if err := m.store.SaveToolTemplate(tool, tmpl); err != nil {
		return m.fail(err)
	}
	if err := m.store.DeleteCacheEntry(tool); err != nil {
		return m.fail(err)
	}
	if m.watch != nil {
		m.watch.Unwatch(tool)
		_ = m.watch.Watch(tool, tmpl.ToolRoot)
	}
	m.mu.Lock()
	_, err := m.rescanLocked(ctx, tool)
	m.mu.Unlock()
	if err != nil {
		return m.fail(err)
	}
	m.setStatus("%s template updated", tool)
	return nil
}

// ClearCache invalidates every cached remote catalog.
func (m *Manager) ClearCache() error {
	if err := m.store.ClearCache(); err != nil {
		return m.fail(err)
	}
	m.setStatus("remote version cache cleared")
	return nil
}

// ResetConfig replaces the configuration with the bundled defaults.
func (m *Manager) ResetConfig() error {
	if err := m.store.ResetToDefault(); err != nil {
		return m.fail(err)
	}
	if err := m.store.ClearCache(); err != nil {
		return m.fail(err)
	}
	m.setStatus("configuration reset to defaults")
	return nil
}

// History lists recorded download outcomes, newest first.
func (m *Manager) History(tool string) ([]history.Record, error) {
	if m.hist == nil {
		return nil, nil
	}
	return m.hist.List(tool)
}

// fail records an error as the status message and returns it. Errors
// are never swallowed: the typed error propagates to the caller while
// the status channel carries the user-facing text.
func (m *Manager) fail(err error) error {
	m.setStatus("%v", err)
	m.events.emit(Event{Kind: EventFailed, Message: err.Error()})
	return err
}

func (m *Manager) record(r history.Record) {
	if m.hist == nil {
		return
	}
	if err := m.hist.Add(r); err != nil {
		system.Logger.Warn("history record failed", "err", err)
	}
}

func isCanceled(err error) bool {
	return errors.Is(err, download.ErrCanceled) || errors.Is(err, context.Canceled)
}

// FormatProgress renders a progress snapshot for status surfaces.
func FormatProgress(p download.Progress) string {
	if p.Total > 0 {
		return fmt.Sprintf("%s %s: %s / %s", p.Tool, p.Version,
			humanize.Bytes(uint64(p.Downloaded)), humanize.Bytes(uint64(p.Total)))
	}
	return fmt.Sprintf("%s %s: %s", p.Tool, p.Version, humanize.Bytes(uint64(p.Downloaded)))
}
