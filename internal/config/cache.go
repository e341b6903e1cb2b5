package config

import (
	"encoding/json"
	"os"
)

// The cache is a secondary store keyed by tool name. Unlike the config
// it is disposable: a missing or corrupt cache file is treated as
// empty, never surfaced as an error.

func (s *Store) loadCache() {
	b, err := os.ReadFile(s.cachePath())
	if err != nil {
		return
	}
	cache := map[string]*CacheEntry{}
	if err := json.Unmarshal(b, &cache); err != nil {
		return
	}
	s.cache = cache
}

func (s *Store) persistCacheLocked() error {
	b, err := json.MarshalIndent(s.cache, "", "  ")
	if err != nil {
		return &FilesystemError{Op: "encode", Path: s.cachePath(), Err: err}
	}
	return writeAtomic(s.cachePath(), append(b, '\n'))
}

// CachedVersions returns a tool's cache entry, or nil when absent.
func (s *Store) CachedVersions(tool string) *CacheEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.cache[tool]
	if !ok {
		return nil
	}
	cp := *e
	cp.Versions = append([]RemoteVersion(nil), e.Versions...)
	return &cp
}

// SetCacheEntry overwrites a tool's cache entry and flushes the cache
// file.
func (s *Store) SetCacheEntry(tool string, entry *CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[tool] = entry
	return s.persistCacheLocked()
}

// DeleteCacheEntry drops one tool's cache entry.
func (s *Store) DeleteCacheEntry(tool string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cache[tool]; !ok {
		return nil
	}
	delete(s.cache, tool)
	return s.persistCacheLocked()
}

// ClearCache drops every cached remote-version entry, forcing the next
// fetch to hit mirrors.
func (s *Store) ClearCache() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = map[string]*CacheEntry{}
	return s.persistCacheLocked()
}
