// Quartermaster - Home Lab Control Plane
// Copyright 2026 Quartermaster contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homelab-tools/quartermaster

package proxy

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sync"
	"time"

	"github.com/homelab-tools/quartermaster/internal/metrics"
)

// cacheEntry is one cached GET response.
type cacheEntry struct {
	payload   []byte
	storedAt  time.Time
	expiresAt time.Time
}

// CacheStats is a point-in-time snapshot of one client's cache counters.
type CacheStats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Entries   int   `json:"entries"`
}

// responseCache is a per-client in-memory cache for successful GET payloads.
// Entries are lazily evicted: an expired entry is dropped when it is read,
// never by a background sweep.
type responseCache struct {
	mu      sync.RWMutex
	service string
	entries map[string]cacheEntry

	hits      int64
	misses    int64
	evictions int64
}

func newResponseCache(service string) *responseCache {
	return &responseCache{
		service: service,
		entries: make(map[string]cacheEntry),
	}
}

// cacheKey derives the deterministic key for (service, path, params).
// url.Values.Encode sorts by key, so the same params always produce the
// same key regardless of insertion order.
func cacheKey(service, path string, params url.Values) string {
	h := sha256.New()
	h.Write([]byte(service))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write([]byte(params.Encode()))
	return hex.EncodeToString(h.Sum(nil))
}

// get returns the cached payload for key if present and not expired.
// An expired entry is removed and counted as an eviction plus a miss.
func (c *responseCache) get(key string) ([]byte, bool) {
	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		c.miss()
		return nil, false
	}

	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		// Re-check under write lock: a concurrent set may have refreshed it.
		if cur, ok := c.entries[key]; ok && time.Now().After(cur.expiresAt) {
			delete(c.entries, key)
			c.evictions++
			metrics.CacheEvictionsTotal.WithLabelValues(c.service).Inc()
		}
		c.mu.Unlock()
		c.miss()
		return nil, false
	}

	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
	metrics.CacheHitsTotal.WithLabelValues(c.service).Inc()
	return entry.payload, true
}

// set stores payload under key with the given TTL.
func (c *responseCache) set(key string, payload []byte, ttl time.Duration) {
	now := time.Now()
	c.mu.Lock()
	c.entries[key] = cacheEntry{
		payload:   payload,
		storedAt:  now,
		expiresAt: now.Add(ttl),
	}
	c.mu.Unlock()
}

// clear drops every entry.
func (c *responseCache) clear() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}

// stats returns a snapshot of the cache counters.
func (c *responseCache) stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CacheStats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Entries:   len(c.entries),
	}
}

func (c *responseCache) miss() {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
	metrics.CacheMissesTotal.WithLabelValues(c.service).Inc()
}
