package custodial

import (
	"sync"
	"time"
)

// ErrCacheMiss distinguishes an absent entry from an expired one; callers
// generally treat both the same way (require re-authentication) but a
// caller that cares about metrics can tell them apart.
var ErrCacheMiss = errWrap("custodial: signing key not cached")

// ErrCacheExpired indicates the entry existed but its TTL had elapsed.
var ErrCacheExpired = errWrap("custodial: cached signing key expired")

type errWrap string

func (e errWrap) Error() string { return string(e) }

type cacheEntry struct {
	keyBytes   []byte
	insertedAt time.Time
	lastUsedAt time.Time
	ttl        time.Duration
}

func (e *cacheEntry) expired(now time.Time) bool {
	return now.Sub(e.insertedAt) > e.ttl
}

// SigningKeyCache is a bounded, concurrency-safe cache of decrypted
// signing keys keyed by agent identifier. Keys are zeroed whenever they
// leave the cache, whether by eviction, explicit removal, or Close.
//
// Callers never receive ownership of key bytes: Use calls fn with the key
// slice borrowed for the duration of the call, guaranteeing the key
// cannot be retained past a single signing operation.
type SigningKeyCache struct {
	maxEntries int

	mu      sync.Mutex
	entries map[string]*cacheEntry
}

// NewSigningKeyCache creates a cache bounded to at most maxEntries live
// keys.
func NewSigningKeyCache(maxEntries int) *SigningKeyCache {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &SigningKeyCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*cacheEntry),
	}
}

// Put inserts or replaces the cached key for agentIdentifier. Any
// previous entry's bytes are zeroed before being discarded. keyBytes is
// copied; the cache takes ownership of its own copy and the caller's
// slice is left untouched.
func (c *SigningKeyCache) Put(agentIdentifier string, keyBytes []byte, ttl time.Duration) {
	owned := make([]byte, len(keyBytes))
	copy(owned, keyBytes)

	now := time.Now()
	entry := &cacheEntry{keyBytes: owned, insertedAt: now, lastUsedAt: now, ttl: ttl}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[agentIdentifier]; ok {
		Zero(old.keyBytes)
	}
	c.entries[agentIdentifier] = entry

	c.evictLocked()
}

// Use looks up the cached key for agentIdentifier and, on a hit, invokes
// fn with the key bytes borrowed for the duration of the call. The key
// bytes must not be retained past fn's return.
func (c *SigningKeyCache) Use(agentIdentifier string, fn func(keyBytes []byte)) error {
	c.mu.Lock()
	entry, ok := c.entries[agentIdentifier]
	if !ok {
		c.mu.Unlock()
		return ErrCacheMiss
	}
	now := time.Now()
	if entry.expired(now) {
		delete(c.entries, agentIdentifier)
		c.mu.Unlock()
		Zero(entry.keyBytes)
		return ErrCacheExpired
	}
	entry.lastUsedAt = now
	keyBytes := entry.keyBytes
	c.mu.Unlock()

	fn(keyBytes)
	return nil
}

// EvictExpired sweeps entries whose TTL has elapsed, zeroing their bytes.
func (c *SigningKeyCache) EvictExpired() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, entry := range c.entries {
		if entry.expired(now) {
			Zero(entry.keyBytes)
			delete(c.entries, id)
		}
	}
}

// evictLocked enforces maxEntries, evicting the soonest-to-expire entry
// first and breaking ties by least-recently-used. Caller must hold c.mu.
func (c *SigningKeyCache) evictLocked() {
	for len(c.entries) > c.maxEntries {
		var victim string
		var victimEntry *cacheEntry
		for id, entry := range c.entries {
			if victimEntry == nil {
				victim, victimEntry = id, entry
				continue
			}
			victimDeadline := victimEntry.insertedAt.Add(victimEntry.ttl)
			candidateDeadline := entry.insertedAt.Add(entry.ttl)
			switch {
			case candidateDeadline.Before(victimDeadline):
				victim, victimEntry = id, entry
			case candidateDeadline.Equal(victimDeadline) && entry.lastUsedAt.Before(victimEntry.lastUsedAt):
				victim, victimEntry = id, entry
			}
		}
		Zero(victimEntry.keyBytes)
		delete(c.entries, victim)
	}
}

// Remove deletes and zeroes the cached entry for agentIdentifier, if any.
func (c *SigningKeyCache) Remove(agentIdentifier string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[agentIdentifier]; ok {
		Zero(entry.keyBytes)
		delete(c.entries, agentIdentifier)
	}
}

// Close zeroes every remaining cached key. The cache is unusable after
// Close.
func (c *SigningKeyCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, entry := range c.entries {
		Zero(entry.keyBytes)
		delete(c.entries, id)
	}
}

// Len reports the current number of cached entries, for metrics and
// tests.
func (c *SigningKeyCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
