// Package cache provides the TTL response cache used by the request
// coordinator. Successful read results are stored keyed by operation
// signature and served until their deadline passes; expired entries are
// dropped lazily on the next lookup.
package cache

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/harborwatch/fleetcore/internal/store"
)

// storeKey is the durable-store key holding the cache snapshot.
const storeKey = "response-cache"

// Entry is one cached read result. Value is the opaque response body as the
// remote returned it; interpretation belongs to the caller.
type Entry struct {
	Key       string    `cbor:"key"`
	Value     []byte    `cbor:"value"`
	ExpiresAt time.Time `cbor:"expires_at"`
}

// Cache is a TTL keyed cache of prior successful read results. Thread-safe.
// If constructed with a store, every mutation persists a snapshot; storage
// failures degrade to memory-only behavior with a warning, never an error to
// the caller.
type Cache struct {
	logger *slog.Logger
	store  store.Store

	mu      sync.Mutex
	entries map[string]Entry
	now     func() time.Time
}

// New creates a Cache backed by the given store. A nil store disables
// persistence. Any previously persisted snapshot is loaded; entries already
// expired at load time are discarded.
func New(s store.Store, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		logger:  logger,
		store:   s,
		entries: make(map[string]Entry),
		now:     time.Now,
	}
	c.load()
	return c
}

// Get returns the cached value for key, or ok = false if absent or expired.
// An expired entry is removed on lookup.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(entry.ExpiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.Value, true
}

// Put stores a value under key with the given TTL, overwriting any previous
// entry.
func (c *Cache) Put(key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = Entry{
		Key:       key,
		Value:     value,
		ExpiresAt: c.now().Add(ttl),
	}
	c.persistLocked()
	c.mu.Unlock()
}

// Invalidate removes all entries whose key contains pattern. An empty
// pattern clears the entire cache. Substring matching supports
// coarse-grained invalidation by resource family.
func (c *Cache) Invalidate(pattern string) {
	c.mu.Lock()
	if pattern == "" {
		c.entries = make(map[string]Entry)
	} else {
		for key := range c.entries {
			if strings.Contains(key, pattern) {
				delete(c.entries, key)
			}
		}
	}
	c.persistLocked()
	c.mu.Unlock()
}

// Len reports the number of entries currently held, including entries whose
// TTL has lapsed but which have not yet been dropped by a lookup.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// load restores the persisted snapshot, dropping entries already expired.
func (c *Cache) load() {
	if c.store == nil {
		return
	}

	data, ok, err := c.store.Get(context.Background(), storeKey)
	if err != nil {
		c.logger.Warn("failed to load cache snapshot, starting empty", "error", err)
		return
	}
	if !ok {
		return
	}

	var entries []Entry
	if err := cbor.Unmarshal(data, &entries); err != nil {
		c.logger.Warn("failed to decode cache snapshot, starting empty", "error", err)
		return
	}

	now := c.now()
	for _, e := range entries {
		if now.Before(e.ExpiresAt) {
			c.entries[e.Key] = e
		}
	}
}

// persistLocked writes the current snapshot through the store. Callers must
// hold the mutex. Failures are logged and swallowed.
func (c *Cache) persistLocked() {
	if c.store == nil {
		return
	}

	entries := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}

	data, err := cbor.Marshal(entries)
	if err != nil {
		c.logger.Warn("failed to encode cache snapshot", "error", err)
		return
	}
	if err := c.store.Set(context.Background(), storeKey, data); err != nil {
		c.logger.Warn("failed to persist cache snapshot", "error", err)
	}
}
