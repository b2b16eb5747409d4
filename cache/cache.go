package cache

import (
	"context"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

type entry struct {
	data      []byte
	expiresAt time.Time
}

// Cache is the hot tier: an in-process TTL map holding msgpack-serialized
// values. All operations are concurrent-safe and never touch the durable
// store.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]entry
	maxEntries int
}

func New(maxEntries int) *Cache {
	return &Cache{
		entries:    make(map[string]entry),
		maxEntries: maxEntries,
	}
}

// Set stores v under key for ttl. When the cache is full, the entry closest
// to expiry makes room.
func (c *Cache) Set(key string, v interface{}, ttl time.Duration) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictOneLocked()
	}
	c.entries[key] = entry{data: data, expiresAt: time.Now().Add(ttl)}
	return nil
}

// Get decodes the value under key into out. Expired entries count as misses.
func (c *Cache) Get(key string, out interface{}) bool {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return false
	}
	if time.Now().After(e.expiresAt) {
		c.Delete(key)
		return false
	}
	return msgpack.Unmarshal(e.data, out) == nil
}

func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) evictOneLocked() {
	now := time.Now()
	var victim string
	var victimExpiry time.Time
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
			return
		}
		if victim == "" || e.expiresAt.Before(victimExpiry) {
			victim = key
			victimExpiry = e.expiresAt
		}
	}
	if victim != "" {
		delete(c.entries, victim)
	}
}

// StartJanitor sweeps expired entries until ctx is cancelled.
func (c *Cache) StartJanitor(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.sweep()
			}
		}
	}()
}

func (c *Cache) sweep() {
	now := time.Now()
	c.mu.Lock()
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
}
