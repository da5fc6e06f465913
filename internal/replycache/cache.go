// ABOUTME: Thread-safe TTL cache of replies keyed by Idempotency-Key.
// ABOUTME: Lets the backend answer a retried POST without running it twice.

package replycache

import (
	"container/list"
	"errors"
	"sync"
	"time"
)

// ErrInFlight is returned by Begin when another request holds the key.
var ErrInFlight = errors.New("request with this key is in progress")

// Entry is a stored reply.
type Entry struct {
	Status      int
	ContentType string
	Body        []byte
}

// cacheEntry stores the reply, its timestamp and list element.
type cacheEntry struct {
	timestamp time.Time
	element   *list.Element
	pending   bool
	reply     Entry
}

// Cache is a TTL-based, size-limited store of replies. A key moves through
// two states: claimed by Begin while the request runs, then completed with
// the reply. Uses a doubly-linked list to maintain insertion order for O(1)
// eviction.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	order   *list.List // keys in insertion order (oldest at front)
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a cache with the specified TTL and maximum size.
// A background goroutine periodically removes expired entries.
func New(ttl time.Duration, maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	c := &Cache{
		entries: make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Begin returns the stored reply for key if there is one. Otherwise it
// claims key for the caller and returns nil; the caller must then call
// Complete or Abandon. A key claimed by someone else yields ErrInFlight.
// The check and the claim happen atomically.
func (c *Cache) Begin(key string) (*Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok && c.now().Sub(entry.timestamp) < c.ttl {
		if entry.pending {
			return nil, ErrInFlight
		}
		reply := entry.reply
		reply.Body = append([]byte(nil), entry.reply.Body...)
		return &reply, nil
	}

	c.storeLocked(key, &cacheEntry{pending: true})
	return nil, nil
}

// Complete stores the reply for a key claimed with Begin.
func (c *Cache) Complete(key string, reply Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	reply.Body = append([]byte(nil), reply.Body...)
	c.storeLocked(key, &cacheEntry{reply: reply})
}

// Abandon releases a claim so a retry runs the request again.
func (c *Cache) Abandon(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok && entry.pending {
		c.order.Remove(entry.element)
		delete(c.entries, key)
	}
}

// Len returns the number of keys held, claimed or completed.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// storeLocked inserts or replaces key. Must be called with mu held.
func (c *Cache) storeLocked(key string, entry *cacheEntry) {
	entry.timestamp = c.now()

	if existing, ok := c.entries[key]; ok {
		entry.element = existing.element
		c.order.MoveToBack(entry.element)
		c.entries[key] = entry
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	entry.element = c.order.PushBack(key)
	c.entries[key] = entry
}

// evictOldest removes the oldest entry from the cache.
// Must be called with mu held. O(1) operation using linked list.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.entries, key)
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (c *Cache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

// runCleanup removes all expired entries from the cache.
func (c *Cache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.entries {
		if now.Sub(entry.timestamp) >= c.ttl {
			c.order.Remove(entry.element)
			delete(c.entries, key)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
