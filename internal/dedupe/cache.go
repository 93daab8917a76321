// ABOUTME: TTL and size bounded cache of acknowledged (tenant, update) pairs
// ABOUTME: Used by the webhook to acknowledge each Telegram update at most once per window

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// item is one remembered key; it lives in both the map and the order list.
type item struct {
	key    string
	seenAt time.Time
}

// Cache records keys for a fixed TTL. When full, the oldest key is dropped.
type Cache struct {
	mu      sync.Mutex
	items   map[string]*list.Element
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	done   chan struct{}
	closed bool
}

// New creates a Cache and starts a janitor that prunes expired keys every
// interval. Call Close to stop it.
func New(ttl time.Duration, maxSize int, interval time.Duration) *Cache {
	c := &Cache{
		items:   make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.janitor(interval)
	return c
}

// Key joins a tenant id and an idempotency key.
func Key(tenant, id string) string {
	return tenant + ":" + id
}

// FirstSeen reports whether key is new within the TTL and marks it in the same
// critical section, so exactly one of several concurrent callers gets true.
func (c *Cache) FirstSeen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if elem, ok := c.items[key]; ok {
		it := elem.Value.(*item)
		if now.Sub(it.seenAt) < c.ttl {
			return false
		}
		it.seenAt = now
		c.order.MoveToBack(elem)
		return true
	}

	if len(c.items) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.items[key] = c.order.PushBack(&item{key: key, seenAt: now})
	return true
}

// Forget removes key so the next FirstSeen for it returns true. The webhook
// calls it when an acknowledgement could not be delivered.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.order.Remove(elem)
		delete(c.items, key)
	}
}

// Len returns the number of remembered keys, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Cache) evictOldestLocked() {
	front := c.order.Front()
	if front == nil {
		return
	}
	c.order.Remove(front)
	delete(c.items, front.Value.(*item).key)
}

func (c *Cache) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.prune()
		case <-c.done:
			return
		}
	}
}

// prune drops expired keys. Keys are ordered by last mark, so it stops at the
// first live one.
func (c *Cache) prune() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for elem := c.order.Front(); elem != nil; {
		it := elem.Value.(*item)
		if now.Sub(it.seenAt) < c.ttl {
			return
		}
		next := elem.Next()
		c.order.Remove(elem)
		delete(c.items, it.key)
		elem = next
	}
}

// Close stops the janitor. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
