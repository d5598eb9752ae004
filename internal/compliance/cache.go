package compliance

import (
	"container/list"
	"sync"
	"time"
)

// ResultCache is a thread-safe LRU cache for evaluation results. Entries
// expire after the configured TTL so a re-run of the same session
// fingerprint is re-scored once stale.
type ResultCache struct {
	mu      sync.RWMutex
	items   map[string]*list.Element
	lru     *list.List
	maxSize int
	ttl     time.Duration
}

type cacheItem struct {
	key       string
	value     *Result
	expiresAt time.Time
}

// NewResultCache creates a new result cache.
func NewResultCache(maxSize int, ttl time.Duration) *ResultCache {
	return &ResultCache{
		items:   make(map[string]*list.Element),
		lru:     list.New(),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// Get retrieves a value from the cache, or nil on miss or expiry.
func (c *ResultCache) Get(key string) *Result {
	c.mu.RLock()
	defer c.mu.RUnlock()

	elem, exists := c.items[key]
	if !exists {
		return nil
	}

	item := elem.Value.(*cacheItem)

	// Expired items are left in place here; Set evicts them under the
	// write lock.
	if time.Now().After(item.expiresAt) {
		return nil
	}

	// Return a copy to prevent modification
	result := *item.value
	return &result
}

// Set stores a value in the cache.
func (c *ResultCache) Set(key string, value *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.items[key]; exists {
		c.lru.MoveToFront(elem)
		item := elem.Value.(*cacheItem)
		item.value = value
		item.expiresAt = time.Now().Add(c.ttl)
		return
	}

	item := &cacheItem{
		key:       key,
		value:     value,
		expiresAt: time.Now().Add(c.ttl),
	}

	elem := c.lru.PushFront(item)
	c.items[key] = elem

	if c.lru.Len() > c.maxSize {
		c.evictOldest()
	}

	if c.lru.Len()%100 == 0 {
		c.cleanExpired()
	}
}

// Clear removes all items from the cache.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.lru = list.New()
}

func (c *ResultCache) evictOldest() {
	elem := c.lru.Back()
	if elem != nil {
		c.removeElement(elem)
	}
}

func (c *ResultCache) removeElement(elem *list.Element) {
	c.lru.Remove(elem)
	item := elem.Value.(*cacheItem)
	delete(c.items, item.key)
}

func (c *ResultCache) cleanExpired() {
	now := time.Now()
	for elem := c.lru.Back(); elem != nil; {
		prev := elem.Prev()
		item := elem.Value.(*cacheItem)
		if now.After(item.expiresAt) {
			c.removeElement(elem)
		}
		elem = prev
	}
}

// Size returns the current number of items in the cache.
func (c *ResultCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lru.Len()
}
