// Package cache is the in-memory layer between the broker and Redis: two
// bounded LRU maps (queue metadata, item lists) with TTL, plus write-back
// bookkeeping so dirty entries reach Redis before they are lost.
package cache

import (
	"container/list"
	"time"
)

// evictFunc observes entries leaving the cache through capacity pressure
// or TTL expiry. dirty reports local writes that never reached Redis.
type evictFunc func(key string, value interface{}, dirty bool)

type entry struct {
	key       string
	value     interface{}
	dirty     bool
	expiresAt time.Time
}

// lruCache is a fixed-capacity LRU with per-entry TTL and a dirty flag.
// It is not safe for concurrent use; Hybrid serializes access.
type lruCache struct {
	maxSize  int
	ttl      time.Duration
	elements map[string]*list.Element
	order    *list.List // front = most recently used
	onEvict  evictFunc
}

func newLRU(maxSize int, ttl time.Duration, onEvict evictFunc) *lruCache {
	return &lruCache{
		maxSize:  maxSize,
		ttl:      ttl,
		elements: make(map[string]*list.Element),
		order:    list.New(),
		onEvict:  onEvict,
	}
}

func (c *lruCache) expired(ent *entry) bool {
	return !ent.expiresAt.IsZero() && time.Now().After(ent.expiresAt)
}

// get returns the live value and promotes it. Expired entries are evicted
// on the way out so dirty ones still get flushed.
func (c *lruCache) get(key string) (interface{}, bool) {
	el, ok := c.elements[key]
	if !ok {
		return nil, false
	}
	ent := el.Value.(*entry)
	if c.expired(ent) {
		c.evictElement(el)
		return nil, false
	}
	c.order.MoveToFront(el)
	return ent.value, true
}

// peek returns the value without promoting or expiring it.
func (c *lruCache) peek(key string) (interface{}, bool) {
	el, ok := c.elements[key]
	if !ok {
		return nil, false
	}
	return el.Value.(*entry).value, true
}

// set inserts or replaces a value and refreshes its TTL. Overflow evicts
// from the cold end.
func (c *lruCache) set(key string, value interface{}, dirty bool) {
	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = time.Now().Add(c.ttl)
	}
	if el, ok := c.elements[key]; ok {
		ent := el.Value.(*entry)
		ent.value = value
		ent.dirty = dirty
		ent.expiresAt = expiresAt
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&entry{key: key, value: value, dirty: dirty, expiresAt: expiresAt})
	c.elements[key] = el
	for c.maxSize > 0 && c.order.Len() > c.maxSize {
		c.evictElement(c.order.Back())
	}
}

// markClean clears the dirty flag after a successful flush.
func (c *lruCache) markClean(key string) {
	if el, ok := c.elements[key]; ok {
		el.Value.(*entry).dirty = false
	}
}

// isDirty reports whether the entry exists and has unflushed writes.
func (c *lruCache) isDirty(key string) bool {
	el, ok := c.elements[key]
	return ok && el.Value.(*entry).dirty
}

// delete removes an entry without notifying the evict hook. Used when the
// caller has already decided the entry's fate.
func (c *lruCache) delete(key string) bool {
	el, ok := c.elements[key]
	if !ok {
		return false
	}
	c.order.Remove(el)
	delete(c.elements, key)
	return true
}

func (c *lruCache) evictElement(el *list.Element) {
	ent := el.Value.(*entry)
	c.order.Remove(el)
	delete(c.elements, ent.key)
	if c.onEvict != nil {
		c.onEvict(ent.key, ent.value, ent.dirty)
	}
}

func (c *lruCache) len() int {
	return c.order.Len()
}

// keys returns keys warmest first.
func (c *lruCache) keys() []string {
	out := make([]string, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*entry).key)
	}
	return out
}
