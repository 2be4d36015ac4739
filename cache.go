package esbridge

import (
	"container/list"
	"sync"
)

type cacheKey struct {
	name string
	hash uint64
}

type cacheEntry struct {
	value *module
	key   cacheKey
}

// moduleCache is a fixed size LRU of transformed modules, keyed by module
// name and source hash.
type moduleCache struct {
	entries map[cacheKey]*list.Element
	order   *list.List
	size    int
	mu      sync.Mutex
}

func newModuleCache(size int) *moduleCache {
	return &moduleCache{
		entries: make(map[cacheKey]*list.Element),
		order:   list.New(),
		size:    size,
	}
}

func (c *moduleCache) get(key cacheKey) (*module, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(e)
	return e.Value.(*cacheEntry).value, true
}

func (c *moduleCache) put(key cacheKey, value *module) {
	if c == nil || c.size <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		e.Value.(*cacheEntry).value = value
		c.order.MoveToFront(e)
		return
	}
	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, value: value})
	for c.order.Len() > c.size {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

func (c *moduleCache) len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
