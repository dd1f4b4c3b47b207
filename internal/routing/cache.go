package routing

import (
	"container/list"
	"sync"
)

// routeCache is a bounded LRU over resolved routes. Values are deep-copied
// on both insert and lookup so no caller ever shares geometry with the cache.
type routeCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently used
	entries  map[string]*list.Element
}

type cacheEntry struct {
	key   string
	route *Route
}

func newRouteCache(capacity int) *routeCache {
	if capacity <= 0 {
		capacity = 128
	}
	return &routeCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element, capacity),
	}
}

func (c *routeCache) get(key string) (*Route, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).route.Clone(), true
}

func (c *routeCache) put(key string, route *Route) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).route = route.Clone()
		c.order.MoveToFront(el)
		return
	}
	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, route: route.Clone()})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

func (c *routeCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
