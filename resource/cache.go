package resource

import (
	"sync"
	"time"
)

// Cache is the local, ordered copy of a resource collection. Optimistic
// projections are written here before the server confirms them.
type Cache[T Entity] struct {
	mu       sync.RWMutex
	items    map[string]T
	order    []string
	syncedAt map[string]time.Time
}

// NewCache creates an empty cache.
func NewCache[T Entity]() *Cache[T] {
	return &Cache[T]{
		items:    make(map[string]T),
		syncedAt: make(map[string]time.Time),
	}
}

// Put inserts or replaces item. New ids are appended to the order.
func (c *Cache[T]) Put(item T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(item)
}

// PutSynced is Put that also records when the item was last seen on the
// server.
func (c *Cache[T]) PutSynced(item T, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(item)
	c.syncedAt[item.GetID()] = at
}

func (c *Cache[T]) put(item T) {
	id := item.GetID()
	if _, ok := c.items[id]; !ok {
		c.order = append(c.order, id)
	}
	c.items[id] = item
}

// Rekey moves the entry stored under oldID to item's id, keeping its
// position. It is used when the server assigns the id of a created item.
func (c *Cache[T]) Rekey(oldID string, item T, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	newID := item.GetID()
	if _, ok := c.items[oldID]; ok && oldID != newID {
		delete(c.items, oldID)
		delete(c.syncedAt, oldID)
		if _, exists := c.items[newID]; exists {
			c.removeFromOrder(oldID)
		} else {
			for i, id := range c.order {
				if id == oldID {
					c.order[i] = newID
					break
				}
			}
		}
	}
	c.put(item)
	c.syncedAt[newID] = at
}

// Remove deletes id and returns the removed item.
func (c *Cache[T]) Remove(id string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[id]
	if !ok {
		return item, false
	}
	delete(c.items, id)
	delete(c.syncedAt, id)
	c.removeFromOrder(id)
	return item, true
}

func (c *Cache[T]) removeFromOrder(id string) {
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

func (c *Cache[T]) Get(id string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.items[id]
	return item, ok
}

// All returns the items in insertion order.
func (c *Cache[T]) All() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]T, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.items[id])
	}
	return out
}

// Replace swaps the whole collection for items, all synced at at.
func (c *Cache[T]) Replace(items []T, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]T, len(items))
	c.syncedAt = make(map[string]time.Time, len(items))
	c.order = c.order[:0]
	for _, item := range items {
		c.put(item)
		c.syncedAt[item.GetID()] = at
	}
}

// SyncedAt returns when id was last read from the server, or the zero time.
func (c *Cache[T]) SyncedAt(id string) time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.syncedAt[id]
}

func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
