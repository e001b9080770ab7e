// Package cache provides the node cache sitting between the pager and disk.
package cache

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/elastic/go-freelru"

	"verdb/internal/base"
)

const (
	DefaultSize = 1024
	MinSize     = 16 // enough to hold a root-to-leaf path plus concurrent ops
)

// Cache is an LRU cache of decoded nodes keyed by page ID. Pages are
// immutable until their ID is recycled through the freelist, at which point
// the owner must Remove the stale entry before reuse.
type Cache struct {
	lru *freelru.SyncedLRU[base.PageID, *base.Node]

	hits   atomic.Uint64
	misses atomic.Uint64
}

func hashPageID(id base.PageID) uint32 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(id))
	return uint32(xxhash.Sum64(buf[:]))
}

// New creates a node cache holding at most maxEntries nodes.
func New(maxEntries int) (*Cache, error) {
	maxEntries = max(maxEntries, MinSize)

	lru, err := freelru.NewSynced[base.PageID, *base.Node](uint32(maxEntries), hashPageID)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: lru}, nil
}

// Get returns the cached node for a page ID, if present.
func (c *Cache) Get(id base.PageID) (*base.Node, bool) {
	node, ok := c.lru.Get(id)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return node, ok
}

// Put inserts or replaces the node for a page ID.
func (c *Cache) Put(id base.PageID, node *base.Node) {
	c.lru.Add(id, node)
}

// Remove drops a page from the cache. Called when a freed page ID is handed
// back out by the freelist so stale versions cannot be served.
func (c *Cache) Remove(id base.PageID) {
	c.lru.Remove(id)
}

// Purge empties the cache.
func (c *Cache) Purge() {
	c.lru.Purge()
}

// Len returns the number of cached nodes.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Stats returns cumulative hit and miss counts.
func (c *Cache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}
