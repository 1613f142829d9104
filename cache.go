package zstore

import (
	"container/list"
	"context"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"
)

// CacheStats carries hit/miss counters of a single cache.
type CacheStats struct {
	Hits   uint64
	Misses uint64
}

// --------------------------------------------------------------------

type blockCacheKey struct {
	fileID uint64
	offset uint64
}

func (k blockCacheKey) String() string {
	return strconv.FormatUint(k.fileID, 16) + ":" + strconv.FormatUint(k.offset, 16)
}

type blockCacheEntry struct {
	key blockCacheKey
	b   *block
}

// BlockCache is an LRU cache of decoded blocks, bounded by the total
// size of the cached block bodies. Index and data blocks are cached,
// filter blocks never are. Eviction only drops the cache's reference;
// blocks held by live cursors stay valid.
type BlockCache struct {
	mu    sync.Mutex
	cap   int64
	used  int64
	ll    *list.List
	items map[blockCacheKey]*list.Element
	group singleflight.Group
	stats CacheStats
}

// NewBlockCache creates a block cache bounded by capacity bytes.
func NewBlockCache(capacity int64) *BlockCache {
	return &BlockCache{
		cap:   capacity,
		ll:    list.New(),
		items: make(map[blockCacheKey]*list.Element),
	}
}

func (c *BlockCache) get(key blockCacheKey) (*block, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b, ok := c.lookupLocked(key); ok {
		c.stats.Hits++
		return b, true
	}
	c.stats.Misses++
	return nil, false
}

// lookup is get without the hit/miss accounting, used to recheck for
// blocks added while a flight was being set up.
func (c *BlockCache) lookup(key blockCacheKey) (*block, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookupLocked(key)
}

func (c *BlockCache) lookupLocked(key blockCacheKey) (*block, bool) {
	if elem, ok := c.items[key]; ok {
		c.ll.MoveToFront(elem)
		return elem.Value.(*blockCacheEntry).b, true
	}
	return nil, false
}

// getOrLoad returns the cached block for key or loads it via load.
// Concurrent calls for the same key are coalesced so that only a
// single load is in flight.
func (c *BlockCache) getOrLoad(ctx context.Context, key blockCacheKey, load func(context.Context) (*block, error)) (*block, error) {
	if b, ok := c.get(key); ok {
		return b, nil
	}

	v, err, _ := c.group.Do(key.String(), func() (interface{}, error) {
		if b, ok := c.lookup(key); ok {
			return b, nil
		}
		b, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.add(key, b)
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*block), nil
}

func (c *BlockCache) add(key blockCacheKey, b *block) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.ll.MoveToFront(elem)
		return
	}

	elem := c.ll.PushFront(&blockCacheEntry{key: key, b: b})
	c.items[key] = elem
	c.used += int64(b.size())

	for c.used > c.cap && c.ll.Len() > 1 {
		c.evict()
	}
}

// remove drops the entry for key, if any. Used to invalidate blocks
// that turned out to be corrupt after caching.
func (c *BlockCache) remove(key blockCacheKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		ent := elem.Value.(*blockCacheEntry)
		c.ll.Remove(elem)
		delete(c.items, key)
		c.used -= int64(ent.b.size())
	}
}

// evictFile drops every cached block of the given file.
func (c *BlockCache) evictFile(fileID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, elem := range c.items {
		if key.fileID == fileID {
			ent := elem.Value.(*blockCacheEntry)
			c.ll.Remove(elem)
			delete(c.items, key)
			c.used -= int64(ent.b.size())
		}
	}
}

func (c *BlockCache) evict() {
	elem := c.ll.Back()
	if elem == nil {
		return
	}
	ent := elem.Value.(*blockCacheEntry)
	c.ll.Remove(elem)
	delete(c.items, ent.key)
	c.used -= int64(ent.b.size())
}

// Len returns the number of cached blocks.
func (c *BlockCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Stats returns a snapshot of the hit/miss counters.
func (c *BlockCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// --------------------------------------------------------------------

type tableCacheEntry struct {
	path string
	t    *SSTable
}

// TableCache is an LRU cache of open tables, keyed by file path and
// bounded by entry count. Eviction releases the cache's reference
// only; tables with live cursors keep their file open until the last
// reference is dropped.
type TableCache struct {
	mu    sync.Mutex
	cap   int
	ll    *list.List
	items map[string]*list.Element
	group singleflight.Group
	stats CacheStats
}

// NewTableCache creates a table cache bounded by capacity entries.
func NewTableCache(capacity int) *TableCache {
	return &TableCache{
		cap:   capacity,
		ll:    list.New(),
		items: make(map[string]*list.Element),
	}
}

func (c *TableCache) get(path string) (*SSTable, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.lookupLocked(path); ok {
		t.Ref()
		c.stats.Hits++
		return t, true
	}
	c.stats.Misses++
	return nil, false
}

// lookup is get without the hit/miss accounting and without taking a
// reference, used to recheck for tables added while a flight was being
// set up.
func (c *TableCache) lookup(path string) (*SSTable, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookupLocked(path)
}

func (c *TableCache) lookupLocked(path string) (*SSTable, bool) {
	if elem, ok := c.items[path]; ok {
		c.ll.MoveToFront(elem)
		return elem.Value.(*tableCacheEntry).t, true
	}
	return nil, false
}

// getOrOpen returns the cached table for path or opens it via open.
// Concurrent calls for the same path are coalesced. The returned table
// is referenced on behalf of the caller, who must Close it.
func (c *TableCache) getOrOpen(ctx context.Context, path string, open func(context.Context) (*SSTable, error)) (*SSTable, error) {
	if t, ok := c.get(path); ok {
		return t, nil
	}

	// The closure takes no reference of its own: its result is shared
	// with every coalesced caller, and each of them must be counted.
	v, err, _ := c.group.Do(path, func() (interface{}, error) {
		if t, ok := c.lookup(path); ok {
			return t, nil
		}
		t, err := open(ctx)
		if err != nil {
			return nil, err
		}
		c.add(path, t) // the table's initial reference becomes the cache's
		return t, nil
	})
	if err != nil {
		return nil, err
	}

	t := v.(*SSTable)
	t.Ref()
	return t, nil
}

func (c *TableCache) add(path string, t *SSTable) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.items[path]; ok {
		return
	}

	elem := c.ll.PushFront(&tableCacheEntry{path: path, t: t})
	c.items[path] = elem

	for c.ll.Len() > c.cap && c.ll.Len() > 1 {
		c.evict()
	}
}

// Evict drops the entry for path, releasing the cache's reference.
func (c *TableCache) Evict(path string) {
	c.mu.Lock()
	elem, ok := c.items[path]
	var t *SSTable
	if ok {
		t = elem.Value.(*tableCacheEntry).t
		c.ll.Remove(elem)
		delete(c.items, path)
	}
	c.mu.Unlock()

	if t != nil {
		_ = t.Unref()
	}
}

func (c *TableCache) evict() {
	elem := c.ll.Back()
	if elem == nil {
		return
	}
	ent := elem.Value.(*tableCacheEntry)
	c.ll.Remove(elem)
	delete(c.items, ent.path)
	_ = ent.t.Unref()
}

// Len returns the number of cached tables.
func (c *TableCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Stats returns a snapshot of the hit/miss counters.
func (c *TableCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
