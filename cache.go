package cartograph

import (
	"container/list"
	"sync"
)

// SnapshotCache holds migrated project states keyed by the manifest.Digest of the
// stored record they were decoded from. Only loads fill it, never saves.
// Least recently opened digests are dropped first. Methods may be called from
// several sessions at once.
type SnapshotCache struct {
	cap int
	ll  *list.List
	m   map[string]*list.Element
	mu  sync.Mutex
}

type cacheEntry struct {
	key  string
	snap *Snapshot
}

// NewSnapshotCache keeps at most capacity digests (minimum 1).
func NewSnapshotCache(capacity int) *SnapshotCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &SnapshotCache{
		cap: capacity,
		ll:  list.New(),
		m:   make(map[string]*list.Element),
	}
}

// Get looks up the snapshot decoded from the record with the given digest.
// Sessions open it through Snapshot.Document, which copies.
func (c *SnapshotCache) Get(key string) (*Snapshot, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ele, ok := c.m[key]; ok {
		c.ll.MoveToFront(ele)
		snap := ele.Value.(*cacheEntry).snap
		return snap, snap != nil
	}
	return nil, false
}

// Put records snap as the decoding of digest key. Empty keys are ignored.
func (c *SnapshotCache) Put(key string, snap *Snapshot) {
	if c == nil || snap == nil || key == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ele, ok := c.m[key]; ok {
		c.ll.MoveToFront(ele)
		ele.Value.(*cacheEntry).snap = snap
		return
	}
	ele := c.ll.PushFront(&cacheEntry{key: key, snap: snap})
	c.m[key] = ele
	if c.ll.Len() > c.cap {
		c.evict()
	}
}

// Len reports how many digests are cached.
func (c *SnapshotCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func (c *SnapshotCache) evict() {
	ele := c.ll.Back()
	if ele == nil {
		return
	}
	c.ll.Remove(ele)
	entry := ele.Value.(*cacheEntry)
	delete(c.m, entry.key)
}
