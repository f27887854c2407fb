package cartograph

import "testing"

func TestSnapshotCachePutGetEvict(t *testing.T) {
	c := NewSnapshotCache(2)
	if c.Len() != 0 {
		t.Fatalf("expected empty cache")
	}

	s1 := snap(NewDocument("one"))
	s2 := snap(NewDocument("two"))
	s3 := snap(NewDocument("three"))

	c.Put("k1", s1)
	c.Put("k2", s2)
	if c.Len() != 2 {
		t.Fatalf("expected cache size 2")
	}

	if got, ok := c.Get("k1"); !ok || got != s1 {
		t.Fatalf("expected to get s1")
	}

	c.Put("k2", s3) // same key should update
	if c.Len() != 2 {
		t.Fatalf("expected cache size 2 after update")
	}
	if got, _ := c.Get("k2"); got != s3 {
		t.Fatalf("expected k2 to hold s3")
	}

	c.Put("k4", s1) // will evict LRU
	if c.Len() != 2 {
		t.Fatalf("expected cache size 2 after eviction")
	}
}

func TestSnapshotCacheLRUOrder(t *testing.T) {
	c := NewSnapshotCache(2)
	s0 := snap(NewDocument("a"))
	s1 := snap(NewDocument("b"))
	s2 := snap(NewDocument("c"))

	c.Put("d0", s0)
	c.Put("d1", s1)
	// Touch d0 to make d1 LRU
	if _, ok := c.Get("d0"); !ok {
		t.Fatalf("expected to get d0")
	}
	c.Put("d2", s2) // should evict d1
	if _, ok := c.Get("d1"); ok {
		t.Fatalf("expected d1 to be evicted")
	}
	if _, ok := c.Get("d0"); !ok {
		t.Fatalf("expected d0 to survive")
	}
}

// nil キャッシュは常にミスで、Put は何もしない。
func TestSnapshotCacheNil(t *testing.T) {
	var c *SnapshotCache
	c.Put("k", snap(NewDocument("x")))
	if _, ok := c.Get("k"); ok {
		t.Fatalf("nil cache should miss")
	}
	if c.Len() != 0 {
		t.Fatalf("nil cache should be empty")
	}
}
