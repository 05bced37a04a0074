package cache

import (
	"testing"
	"time"
)

type evictRecord struct {
	key   string
	value interface{}
	dirty bool
}

func newRecordingLRU(maxSize int, ttl time.Duration) (*lruCache, *[]evictRecord) {
	evicted := &[]evictRecord{}
	c := newLRU(maxSize, ttl, func(key string, value interface{}, dirty bool) {
		*evicted = append(*evicted, evictRecord{key: key, value: value, dirty: dirty})
	})
	return c, evicted
}

func TestLRU_EvictsOldestAtCapacity(t *testing.T) {
	c, evicted := newRecordingLRU(2, 0)

	c.set("a", 1, false)
	c.set("b", 2, false)
	c.set("c", 3, false)

	if c.len() != 2 {
		t.Fatalf("expected 2 entries, got %d", c.len())
	}
	if len(*evicted) != 1 || (*evicted)[0].key != "a" {
		t.Fatalf("expected a to be evicted, got %+v", *evicted)
	}
	if _, ok := c.get("a"); ok {
		t.Fatal("expected a to be gone")
	}
}

func TestLRU_GetPromotes(t *testing.T) {
	c, evicted := newRecordingLRU(2, 0)

	c.set("a", 1, false)
	c.set("b", 2, false)
	if _, ok := c.get("a"); !ok {
		t.Fatal("expected a to be cached")
	}
	c.set("c", 3, false)

	// a was touched last, so b is the coldest entry.
	if len(*evicted) != 1 || (*evicted)[0].key != "b" {
		t.Fatalf("expected b to be evicted, got %+v", *evicted)
	}
	if _, ok := c.get("a"); !ok {
		t.Fatal("expected a to survive")
	}
}

func TestLRU_SetUpdatesInPlace(t *testing.T) {
	c, evicted := newRecordingLRU(2, 0)

	c.set("a", 1, false)
	c.set("a", 2, true)

	if c.len() != 1 {
		t.Fatalf("expected 1 entry, got %d", c.len())
	}
	v, ok := c.get("a")
	if !ok || v.(int) != 2 {
		t.Fatalf("expected updated value 2, got %v", v)
	}
	if !c.isDirty("a") {
		t.Fatal("expected entry to be dirty after update")
	}
	if len(*evicted) != 0 {
		t.Fatalf("update must not evict, got %+v", *evicted)
	}
}

func TestLRU_TTLExpiryFiresEvictHook(t *testing.T) {
	c, evicted := newRecordingLRU(0, 20*time.Millisecond)

	c.set("a", 1, true)
	time.Sleep(40 * time.Millisecond)

	if _, ok := c.get("a"); ok {
		t.Fatal("expected expired entry to miss")
	}
	// A dirty entry lost to TTL still reaches the hook so it can be flushed.
	if len(*evicted) != 1 || (*evicted)[0].key != "a" || !(*evicted)[0].dirty {
		t.Fatalf("expected dirty evict record for a, got %+v", *evicted)
	}
}

func TestLRU_DeleteSkipsHook(t *testing.T) {
	c, evicted := newRecordingLRU(2, 0)

	c.set("a", 1, true)
	c.delete("a")

	if c.len() != 0 {
		t.Fatalf("expected empty cache, got %d entries", c.len())
	}
	if len(*evicted) != 0 {
		t.Fatalf("delete must not fire the evict hook, got %+v", *evicted)
	}
}

func TestLRU_ZeroMaxSizeIsUnbounded(t *testing.T) {
	c, evicted := newRecordingLRU(0, 0)

	for i := 0; i < 100; i++ {
		c.set(string(rune('a'+i%26))+string(rune('0'+i/26)), i, false)
	}
	if len(*evicted) != 0 {
		t.Fatalf("unbounded cache must never evict, got %d evictions", len(*evicted))
	}
}

func TestLRU_MarkClean(t *testing.T) {
	c, _ := newRecordingLRU(2, 0)

	c.set("a", 1, true)
	if !c.isDirty("a") {
		t.Fatal("expected dirty entry")
	}
	c.markClean("a")
	if c.isDirty("a") {
		t.Fatal("expected clean entry after markClean")
	}
}

func TestLRU_KeysWarmestFirst(t *testing.T) {
	c, _ := newRecordingLRU(3, 0)

	c.set("a", 1, false)
	c.set("b", 2, false)
	c.set("c", 3, false)
	c.get("a")

	keys := c.keys()
	if len(keys) != 3 || keys[0] != "a" || keys[1] != "c" || keys[2] != "b" {
		t.Fatalf("unexpected key order: %v", keys)
	}
}
