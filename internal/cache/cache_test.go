package cache

import (
	"errors"
	"sync"
	"testing"
)

func ident(k uint64) uint64 { return k }

func TestGetSetRoundTrip(t *testing.T) {
	c := NewSharded[uint64, string](8, ident)
	if _, ok := c.Get(1); ok {
		t.Error("empty cache reported a hit")
	}
	c.Set(1, "a")
	v, ok := c.Get(1)
	if !ok || v != "a" {
		t.Errorf("Get(1) = %q, %v", v, ok)
	}
	c.Set(1, "b")
	if v, _ := c.Get(1); v != "b" {
		t.Errorf("overwrite did not stick: %q", v)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}

func TestGetOrCreateBuildsOnce(t *testing.T) {
	c := NewSharded[uint64, int](8, ident)
	calls := 0
	build := func() (int, error) {
		calls++
		return 42, nil
	}
	for i := 0; i < 3; i++ {
		v, err := c.GetOrCreate(7, build)
		if err != nil || v != 42 {
			t.Fatalf("GetOrCreate = %d, %v", v, err)
		}
	}
	if calls != 1 {
		t.Errorf("create ran %d times, want 1", calls)
	}
}

func TestGetOrCreateErrorCachesNothing(t *testing.T) {
	c := NewSharded[uint64, int](8, ident)
	boom := errors.New("compile failed")
	if _, err := c.GetOrCreate(1, func() (int, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want the create error", err)
	}
	if c.Len() != 0 {
		t.Error("failed create left an entry behind")
	}
	v, err := c.GetOrCreate(1, func() (int, error) { return 5, nil })
	if err != nil || v != 5 {
		t.Errorf("retry after failure = %d, %v", v, err)
	}
}

func TestLRUEvictionPerShard(t *testing.T) {
	// Identity hasher with keys that are multiples of shardCount all
	// land in shard 0, so its capacity of 2 is exercised directly.
	c := NewSharded[uint64, int](2, ident)
	c.Set(0, 0)
	c.Set(16, 1)
	c.Get(0) // 16 is now least recently used
	c.Set(32, 2)

	if _, ok := c.Get(16); ok {
		t.Error("least recently used entry survived eviction")
	}
	if _, ok := c.Get(0); !ok {
		t.Error("recently used entry was evicted")
	}
	if _, ok := c.Get(32); !ok {
		t.Error("new entry was evicted")
	}
	if got := c.Stats().Evictions; got != 1 {
		t.Errorf("Evictions = %d, want 1", got)
	}
}

func TestDeleteAndClear(t *testing.T) {
	c := NewSharded[uint64, int](8, ident)
	c.Set(1, 1)
	c.Set(2, 2)
	if !c.Delete(1) || c.Delete(1) {
		t.Error("Delete did not report presence correctly")
	}
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len after Clear = %d", c.Len())
	}
}

func TestStatsCounters(t *testing.T) {
	c := NewSharded[uint64, int](8, ident)
	c.Set(1, 1)
	c.Get(1)
	c.Get(2)
	s := c.Stats()
	if s.Hits != 1 || s.Misses != 1 {
		t.Errorf("Stats = %+v, want 1 hit and 1 miss", s)
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := NewSharded[uint64, uint64](64, ident)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g uint64) {
			defer wg.Done()
			for i := uint64(0); i < 500; i++ {
				k := i % 100
				v, err := c.GetOrCreate(k, func() (uint64, error) { return k * 2, nil })
				if err != nil || v != k*2 {
					t.Errorf("GetOrCreate(%d) = %d, %v", k, v, err)
					return
				}
			}
		}(uint64(g))
	}
	wg.Wait()
}
