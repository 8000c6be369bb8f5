package cache

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestCache_GetSet(t *testing.T) {
	c := New[string, int](3)
	c.Set("a", 1)
	c.Set("b", 2)

	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Errorf("Get(a) = %d, %v; want 1, true", v, ok)
	}
	if _, ok := c.Get("z"); ok {
		t.Error("Get(z) should miss")
	}

	c.Set("a", 10)
	if v, _ := c.Get("a"); v != 10 {
		t.Errorf("Get(a) after update = %d; want 10", v)
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d; want 2", c.Len())
	}
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := New[string, int](2)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a")
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	for _, k := range []string{"a", "c"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("%s should still be cached", k)
		}
	}
	if s := c.Stats(); s.Evicts != 1 {
		t.Errorf("Evicts = %d; want 1", s.Evicts)
	}
}

func TestCache_GetOrCompute(t *testing.T) {
	c := New[string, int](4)
	calls := 0
	compute := func() (int, error) {
		calls++
		return 42, nil
	}

	for i := 0; i < 3; i++ {
		v, err := c.GetOrCompute("x", compute)
		if err != nil || v != 42 {
			t.Fatalf("GetOrCompute() = %d, %v", v, err)
		}
	}
	if calls != 1 {
		t.Errorf("compute ran %d times; want 1", calls)
	}

	boom := errors.New("boom")
	for i := 0; i < 2; i++ {
		_, err := c.GetOrCompute("bad", func() (int, error) {
			calls++
			return 0, boom
		})
		if !errors.Is(err, boom) {
			t.Errorf("err = %v; want boom", err)
		}
	}
	if calls != 2 {
		t.Errorf("failed computation ran %d times; want 1", calls-1)
	}
	if _, ok := c.Get("bad"); ok {
		t.Error("Get should not return a failed computation")
	}
}

func TestCache_DeleteClearStats(t *testing.T) {
	c := New[int, string](0)
	if s := c.Stats(); s.Capacity != DefaultCapacity {
		t.Errorf("Capacity = %d; want %d", s.Capacity, DefaultCapacity)
	}
	c.Set(1, "one")
	c.Set(2, "two")
	c.Delete(1)
	if _, ok := c.Get(1); ok {
		t.Error("1 should be deleted")
	}
	c.Get(2)

	s := c.Stats()
	if s.Hits != 1 || s.Misses != 1 || s.HitRate != 0.5 {
		t.Errorf("Stats() = %+v", s)
	}

	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len() after Clear = %d", c.Len())
	}
}

func TestCache_Concurrent(t *testing.T) {
	c := New[string, int](16)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", i%32)
				v, err := c.GetOrCompute(key, func() (int, error) { return i % 32, nil })
				if err != nil {
					t.Errorf("GetOrCompute(%s) error = %v", key, err)
					return
				}
				if want := i % 32; v != want {
					t.Errorf("GetOrCompute(%s) = %d; want %d", key, v, want)
					return
				}
			}
		}(g)
	}
	wg.Wait()
	if c.Len() > 16 {
		t.Errorf("Len() = %d exceeds capacity", c.Len())
	}
}
