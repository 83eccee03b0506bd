package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestSetGetOverwrite(t *testing.T) {
	c := New[float64]()
	c.Set("binance:BTCUSDT", 100)
	c.Set("binance:BTCUSDT", 101)
	v, ok := c.Get("binance:BTCUSDT")
	if !ok || v != 101 {
		t.Fatalf("got %v %v", v, ok)
	}
	if c.Len() != 1 {
		t.Fatalf("len = %d", c.Len())
	}
}

func TestGetWithAgeAndCleanup(t *testing.T) {
	c := New[string]()
	c.SetAt("old", "a", time.Now().Add(-time.Minute))
	c.Set("new", "b")

	if _, age, ok := c.GetWithAge("old"); !ok || age < 59*time.Second {
		t.Fatalf("age = %v", age)
	}
	if _, _, ok := c.GetWithAge("missing"); ok {
		t.Fatal("missing key reported present")
	}
	if removed := c.Cleanup(30 * time.Second); removed != 1 {
		t.Fatalf("removed %d", removed)
	}
	if _, ok := c.Get("new"); !ok {
		t.Fatal("fresh entry removed")
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New[int]()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("k%d", j)
				c.Set(key, i)
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()
	if c.Len() != 100 || len(c.All()) != 100 || c.Stats().TotalItems != 100 {
		t.Fatalf("len = %d", c.Len())
	}
}

func TestStatsOnInjectedClock(t *testing.T) {
	now := time.Unix(1700000000, 0)
	c := NewWithClock[int](func() time.Time { return now })
	c.SetAt("a", 1, now.Add(-90*time.Second))
	c.Set("b", 2)

	st := c.Stats()
	if st.TotalItems != 2 || st.OldestAge != 90*time.Second {
		t.Fatalf("stats = %+v", st)
	}
	if _, age, _ := c.GetWithAge("b"); age != 0 {
		t.Fatalf("age = %v", age)
	}

	now = now.Add(time.Minute)
	if removed := c.Cleanup(2 * time.Minute); removed != 1 {
		t.Fatalf("removed %d", removed)
	}
	if _, ok := c.Get("a"); ok {
		t.Fatal("expired entry kept")
	}
}
