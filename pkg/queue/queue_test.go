package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestFIFOPerKeyRegardlessOfLatency(t *testing.T) {
	q := New()
	var (
		mu    sync.Mutex
		order []int
	)
	var chans []<-chan error
	for i := 0; i < 5; i++ {
		i := i
		sleep := time.Duration(5-i) * 10 * time.Millisecond
		chans = append(chans, q.Enqueue("binance:BTCUSDT", func(context.Context) error {
			time.Sleep(sleep)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}))
	}
	for _, ch := range chans {
		if err := <-ch; err != nil {
			t.Fatal(err)
		}
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("completion order %v", order)
		}
	}
}

func TestOneAtATimePerKey(t *testing.T) {
	q := New()
	var running, maxRunning int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Do(context.Background(), "k", func(context.Context) error {
				n := atomic.AddInt32(&running, 1)
				for {
					m := atomic.LoadInt32(&maxRunning)
					if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	if maxRunning != 1 {
		t.Fatalf("max concurrent tasks = %d", maxRunning)
	}
}

func TestDifferentKeysOverlap(t *testing.T) {
	q := New()
	release := make(chan struct{})
	started := make(chan string, 2)
	for _, key := range []string{"a", "b"} {
		key := key
		q.Enqueue(key, func(context.Context) error {
			started <- key
			<-release
			return nil
		})
	}
	timeout := time.After(time.Second)
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-timeout:
			t.Fatal("keys did not run concurrently")
		}
	}
	close(release)
	q.Wait()
}

func TestDoReturnsTaskError(t *testing.T) {
	q := New()
	want := errors.New("boom")
	if err := q.Do(context.Background(), "k", func(context.Context) error { return want }); !errors.Is(err, want) {
		t.Fatalf("got %v", err)
	}
	q.Wait()
	if q.Pending("k") != 0 {
		t.Fatal("lane not drained")
	}
}

func TestCancelledJobSkipped(t *testing.T) {
	q := New()
	block := make(chan struct{})
	q.Enqueue("k", func(context.Context) error { <-block; return nil })

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	done := make(chan error, 1)
	go func() {
		done <- q.Do(ctx, "k", func(context.Context) error { ran.Store(true); return nil })
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v", err)
	}
	close(block)
	q.Wait()
	if ran.Load() {
		t.Fatal("cancelled task must not run")
	}
}
