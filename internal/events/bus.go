package events

import (
	"context"
	"sync"

	"pair-trader/pkg/exchanges/common"
)

// Topic is a typed pub/sub channel fan-out.
type Topic[T any] struct {
	mu   sync.RWMutex
	subs []chan T
}

// NewTopic creates an empty topic.
func NewTopic[T any]() *Topic[T] {
	return &Topic[T]{}
}

// Subscribe registers a listener and returns the channel and an unsubscribe function.
// Unsubscribe closes the channel.
func (t *Topic[T]) Subscribe(buffer int) (<-chan T, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan T, buffer)
	t.subs = append(t.subs, ch)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			for i, c := range t.subs {
				if c == ch {
					close(c)
					t.subs = append(t.subs[:i], t.subs[i+1:]...)
					break
				}
			}
		})
	}
	return ch, unsub
}

// Publish fans v out without blocking; a full subscriber misses v.
// Returns the number of subscribers that received it.
func (t *Topic[T]) Publish(v T) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, ch := range t.subs {
		select {
		case ch <- v:
			n++
		default:
			// drop if subscriber is slow; keep broker non-blocking
		}
	}
	return n
}

// PublishWait delivers v to every subscriber, waiting for buffer space or ctx.
// Used where dropping is not acceptable (signals).
func (t *Topic[T]) PublishWait(ctx context.Context, v T) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, ch := range t.subs {
		select {
		case ch <- v:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribers returns the current subscriber count.
func (t *Topic[T]) Subscribers() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

// Bus groups the engine's topics.
type Bus struct {
	Tickers    *Topic[common.Ticker]
	Signals    *Topic[Signal]
	PairStates *Topic[PairStateChange]
	Orders     *Topic[OrderEvent]
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{
		Tickers:    NewTopic[common.Ticker](),
		Signals:    NewTopic[Signal](),
		PairStates: NewTopic[PairStateChange](),
		Orders:     NewTopic[OrderEvent](),
	}
}
