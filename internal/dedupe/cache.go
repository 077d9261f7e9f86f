// ABOUTME: Thread-safe TTL cache for deduplicating Telegram update ids.
// ABOUTME: Prevents double-processing when the webhook is retried.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	timestamp time.Time
	element   *list.Element
}

// Tracker remembers recently seen update ids for a bounded time and size.
// Telegram redelivers webhook updates until they are acknowledged, so every
// inbound update must pass through Seen before processing. The insertion
// order list gives O(1) eviction when the size cap is hit.
type Tracker struct {
	mu      sync.Mutex
	seen    map[int64]*entry
	order   *list.List // update ids, oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a tracker with the given TTL and maximum entry count. A
// background goroutine sweeps expired entries once a minute.
func New(ttl time.Duration, maxSize int) *Tracker {
	t := &Tracker{
		seen:    make(map[int64]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go t.sweep()
	return t
}

// Seen atomically checks whether the update id was already processed and
// marks it if not. Returns true for duplicates. The check and mark are one
// critical section so concurrent deliveries of the same update cannot both
// pass.
func (t *Tracker) Seen(updateID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.seen[updateID]; ok && time.Since(e.timestamp) < t.ttl {
		return true
	}
	t.mark(updateID)
	return false
}

// mark records the update id. Must be called with mu held.
func (t *Tracker) mark(updateID int64) {
	now := time.Now()

	if e, ok := t.seen[updateID]; ok {
		e.timestamp = now
		t.order.MoveToBack(e.element)
		return
	}

	if len(t.seen) >= t.maxSize {
		t.evictOldest()
	}

	elem := t.order.PushBack(updateID)
	t.seen[updateID] = &entry{timestamp: now, element: elem}
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (t *Tracker) evictOldest() {
	front := t.order.Front()
	if front == nil {
		return
	}
	id, _ := front.Value.(int64)
	t.order.Remove(front)
	delete(t.seen, id)
}

func (t *Tracker) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.removeExpired()
		case <-t.done:
			return
		}
	}
}

func (t *Tracker) removeExpired() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	for id, e := range t.seen {
		if now.Sub(e.timestamp) > t.ttl {
			t.order.Remove(e.element)
			delete(t.seen, id)
		}
	}
}

// Len returns the current number of tracked ids.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.seen)
}

// Close stops the background sweeper. Safe to call multiple times.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	close(t.done)
}
