package dedupe

import (
	"sync"
	"time"
)

type entry struct {
	key string
	ts  time.Time
}

// Tracker remembers recently processed article ids for a bounded time and
// count. It is safe for concurrent use.
type Tracker struct {
	mu       sync.Mutex
	items    map[string]time.Time
	order    []entry
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

// NewTracker creates a tracker with the provided capacity and ttl.
func NewTracker(capacity int, ttl time.Duration) *Tracker {
	if capacity <= 0 {
		capacity = 1
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Tracker{
		items:    make(map[string]time.Time, capacity),
		order:    make([]entry, 0, capacity),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Seen reports whether key was marked inside the ttl window.
func (t *Tracker) Seen(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seenLocked(key, t.now())
}

func (t *Tracker) seenLocked(key string, now time.Time) bool {
	ts, ok := t.items[key]
	return ok && now.Sub(ts) <= t.ttl
}

// Mark records keys as processed.
func (t *Tracker) Mark(keys ...string) {
	if len(keys) == 0 {
		return
	}
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, key := range keys {
		t.items[key] = now
		t.order = append(t.order, entry{key: key, ts: now})
	}
	t.compact(now)
}

// Unseen returns the keys that have not been marked, preserving order.
func (t *Tracker) Unseen(keys []string) []string {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if !t.seenLocked(key, now) {
			out = append(out, key)
		}
	}
	return out
}

// Len returns the number of tracked keys.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

func (t *Tracker) compact(now time.Time) {
	cutoff := now.Add(-t.ttl)

	for len(t.order) > 0 && (len(t.items) > t.capacity || t.order[0].ts.Before(cutoff)) {
		oldest := t.order[0]
		t.order = t.order[1:]

		if ts, ok := t.items[oldest.key]; ok && ts == oldest.ts {
			delete(t.items, oldest.key)
		}
	}
}
