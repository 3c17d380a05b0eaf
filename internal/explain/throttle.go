package explain

import (
	"sync"
	"time"
)

// Throttle debounces recomputation per key: within the window after a
// computation, every caller for that key is told to skip. Concurrent
// callers agree on a single winner through compare-and-swap on the
// last-computed stamp, so the hot path takes no lock.
type Throttle struct {
	window time.Duration
	base   time.Time
	clock  func() time.Time
	last   sync.Map
}

func NewThrottle(window time.Duration) *Throttle {
	return &Throttle{
		window: window,
		base:   time.Now(),
		clock:  time.Now,
	}
}

// WithClock overrides the clock for tests.
func (t *Throttle) WithClock(clock func() time.Time) *Throttle {
	t.clock = clock
	return t
}

// Allow reports whether a computation for key may proceed now and, if
// so, claims the slot. A zero window disables throttling.
func (t *Throttle) Allow(key string) bool {
	if t.window <= 0 {
		return true
	}
	now := t.elapsed()
	for {
		prev, loaded := t.last.Load(key)
		if !loaded {
			if _, raced := t.last.LoadOrStore(key, now); !raced {
				return true
			}
			continue
		}
		stamp := prev.(int64)
		if now-stamp < int64(t.window) {
			return false
		}
		if t.last.CompareAndSwap(key, prev, now) {
			return true
		}
	}
}

// Sweep evicts stamps older than the window so idle keys do not pin
// memory. Returns how many were dropped.
func (t *Throttle) Sweep() int {
	if t.window <= 0 {
		return 0
	}
	now := t.elapsed()
	evicted := 0
	t.last.Range(func(key, value any) bool {
		if now-value.(int64) >= int64(t.window) {
			if t.last.CompareAndDelete(key, value) {
				evicted++
			}
		}
		return true
	})
	return evicted
}

func (t *Throttle) elapsed() int64 {
	return int64(t.clock().Sub(t.base))
}
