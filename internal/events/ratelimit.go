package events

import (
	"sync"
	"time"
)

// windowKey identifies one fixed window for one event type.
type windowKey struct {
	eventType Type
	window    int64
}

// windowLimiter counts events per type within fixed windows. Old windows
// are reclaimed by sweep, not on the emit path.
type windowLimiter struct {
	max  int
	size time.Duration

	mu     sync.Mutex
	counts map[windowKey]int
}

func newWindowLimiter(max int, size time.Duration) *windowLimiter {
	if size <= 0 {
		size = time.Second
	}
	return &windowLimiter{
		max:    max,
		size:   size,
		counts: make(map[windowKey]int),
	}
}

// allow reports whether one more event of the given type fits in the
// current window, counting it if so.
func (l *windowLimiter) allow(t Type, now time.Time) bool {
	key := windowKey{eventType: t, window: now.UnixMilli() / l.size.Milliseconds()}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counts[key] >= l.max {
		return false
	}
	l.counts[key]++
	return true
}

// sweep drops counters for windows that have already closed.
func (l *windowLimiter) sweep(now time.Time) {
	current := now.UnixMilli() / l.size.Milliseconds()
	l.mu.Lock()
	defer l.mu.Unlock()
	for key := range l.counts {
		if key.window < current {
			delete(l.counts, key)
		}
	}
}

// tracked reports how many windows currently hold counters.
func (l *windowLimiter) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.counts)
}
