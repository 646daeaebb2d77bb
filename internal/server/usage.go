package server

import (
	"sync"
	"time"
)

// usageTracker enforces a per-user daily question quota in memory. The
// count resets when the UTC day rolls over; restarts also reset it,
// which is acceptable for a soft quota.
type usageTracker struct {
	mu    sync.Mutex
	limit int
	day   string
	used  map[string]int
	now   func() time.Time
}

func newUsageTracker(limit int) *usageTracker {
	return &usageTracker{
		limit: limit,
		used:  make(map[string]int),
		now:   time.Now,
	}
}

// consume takes one question from the user's quota, reporting whether
// any remained. limit<=0 disables the quota.
func (t *usageTracker) consume(userID string) bool {
	if t.limit <= 0 {
		return true
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover()

	if t.used[userID] >= t.limit {
		return false
	}
	t.used[userID]++
	return true
}

func (t *usageTracker) remaining(userID string) int {
	if t.limit <= 0 {
		return -1
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover()

	left := t.limit - t.used[userID]
	if left < 0 {
		left = 0
	}
	return left
}

func (t *usageTracker) rollover() {
	today := t.now().UTC().Format("2006-01-02")
	if t.day != today {
		t.day = today
		t.used = make(map[string]int)
	}
}
