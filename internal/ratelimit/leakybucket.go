package ratelimit

import (
	"context"
	"sync"
	"time"
)

// LeakyBucket smooths request rates to a fixed requests-per-minute
// budget. Callers block in Wait until the next slot drips.
type LeakyBucket struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time
	closed   bool
}

// NewLeakyBucketFromRPM creates a limiter that admits rpm requests per
// minute, evenly spaced.
func NewLeakyBucketFromRPM(rpm int) *LeakyBucket {
	b := &LeakyBucket{}
	b.SetRPM(rpm)
	return b
}

// SetRPM adjusts the rate. rpm<=0 admits every request immediately.
func (b *LeakyBucket) SetRPM(rpm int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if rpm <= 0 {
		b.interval = 0
		return
	}
	b.interval = time.Minute / time.Duration(rpm)
}

// Wait blocks until the caller may proceed or ctx is cancelled.
func (b *LeakyBucket) Wait(ctx context.Context) error {
	b.mu.Lock()
	if b.closed || b.interval == 0 {
		b.mu.Unlock()
		return ctx.Err()
	}
	now := time.Now()
	slot := b.next
	if slot.Before(now) {
		slot = now
	}
	b.next = slot.Add(b.interval)
	b.mu.Unlock()

	delay := time.Until(slot)
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the limiter. Subsequent Waits return immediately.
func (b *LeakyBucket) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.interval = 0
}
