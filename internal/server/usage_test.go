package server

import (
	"testing"
	"time"
)

func TestUsageTrackerQuota(t *testing.T) {
	u := newUsageTracker(3)

	for i := 0; i < 3; i++ {
		if !u.consume("u1") {
			t.Fatalf("consume %d should succeed", i)
		}
	}
	if u.consume("u1") {
		t.Error("quota exceeded consume should fail")
	}
	if u.remaining("u1") != 0 {
		t.Errorf("remaining = %d", u.remaining("u1"))
	}
	if !u.consume("u2") {
		t.Error("other user should have a fresh quota")
	}
}

func TestUsageTrackerDailyReset(t *testing.T) {
	u := newUsageTracker(1)

	base := time.Date(2026, 8, 28, 23, 0, 0, 0, time.UTC)
	u.now = func() time.Time { return base }

	if !u.consume("u1") {
		t.Fatal("first consume should succeed")
	}
	if u.consume("u1") {
		t.Fatal("second consume should fail")
	}

	u.now = func() time.Time { return base.Add(2 * time.Hour) } // next day
	if !u.consume("u1") {
		t.Error("quota should reset on day rollover")
	}
}

func TestUsageTrackerDisabled(t *testing.T) {
	u := newUsageTracker(0)
	for i := 0; i < 100; i++ {
		if !u.consume("u1") {
			t.Fatal("disabled quota must never block")
		}
	}
	if u.remaining("u1") != -1 {
		t.Errorf("remaining = %d, want -1 for unlimited", u.remaining("u1"))
	}
}
