package ratelimit

import (
	"fmt"
	"testing"
	"time"
)

// newTestLimiter builds a limiter with a controllable clock and no racing
// background sweep influence (the sweep only runs every 60s anyway).
func newTestLimiter(ceiling, capacity int) (*Limiter, *time.Time) {
	l := New(ceiling, capacity)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := base
	l.now = func() time.Time { return now }
	return l, &now
}

func TestAllowUpToCeiling(t *testing.T) {
	l, _ := newTestLimiter(5, 100)
	defer l.Close()

	for i := 0; i < 5; i++ {
		if !l.Allow("abcd1234") {
			t.Fatalf("message %d should be allowed", i+1)
		}
	}
	if l.Allow("abcd1234") {
		t.Error("message over ceiling should be rejected")
	}
	// Still rejected: the count keeps growing past the ceiling.
	if l.Allow("abcd1234") {
		t.Error("subsequent over-ceiling message should stay rejected")
	}
}

func TestWindowExpiryResetsCount(t *testing.T) {
	l, now := newTestLimiter(2, 100)
	defer l.Close()

	l.Allow("id1")
	l.Allow("id1")
	if l.Allow("id1") {
		t.Fatal("third message within window should be rejected")
	}

	*now = now.Add(Window + time.Second)
	if !l.Allow("id1") {
		t.Error("message after window expiry should be allowed again")
	}
	if !l.Allow("id1") {
		t.Error("fresh window should start counting from 1")
	}
}

func TestIdentitiesAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(1, 100)
	defer l.Close()

	if !l.Allow("id1") {
		t.Fatal("first message from id1 should pass")
	}
	if l.Allow("id1") {
		t.Fatal("second message from id1 should be rejected")
	}
	if !l.Allow("id2") {
		t.Error("id2 must not share id1's window")
	}
}

func TestCapacityEviction(t *testing.T) {
	l, _ := newTestLimiter(10, 3)
	defer l.Close()

	l.Allow("first")
	l.Allow("second")
	l.Allow("third")
	if got := l.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3", got)
	}

	// Fourth identity evicts exactly the earliest inserted.
	l.Allow("fourth")
	if got := l.Len(); got != 3 {
		t.Errorf("Len() after eviction = %d, want 3", got)
	}

	// "first" was evicted, so its next message allocates a fresh window
	// (and evicts "second", the now-oldest).
	l.mu.Lock()
	_, firstPresent := l.entries["first"]
	_, secondPresent := l.entries["second"]
	l.mu.Unlock()
	if firstPresent {
		t.Error("oldest identity should have been evicted")
	}
	if !secondPresent {
		t.Error("second-oldest identity should survive the eviction")
	}
}

func TestTableNeverExceedsCapacity(t *testing.T) {
	l, _ := newTestLimiter(10, 50)
	defer l.Close()

	for i := 0; i < 500; i++ {
		l.Allow(fmt.Sprintf("id-%03d", i))
		if got := l.Len(); got > 50 {
			t.Fatalf("table grew to %d entries, capacity 50", got)
		}
	}
}

func TestSweepRemovesExpiredWindows(t *testing.T) {
	l, now := newTestLimiter(10, 100)
	defer l.Close()

	l.Allow("stale1")
	l.Allow("stale2")
	*now = now.Add(Window + time.Second)
	l.Allow("fresh")

	l.sweep()
	if got := l.Len(); got != 1 {
		t.Errorf("Len() after sweep = %d, want 1", got)
	}
	l.mu.Lock()
	_, ok := l.entries["fresh"]
	l.mu.Unlock()
	if !ok {
		t.Error("unexpired window should survive the sweep")
	}
}

func TestDefaults(t *testing.T) {
	l := New(0, 0)
	defer l.Close()
	if l.ceiling != DefaultCeiling {
		t.Errorf("ceiling = %d, want %d", l.ceiling, DefaultCeiling)
	}
	if l.capacity != DefaultCapacity {
		t.Errorf("capacity = %d, want %d", l.capacity, DefaultCapacity)
	}
}
