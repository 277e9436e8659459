package ratelimit

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func testLimiter(max int) (*Limiter, *time.Time) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	l := New(max, zap.NewNop())
	l.nowFunc = func() time.Time { return now }
	return l, &now
}

func TestAllowWithinLimit(t *testing.T) {
	l, _ := testLimiter(3)

	for i := 0; i < 3; i++ {
		if !l.Allow("chat-1") {
			t.Fatalf("hit %d should be allowed", i+1)
		}
	}
	if l.Allow("chat-1") {
		t.Fatal("fourth hit should be rejected")
	}
}

func TestActorsAreIndependent(t *testing.T) {
	l, _ := testLimiter(1)

	if !l.Allow("chat-1") {
		t.Fatal("first actor should be allowed")
	}
	if !l.Allow("chat-2") {
		t.Fatal("second actor should not share the first actor's window")
	}
	if l.Allow("chat-1") {
		t.Fatal("first actor should now be limited")
	}
}

func TestWindowSlides(t *testing.T) {
	l, now := testLimiter(2)

	l.Allow("chat-1")
	*now = now.Add(30 * time.Second)
	l.Allow("chat-1")

	if l.Allow("chat-1") {
		t.Fatal("third hit inside the window should be rejected")
	}

	// First hit ages out, second is still live.
	*now = now.Add(31 * time.Second)
	if !l.Allow("chat-1") {
		t.Fatal("hit should be allowed once the oldest entry expires")
	}
	if l.Allow("chat-1") {
		t.Fatal("window should be full again")
	}
}

func TestRejectedHitIsNotCounted(t *testing.T) {
	l, now := testLimiter(1)

	l.Allow("chat-1")
	for i := 0; i < 5; i++ {
		l.Allow("chat-1")
	}

	*now = now.Add(61 * time.Second)
	if !l.Allow("chat-1") {
		t.Fatal("rejected attempts must not extend the window")
	}
}

func TestCleanupDropsIdleActors(t *testing.T) {
	l, now := testLimiter(5)

	l.Allow("idle")
	*now = now.Add(2 * time.Minute)
	l.Allow("active")

	l.Cleanup()

	l.mu.Lock()
	_, idleKept := l.hits["idle"]
	_, activeKept := l.hits["active"]
	l.mu.Unlock()

	if idleKept {
		t.Fatal("idle actor should have been dropped")
	}
	if !activeKept {
		t.Fatal("active actor should survive cleanup")
	}
}
