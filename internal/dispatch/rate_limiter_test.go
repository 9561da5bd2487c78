package dispatch

import (
	"testing"
	"time"
)

func TestRateLimiter_AllowsUpToLimit(t *testing.T) {
	rl := NewRateLimiter()

	for i := 0; i < 100; i++ {
		if !rl.Allow("sess1") {
			t.Fatalf("Message %d should be allowed within the limit", i+1)
		}
	}

	if rl.Allow("sess1") {
		t.Error("Message 101 in the window should be rejected")
	}
}

func TestRateLimiter_SessionsAreIndependent(t *testing.T) {
	rl := NewRateLimiter()

	for i := 0; i < 100; i++ {
		rl.Allow("sess1")
	}
	if rl.Allow("sess1") {
		t.Fatal("sess1 should be over its limit")
	}

	if !rl.Allow("sess2") {
		t.Error("sess2 should have its own independent window")
	}
}

func TestRateLimiter_WindowResets(t *testing.T) {
	rl := NewRateLimiter()

	for i := 0; i < 100; i++ {
		rl.Allow("sess1")
	}
	if rl.Allow("sess1") {
		t.Fatal("sess1 should be over its limit")
	}

	// Age the window past a minute instead of sleeping
	rl.mu.Lock()
	rl.sessions["sess1"].windowStart = time.Now().Add(-61 * time.Second)
	rl.mu.Unlock()

	if !rl.Allow("sess1") {
		t.Error("Expired window should reset the count")
	}
}

func TestRateLimiter_ForgetReleasesState(t *testing.T) {
	rl := NewRateLimiter()

	for i := 0; i < 100; i++ {
		rl.Allow("sess1")
	}
	rl.Forget("sess1")

	if !rl.Allow("sess1") {
		t.Error("Forgotten session should start a fresh window")
	}
}

func TestRateLimiter_CleanupRemovesStaleEntries(t *testing.T) {
	rl := NewRateLimiter()
	rl.Allow("stale")
	rl.Allow("fresh")

	rl.mu.Lock()
	rl.sessions["stale"].windowStart = time.Now().Add(-10 * time.Minute)
	rl.mu.Unlock()

	rl.Cleanup()

	rl.mu.Lock()
	_, staleExists := rl.sessions["stale"]
	_, freshExists := rl.sessions["fresh"]
	rl.mu.Unlock()

	if staleExists {
		t.Error("Stale entry should be removed by Cleanup")
	}
	if !freshExists {
		t.Error("Fresh entry should survive Cleanup")
	}
}
