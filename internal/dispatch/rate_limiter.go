package dispatch

import (
	"sync"
	"time"
)

// RateLimiter implements per-session rate limiting for inbound messages
// ARCHITECTURAL DISCOVERY: Per-session state tracking with periodic cleanup
// prevents memory growth from short-lived connections
type RateLimiter struct {
	mu       sync.Mutex
	sessions map[string]*sessionLimit
}

// sessionLimit tracks the current window for a single session
// FUNCTIONAL DISCOVERY: Minute-based window reset provides an exact
// 100 messages/minute limit without token-bucket bookkeeping
type sessionLimit struct {
	messageCount int
	windowStart  time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		sessions: make(map[string]*sessionLimit),
	}
}

// Allow checks if the session can send a message (100 per minute limit)
func (rl *RateLimiter) Allow(sessionID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()

	limit, exists := rl.sessions[sessionID]
	if !exists {
		rl.sessions[sessionID] = &sessionLimit{
			messageCount: 1,
			windowStart:  now,
		}
		return true
	}

	if now.Sub(limit.windowStart) >= time.Minute {
		limit.messageCount = 1
		limit.windowStart = now
		return true
	}

	if limit.messageCount >= 100 {
		return false
	}

	limit.messageCount++
	return true
}

// Forget drops limiter state for a closed session
func (rl *RateLimiter) Forget(sessionID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.sessions, sessionID)
}

// Cleanup removes stale entries (call periodically)
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for sessionID, limit := range rl.sessions {
		if now.Sub(limit.windowStart) > 5*time.Minute {
			delete(rl.sessions, sessionID)
		}
	}
}
