package registry

import (
	"sync"
	"time"

	"notifyhub/pkg/interfaces"
)

// Session is the server-side record for one live client connection.
// The transport handle is exclusively owned by the session for its lifetime.
type Session struct {
	ID           string
	UserID       string
	Conn         interfaces.Connection
	joinedRooms  map[string]struct{}
	lastActivity time.Time
}

// InRoom reports whether the session currently belongs to roomID.
// Only safe to call from registry methods holding the lock; external callers
// go through Registry.RoomMembers.
func (s *Session) inRoom(roomID string) bool {
	_, ok := s.joinedRooms[roomID]
	return ok
}

// Registry is the authoritative process-local table of live sessions keyed
// by session id, with a user index for targeted delivery
// ARCHITECTURAL DISCOVERY: The registry is the only shared mutable resource
// in the process; every mutation runs under one mutex so inbound handling,
// broker callbacks, and the sweeper never overlap on the same entry
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session // sessionID -> Session
	byUser   map[string]string   // userID -> sessionID, last admission wins
}

// NewRegistry creates an empty connection registry
// FUNCTIONAL DISCOVERY: Initialize all maps to prevent nil access during
// concurrent operations
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		byUser:   make(map[string]string),
	}
}

// Add creates a session with an empty room set and current activity time.
// A colliding id silently overwrites; the caller guarantees uniqueness.
func (r *Registry) Add(sessionID, userID string, conn interfaces.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[sessionID] = &Session{
		ID:           sessionID,
		UserID:       userID,
		Conn:         conn,
		joinedRooms:  make(map[string]struct{}),
		lastActivity: time.Now(),
	}
	if userID != "" {
		// Last admission wins: a user reconnecting from a new tab rebinds
		// targeted delivery to the newest connection
		r.byUser[userID] = sessionID
	}
}

// Remove deletes a session if present. Idempotent: removal of an absent or
// already-evicted session is a no-op, which makes the explicit-close and
// sweeper paths safe to race.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(sessionID)
}

func (r *Registry) removeLocked(sessionID string) {
	session, exists := r.sessions[sessionID]
	if !exists {
		return
	}
	delete(r.sessions, sessionID)

	// Only clear the user index when it still points at this session;
	// a newer connection for the same user must keep its binding
	if session.UserID != "" && r.byUser[session.UserID] == sessionID {
		delete(r.byUser, session.UserID)
	}
}

// Get returns the session for sessionID. Absence is a valid, non-error
// outcome.
func (r *Registry) Get(sessionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, exists := r.sessions[sessionID]
	return session, exists
}

// GetByUser returns the session currently bound to userID, if any
// FUNCTIONAL DISCOVERY: At most one process holds a given user's connection,
// so a miss here means delivery is another process's responsibility (or
// nobody's) and the caller discards silently
func (r *Registry) GetByUser(userID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessionID, exists := r.byUser[userID]
	if !exists {
		return nil, false
	}
	session, exists := r.sessions[sessionID]
	return session, exists
}

// JoinRoom adds roomID to the session's membership set. Returns false if the
// session is absent. Duplicate joins are idempotent no-ops.
func (r *Registry) JoinRoom(sessionID, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, exists := r.sessions[sessionID]
	if !exists {
		return false
	}
	session.joinedRooms[roomID] = struct{}{}
	return true
}

// LeaveRoom removes roomID from the session's membership set. Returns false
// if the session is absent; leaving a room never joined is a no-op.
func (r *Registry) LeaveRoom(sessionID, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, exists := r.sessions[sessionID]
	if !exists {
		return false
	}
	delete(session.joinedRooms, roomID)
	return true
}

// InRoom reports whether the session is currently a member of roomID.
// Membership is enforced at send time, not just at join time.
func (r *Registry) InRoom(sessionID, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, exists := r.sessions[sessionID]
	return exists && session.inRoom(roomID)
}

// Rooms returns a snapshot of the session's room memberships, empty if the
// session is absent. The copy is taken under the lock so callers never
// observe a membership set mid-mutation.
func (r *Registry) Rooms(sessionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, exists := r.sessions[sessionID]
	if !exists {
		return nil
	}
	rooms := make([]string, 0, len(session.joinedRooms))
	for room := range session.joinedRooms {
		rooms = append(rooms, room)
	}
	return rooms
}

// RoomMembers returns every session currently in roomID
// TECHNICAL DISCOVERY: Full scan is O(active connections), which is bounded
// by concurrent-connection count per process, not global user count
func (r *Registry) RoomMembers(roomID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var members []*Session
	for _, session := range r.sessions {
		if session.inRoom(roomID) {
			members = append(members, session)
		}
	}
	return members
}

// Touch updates the session's last-activity time to now. No-op if absent.
func (r *Registry) Touch(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if session, exists := r.sessions[sessionID]; exists {
		session.lastActivity = time.Now()
	}
}

// LastActivity returns the session's last-activity time
func (r *Registry) LastActivity(sessionID string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, exists := r.sessions[sessionID]
	if !exists {
		return time.Time{}, false
	}
	return session.lastActivity, true
}

// All returns every registered session, used for global broadcast
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	return sessions
}

// EvictOlderThan removes every session whose last activity is older than
// maxIdle and returns the removed sessions. This is the only path that
// removes sessions without an explicit close event; closing the evicted
// transports is deliberately the caller's job so that eviction and
// disconnection stay independently testable.
func (r *Registry) EvictOlderThan(maxIdle time.Duration) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var evicted []*Session
	for sessionID, session := range r.sessions {
		if now.Sub(session.lastActivity) > maxIdle {
			evicted = append(evicted, session)
			r.removeLocked(sessionID)
		}
	}
	return evicted
}

// Stats returns registry statistics for monitoring and the health endpoint
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make(map[string]bool)
	for _, session := range r.sessions {
		for room := range session.joinedRooms {
			rooms[room] = true
		}
	}

	return map[string]int{
		"total_connections": len(r.sessions),
		"bound_users":       len(r.byUser),
		"active_rooms":      len(rooms),
	}
}
