package dispatch

import "errors"

var (
	ErrNotRoomMember     = errors.New("not a member of this room")
	ErrInvalidRoomID     = errors.New("invalid room ID")
	ErrSessionNotFound   = errors.New("session not registered")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)
