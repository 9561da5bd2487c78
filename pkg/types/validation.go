package types

import (
	"encoding/json"
	"regexp"
)

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
// for better performance in high-frequency validation scenarios
var (
	userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	roomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// Validate ensures the envelope meets wire requirements before it is
// published or pushed to a client.
func (e *Envelope) Validate() error {
	if !IsValidEnvelopeType(e.Type) {
		return ErrInvalidEnvelopeType
	}
	if e.Room != "" && !IsValidRoomID(e.Room) {
		return ErrInvalidRoomID
	}
	if e.To != "" && !IsValidUserID(e.To) {
		return ErrInvalidUserID
	}

	// TECHNICAL DISCOVERY: Size check requires marshaling which adds overhead
	// but ensures an accurate byte count for the transport limit
	payload, err := json.Marshal(e.Data)
	if err != nil {
		return ErrInvalidPayload
	}
	if len(payload) > 65536 {
		return ErrPayloadTooLarge
	}

	return nil
}

// IsValidEnvelopeType checks the type against the closed tag set
func IsValidEnvelopeType(envType string) bool {
	switch envType {
	case EnvelopeBroadcast,
		EnvelopeUserMessage,
		EnvelopeRoomMessage,
		EnvelopeSystemNotification,
		EnvelopePong,
		EnvelopeError:
		return true
	default:
		return false
	}
}

// IsValidRoomID checks if a room ID meets format requirements
// FUNCTIONAL DISCOVERY: 1-100 character limit keeps derived channel names
// within broker limits while allowing descriptive room identifiers
func IsValidRoomID(roomID string) bool {
	if len(roomID) < 1 || len(roomID) > 100 {
		return false
	}
	return roomIDRegex.MatchString(roomID)
}

// IsValidUserID checks if a user ID meets format requirements
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 50 {
		return false
	}
	return userIDRegex.MatchString(userID)
}
