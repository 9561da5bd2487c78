package types

import "errors"

// ARCHITECTURAL DISCOVERY: Specific error types enable proper error handling
// and user-friendly error messages throughout the system
var (
	ErrInvalidEnvelopeType = errors.New("invalid envelope type")
	ErrInvalidRoomID       = errors.New("room ID must be 1-100 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidUserID       = errors.New("user ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidPayload      = errors.New("invalid JSON payload")
	ErrPayloadTooLarge     = errors.New("payload exceeds 64KB limit")
)
