package interfaces

import "notifyhub/pkg/types"

// Connection represents one physical client connection
// ARCHITECTURAL DISCOVERY: Pure abstraction without implementation details
// ensures clean boundaries between WebSocket infrastructure and fan-out logic
type Connection interface {
	// Push sends an envelope to the client (thread-safe)
	// FUNCTIONAL DISCOVERY: Thread-safety requirement documented at interface
	// level so all implementations use a single-writer pattern
	Push(envelope *types.Envelope) error

	// PushText sends a raw text frame to the client (thread-safe).
	// Used by the fallback protocol for clients without structured framing.
	PushText(data []byte) error

	// Close closes the connection and cleans up resources. Idempotent.
	Close() error
}
