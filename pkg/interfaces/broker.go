package interfaces

import "context"

// MessageHandler receives the raw payload published on a channel
type MessageHandler func(channel string, payload []byte)

// Publisher sends raw payloads to a named broker channel
// ARCHITECTURAL DISCOVERY: Capability interfaces replace the original ambient
// broker singleton so tests can inject an in-memory implementation
type Publisher interface {
	// Publish sends payload on channel. Each call is atomic: concurrent
	// publishers never interleave within a single message.
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Subscriber registers handlers for broker channels
type Subscriber interface {
	// Subscribe registers handler for messages arriving on channel.
	// Multiple subscriptions to the same channel are allowed; each handler
	// is invoked independently.
	Subscribe(ctx context.Context, channel string, handler MessageHandler) error
}

// Broker combines both pub/sub capabilities of a message broker transport
type Broker interface {
	Publisher
	Subscriber

	// Close releases the underlying broker connection
	Close() error
}

// AvailabilityNotifier is implemented by brokers that can report connection
// state transitions (e.g. the Redis OnConnect hook)
// FUNCTIONAL DISCOVERY: Optional interface keeps simple brokers simple while
// letting the bridge track degraded mode on transports that support it
type AvailabilityNotifier interface {
	// OnAvailabilityChange registers a callback invoked with true when the
	// broker (re)connects and false when it becomes unreachable.
	OnAvailabilityChange(fn func(available bool))
}
