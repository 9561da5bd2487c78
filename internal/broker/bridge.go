package broker

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"notifyhub/pkg/interfaces"
	"notifyhub/pkg/types"
)

// Handler receives a decoded envelope from a subscribed channel
type Handler func(envelope *types.Envelope)

// subscription records a channel/handler pair so it can be re-issued after
// the broker recovers from an outage
type subscription struct {
	channel string
	handler Handler
}

// Bridge isolates the rest of the system from the broker transport and
// provides graceful degradation
// ARCHITECTURAL DISCOVERY: Steady states are available and degraded; degraded
// is entered on any broker error and left on the broker's own reconnect
// signal. While degraded, publish drops (logged, lossy by design) and
// subscribe defers until availability returns.
type Bridge struct {
	broker interfaces.Broker

	mu        sync.Mutex
	available bool
	installed []subscription // live on the broker, which re-subscribes itself on reconnect
	deferred  []subscription // recorded while degraded, re-issued on recovery
}

// NewBridge wraps a broker transport. The bridge starts available; the first
// failed operation flips it to degraded.
func NewBridge(broker interfaces.Broker) *Bridge {
	b := &Bridge{
		broker:    broker,
		available: true,
	}

	// FUNCTIONAL DISCOVERY: Brokers that can report reconnects drive the
	// degraded->available transition themselves; others recover only via
	// the notifier, so the memory broker exposes an explicit toggle
	if notifier, ok := broker.(interfaces.AvailabilityNotifier); ok {
		notifier.OnAvailabilityChange(b.setAvailable)
	}

	return b
}

// Available reports whether the bridge is in the available steady state
func (b *Bridge) Available() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.available
}

// State returns the steady-state name for monitoring
func (b *Bridge) State() string {
	if b.Available() {
		return "available"
	}
	return "degraded"
}

// Publish serializes the envelope and sends it on channel. Failure is caught
// and logged, never propagated: a notification failing to fan out must never
// fail the business operation that produced it. While degraded the message
// is dropped, not queued. Envelopes that fail wire validation (unknown type,
// oversized payload) are dropped before they reach the broker.
func (b *Bridge) Publish(ctx context.Context, channel string, envelope *types.Envelope) {
	if err := envelope.Validate(); err != nil {
		log.Printf("Dropping invalid envelope for %s: %v", channel, err)
		return
	}

	if !b.Available() {
		log.Printf("Broker degraded, dropping publish on %s: type=%s", channel, envelope.Type)
		return
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		log.Printf("Failed to encode envelope for %s: %v", channel, err)
		return
	}

	if err := b.broker.Publish(ctx, channel, payload); err != nil {
		log.Printf("Broker publish on %s failed, entering degraded mode: %v", channel, err)
		b.setAvailable(false)
	}
}

// Subscribe registers handler for envelopes arriving on channel. Multiple
// handlers per channel are allowed and invoked independently. While degraded
// the subscription is recorded and installed once availability returns.
func (b *Bridge) Subscribe(channel string, handler Handler) {
	sub := subscription{channel: channel, handler: handler}

	b.mu.Lock()
	if !b.available {
		b.deferred = append(b.deferred, sub)
		b.mu.Unlock()
		log.Printf("Broker degraded, deferring subscription to %s", channel)
		return
	}
	b.mu.Unlock()

	b.install(sub)
}

// install issues the subscription to the broker, deferring it on failure
func (b *Bridge) install(sub subscription) {
	wrapped := func(channel string, payload []byte) {
		var envelope types.Envelope
		if err := json.Unmarshal(payload, &envelope); err != nil {
			// Malformed broker traffic is dropped, never fatal
			log.Printf("Failed to decode envelope from %s: %v", channel, err)
			return
		}
		sub.handler(&envelope)
	}

	if err := b.broker.Subscribe(context.Background(), sub.channel, wrapped); err != nil {
		log.Printf("Broker subscribe to %s failed, entering degraded mode: %v", sub.channel, err)
		b.mu.Lock()
		b.deferred = append(b.deferred, sub)
		b.available = false
		b.mu.Unlock()
		return
	}

	b.mu.Lock()
	b.installed = append(b.installed, sub)
	b.mu.Unlock()
}

// setAvailable transitions between steady states, re-issuing deferred
// subscriptions on recovery
// TECHNICAL DISCOVERY: Already-installed subscriptions are not re-issued;
// transports that reconnect restore them on their side, and duplicating them
// would double-deliver every message
func (b *Bridge) setAvailable(available bool) {
	b.mu.Lock()
	wasAvailable := b.available
	b.available = available

	var toInstall []subscription
	if available && !wasAvailable {
		toInstall = b.deferred
		b.deferred = nil
	}
	b.mu.Unlock()

	if available != wasAvailable {
		log.Printf("Broker state changed: %s", b.State())
	}

	for _, sub := range toInstall {
		b.install(sub)
	}
}

// Close releases the underlying broker connection
func (b *Bridge) Close() error {
	return b.broker.Close()
}
