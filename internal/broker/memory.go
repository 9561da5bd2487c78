package broker

import (
	"context"
	"sync"

	"notifyhub/pkg/interfaces"
)

// MemoryBroker is an in-process broker used by tests and by deployments
// running without Redis (single-process, local-only delivery)
// FUNCTIONAL DISCOVERY: Synchronous delivery keeps test assertions simple and
// matches the at-most-once, unordered guarantees of the real transport
type MemoryBroker struct {
	mu        sync.RWMutex
	handlers  map[string][]interfaces.MessageHandler
	available bool
	closed    bool
	notify    []func(available bool)
}

// NewMemoryBroker creates an available in-process broker
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		handlers:  make(map[string][]interfaces.MessageHandler),
		available: true,
	}
}

// OnAvailabilityChange registers a state-transition callback
func (mb *MemoryBroker) OnAvailabilityChange(fn func(available bool)) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.notify = append(mb.notify, fn)
}

// SetAvailable simulates a broker outage or recovery. Registered
// availability callbacks fire on every transition.
func (mb *MemoryBroker) SetAvailable(available bool) {
	mb.mu.Lock()
	mb.available = available
	callbacks := make([]func(bool), len(mb.notify))
	copy(callbacks, mb.notify)
	mb.mu.Unlock()

	for _, fn := range callbacks {
		fn(available)
	}
}

// Publish delivers payload synchronously to every handler on channel
func (mb *MemoryBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	mb.mu.RLock()
	if mb.closed {
		mb.mu.RUnlock()
		return ErrBrokerClosed
	}
	if !mb.available {
		mb.mu.RUnlock()
		return ErrBrokerUnavailable
	}
	handlers := make([]interfaces.MessageHandler, len(mb.handlers[channel]))
	copy(handlers, mb.handlers[channel])
	mb.mu.RUnlock()

	// Each registered handler is invoked independently
	for _, handler := range handlers {
		handler(channel, payload)
	}
	return nil
}

// Subscribe registers handler for messages on channel
func (mb *MemoryBroker) Subscribe(ctx context.Context, channel string, handler interfaces.MessageHandler) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.closed {
		return ErrBrokerClosed
	}
	if !mb.available {
		return ErrBrokerUnavailable
	}
	mb.handlers[channel] = append(mb.handlers[channel], handler)
	return nil
}

// SubscriberCount reports registered handlers for a channel (test support)
func (mb *MemoryBroker) SubscriberCount(channel string) int {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	return len(mb.handlers[channel])
}

// Close marks the broker closed; further operations fail
func (mb *MemoryBroker) Close() error {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.closed = true
	return nil
}
