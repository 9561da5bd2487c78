package broker

import (
	"context"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"notifyhub/pkg/interfaces"
)

// RedisBroker adapts a go-redis client to the Broker interface
// ARCHITECTURAL DISCOVERY: go-redis PubSub tracks its subscribed channels and
// re-subscribes after a reconnect, so the broker only has to surface the
// reconnect signal; the bridge handles everything deferred during the outage
type RedisBroker struct {
	client *goredis.Client

	mu      sync.Mutex
	pubsubs []*goredis.PubSub
	notify  func(available bool)
	closed  bool
}

// NewRedisBroker connects to Redis and verifies reachability with a short
// ping. An unreachable broker is an error here; the composition root decides
// whether to fall back to local-only delivery.
func NewRedisBroker(addr, password string, db int) (*RedisBroker, error) {
	rb := &RedisBroker{}

	rb.client = goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		// FUNCTIONAL DISCOVERY: OnConnect fires on every (re)connection in
		// the pool, which is exactly the broker-side reconnect signal the
		// bridge needs to leave degraded mode
		OnConnect: func(ctx context.Context, cn *goredis.Conn) error {
			rb.signal(true)
			return nil
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := rb.client.Ping(ctx).Err(); err != nil {
		_ = rb.client.Close()
		return nil, err
	}

	return rb, nil
}

// OnAvailabilityChange registers the bridge's state-transition callback
func (rb *RedisBroker) OnAvailabilityChange(fn func(available bool)) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.notify = fn
}

func (rb *RedisBroker) signal(available bool) {
	rb.mu.Lock()
	fn := rb.notify
	rb.mu.Unlock()

	if fn != nil {
		fn(available)
	}
}

// Publish sends payload on channel. A single PUBLISH command is atomic on
// the Redis side, so concurrent publishers never interleave one message.
func (rb *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := rb.client.Publish(ctx, channel, payload).Err(); err != nil {
		rb.signal(false)
		return err
	}
	return nil
}

// Subscribe registers handler for messages on channel. Each subscription
// owns a PubSub connection with a dedicated receive goroutine.
func (rb *RedisBroker) Subscribe(ctx context.Context, channel string, handler interfaces.MessageHandler) error {
	rb.mu.Lock()
	if rb.closed {
		rb.mu.Unlock()
		return ErrBrokerClosed
	}
	rb.mu.Unlock()

	pubsub := rb.client.Subscribe(ctx, channel)

	// Force the SUBSCRIBE round trip so registration failures surface here
	// instead of silently inside the receive goroutine
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		rb.signal(false)
		return err
	}

	rb.mu.Lock()
	rb.pubsubs = append(rb.pubsubs, pubsub)
	rb.mu.Unlock()

	// TECHNICAL DISCOVERY: pubsub.Channel() is closed when the PubSub is
	// closed, which terminates the goroutine cleanly on broker shutdown
	go func() {
		for msg := range pubsub.Channel() {
			handler(msg.Channel, []byte(msg.Payload))
		}
	}()

	return nil
}

// Close terminates all subscriptions and releases the client
func (rb *RedisBroker) Close() error {
	rb.mu.Lock()
	if rb.closed {
		rb.mu.Unlock()
		return nil
	}
	rb.closed = true
	pubsubs := rb.pubsubs
	rb.pubsubs = nil
	rb.mu.Unlock()

	for _, pubsub := range pubsubs {
		_ = pubsub.Close()
	}
	return rb.client.Close()
}
