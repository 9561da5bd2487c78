package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"notifyhub/internal/broker"
	"notifyhub/internal/dispatch"
	"notifyhub/internal/registry"
	"notifyhub/pkg/types"
)

type fakeConn struct {
	mu        sync.Mutex
	envelopes []*types.Envelope
	closed    bool
	failPush  bool
}

func (f *fakeConn) Push(envelope *types.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPush {
		return errors.New("transport failure")
	}
	f.envelopes = append(f.envelopes, envelope)
	return nil
}

func (f *fakeConn) PushText(data []byte) error { return nil }

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.envelopes)
}

func (f *fakeConn) last() *types.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.envelopes) == 0 {
		return nil
	}
	return f.envelopes[len(f.envelopes)-1]
}

func TestAdapter_NotifyDeliversToBoundUser(t *testing.T) {
	reg := registry.NewRegistry()
	mb := broker.NewMemoryBroker()
	bridge := broker.NewBridge(mb)
	adapter := NewAdapter(reg, bridge)
	adapter.EnsureSubscription()

	conn := &fakeConn{}
	reg.Add("sess1", "alice", conn)

	adapter.Notify("alice", map[string]interface{}{"message": "you have mail"})

	if conn.count() != 1 {
		t.Fatalf("Expected exactly 1 delivery, got %d", conn.count())
	}
	envelope := conn.last()
	if envelope.Type != types.EnvelopeUserMessage {
		t.Errorf("Expected user_message envelope, got %s", envelope.Type)
	}
	if envelope.To != "alice" {
		t.Errorf("Expected target alice, got %s", envelope.To)
	}
	if envelope.Data["message"] != "you have mail" {
		t.Errorf("Unexpected payload: %v", envelope.Data["message"])
	}
}

func TestAdapter_NotifyAbsentUserIsSilentNoOp(t *testing.T) {
	reg := registry.NewRegistry()
	bridge := broker.NewBridge(broker.NewMemoryBroker())
	adapter := NewAdapter(reg, bridge)
	adapter.EnsureSubscription()

	// Nobody connected; must not panic or error
	adapter.Notify("ghost", map[string]interface{}{"message": "anyone there"})
}

func TestAdapter_NotifyTargetsNewestConnection(t *testing.T) {
	reg := registry.NewRegistry()
	bridge := broker.NewBridge(broker.NewMemoryBroker())
	adapter := NewAdapter(reg, bridge)
	adapter.EnsureSubscription()

	oldConn := &fakeConn{}
	newConn := &fakeConn{}
	reg.Add("sess1", "alice", oldConn)
	reg.Add("sess2", "alice", newConn)

	adapter.Notify("alice", map[string]interface{}{"message": "hello"})

	if oldConn.count() != 0 {
		t.Error("Replaced connection must not receive targeted delivery")
	}
	if newConn.count() != 1 {
		t.Errorf("Expected newest connection to receive delivery, got %d", newConn.count())
	}
}

func TestAdapter_EnsureSubscriptionIsIdempotent(t *testing.T) {
	reg := registry.NewRegistry()
	mb := broker.NewMemoryBroker()
	bridge := broker.NewBridge(mb)
	adapter := NewAdapter(reg, bridge)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			adapter.EnsureSubscription()
		}()
	}
	wg.Wait()

	if mb.SubscriberCount(types.ChannelSystem) != 1 {
		t.Errorf("Expected exactly 1 system-channel subscription, got %d", mb.SubscriberCount(types.ChannelSystem))
	}
}

func TestAdapter_DegradedModeDeliversLocally(t *testing.T) {
	reg := registry.NewRegistry()
	mb := broker.NewMemoryBroker()
	bridge := broker.NewBridge(mb)
	adapter := NewAdapter(reg, bridge)
	adapter.EnsureSubscription()

	conn := &fakeConn{}
	reg.Add("sess1", "alice", conn)

	mb.SetAvailable(false)

	// Cross-process delivery is lossy while degraded, but same-process users
	// still get their notification
	adapter.Notify("alice", map[string]interface{}{"message": "still here"})

	if conn.count() != 1 {
		t.Fatalf("Expected local delivery while degraded, got %d", conn.count())
	}
}

func TestAdapter_NotifyRoomDegradedDeliversToLocalMembers(t *testing.T) {
	reg := registry.NewRegistry()
	mb := broker.NewMemoryBroker()
	bridge := broker.NewBridge(mb)
	adapter := NewAdapter(reg, bridge)

	memberConn := &fakeConn{}
	outsiderConn := &fakeConn{}
	reg.Add("sess1", "alice", memberConn)
	reg.Add("sess2", "bob", outsiderConn)
	reg.JoinRoom("sess1", "lobby")

	mb.SetAvailable(false)

	adapter.NotifyRoom("lobby", map[string]interface{}{"event": "maintenance", "message": "going down"})

	if memberConn.count() != 1 {
		t.Fatalf("Expected local member delivery while degraded, got %d", memberConn.count())
	}
	if outsiderConn.count() != 0 {
		t.Error("Non-member must not receive room notification")
	}
}

func TestAdapter_NotifyRoomReachesMembersThroughBroker(t *testing.T) {
	reg := registry.NewRegistry()
	mb := broker.NewMemoryBroker()
	bridge := broker.NewBridge(mb)
	adapter := NewAdapter(reg, bridge)

	// The dispatcher owns room-channel subscriptions; a member joining
	// through it installs the consumer this adapter publishes to
	dispatcher := dispatch.NewDispatcher(reg, bridge)
	dispatcher.EnsureSubscriptions()

	memberConn := &fakeConn{}
	reg.Add("sess1", "alice", memberConn)
	session, _ := reg.Get("sess1")
	dispatcher.HandleCommand(context.Background(), session, &types.ClientCommand{Type: types.CommandJoinRoom, RoomID: "lobby"})
	joinCount := memberConn.count()

	adapter.NotifyRoom("lobby", map[string]interface{}{"event": "announcement", "message": "welcome"})

	if memberConn.count() != joinCount+1 {
		t.Fatalf("Expected 1 room notification, got %d new", memberConn.count()-joinCount)
	}
	envelope := memberConn.last()
	if envelope.Type != types.EnvelopeRoomMessage || envelope.Room != "lobby" {
		t.Errorf("Unexpected room notification: type=%s room=%s", envelope.Type, envelope.Room)
	}
	if envelope.Data["message"] != "welcome" {
		t.Errorf("Unexpected payload: %v", envelope.Data["message"])
	}
}

func TestAdapter_FailedPushClosesConnection(t *testing.T) {
	reg := registry.NewRegistry()
	bridge := broker.NewBridge(broker.NewMemoryBroker())
	adapter := NewAdapter(reg, bridge)
	adapter.EnsureSubscription()

	conn := &fakeConn{failPush: true}
	reg.Add("sess1", "alice", conn)

	adapter.Notify("alice", map[string]interface{}{"message": "doomed"})

	conn.mu.Lock()
	closed := conn.closed
	conn.mu.Unlock()
	if !closed {
		t.Error("Failed push should close the connection")
	}
	if _, exists := reg.Get("sess1"); exists {
		t.Error("Failed session should be removed from the registry")
	}
}
