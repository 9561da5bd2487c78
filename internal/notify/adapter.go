package notify

import (
	"context"
	"log"
	"sync"
	"time"

	"notifyhub/internal/broker"
	"notifyhub/internal/registry"
	"notifyhub/pkg/types"
)

// Adapter bridges imperative server-side events ("notify user X") into the
// pub/sub fabric so whichever process holds the target connection delivers
// ARCHITECTURAL DISCOVERY: Producers publish on one fixed notification
// channel and every process routes by payload inspection; per-user channels
// would be unbounded with the user population
type Adapter struct {
	registry *registry.Registry
	bridge   *broker.Bridge

	// Same guard semantics as the dispatcher: lazy install, exactly once
	// per process lifetime even under concurrent first admissions
	once sync.Once
}

// NewAdapter creates a targeted delivery adapter
func NewAdapter(reg *registry.Registry, bridge *broker.Bridge) *Adapter {
	return &Adapter{
		registry: reg,
		bridge:   bridge,
	}
}

// EnsureSubscription installs the notification-channel consumer. Idempotent.
func (a *Adapter) EnsureSubscription() {
	a.once.Do(func() {
		a.bridge.Subscribe(types.ChannelSystem, a.handleSystemEnvelope)
	})
}

// Notify requests delivery of payload to userID, wherever (or whether) that
// user is connected. Fire and forget: it never returns an error and never
// fails the business operation that triggered it.
func (a *Adapter) Notify(userID string, payload map[string]interface{}) {
	envelope := &types.Envelope{
		Type:      types.EnvelopeUserMessage,
		To:        userID,
		Data:      payload,
		Timestamp: time.Now(),
	}

	// FUNCTIONAL DISCOVERY: While degraded, cross-process delivery is
	// explicitly lossy; delivery falls back to the local registry so
	// same-process users still get their notification
	if !a.bridge.Available() {
		a.deliverLocal(envelope)
		return
	}

	a.bridge.Publish(context.Background(), types.ChannelSystem, envelope)
}

// NotifyRoom requests delivery of payload to every member of roomID across
// all processes. Fire and forget.
func (a *Adapter) NotifyRoom(roomID string, payload map[string]interface{}) {
	envelope := &types.Envelope{
		Type:      types.EnvelopeRoomMessage,
		Room:      roomID,
		Data:      payload,
		Timestamp: time.Now(),
	}

	if !a.bridge.Available() {
		for _, member := range a.registry.RoomMembers(roomID) {
			a.push(member, envelope)
		}
		return
	}

	// Every process with local members holds a room-channel subscription,
	// this one included, so the loopback serves local members too
	a.bridge.Publish(context.Background(), types.RoomChannel(roomID), envelope)
}

// handleSystemEnvelope routes a notification-channel envelope to the local
// session bound to its target user, if any
func (a *Adapter) handleSystemEnvelope(envelope *types.Envelope) {
	if envelope.To == "" {
		return
	}
	a.deliverLocal(envelope)
}

// deliverLocal pushes to at most one local connection; absence is a normal
// outcome, not an error — at most one process holds the user's connection,
// so exactly one process delivers and all others no-op
func (a *Adapter) deliverLocal(envelope *types.Envelope) {
	session, exists := a.registry.GetByUser(envelope.To)
	if !exists {
		return
	}
	a.push(session, envelope)
}

func (a *Adapter) push(session *registry.Session, envelope *types.Envelope) {
	if err := session.Conn.Push(envelope); err != nil {
		log.Printf("Notification push to session %s failed, closing: %v", session.ID, err)
		a.registry.Remove(session.ID)
		_ = session.Conn.Close()
	}
}
