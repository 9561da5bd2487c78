package dispatch

import (
	"context"
	"log"
	"sync"
	"time"

	"notifyhub/internal/broker"
	"notifyhub/internal/registry"
	"notifyhub/pkg/types"
)

// Dispatcher routes decoded client commands to their delivery paths: local
// synchronous fan-out plus a broker publish for peers on other processes
// ARCHITECTURAL DISCOVERY: Routing logic separated from connection handling
// keeps the WebSocket layer transport-only and makes every delivery rule
// testable against a fake registry and an in-memory broker
type Dispatcher struct {
	registry *registry.Registry
	bridge   *broker.Bridge
	limiter  *RateLimiter

	// FUNCTIONAL DISCOVERY: sync.Once instead of a boolean guard means
	// concurrent first admissions cannot race into a double subscribe
	globalOnce sync.Once

	roomsMu  sync.Mutex
	roomSubs map[string]bool
}

// NewDispatcher creates a dispatcher over the given registry and bridge
func NewDispatcher(reg *registry.Registry, bridge *broker.Bridge) *Dispatcher {
	return &Dispatcher{
		registry: reg,
		bridge:   bridge,
		limiter:  NewRateLimiter(),
		roomSubs: make(map[string]bool),
	}
}

// EnsureSubscriptions installs the process-wide global-channel subscription.
// Idempotent; admission calls it lazily on every connection and it runs
// exactly once per process lifetime.
func (d *Dispatcher) EnsureSubscriptions() {
	d.globalOnce.Do(func() {
		d.bridge.Subscribe(types.ChannelGlobal, d.handleGlobalEnvelope)
	})
}

// HandleCommand dispatches one decoded client command. Returns false for
// unknown command tags so the caller can apply the textual fallback.
func (d *Dispatcher) HandleCommand(ctx context.Context, session *registry.Session, cmd *types.ClientCommand) bool {
	switch cmd.Type {
	case types.CommandJoinRoom, types.CommandLeaveRoom, types.CommandRoomMessage, types.CommandBroadcast, types.CommandPing:
	default:
		return false
	}

	// Rate limiting applies to recognized protocol traffic only; violations
	// are reported to the sender and never close the connection
	if !d.limiter.Allow(session.ID) {
		d.sendError(session, ErrRateLimitExceeded.Error())
		return true
	}

	switch cmd.Type {
	case types.CommandJoinRoom:
		d.joinRoom(ctx, session, cmd.RoomID)
	case types.CommandLeaveRoom:
		d.leaveRoom(ctx, session, cmd.RoomID)
	case types.CommandRoomMessage:
		d.roomMessage(ctx, session, cmd)
	case types.CommandBroadcast:
		d.broadcast(ctx, session, cmd)
	case types.CommandPing:
		d.ping(session, cmd)
	}
	return true
}

// ForgetSession releases per-session dispatcher state on close
func (d *Dispatcher) ForgetSession(sessionID string) {
	d.limiter.Forget(sessionID)
}

// joinRoom registers membership and announces the join to room peers, both
// local (synchronously) and remote (via the room channel)
func (d *Dispatcher) joinRoom(ctx context.Context, session *registry.Session, roomID string) {
	if !types.IsValidRoomID(roomID) {
		d.sendError(session, ErrInvalidRoomID.Error())
		return
	}

	if !d.registry.JoinRoom(session.ID, roomID) {
		d.sendError(session, ErrSessionNotFound.Error())
		return
	}

	d.ensureRoomSubscription(roomID)

	announcement := &types.Envelope{
		Type: types.EnvelopeRoomMessage,
		From: session.ID,
		Room: roomID,
		Data: map[string]interface{}{
			"event":  "joined",
			"userId": session.UserID,
		},
		Timestamp: time.Now(),
	}

	// FUNCTIONAL DISCOVERY: Local members are served synchronously so
	// same-process peers never wait for the broker round trip; the publish
	// reaches peers on other processes
	d.bridge.Publish(ctx, types.RoomChannel(roomID), announcement)
	d.deliverToRoom(roomID, announcement)
}

// leaveRoom removes membership and announces the departure
func (d *Dispatcher) leaveRoom(ctx context.Context, session *registry.Session, roomID string) {
	if !types.IsValidRoomID(roomID) {
		d.sendError(session, ErrInvalidRoomID.Error())
		return
	}

	if !d.registry.LeaveRoom(session.ID, roomID) {
		d.sendError(session, ErrSessionNotFound.Error())
		return
	}

	announcement := &types.Envelope{
		Type: types.EnvelopeRoomMessage,
		From: session.ID,
		Room: roomID,
		Data: map[string]interface{}{
			"event":  "left",
			"userId": session.UserID,
		},
		Timestamp: time.Now(),
	}

	d.bridge.Publish(ctx, types.RoomChannel(roomID), announcement)
	d.deliverToRoom(roomID, announcement)
}

// roomMessage fans a message out to room members, enforcing membership at
// send time
func (d *Dispatcher) roomMessage(ctx context.Context, session *registry.Session, cmd *types.ClientCommand) {
	if !types.IsValidRoomID(cmd.RoomID) {
		d.sendError(session, ErrInvalidRoomID.Error())
		return
	}

	// Membership violations go back to the sender only and never fan out
	if !d.registry.InRoom(session.ID, cmd.RoomID) {
		d.sendError(session, ErrNotRoomMember.Error())
		return
	}

	envelope := &types.Envelope{
		Type: types.EnvelopeRoomMessage,
		From: session.ID,
		Room: cmd.RoomID,
		Data: map[string]interface{}{
			"message": cmd.Message,
		},
		Timestamp: time.Now(),
	}

	d.bridge.Publish(ctx, types.RoomChannel(cmd.RoomID), envelope)
	d.deliverToRoom(cmd.RoomID, envelope)
}

// broadcast fans a message out to every connected session on every process
func (d *Dispatcher) broadcast(ctx context.Context, session *registry.Session, cmd *types.ClientCommand) {
	envelope := &types.Envelope{
		Type: types.EnvelopeBroadcast,
		From: session.ID,
		Data: map[string]interface{}{
			"message": cmd.Message,
		},
		Timestamp: time.Now(),
	}

	d.bridge.Publish(ctx, types.ChannelGlobal, envelope)
	for _, member := range d.registry.All() {
		d.push(member, envelope)
	}
}

// ping replies to the sender only; it never fans out
func (d *Dispatcher) ping(session *registry.Session, cmd *types.ClientCommand) {
	data := map[string]interface{}{
		"message": "pong",
	}
	// The client's correlation timestamp rides back untouched; the envelope
	// timestamp is the server's own
	if cmd.Timestamp != nil {
		data["clientTimestamp"] = *cmd.Timestamp
	}

	d.push(session, &types.Envelope{
		Type:      types.EnvelopePong,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// ensureRoomSubscription installs the broker subscription for a room channel
// exactly once per process
// TECHNICAL DISCOVERY: Subscriptions stay installed after the last local
// member leaves; the handler simply finds no members and drops the message,
// which avoids racing an unsubscribe against concurrent joins
func (d *Dispatcher) ensureRoomSubscription(roomID string) {
	d.roomsMu.Lock()
	defer d.roomsMu.Unlock()

	if d.roomSubs[roomID] {
		return
	}
	d.roomSubs[roomID] = true
	d.bridge.Subscribe(types.RoomChannel(roomID), d.handleRoomEnvelope)
}

// handleGlobalEnvelope delivers broker broadcast traffic to local sessions
func (d *Dispatcher) handleGlobalEnvelope(envelope *types.Envelope) {
	if d.originIsLocal(envelope) {
		return
	}
	for _, member := range d.registry.All() {
		d.push(member, envelope)
	}
}

// handleRoomEnvelope delivers broker room traffic to local room members
func (d *Dispatcher) handleRoomEnvelope(envelope *types.Envelope) {
	if envelope.Room == "" || d.originIsLocal(envelope) {
		return
	}
	d.deliverToRoom(envelope.Room, envelope)
}

// originIsLocal reports whether the envelope's origin session is registered
// on this process
// ARCHITECTURAL DISCOVERY: The broker loops every publish back to the
// publishing process; local recipients were already served synchronously, so
// envelopes whose origin session lives here are dropped to prevent double
// delivery
func (d *Dispatcher) originIsLocal(envelope *types.Envelope) bool {
	if envelope.From == "" {
		return false
	}
	_, exists := d.registry.Get(envelope.From)
	return exists
}

// deliverToRoom pushes an envelope to every local member of a room
func (d *Dispatcher) deliverToRoom(roomID string, envelope *types.Envelope) {
	for _, member := range d.registry.RoomMembers(roomID) {
		d.push(member, envelope)
	}
}

// push delivers one envelope to one session; a transport failure closes that
// session without affecting in-flight fan-out to others
func (d *Dispatcher) push(session *registry.Session, envelope *types.Envelope) {
	if err := session.Conn.Push(envelope); err != nil {
		log.Printf("Push to session %s failed, closing: %v", session.ID, err)
		d.registry.Remove(session.ID)
		_ = session.Conn.Close()
	}
}

// sendError reports a protocol violation to the sending connection only
func (d *Dispatcher) sendError(session *registry.Session, message string) {
	d.push(session, &types.Envelope{
		Type: types.EnvelopeError,
		Data: map[string]interface{}{
			"message": message,
		},
		Timestamp: time.Now(),
	})
}
