package types

import (
	"time"
)

// Envelope type constants define the closed tag set for every message that
// crosses the broker or a client connection
// ARCHITECTURAL DISCOVERY: Message type constants defined in one place with a
// single validation point prevent unhandled types from entering dispatch
const (
	EnvelopeBroadcast          = "broadcast"
	EnvelopeUserMessage        = "user_message"
	EnvelopeRoomMessage        = "room_message"
	EnvelopeSystemNotification = "system_notification"
	EnvelopePong               = "pong"
	EnvelopeError              = "error"
)

// Client command types accepted over the WebSocket connection
const (
	CommandJoinRoom    = "join_room"
	CommandLeaveRoom   = "leave_room"
	CommandRoomMessage = "room_message"
	CommandBroadcast   = "broadcast"
	CommandPing        = "ping"
)

// Broker channel names
// ARCHITECTURAL DISCOVERY: Per-user channels would be unbounded with the user
// population, so targeted delivery rides a single system channel and routes by
// payload inspection; rooms get one channel each
const (
	ChannelGlobal     = "ws:broadcast"
	ChannelSystem     = "ws:system"
	RoomChannelPrefix = "ws:room:"
)

// RoomChannel derives the broker channel name for a room. The mapping is
// deterministic: two processes subscribing to the same room id always observe
// the same channel name.
func RoomChannel(roomID string) string {
	return RoomChannelPrefix + roomID
}

// Envelope is the message unit exchanged over the broker and over client
// connections. Immutable once constructed; receiving processes treat it as
// read-only and drop it silently when no matching local session exists.
type Envelope struct {
	Type      string                 `json:"type"`
	From      string                 `json:"from,omitempty"`
	To        string                 `json:"to,omitempty"`
	Room      string                 `json:"room,omitempty"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// ClientCommand is the decoded form of an inbound client message
// FUNCTIONAL DISCOVERY: Message as interface{} keeps the payload opaque —
// clients send bare strings as well as structured objects
type ClientCommand struct {
	Type      string      `json:"type"`
	RoomID    string      `json:"roomId,omitempty"`
	Message   interface{} `json:"message,omitempty"`
	Timestamp *time.Time  `json:"timestamp,omitempty"`
}

// Notification is a persisted notification feed record. The feed outlives
// connections; live delivery of the same event is best-effort and separate.
type Notification struct {
	ID        string     `json:"id" db:"id"`
	UserID    string     `json:"user_id" db:"user_id"`
	Type      string     `json:"type" db:"type"`
	Title     string     `json:"title" db:"title"`
	Message   string     `json:"message" db:"message"`
	ActorID   string     `json:"actor_id,omitempty" db:"actor_id"`
	IsRead    bool       `json:"is_read" db:"is_read"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	ReadAt    *time.Time `json:"read_at,omitempty" db:"read_at"`
}
