package websocket

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"notifyhub/internal/dispatch"
	"notifyhub/internal/notify"
	"notifyhub/internal/registry"
	"notifyhub/pkg/interfaces"
	"notifyhub/pkg/types"
)

// WebSocket upgrader with production-ready settings
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// FUNCTIONAL DISCOVERY: Allow all origins for development
		// Production deployments should implement stricter origin checking
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Handler admits WebSocket connections and runs their read loops
// ARCHITECTURAL DISCOVERY: Authentication, registration and protocol routing
// are all injected capabilities, so the handler stays transport-only and
// testable against fakes
type Handler struct {
	registry   *registry.Registry
	verifier   interfaces.IdentityVerifier
	dispatcher *dispatch.Dispatcher
	notifier   *notify.Adapter
}

// NewHandler creates a WebSocket handler with dependency injection
func NewHandler(reg *registry.Registry, verifier interfaces.IdentityVerifier, dispatcher *dispatch.Dispatcher, notifier *notify.Adapter) *Handler {
	return &Handler{
		registry:   reg,
		verifier:   verifier,
		dispatcher: dispatcher,
		notifier:   notifier,
	}
}

// HandleWebSocket handles WebSocket connection requests
// ARCHITECTURAL DISCOVERY: Authentication happens before the upgrade, so a
// bad token gets a plain HTTP 401 and never consumes a socket
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "Missing required query parameter: token", http.StatusUnauthorized)
		return
	}

	userID, err := h.verifier.Verify(r.Context(), token)
	if err != nil {
		http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	// FUNCTIONAL DISCOVERY: ULID session ids sort by admission time, which
	// makes registry listings and logs chronologically readable for free
	sessionID := ulid.Make().String()

	wsConn := NewConnection(conn)

	h.registry.Add(sessionID, userID, wsConn)
	session, ok := h.registry.Get(sessionID)
	if !ok {
		log.Printf("Failed to register session %s", sessionID)
		_ = wsConn.Close()
		return
	}

	// Lazy, idempotent: the first admission on this process installs the
	// broker subscriptions, every later one is a no-op
	h.dispatcher.EnsureSubscriptions()
	h.notifier.EnsureSubscription()

	h.sendWelcome(session)

	go h.handleConnection(session, wsConn)
}

// sendWelcome confirms admission and hands the client its session id
func (h *Handler) sendWelcome(session *registry.Session) {
	welcome := &types.Envelope{
		Type: types.EnvelopeSystemNotification,
		Data: map[string]interface{}{
			"event":     "connected",
			"sessionId": session.ID,
			"userId":    session.UserID,
		},
		Timestamp: time.Now(),
	}
	if err := session.Conn.Push(welcome); err != nil {
		log.Printf("Failed to send welcome to session %s: %v", session.ID, err)
	}
}

// handleConnection runs the read loop for one admitted session
func (h *Handler) handleConnection(session *registry.Session, conn *Connection) {
	defer func() {
		// FUNCTIONAL DISCOVERY: Deferred cleanup releases the registry slot
		// and dispatcher state even if the read loop panics or exits early
		h.registry.Remove(session.ID)
		h.dispatcher.ForgetSession(session.ID)
		_ = conn.Close()
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
		log.Printf("Failed to set read deadline: %v", err)
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	// TECHNICAL DISCOVERY: 30-second control pings keep intermediaries from
	// reaping idle connections ahead of the sweeper's own idle policy
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			case <-conn.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error on session %s: %v", session.ID, err)
			}
			break
		}

		if messageType != websocket.TextMessage {
			continue
		}

		// Every inbound frame counts as activity, recognized or not
		h.registry.Touch(session.ID)

		h.handleFrame(session, data)
	}
}

// handleFrame decodes one inbound frame and routes it
func (h *Handler) handleFrame(session *registry.Session, data []byte) {
	var cmd types.ClientCommand
	if err := json.Unmarshal(data, &cmd); err == nil && cmd.Type != "" {
		if h.dispatcher.HandleCommand(context.Background(), session, &cmd) {
			return
		}
	}

	h.handleFallback(session, data)
}

// handleFallback implements the textual protocol for frames that are not
// recognized commands
// FUNCTIONAL DISCOVERY: "ping" anywhere in the raw text gets a bare "pong"
// frame back, not an envelope; everything else is echoed inside a system
// notification so clients can tell their frame was received but unparsed
func (h *Handler) handleFallback(session *registry.Session, data []byte) {
	if strings.Contains(strings.ToLower(string(data)), "ping") {
		if err := session.Conn.PushText([]byte("pong")); err != nil {
			log.Printf("Fallback pong to session %s failed: %v", session.ID, err)
		}
		return
	}

	echo := &types.Envelope{
		Type: types.EnvelopeSystemNotification,
		Data: map[string]interface{}{
			"event": "echo",
			"text":  string(data),
		},
		Timestamp: time.Now(),
	}
	if err := session.Conn.Push(echo); err != nil {
		log.Printf("Fallback echo to session %s failed: %v", session.ID, err)
	}
}
