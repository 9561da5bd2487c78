package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"notifyhub/internal/broker"
	"notifyhub/internal/dispatch"
	"notifyhub/internal/identity"
	"notifyhub/internal/notify"
	"notifyhub/internal/registry"
	"notifyhub/pkg/types"
)

type handlerTestEnv struct {
	server   *httptest.Server
	registry *registry.Registry
	broker   *broker.MemoryBroker
	verifier *identity.HMACVerifier
}

func newHandlerTestEnv(t *testing.T) *handlerTestEnv {
	t.Helper()

	reg := registry.NewRegistry()
	mb := broker.NewMemoryBroker()
	bridge := broker.NewBridge(mb)
	dispatcher := dispatch.NewDispatcher(reg, bridge)
	notifier := notify.NewAdapter(reg, bridge)
	verifier := identity.NewHMACVerifier("test-secret")

	handler := NewHandler(reg, verifier, dispatcher, notifier)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", handler.HandleWebSocket)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &handlerTestEnv{server: server, registry: reg, broker: mb, verifier: verifier}
}

func (env *handlerTestEnv) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws?token=" + env.verifier.Sign(userID)
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed for %s: %v", userID, err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func readEnvelope(t *testing.T, client *websocket.Conn) *types.Envelope {
	t.Helper()

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	var envelope types.Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("Frame is not an envelope: %v (raw: %s)", err, string(data))
	}
	return &envelope
}

func TestHandler_MissingTokenRejectedBeforeUpgrade(t *testing.T) {
	env := newHandlerTestEnv(t)

	resp, err := http.Get(env.server.URL + "/ws")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 for missing token, got %d", resp.StatusCode)
	}
}

func TestHandler_InvalidTokenRejectedBeforeUpgrade(t *testing.T) {
	env := newHandlerTestEnv(t)

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws?token=alice:forged"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("Dial with forged token should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected HTTP 401 before upgrade, got %+v", resp)
	}

	// No session may exist after a rejected admission
	if stats := env.registry.Stats(); stats["total_connections"] != 0 {
		t.Errorf("Expected 0 registered sessions, got %d", stats["total_connections"])
	}
}

func TestHandler_AdmissionSendsWelcomeWithSessionID(t *testing.T) {
	env := newHandlerTestEnv(t)
	client := env.dial(t, "alice")

	welcome := readEnvelope(t, client)
	if welcome.Type != types.EnvelopeSystemNotification {
		t.Fatalf("Expected system_notification welcome, got %s", welcome.Type)
	}
	if welcome.Data["event"] != "connected" {
		t.Errorf("Expected connected event, got %v", welcome.Data["event"])
	}

	sessionID, ok := welcome.Data["sessionId"].(string)
	if !ok || sessionID == "" {
		t.Fatalf("Welcome must carry the session id, got %v", welcome.Data["sessionId"])
	}
	if welcome.Data["userId"] != "alice" {
		t.Errorf("Expected userId alice, got %v", welcome.Data["userId"])
	}

	// The admitted session is registered under that exact id
	session, exists := env.registry.Get(sessionID)
	if !exists {
		t.Fatal("Session id from welcome not found in registry")
	}
	if session.UserID != "alice" {
		t.Errorf("Expected session bound to alice, got %s", session.UserID)
	}
}

func TestHandler_ConcurrentAdmissionsInstallOneSubscription(t *testing.T) {
	env := newHandlerTestEnv(t)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws?token=" + env.verifier.Sign("user"+string(rune('a'+n)))
			client, _, err := websocket.DefaultDialer.Dial(url, nil)
			if err != nil {
				t.Errorf("Dial failed: %v", err)
				return
			}
			defer client.Close()
			_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
			_, _, _ = client.ReadMessage() // welcome
		}(i)
	}
	wg.Wait()

	if n := env.broker.SubscriberCount(types.ChannelGlobal); n != 1 {
		t.Errorf("Expected exactly 1 global subscription, got %d", n)
	}
	if n := env.broker.SubscriberCount(types.ChannelSystem); n != 1 {
		t.Errorf("Expected exactly 1 system subscription, got %d", n)
	}
}

func TestHandler_TextualPingFallback(t *testing.T) {
	env := newHandlerTestEnv(t)
	client := env.dial(t, "alice")
	readEnvelope(t, client) // welcome

	// Unparseable frame containing "ping" gets a bare pong frame back
	if err := client.WriteMessage(websocket.TextMessage, []byte("PING are you there")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(data) != "pong" {
		t.Errorf("Expected raw pong reply, got %q", string(data))
	}
}

func TestHandler_TextualEchoFallback(t *testing.T) {
	env := newHandlerTestEnv(t)
	client := env.dial(t, "alice")
	readEnvelope(t, client) // welcome

	if err := client.WriteMessage(websocket.TextMessage, []byte("hello there")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	echo := readEnvelope(t, client)
	if echo.Type != types.EnvelopeSystemNotification {
		t.Errorf("Expected system_notification echo, got %s", echo.Type)
	}
	if echo.Data["event"] != "echo" {
		t.Errorf("Expected echo event, got %v", echo.Data["event"])
	}
	if echo.Data["text"] != "hello there" {
		t.Errorf("Expected original text echoed, got %v", echo.Data["text"])
	}
}

func TestHandler_PingCommandRepliesWithPongEnvelope(t *testing.T) {
	env := newHandlerTestEnv(t)
	client := env.dial(t, "alice")
	readEnvelope(t, client) // welcome

	cmd := types.ClientCommand{Type: types.CommandPing}
	if err := client.WriteJSON(cmd); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	pong := readEnvelope(t, client)
	if pong.Type != types.EnvelopePong {
		t.Errorf("Expected pong envelope, got %s", pong.Type)
	}
	if pong.Data["message"] != "pong" {
		t.Errorf("Unexpected pong payload: %v", pong.Data)
	}
}

func TestHandler_JoinRoomOverWire(t *testing.T) {
	env := newHandlerTestEnv(t)
	client := env.dial(t, "alice")
	welcome := readEnvelope(t, client)
	sessionID := welcome.Data["sessionId"].(string)

	cmd := types.ClientCommand{Type: types.CommandJoinRoom, RoomID: "lobby"}
	if err := client.WriteJSON(cmd); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	announcement := readEnvelope(t, client)
	if announcement.Type != types.EnvelopeRoomMessage || announcement.Room != "lobby" {
		t.Errorf("Unexpected join announcement: type=%s room=%s", announcement.Type, announcement.Room)
	}
	if announcement.Data["event"] != "joined" {
		t.Errorf("Expected joined event, got %v", announcement.Data["event"])
	}

	if !env.registry.InRoom(sessionID, "lobby") {
		t.Error("Session should be a lobby member after join_room")
	}
}

func TestHandler_DisconnectReleasesSession(t *testing.T) {
	env := newHandlerTestEnv(t)
	client := env.dial(t, "alice")
	welcome := readEnvelope(t, client)
	sessionID := welcome.Data["sessionId"].(string)

	_ = client.Close()

	deadline := time.After(2 * time.Second)
	for {
		if _, exists := env.registry.Get(sessionID); !exists {
			return
		}
		select {
		case <-deadline:
			t.Fatal("Session still registered after client disconnect")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
