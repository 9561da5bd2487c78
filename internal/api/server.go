package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"notifyhub/pkg/interfaces"
	"notifyhub/pkg/types"
)

// Notifier is the push capability the API needs; satisfied by the targeted
// delivery adapter. Interface kept local to avoid tight coupling.
type Notifier interface {
	Notify(userID string, payload map[string]interface{})
	NotifyRoom(roomID string, payload map[string]interface{})
}

// Registry exposes the connection statistics the health endpoint reports
type Registry interface {
	Stats() map[string]int
}

// BrokerState reports pub/sub fabric availability for the health endpoint
type BrokerState interface {
	State() string
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	store      interfaces.NotificationStore
	notifier   Notifier
	registry   Registry
	bridge     BrokerState
	instanceID string
	router     *http.ServeMux
}

// NewServer creates the API server with dependency injection. instanceID
// identifies this process in a multi-process deployment.
func NewServer(store interfaces.NotificationStore, notifier Notifier, registry Registry, bridge BrokerState, instanceID string) *Server {
	s := &Server{
		store:      store,
		notifier:   notifier,
		registry:   registry,
		bridge:     bridge,
		instanceID: instanceID,
		router:     http.NewServeMux(),
	}

	s.setupRoutes()
	return s
}

// ARCHITECTURAL DISCOVERY: Route setup follows REST conventions with proper middleware
// CORS and JSON middleware applied to all routes for web client compatibility
func (s *Server) setupRoutes() {
	s.router.Handle("/api/push", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handlePush))))
	s.router.Handle("/api/rooms/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleRoomPush))))
	s.router.Handle("/api/notifications", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleNotifications))))
	s.router.Handle("/api/notifications/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleNotificationByID))))
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
}

// ServeHTTP implements http.Handler for integration with the standard server
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Request/Response types for JSON serialization
type PushRequest struct {
	UserID  string `json:"user_id"`
	Type    string `json:"type"`
	Title   string `json:"title"`
	Message string `json:"message"`
	ActorID string `json:"actor_id"`
}

type PushResponse struct {
	Notification *types.Notification `json:"notification"`
}

type RoomPushRequest struct {
	Message string `json:"message"`
	Event   string `json:"event"`
}

type ListNotificationsResponse struct {
	Notifications []*types.Notification `json:"notifications"`
}

type ReadAllRequest struct {
	UserID string `json:"user_id"`
}

type ReadAllResponse struct {
	Updated int `json:"updated"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Instance    string         `json:"instance"`
	Database    string         `json:"database"`
	Broker      string         `json:"broker"`
	Connections map[string]int `json:"connections"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// handlePush accepts server-side push requests (POST /api/push)
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.push(w, r)
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// push persists a notification and hands it to the delivery adapter
// FUNCTIONAL DISCOVERY: Persistence happens before delivery, so a user who is
// offline right now still finds the notification in their feed later; the
// live push itself is fire-and-forget
func (s *Server) push(w http.ResponseWriter, r *http.Request) {
	var req PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if !types.IsValidUserID(req.UserID) {
		s.sendError(w, "Invalid user_id", http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		s.sendError(w, "Message is required", http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		req.Type = "generic"
	}

	notification := &types.Notification{
		ID:        ulid.Make().String(),
		UserID:    req.UserID,
		Type:      req.Type,
		Title:     req.Title,
		Message:   req.Message,
		ActorID:   req.ActorID,
		CreatedAt: time.Now(),
	}

	if err := s.store.StoreNotification(r.Context(), notification); err != nil {
		s.sendError(w, "Failed to store notification", http.StatusInternalServerError)
		return
	}

	s.notifier.Notify(req.UserID, map[string]interface{}{
		"notificationId": notification.ID,
		"type":           notification.Type,
		"title":          notification.Title,
		"message":        notification.Message,
		"actorId":        notification.ActorID,
	})

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(PushResponse{Notification: notification})
}

// handleRoomPush accepts room-wide push requests (POST /api/rooms/{roomId}/push)
func (s *Server) handleRoomPush(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/rooms/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "push" {
		s.sendError(w, "Not found", http.StatusNotFound)
		return
	}
	roomID := parts[0]

	switch r.Method {
	case http.MethodPost:
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
		return
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !types.IsValidRoomID(roomID) {
		s.sendError(w, "Invalid room ID", http.StatusBadRequest)
		return
	}

	var req RoomPushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		s.sendError(w, "Message is required", http.StatusBadRequest)
		return
	}
	if req.Event == "" {
		req.Event = "announcement"
	}

	s.notifier.NotifyRoom(roomID, map[string]interface{}{
		"event":   req.Event,
		"message": req.Message,
	})

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"message": "Room push accepted"})
}

// handleNotifications serves the notification feed (GET /api/notifications)
// and the bulk read marker (POST /api/notifications with read-all intent is
// on /api/notifications/read-all)
func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listNotifications(w, r)
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// listNotifications returns a user's feed, newest first
func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if !types.IsValidUserID(userID) {
		s.sendError(w, "Invalid user_id", http.StatusBadRequest)
		return
	}

	unreadOnly := r.URL.Query().Get("unread_only") == "true"

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offset = n
		}
	}

	notifications, err := s.store.ListNotifications(r.Context(), userID, unreadOnly, limit, offset)
	if err != nil {
		s.sendError(w, "Failed to list notifications", http.StatusInternalServerError)
		return
	}
	if notifications == nil {
		notifications = []*types.Notification{}
	}

	json.NewEncoder(w).Encode(ListNotificationsResponse{Notifications: notifications})
}

// handleNotificationByID routes /api/notifications/{id}/read and
// /api/notifications/read-all
func (s *Server) handleNotificationByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/notifications/")
	if path == "" {
		s.sendError(w, "Notification ID required", http.StatusBadRequest)
		return
	}

	if path == "read-all" {
		switch r.Method {
		case http.MethodPost:
			s.markAllRead(w, r)
		case http.MethodOptions:
			w.WriteHeader(http.StatusOK)
		default:
			s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "read" {
		s.sendError(w, "Not found", http.StatusNotFound)
		return
	}
	notificationID := parts[0]

	switch r.Method {
	case http.MethodPut:
		s.markRead(w, r, notificationID)
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// markRead marks one notification as read (PUT /api/notifications/{id}/read)
func (s *Server) markRead(w http.ResponseWriter, r *http.Request, notificationID string) {
	if err := s.store.MarkRead(r.Context(), notificationID); err != nil {
		if err == interfaces.ErrNotificationNotFound {
			s.sendError(w, "Notification not found", http.StatusNotFound)
		} else {
			s.sendError(w, "Failed to mark notification read", http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"message": "Notification marked read"})
}

// markAllRead marks every unread notification for a user as read
func (s *Server) markAllRead(w http.ResponseWriter, r *http.Request) {
	var req ReadAllRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if !types.IsValidUserID(req.UserID) {
		s.sendError(w, "Invalid user_id", http.StatusBadRequest)
		return
	}

	updated, err := s.store.MarkAllRead(r.Context(), req.UserID)
	if err != nil {
		s.sendError(w, "Failed to mark notifications read", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(ReadAllResponse{Updated: updated})
}

// healthCheck reports component status (GET /health)
// FUNCTIONAL DISCOVERY: A degraded broker does not fail the health check; the
// process keeps serving local traffic, so it reports healthy with the broker
// state surfaced for operators
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"

	if err := s.store.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Instance:    s.instanceID,
		Database:    dbStatus,
		Broker:      s.bridge.State(),
		Connections: s.registry.Stats(),
	}

	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(response)
}

// sendError writes a consistent error response
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// ARCHITECTURAL DISCOVERY: CORS middleware enables web client access
// Allows all origins in development - would be restricted in production
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// jsonMiddleware ensures proper content-type headers
func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		next.ServeHTTP(w, r)
	})
}
