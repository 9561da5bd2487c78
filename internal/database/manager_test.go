package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	dbconfig "notifyhub/pkg/database"
	"notifyhub/pkg/interfaces"
	"notifyhub/pkg/types"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	config := &dbconfig.Config{
		DatabasePath:    filepath.Join(t.TempDir(), "test.db"),
		MaxConnections:  5,
		ConnMaxLifetime: time.Minute,
		ConnMaxIdleTime: time.Minute,
	}

	manager, err := NewManager(config)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(func() { _ = manager.Close() })
	return manager
}

func testNotification(id, userID string) *types.Notification {
	return &types.Notification{
		ID:        id,
		UserID:    userID,
		Type:      "follow",
		Title:     "New follower",
		Message:   "someone followed you",
		ActorID:   "actor1",
		CreatedAt: time.Now(),
	}
}

func TestManager_StoreAndListNotifications(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	if err := manager.StoreNotification(ctx, testNotification("n1", "alice")); err != nil {
		t.Fatalf("StoreNotification failed: %v", err)
	}
	if err := manager.StoreNotification(ctx, testNotification("n2", "alice")); err != nil {
		t.Fatalf("StoreNotification failed: %v", err)
	}
	if err := manager.StoreNotification(ctx, testNotification("n3", "bob")); err != nil {
		t.Fatalf("StoreNotification failed: %v", err)
	}

	notifications, err := manager.ListNotifications(ctx, "alice", false, 50, 0)
	if err != nil {
		t.Fatalf("ListNotifications failed: %v", err)
	}
	if len(notifications) != 2 {
		t.Fatalf("Expected 2 notifications for alice, got %d", len(notifications))
	}
	for _, n := range notifications {
		if n.UserID != "alice" {
			t.Errorf("Listed notification for wrong user: %s", n.UserID)
		}
		if n.IsRead {
			t.Error("New notification should be unread")
		}
		if n.ReadAt != nil {
			t.Error("Unread notification should have nil ReadAt")
		}
		if n.ActorID != "actor1" {
			t.Errorf("Expected actor1, got %s", n.ActorID)
		}
	}
}

func TestManager_ListPagination(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		n := testNotification(string(rune('a'+i)), "alice")
		n.CreatedAt = time.Now().Add(time.Duration(i) * time.Second)
		if err := manager.StoreNotification(ctx, n); err != nil {
			t.Fatalf("StoreNotification failed: %v", err)
		}
	}

	page, err := manager.ListNotifications(ctx, "alice", false, 2, 0)
	if err != nil {
		t.Fatalf("ListNotifications failed: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("Expected page of 2, got %d", len(page))
	}
	// Newest first
	if page[0].ID != "e" || page[1].ID != "d" {
		t.Errorf("Expected newest-first ordering, got %s, %s", page[0].ID, page[1].ID)
	}

	rest, err := manager.ListNotifications(ctx, "alice", false, 10, 2)
	if err != nil {
		t.Fatalf("ListNotifications failed: %v", err)
	}
	if len(rest) != 3 {
		t.Errorf("Expected 3 remaining after offset 2, got %d", len(rest))
	}
}

func TestManager_MarkRead(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	if err := manager.StoreNotification(ctx, testNotification("n1", "alice")); err != nil {
		t.Fatalf("StoreNotification failed: %v", err)
	}

	if err := manager.MarkRead(ctx, "n1"); err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}

	notifications, err := manager.ListNotifications(ctx, "alice", false, 10, 0)
	if err != nil {
		t.Fatalf("ListNotifications failed: %v", err)
	}
	if len(notifications) != 1 || !notifications[0].IsRead {
		t.Error("Notification should be marked read")
	}
	if notifications[0].ReadAt == nil {
		t.Error("Read notification should carry ReadAt")
	}

	// Marking an already-read notification succeeds as a no-op
	if err := manager.MarkRead(ctx, "n1"); err != nil {
		t.Errorf("Re-marking read should succeed, got %v", err)
	}

	// Unread filter excludes it now
	unread, err := manager.ListNotifications(ctx, "alice", true, 10, 0)
	if err != nil {
		t.Fatalf("ListNotifications failed: %v", err)
	}
	if len(unread) != 0 {
		t.Errorf("Expected 0 unread, got %d", len(unread))
	}
}

func TestManager_MarkReadUnknownNotification(t *testing.T) {
	manager := newTestManager(t)

	err := manager.MarkRead(context.Background(), "missing")
	if err != interfaces.ErrNotificationNotFound {
		t.Errorf("Expected ErrNotificationNotFound, got %v", err)
	}
}

func TestManager_MarkAllRead(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	for _, id := range []string{"n1", "n2", "n3"} {
		if err := manager.StoreNotification(ctx, testNotification(id, "alice")); err != nil {
			t.Fatalf("StoreNotification failed: %v", err)
		}
	}
	if err := manager.StoreNotification(ctx, testNotification("n4", "bob")); err != nil {
		t.Fatalf("StoreNotification failed: %v", err)
	}
	if err := manager.MarkRead(ctx, "n1"); err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}

	updated, err := manager.MarkAllRead(ctx, "alice")
	if err != nil {
		t.Fatalf("MarkAllRead failed: %v", err)
	}
	if updated != 2 {
		t.Errorf("Expected 2 updated (n1 was already read), got %d", updated)
	}

	// Bob's feed is untouched
	bobUnread, err := manager.ListNotifications(ctx, "bob", true, 10, 0)
	if err != nil {
		t.Fatalf("ListNotifications failed: %v", err)
	}
	if len(bobUnread) != 1 {
		t.Errorf("Expected bob's notification still unread, got %d unread", len(bobUnread))
	}
}

func TestManager_HealthCheck(t *testing.T) {
	manager := newTestManager(t)

	if err := manager.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck failed on healthy database: %v", err)
	}
}

func TestManager_CloseRejectsFurtherWrites(t *testing.T) {
	manager := newTestManager(t)

	if err := manager.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Second close is a no-op
	if err := manager.Close(); err != nil {
		t.Errorf("Second close should be a no-op, got %v", err)
	}

	err := manager.StoreNotification(context.Background(), testNotification("n1", "alice"))
	if err == nil {
		t.Error("StoreNotification should fail after Close")
	}
}
