package interfaces

import (
	"context"

	"notifyhub/pkg/types"
)

// NotificationStore persists the notification feed
// FUNCTIONAL DISCOVERY: The feed is the durable record of notification
// events; live fan-out of the same events is best-effort and independent
type NotificationStore interface {
	// StoreNotification persists a notification record
	StoreNotification(ctx context.Context, notification *types.Notification) error

	// ListNotifications returns a page of a user's notifications, newest
	// first, optionally filtered to unread
	ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]*types.Notification, error)

	// MarkRead marks one notification as read
	MarkRead(ctx context.Context, notificationID string) error

	// MarkAllRead marks every unread notification for a user as read and
	// returns the number updated
	MarkAllRead(ctx context.Context, userID string) (int, error)

	// HealthCheck verifies store connectivity
	HealthCheck(ctx context.Context) error
}
