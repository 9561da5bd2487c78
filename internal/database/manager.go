package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	// ARCHITECTURAL DISCOVERY: Import SQLite driver but only reference in connection string
	_ "github.com/mattn/go-sqlite3"

	dbconfig "notifyhub/pkg/database"
	"notifyhub/pkg/interfaces"
	"notifyhub/pkg/types"
)

// Manager implements the NotificationStore interface over SQLite
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex // TECHNICAL: Protect closed status
}

// writeOperation represents a database write operation
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager creates a new notification store
func NewManager(config *dbconfig.Config) (*Manager, error) {
	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// FUNCTIONAL DISCOVERY: Connection pool configuration critical for concurrent reads
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	if err := dbconfig.Initialize(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100), // TECHNICAL: Buffer for write operations prevents blocking
		shutdown:     make(chan struct{}),
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			// FUNCTIONAL DISCOVERY: Retry exactly once after a short backoff;
			// persistent failure surfaces to the caller
			err := op.operation(m.db)
			if err != nil {
				log.Printf("Database write failed, retrying in 5 seconds: %v", err)
				time.Sleep(5 * time.Second)
				err = op.operation(m.db)
				if err != nil {
					log.Printf("Database write failed after retry: %v", err)
				}
			}
			op.result <- err

		case <-m.shutdown:
			log.Println("Database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("notification store is closed")
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return fmt.Errorf("write operation timeout")
	case <-m.shutdown:
		return fmt.Errorf("notification store is shutting down")
	}
}

// StoreNotification persists a notification for later retrieval
func (m *Manager) StoreNotification(ctx context.Context, notification *types.Notification) error {
	return m.executeWrite(func(db *sql.DB) error {
		query := `
			INSERT INTO notifications (id, user_id, type, title, message, actor_id, is_read, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err := db.ExecContext(ctx, query,
			notification.ID,
			notification.UserID,
			notification.Type,
			notification.Title,
			notification.Message,
			notification.ActorID,
			notification.IsRead,
			notification.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert notification: %w", err)
		}
		return nil
	})
}

// ListNotifications returns a user's notifications, newest first
func (m *Manager) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]*types.Notification, error) {
	// ARCHITECTURAL DISCOVERY: Read operations run concurrently against the
	// pool; only writes funnel through the writer goroutine
	query := `
		SELECT id, user_id, type, title, message, actor_id, is_read, created_at, read_at
		FROM notifications
		WHERE user_id = ?
	`
	args := []interface{}{userID}

	if unreadOnly {
		query += " AND is_read = 0"
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var notifications []*types.Notification

	for rows.Next() {
		var notification types.Notification
		var actorID sql.NullString
		var readAt sql.NullTime

		err := rows.Scan(
			&notification.ID,
			&notification.UserID,
			&notification.Type,
			&notification.Title,
			&notification.Message,
			&actorID,
			&notification.IsRead,
			&notification.CreatedAt,
			&readAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification row: %w", err)
		}

		if actorID.Valid {
			notification.ActorID = actorID.String
		}
		if readAt.Valid {
			notification.ReadAt = &readAt.Time
		}

		notifications = append(notifications, &notification)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notification rows: %w", err)
	}

	return notifications, nil
}

// MarkRead marks a single notification as read
func (m *Manager) MarkRead(ctx context.Context, notificationID string) error {
	return m.executeWrite(func(db *sql.DB) error {
		query := `
			UPDATE notifications
			SET is_read = 1, read_at = ?
			WHERE id = ? AND is_read = 0
		`
		result, err := db.ExecContext(ctx, query, time.Now(), notificationID)
		if err != nil {
			return fmt.Errorf("failed to mark notification read: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check update result: %w", err)
		}
		if affected == 0 {
			// Either absent or already read; distinguish for the caller
			var exists int
			row := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM notifications WHERE id = ?", notificationID)
			if err := row.Scan(&exists); err != nil {
				return fmt.Errorf("failed to check notification existence: %w", err)
			}
			if exists == 0 {
				return interfaces.ErrNotificationNotFound
			}
		}
		return nil
	})
}

// MarkAllRead marks every unread notification for a user as read and returns
// how many were updated
func (m *Manager) MarkAllRead(ctx context.Context, userID string) (int, error) {
	var updated int
	err := m.executeWrite(func(db *sql.DB) error {
		query := `
			UPDATE notifications
			SET is_read = 1, read_at = ?
			WHERE user_id = ? AND is_read = 0
		`
		result, err := db.ExecContext(ctx, query, time.Now(), userID)
		if err != nil {
			return fmt.Errorf("failed to mark notifications read: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check update result: %w", err)
		}
		updated = int(affected)
		return nil
	})
	return updated, err
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	_, err := m.db.QueryContext(ctx, "SELECT COUNT(*) FROM notifications LIMIT 1")
	if err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}

	return nil
}

// GetDB returns the underlying database connection
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close shuts down the notification store
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	// ARCHITECTURAL DISCOVERY: Graceful shutdown requires careful goroutine coordination
	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}
