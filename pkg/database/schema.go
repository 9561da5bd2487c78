package database

import (
	"database/sql"
	"fmt"
)

// notificationsSchema defines the persisted notification feed table
// FUNCTIONAL DISCOVERY: Composite index on (user_id, is_read, created_at)
// serves both the unread filter and the newest-first feed page in one scan
const notificationsSchema = `
CREATE TABLE IF NOT EXISTS notifications (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	type       TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	message    TEXT NOT NULL,
	actor_id   TEXT NOT NULL DEFAULT '',
	is_read    INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	read_at    DATETIME
);

CREATE INDEX IF NOT EXISTS idx_notifications_user_read
	ON notifications (user_id, is_read, created_at DESC);
`

// Initialize creates the schema if it does not exist
func Initialize(db *sql.DB) error {
	if _, err := db.Exec(notificationsSchema); err != nil {
		return fmt.Errorf("failed to initialize notifications schema: %w", err)
	}
	return nil
}

// SchemaValidator provides database schema validation functionality
// ARCHITECTURAL DISCOVERY: Separate validation component enables deployment
// verification without coupling to schema creation
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	exists, err := v.tableExists("notifications")
	if err != nil {
		return fmt.Errorf("error checking notifications table: %w", err)
	}
	if !exists {
		return fmt.Errorf("required table notifications does not exist")
	}
	return nil
}

// tableExists checks whether a table is present in the SQLite catalog
func (v *SchemaValidator) tableExists(name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
