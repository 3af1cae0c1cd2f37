package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
)

// DBLogger appends entries to the audit_logs table in PostgreSQL
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a new database-based audit logger
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	logger := &DBLogger{
		db: db,
	}

	if err := logger.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_logs table: %w", err)
	}

	return logger, nil
}

// ensureTable creates the audit_logs table if it doesn't exist
func (l *DBLogger) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_logs (
		id UUID PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		event_type VARCHAR(100) NOT NULL,
		user_id VARCHAR(255),
		user_email VARCHAR(255),
		user_role VARCHAR(100),
		permissions TEXT[],
		roles TEXT[],
		expression TEXT,
		path TEXT,
		method VARCHAR(10),
		ip_address VARCHAR(255),
		user_agent TEXT,
		request_id VARCHAR(100),
		details JSONB,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_event_type ON audit_logs(event_type);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_user_id ON audit_logs(user_id);
	`

	_, err := l.db.Exec(query)
	return err
}

// Log inserts entry into audit_logs
func (l *DBLogger) Log(ctx context.Context, entry *Entry) error {
	prepare(entry)

	details, err := json.Marshal(entry.Details())
	if err != nil {
		return fmt.Errorf("%w: failed to marshal details: %w", ErrWriteFailed, err)
	}

	query := `
		INSERT INTO audit_logs (
			id, timestamp, event_type,
			user_id, user_email, user_role,
			permissions, roles, expression,
			path, method, ip_address, user_agent, request_id,
			details
		) VALUES (
			$1, $2, $3,
			$4, $5, $6,
			$7, $8, $9,
			$10, $11, $12, $13, $14,
			$15
		)
	`

	_, err = l.db.ExecContext(ctx, query,
		entry.ID, entry.Timestamp, string(entry.EventType),
		entry.UserID, entry.UserEmail, entry.UserRole,
		pq.Array(entry.Permissions), pq.Array(entry.Roles), entry.Expression,
		entry.Path, entry.Method, entry.IPAddress, entry.UserAgent, entry.RequestID,
		details,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to insert audit log: %w", ErrWriteFailed, err)
	}

	return nil
}

// Close is a no-op; the database handle is owned by the caller
func (l *DBLogger) Close() error {
	return nil
}
