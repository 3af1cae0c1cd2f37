package audit

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock
}

func TestNewDBLogger(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_logs").WillReturnResult(sqlmock.NewResult(0, 0))

		logger, err := NewDBLogger(db)
		require.NoError(t, err)
		assert.NotNil(t, logger)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nil database", func(t *testing.T) {
		logger, err := NewDBLogger(nil)
		assert.Error(t, err)
		assert.Nil(t, logger)
		assert.Contains(t, err.Error(), "database connection is required")
	})

	t.Run("table creation error", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_logs").WillReturnError(errors.New("table creation failed"))

		logger, err := NewDBLogger(db)
		assert.Error(t, err)
		assert.Nil(t, logger)
		assert.Contains(t, err.Error(), "failed to ensure audit_logs table")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDBLogger_Log(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		logger := &DBLogger{db: db}
		entry := &Entry{
			UserID:      "user-1",
			UserEmail:   "artist@example.com",
			UserRole:    "artist",
			Permissions: []string{"wallet:topup:any"},
			Expression:  "wallet:topup:any",
			Path:        "/v1/wallet/topup",
			Method:      "POST",
			IPAddress:   "10.0.0.1",
		}

		mock.ExpectExec("INSERT INTO audit_logs").
			WithArgs(
				sqlmock.AnyArg(), sqlmock.AnyArg(), "permission_denied",
				"user-1", "artist@example.com", "artist",
				pq.Array([]string{"wallet:topup:any"}), pq.Array([]string(nil)), "wallet:topup:any",
				"/v1/wallet/topup", "POST", "10.0.0.1", "", "",
				sqlmock.AnyArg(),
			).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, logger.Log(context.Background(), entry))
		assert.NotEmpty(t, entry.ID)
		assert.False(t, entry.Timestamp.IsZero())
		assert.Equal(t, EventPermissionDenied, entry.EventType)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("keeps caller supplied id and timestamp", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		entry := &Entry{ID: "fixed-id", Timestamp: ts, UserRole: "label_admin"}

		mock.ExpectExec("INSERT INTO audit_logs").
			WithArgs(
				"fixed-id", ts, "permission_denied",
				sqlmock.AnyArg(), sqlmock.AnyArg(), "label_admin",
				sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
				sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
				sqlmock.AnyArg(),
			).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, (&DBLogger{db: db}).Log(context.Background(), entry))
		assert.Equal(t, "fixed-id", entry.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insert failure wraps ErrWriteFailed", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectExec("INSERT INTO audit_logs").WillReturnError(errors.New("connection reset"))

		err := (&DBLogger{db: db}).Log(context.Background(), &Entry{UserRole: "artist"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrWriteFailed)
		assert.Contains(t, err.Error(), "connection reset")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestEntry_Details(t *testing.T) {
	ts := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	entry := &Entry{
		Timestamp:  ts,
		Expression: "role:company_admin|super_admin",
		Path:       "/v1/roles/artist/permissions",
		IPAddress:  "10.1.1.1",
	}

	details := entry.Details()
	assert.Equal(t, "role:company_admin|super_admin", details["permission"])
	assert.Equal(t, "/v1/roles/artist/permissions", details["path"])
	assert.Equal(t, "10.1.1.1", details["ip"])
	assert.Equal(t, "2026-05-06T07:08:09Z", details["timestamp"])
}
