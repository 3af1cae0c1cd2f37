package audit

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrWriteFailed wraps every failure to persist an entry
var ErrWriteFailed = errors.New("audit write failed")

// Logger is the append-only sink for denial records
type Logger interface {
	// Log appends an entry. Implementations fill ID and Timestamp when empty.
	Log(ctx context.Context, entry *Entry) error

	// Close closes the logger and flushes any buffered entries
	Close() error
}

// NoOpLogger returns a logger that discards every entry
func NoOpLogger() Logger {
	return noOpLogger{}
}

type noOpLogger struct{}

func (noOpLogger) Log(ctx context.Context, entry *Entry) error {
	return nil
}

func (noOpLogger) Close() error {
	return nil
}

// prepare fills the generated fields of an entry
func prepare(entry *Entry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.EventType == "" {
		entry.EventType = EventPermissionDenied
	}
}

// ClientIP extracts the originating address of r. The first X-Forwarded-For
// hop wins, then X-Real-IP, then the connection address without its port.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
