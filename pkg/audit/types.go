package audit

import (
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// EventPermissionDenied records a failed permission or role check
	EventPermissionDenied EventType = "permission_denied"
)

// Entry is an immutable record of a denied check
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	EventType EventType `json:"event_type"`

	// Principal
	UserID    string `json:"user_id"`
	UserEmail string `json:"user_email,omitempty"`
	UserRole  string `json:"user_role"`

	// What was required. Expression is the human-readable form,
	// e.g. "release:edit:own OR release:edit:label" or "role:company_admin|super_admin".
	Permissions []string `json:"permissions,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Expression  string   `json:"expression"`

	// Request context
	Path      string `json:"path,omitempty"`
	Method    string `json:"method,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Details returns the legacy details document stored alongside the entry
func (e *Entry) Details() map[string]interface{} {
	return map[string]interface{}{
		"permission": e.Expression,
		"path":       e.Path,
		"ip":         e.IPAddress,
		"timestamp":  e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}
