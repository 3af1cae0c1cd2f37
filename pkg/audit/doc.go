// Package audit provides the append-only sink for permission denials.
//
// # Overview
//
// Every denied permission or role check produces one Entry: who was denied,
// with which role, what was required, and where the request came from.
// Entries are never updated or deleted by this service.
//
// # Sinks
//
//	DBLogger    - audit_logs table in PostgreSQL (lib/pq)
//	FileLogger  - JSON lines with size-based rotation
//	MultiLogger - fan-out to several sinks
//	NoOpLogger  - discards everything
//
// # Usage Example
//
//	logger, err := audit.NewDBLogger(db)
//	err = logger.Log(ctx, &audit.Entry{
//		UserID:      principal.ID,
//		UserRole:    principal.Role,
//		Permissions: []string{"wallet:topup:any"},
//		Expression:  "wallet:topup:any",
//		Path:        r.URL.Path,
//		IPAddress:   audit.ClientIP(r),
//	})
//
// Write failures wrap ErrWriteFailed. Callers log them and carry on; a denial
// is reported to the client whether or not it was recorded.
//
// # Related Packages
//
//   - pkg/rbac: produces denial entries
package audit
