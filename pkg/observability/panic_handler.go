package observability

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanicWithCallback recovers from a panic, logs it with the stack,
// and then runs callback. Call it in a defer; the callback only runs when a
// panic occurred.
//
//	defer observability.RecoverPanicWithCallback(logger, "GET /v1/me", writeError)
func RecoverPanicWithCallback(logger *Logger, context string, callback func()) {
	r := recover()
	if r == nil {
		return
	}

	logger.WithFields(map[string]interface{}{
		"panic":   fmt.Sprint(r),
		"stack":   string(debug.Stack()),
		"context": context,
	}).Error("panic recovered")

	if callback != nil {
		callback()
	}
}
