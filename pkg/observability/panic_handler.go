package observability

import (
	"fmt"
	"runtime/debug"
)

// LogPanic logs a value obtained from recover()
func LogPanic(logger *Logger, where string, r any) {
	logger.WithFields(map[string]any{
		"panic":   fmt.Sprint(r),
		"stack":   string(debug.Stack()),
		"context": where,
	}).Error("PANIC recovered")
}

// PanicError converts a recovered value into an error, nil when r is nil
func PanicError(r any) error {
	if r == nil {
		return nil
	}
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", r)
}
