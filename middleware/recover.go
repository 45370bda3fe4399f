package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/kegsync/batch"
)

// Recover returns middleware that recovers from panics in the handler chain.
// Panics are converted to errors and logged with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, b *batch.Batch, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("batch handler panicked",
					slog.String("session_id", b.SessionID),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				retErr = fmt.Errorf("panic processing %s: %v", b.SessionID, r)
			}
		}()
		return next(ctx)
	}
}
