package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/kegsync/batch"
)

// Timeout returns middleware that bounds a whole processing run. A
// non-positive d disables it. When the deadline passes the context is
// cancelled and in-flight detection returns context.DeadlineExceeded.
// Delivery is detached from the run context and is not interrupted.
func Timeout(d time.Duration, logger *slog.Logger) Middleware {
	return func(ctx context.Context, b *batch.Batch, next Handler) error {
		if d <= 0 {
			return next(ctx)
		}
		logger.Debug("batch timeout set",
			slog.String("session_id", b.SessionID),
			slog.Duration("timeout", d),
		)
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return next(ctx)
	}
}
