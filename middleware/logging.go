package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/kegsync/batch"
)

// Logging returns middleware that logs the start and end of each run.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, b *batch.Batch, next Handler) error {
		logger.Info("batch processing started",
			slog.String("session_id", b.SessionID),
			slog.Int("target_count", b.TargetCount),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("batch processing failed",
				slog.String("session_id", b.SessionID),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("batch processing finished",
				slog.String("session_id", b.SessionID),
				slog.String("status", string(b.Status)),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
