package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/marchway/mailsync/syncjob"
)

// Logging returns middleware that logs chunk start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, c *syncjob.Chunk, next Handler) error {
		logger.Info("chunk started",
			slog.String("chunk_id", c.ID.String()),
			slog.String("job_id", c.JobID.String()),
			slog.String("tenant_id", c.TenantID),
			slog.Int("chunk_number", c.ChunkNumber),
			slog.Int("attempt", c.Attempts),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("chunk failed",
				slog.String("chunk_id", c.ID.String()),
				slog.String("job_id", c.JobID.String()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("chunk completed",
				slog.String("chunk_id", c.ID.String()),
				slog.String("job_id", c.JobID.String()),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
