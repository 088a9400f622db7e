package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/marchway/mailsync/syncjob"
)

// Recover returns middleware that recovers from panics in the handler chain.
// Panics are converted to errors and logged with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, c *syncjob.Chunk, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("chunk executor panicked",
					slog.String("chunk_id", c.ID.String()),
					slog.String("job_id", c.JobID.String()),
					slog.Int("chunk_number", c.ChunkNumber),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				retErr = fmt.Errorf("panic in chunk %s: %v", c.ID, r)
			}
		}()
		return next(ctx)
	}
}
