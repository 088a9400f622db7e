package middleware

import (
	"context"
	"time"

	"github.com/marchway/mailsync/syncjob"
)

// Timeout returns middleware that enforces a per-chunk execution
// deadline. When the deadline is exceeded the context is cancelled and
// the executor should return context.DeadlineExceeded, which classifies
// as a transient timeout fault. A zero duration disables the deadline.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, _ *syncjob.Chunk, next Handler) error {
		if d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
