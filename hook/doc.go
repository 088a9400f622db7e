// Package hook defines the lifecycle hook system for mailsync.
//
// Hooks are notified of lifecycle events and can react to them:
// recording metrics, emitting webhooks, writing audit entries, etc.
// Each lifecycle event is a separate interface so hooks opt in only to
// the events they care about.
//
// # Implementing a Hook
//
//	type MyHook struct{}
//
//	func (h *MyHook) Name() string { return "my-hook" }
//
//	// Opt in to specific events by implementing their interfaces.
//	func (h *MyHook) OnChunkCompleted(ctx context.Context, c *syncjob.Chunk, elapsed time.Duration) error {
//	    log.Printf("chunk %s completed in %s", c.ID, elapsed)
//	    return nil
//	}
//
// # Job Lifecycle Events
//
//   - [JobCreated]: a sync job and its chunks were persisted
//   - [JobReleased]: a deferred job was released for claiming
//   - [JobCompleted]: every chunk finished successfully
//   - [JobFailed]: the job failed terminally
//   - [JobCancelled]: an operator cancelled the job
//
// # Chunk Lifecycle Events
//
//   - [ChunkClaimed]: a worker claimed the chunk
//   - [ChunkCompleted]: the chunk finished successfully
//   - [ChunkRetrying]: the chunk failed but will be retried
//   - [ChunkFailed]: the chunk failed with no retries remaining
//   - [ChunkReclaimed]: the recovery sweep reset a stuck chunk
//
// # Other Events
//
//   - [DeadLettered]: work was archived to the dead-letter queue
//   - [Shutdown]: the engine is shutting down gracefully
//
// The [Registry] fans out each event to all registered hooks that
// implement the corresponding interface.
package hook
