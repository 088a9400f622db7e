// Package mailsync provides a durable scheduling and recovery engine for
// per-tenant mailbox synchronization jobs.
//
// A synchronization request becomes one SyncJob decomposed into bounded
// ChunkJobs. Execution is trigger-driven: there is no resident worker
// pool. Each invocation claims at most one chunk, executes it through the
// embedder-supplied executor, records one outcome, and asks the runtime
// (via the invocation trigger) to run again while work remains. Stuck
// claims are reclaimed by the recovery sweep, exhausted units are
// dead-lettered, and upstream calls are guarded by per-tenant rate limits
// and circuit breakers.
//
// # Quick Start
//
//	st := memory.New()
//	eng, err := engine.Build(st,
//	    engine.WithExecutor(myExecutor),
//	    engine.WithTrigger(trigger.NewMemory(64)),
//	)
//	ref, err := eng.CreateSyncJob(ctx, syncjob.CreateRequest{
//	    TenantID:  "acme",
//	    MailboxID: "mbx-1",
//	    Kind:      syncjob.KindInitial,
//	})
//
// # Architecture
//
// Mailsync follows a composable store pattern: each subsystem (syncjob,
// dlq, protection, audit) defines its own store interface and a single
// backend (postgres, sqlite, memory) implements all of them.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package mailsync
