// Package engine wires the mailsync subsystems together: planning,
// claiming, outcome recording, protection, recovery, dead-lettering,
// and the lifecycle hook registry.
//
// This package exists to break the import cycle: the root mailsync
// package defines Entity and Config (imported by syncjob, dlq, etc.)
// and so cannot import those packages back. The engine sits above the
// subsystem packages and below the application layer.
//
// # Building
//
//	st := memory.New()
//	eng, err := engine.Build(st,
//	    engine.WithExecutor(myExecutor),
//	    engine.WithTrigger(trigger.NewMemory(64)),
//	)
//
// # Creating work
//
//	j, err := eng.CreateSyncJob(ctx, syncjob.CreateRequest{
//	    TenantID:  "tenant-1",
//	    MailboxID: "mbx-1",
//	    Kind:      syncjob.KindInitial,
//	})
//
// The job is decomposed into chunks atomically; workers claim and
// execute chunks one at a time. Call Start to run the resident worker
// pool and recovery schedules, or Invoke for one-shot execution driven
// by an external scheduler.
package engine
