package engine_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marchway/mailsync"
	"github.com/marchway/mailsync/audit"
	"github.com/marchway/mailsync/dlq"
	"github.com/marchway/mailsync/engine"
	"github.com/marchway/mailsync/outcome"
	"github.com/marchway/mailsync/scope"
	"github.com/marchway/mailsync/store/memory"
	"github.com/marchway/mailsync/syncjob"
	"github.com/marchway/mailsync/trigger"
	"github.com/marchway/mailsync/worker"
)

func okExecutor() worker.Executor {
	return worker.ExecutorFunc(func(_ context.Context, _ *syncjob.Job, c *syncjob.Chunk) (outcome.Result, error) {
		return outcome.Result{EmailsProcessed: c.Size}, nil
	})
}

type countingHook struct {
	completed atomic.Int32
}

func (h *countingHook) Name() string { return "counting" }

func (h *countingHook) OnJobCompleted(context.Context, *syncjob.Job, time.Duration) error {
	h.completed.Add(1)
	return nil
}

func TestEngineEndToEnd(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	counter := &countingHook{}

	eng, err := engine.Build(st,
		engine.WithExecutor(okExecutor()),
		engine.WithHook(counter),
	)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	j, err := eng.CreateSyncJob(ctx, syncjob.CreateRequest{
		TenantID:       "tenant-1",
		MailboxID:      "mbx-1",
		Kind:           syncjob.KindInitial,
		EstimatedCount: 250,
	})
	if err != nil {
		t.Fatalf("CreateSyncJob: %v", err)
	}

	chunks, _ := eng.ListChunks(ctx, j.ID)
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3 for estimate 250 at base 100", len(chunks))
	}
	wantSizes := []int{100, 100, 50}
	for i, c := range chunks {
		if c.Size != wantSizes[i] {
			t.Errorf("chunk %d size = %d, want %d", i+1, c.Size, wantSizes[i])
		}
		if c.ChunkNumber != i+1 {
			t.Errorf("chunk %d number = %d", i, c.ChunkNumber)
		}
	}

	// Drain with one-shot invocations, executing in chunk order.
	for i := range chunks {
		claimed, err := eng.Invoke(ctx)
		if err != nil {
			t.Fatalf("Invoke %d: %v", i+1, err)
		}
		if !claimed {
			t.Fatalf("Invoke %d claimed nothing", i+1)
		}
	}
	if claimed, _ := eng.Invoke(ctx); claimed {
		t.Error("extra Invoke claimed a chunk on a finished job")
	}

	p, err := eng.GetProgress(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if p.Status != syncjob.StatusCompleted {
		t.Fatalf("status = %q, want completed", p.Status)
	}
	if p.EmailsProcessed != 250 {
		t.Errorf("EmailsProcessed = %d, want 250", p.EmailsProcessed)
	}
	if got := counter.completed.Load(); got != 1 {
		t.Errorf("JobCompleted fired %d times, want exactly once", got)
	}
}

func TestCreateSyncJobDefaultsEstimate(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	eng, err := engine.Build(st)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	j, err := eng.CreateSyncJob(ctx, syncjob.CreateRequest{
		TenantID:  "tenant-1",
		MailboxID: "mbx-1",
		Kind:      syncjob.KindIncremental,
	})
	if err != nil {
		t.Fatalf("CreateSyncJob: %v", err)
	}

	// Incremental default estimate is 100 at chunk size 100.
	chunks, _ := eng.ListChunks(ctx, j.ID)
	if len(chunks) != 1 {
		t.Errorf("chunks = %d, want 1", len(chunks))
	}
	if j.MaxAttempts != mailsync.DefaultConfig().MaxAttempts {
		t.Errorf("MaxAttempts = %d, want default", j.MaxAttempts)
	}
}

func TestCreateSyncJobValidation(t *testing.T) {
	st := memory.New()
	eng, _ := engine.Build(st)
	ctx := context.Background()

	if _, err := eng.CreateSyncJob(ctx, syncjob.CreateRequest{MailboxID: "m"}); err == nil {
		t.Error("missing tenant accepted")
	}
	if _, err := eng.CreateSyncJob(ctx, syncjob.CreateRequest{TenantID: "t"}); err == nil {
		t.Error("missing mailbox accepted")
	}
}

func TestCreateSyncJobTenantScope(t *testing.T) {
	st := memory.New()
	eng, _ := engine.Build(st)

	ctx := scope.WithScope(context.Background(), scope.Scope{TenantID: "tenant-2", Actor: "user@tenant-2"})
	_, err := eng.CreateSyncJob(ctx, syncjob.CreateRequest{
		TenantID:  "tenant-1",
		MailboxID: "mbx-1",
		Kind:      syncjob.KindInitial,
	})
	if !errors.Is(err, mailsync.ErrNotAuthorized) {
		t.Fatalf("cross-tenant create = %v, want ErrNotAuthorized", err)
	}
}

func TestCreateSyncJobUnknownMailbox(t *testing.T) {
	st := memory.New()
	eng, _ := engine.Build(st, engine.WithMailboxResolver(
		engine.MailboxResolverFunc(func(_ context.Context, _, mailboxID string) error {
			if mailboxID != "mbx-known" {
				return mailsync.ErrParentNotFound
			}
			return nil
		})))

	_, err := eng.CreateSyncJob(context.Background(), syncjob.CreateRequest{
		TenantID:  "tenant-1",
		MailboxID: "mbx-ghost",
		Kind:      syncjob.KindInitial,
	})
	if !errors.Is(err, mailsync.ErrParentNotFound) {
		t.Fatalf("err = %v, want ErrParentNotFound", err)
	}
}

func TestDeferredJobAndRelease(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	wake := trigger.NewMemory(8)
	eng, _ := engine.Build(st,
		engine.WithExecutor(okExecutor()),
		engine.WithTrigger(wake),
	)

	j, err := eng.CreateSyncJob(ctx, syncjob.CreateRequest{
		TenantID:       "tenant-1",
		MailboxID:      "mbx-1",
		Kind:           syncjob.KindInitial,
		EstimatedCount: 100,
		Deferred:       true,
	})
	if err != nil {
		t.Fatalf("CreateSyncJob: %v", err)
	}
	if j.Status != syncjob.StatusChunked {
		t.Fatalf("deferred job status = %q, want chunked", j.Status)
	}
	select {
	case n := <-wake.C():
		t.Fatalf("deferred create fired trigger %q", n.Reason)
	default:
	}

	// Deferred chunks are not claimable.
	if claimed, _ := eng.Invoke(ctx); claimed {
		t.Fatal("claimed a chunk of a deferred job")
	}

	rel, err := eng.Release(ctx, j.ID)
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if rel.Status != syncjob.StatusPending {
		t.Errorf("released status = %q, want pending", rel.Status)
	}
	select {
	case n := <-wake.C():
		if n.Reason != trigger.ReasonReleased {
			t.Errorf("Reason = %q, want released", n.Reason)
		}
	default:
		t.Error("no trigger on release")
	}

	// Second release is an invalid transition.
	if _, err := eng.Release(ctx, j.ID); !errors.Is(err, mailsync.ErrInvalidState) {
		t.Errorf("double release = %v, want ErrInvalidState", err)
	}

	if claimed, _ := eng.Invoke(ctx); !claimed {
		t.Fatal("released chunk not claimable")
	}
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	eng, _ := engine.Build(st)

	j, err := eng.CreateSyncJob(ctx, syncjob.CreateRequest{
		TenantID:       "tenant-1",
		MailboxID:      "mbx-1",
		Kind:           syncjob.KindInitial,
		EstimatedCount: 100,
	})
	if err != nil {
		t.Fatalf("CreateSyncJob: %v", err)
	}

	got, err := eng.Cancel(ctx, j.ID, "customer offboarded")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.Status != syncjob.StatusCancelled {
		t.Fatalf("status = %q, want cancelled", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt not set on cancel")
	}

	// Cancelling again is a no-op.
	if _, err := eng.Cancel(ctx, j.ID, "again"); err != nil {
		t.Errorf("second Cancel: %v", err)
	}

	// The cancel is audited with the operator's reason.
	entries, _ := eng.ListAudit(ctx, audit.ListOpts{Action: audit.ActionJobCancelled})
	found := false
	for _, e := range entries {
		if e.Reason == "customer offboarded" {
			found = true
		}
	}
	if !found {
		t.Error("cancel reason not recorded on the audit trail")
	}
}

func TestCancelCompletedJobRejected(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	eng, _ := engine.Build(st, engine.WithExecutor(okExecutor()))

	j, _ := eng.CreateSyncJob(ctx, syncjob.CreateRequest{
		TenantID:       "tenant-1",
		MailboxID:      "mbx-1",
		Kind:           syncjob.KindInitial,
		EstimatedCount: 50,
	})
	if _, err := eng.Invoke(ctx); err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	if _, err := eng.Cancel(ctx, j.ID, ""); !errors.Is(err, mailsync.ErrInvalidState) {
		t.Fatalf("cancel completed job = %v, want ErrInvalidState", err)
	}
}

func TestReplayDLQThroughEngine(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	eng, _ := engine.Build(st, engine.WithExecutor(worker.ExecutorFunc(
		func(context.Context, *syncjob.Job, *syncjob.Chunk) (outcome.Result, error) {
			return outcome.Result{}, errors.New("mailbox not found")
		})))

	j, _ := eng.CreateSyncJob(ctx, syncjob.CreateRequest{
		TenantID:       "tenant-1",
		MailboxID:      "mbx-1",
		Kind:           syncjob.KindInitial,
		EstimatedCount: 50,
	})

	// Permanent failure dead-letters the chunk and fails the job.
	if _, err := eng.Invoke(ctx); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	jb, _ := eng.GetJob(ctx, j.ID)
	if jb.Status != syncjob.StatusFailed {
		t.Fatalf("job status = %q, want failed", jb.Status)
	}

	entries, err := eng.ListDLQ(ctx, dlq.ListOpts{})
	if err != nil || len(entries) != 1 {
		t.Fatalf("ListDLQ = %d entries, %v; want 1", len(entries), err)
	}

	replayed, err := eng.ReplayDLQ(ctx, entries[0].ID)
	if err != nil {
		t.Fatalf("ReplayDLQ: %v", err)
	}
	if replayed.Status != syncjob.StatusProcessing {
		t.Errorf("replayed job status = %q, want processing", replayed.Status)
	}

	audits, _ := eng.ListAudit(ctx, audit.ListOpts{Action: audit.ActionDLQReplayed})
	if len(audits) != 1 {
		t.Errorf("replay audit entries = %d, want 1", len(audits))
	}
}

func TestForceResetChunk(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	eng, _ := engine.Build(st, engine.WithExecutor(worker.ExecutorFunc(
		func(context.Context, *syncjob.Job, *syncjob.Chunk) (outcome.Result, error) {
			return outcome.Result{}, errors.New("403 forbidden")
		})))

	j, _ := eng.CreateSyncJob(ctx, syncjob.CreateRequest{
		TenantID:       "tenant-1",
		MailboxID:      "mbx-1",
		Kind:           syncjob.KindInitial,
		EstimatedCount: 50,
	})
	if _, err := eng.Invoke(ctx); err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	chunks, _ := eng.ListChunks(ctx, j.ID)
	if chunks[0].Status != syncjob.ChunkFailed {
		t.Fatalf("chunk status = %q, want failed", chunks[0].Status)
	}

	opCtx := scope.WithScope(ctx, scope.SystemScope("ops@example.com"))
	if err := eng.ForceResetChunk(opCtx, chunks[0].ID, "permissions fixed upstream"); err != nil {
		t.Fatalf("ForceResetChunk: %v", err)
	}

	chunks, _ = eng.ListChunks(ctx, j.ID)
	if chunks[0].Status != syncjob.ChunkPending {
		t.Errorf("chunk status = %q, want pending", chunks[0].Status)
	}
	if chunks[0].Attempts != 0 {
		t.Errorf("Attempts = %d, want 0", chunks[0].Attempts)
	}

	jb, _ := eng.GetJob(ctx, j.ID)
	if jb.Status != syncjob.StatusProcessing {
		t.Errorf("job status = %q, want processing", jb.Status)
	}

	entries, _ := eng.ListAudit(ctx, audit.ListOpts{Action: audit.ActionChunkReset})
	if len(entries) != 1 {
		t.Fatalf("reset audit entries = %d, want 1", len(entries))
	}
	if entries[0].Actor != "ops@example.com" {
		t.Errorf("audit actor = %q, want operator", entries[0].Actor)
	}
}

func TestEngineStartStop(t *testing.T) {
	st := memory.New()
	wake := trigger.NewMemory(8)
	eng, err := engine.Build(st,
		engine.WithExecutor(okExecutor()),
		engine.WithTrigger(wake),
		engine.WithConcurrency(2),
	)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	j, err := eng.CreateSyncJob(ctx, syncjob.CreateRequest{
		TenantID:       "tenant-1",
		MailboxID:      "mbx-1",
		Kind:           syncjob.KindInitial,
		EstimatedCount: 300,
	})
	if err != nil {
		t.Fatalf("CreateSyncJob: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		jb, _ := eng.GetJob(ctx, j.ID)
		if jb.Status == syncjob.StatusCompleted {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("job not completed by pool, status %q", jb.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := eng.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := eng.Stop(stopCtx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestInvokeWithoutExecutor(t *testing.T) {
	st := memory.New()
	eng, _ := engine.Build(st)

	_, err := eng.Invoke(context.Background())
	if !errors.Is(err, mailsync.ErrNoExecutor) {
		t.Fatalf("err = %v, want ErrNoExecutor", err)
	}
}
