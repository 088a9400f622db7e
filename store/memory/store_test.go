package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/marchway/mailsync"
	"github.com/marchway/mailsync/audit"
	"github.com/marchway/mailsync/dlq"
	"github.com/marchway/mailsync/id"
	"github.com/marchway/mailsync/protection"
	"github.com/marchway/mailsync/syncjob"
)

func createJob(t *testing.T, s *Store, tenantID string, numChunks int) (*syncjob.Job, []*syncjob.Chunk) {
	t.Helper()
	cfg := mailsync.DefaultConfig()
	j, chunks := syncjob.Plan(syncjob.CreateRequest{
		TenantID:       tenantID,
		MailboxID:      "mbx-" + tenantID,
		Kind:           syncjob.KindInitial,
		EstimatedCount: numChunks * cfg.BaseChunkSize,
	}, cfg)
	if err := s.CreateJob(context.Background(), j, chunks); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return j, chunks
}

func claimOpts() syncjob.ClaimOpts {
	return syncjob.ClaimOpts{WorkerID: id.NewWorkerID()}
}

func TestCreateJobDuplicate(t *testing.T) {
	s := New()
	j, chunks := createJob(t, s, "tenant-1", 2)

	err := s.CreateJob(context.Background(), j, chunks)
	if err != mailsync.ErrJobAlreadyExists {
		t.Fatalf("duplicate CreateJob = %v, want ErrJobAlreadyExists", err)
	}
}

func TestClaimChunkOrdering(t *testing.T) {
	s := New()
	ctx := context.Background()
	createJob(t, s, "tenant-1", 3)

	for want := 1; want <= 3; want++ {
		c, err := s.ClaimChunk(ctx, claimOpts())
		if err != nil {
			t.Fatalf("ClaimChunk: %v", err)
		}
		if c == nil {
			t.Fatalf("claim %d: no chunk", want)
		}
		if c.ChunkNumber != want {
			t.Errorf("claim %d: ChunkNumber = %d", want, c.ChunkNumber)
		}
		if c.Status != syncjob.ChunkProcessing {
			t.Errorf("claimed chunk status = %q, want processing", c.Status)
		}
		if c.Attempts != 1 {
			t.Errorf("claimed chunk attempts = %d, want 1", c.Attempts)
		}
		if c.StartedAt == nil {
			t.Error("claimed chunk StartedAt is nil")
		}
	}

	// Pool exhausted.
	c, err := s.ClaimChunk(ctx, claimOpts())
	if err != nil {
		t.Fatalf("ClaimChunk on empty pool: %v", err)
	}
	if c != nil {
		t.Fatalf("expected no work, got chunk %d", c.ChunkNumber)
	}
}

func TestClaimChunkPrefersHigherPriorityJob(t *testing.T) {
	s := New()
	ctx := context.Background()
	cfg := mailsync.DefaultConfig()

	plan := func(tenant string, priority int) *syncjob.Job {
		j, chunks := syncjob.Plan(syncjob.CreateRequest{
			TenantID:       tenant,
			MailboxID:      "mbx-" + tenant,
			Kind:           syncjob.KindInitial,
			Priority:       priority,
			EstimatedCount: cfg.BaseChunkSize,
		}, cfg)
		if err := s.CreateJob(ctx, j, chunks); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
		return j
	}

	low := plan("tenant-low", 0)
	high := plan("tenant-high", 5)

	c, err := s.ClaimChunk(ctx, claimOpts())
	if err != nil || c == nil {
		t.Fatalf("ClaimChunk: %v %v", c, err)
	}
	if c.JobID != high.ID {
		t.Errorf("first claim from job %v, want high-priority %v", c.JobID, high.ID)
	}

	c, err = s.ClaimChunk(ctx, claimOpts())
	if err != nil || c == nil {
		t.Fatalf("ClaimChunk: %v %v", c, err)
	}
	if c.JobID != low.ID {
		t.Errorf("second claim from job %v, want %v", c.JobID, low.ID)
	}
}

func TestClaimChunkNoDoubleClaimUnderConcurrency(t *testing.T) {
	s := New()
	ctx := context.Background()
	createJob(t, s, "tenant-1", 5)

	const claimers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[string]int)

	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				c, err := s.ClaimChunk(ctx, claimOpts())
				if err != nil {
					t.Errorf("ClaimChunk: %v", err)
					return
				}
				if c == nil {
					return
				}
				mu.Lock()
				seen[c.ID.String()]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 5 {
		t.Fatalf("distinct chunks claimed = %d, want 5", len(seen))
	}
	for cid, n := range seen {
		if n != 1 {
			t.Errorf("chunk %s claimed %d times", cid, n)
		}
	}
}

func TestClaimChunkTenantParallelCap(t *testing.T) {
	s := New()
	ctx := context.Background()
	createJob(t, s, "tenant-1", 4)
	createJob(t, s, "tenant-2", 1)

	opts := syncjob.ClaimOpts{WorkerID: id.NewWorkerID(), TenantParallelLimit: 2}

	var tenants []string
	for i := 0; i < 3; i++ {
		c, err := s.ClaimChunk(ctx, opts)
		if err != nil {
			t.Fatalf("ClaimChunk: %v", err)
		}
		if c == nil {
			t.Fatalf("claim %d: no chunk", i+1)
		}
		tenants = append(tenants, c.TenantID)
	}

	// tenant-1 hits the cap after two claims; the third must come from
	// tenant-2 even though tenant-1 still has lower chunk numbers.
	count1 := 0
	for _, tn := range tenants {
		if tn == "tenant-1" {
			count1++
		}
	}
	if count1 != 2 {
		t.Errorf("tenant-1 in-flight = %d, want 2 (cap)", count1)
	}

	// Everything at or over cap: no more work.
	c, err := s.ClaimChunk(ctx, opts)
	if err != nil {
		t.Fatalf("ClaimChunk: %v", err)
	}
	if c != nil && c.TenantID == "tenant-1" {
		t.Errorf("claimed tenant-1 chunk over the parallel cap")
	}
}

func TestClaimChunkSkipsDeferredJobs(t *testing.T) {
	s := New()
	ctx := context.Background()

	cfg := mailsync.DefaultConfig()
	j, chunks := syncjob.Plan(syncjob.CreateRequest{
		TenantID:       "tenant-1",
		MailboxID:      "mbx-1",
		Kind:           syncjob.KindInitial,
		EstimatedCount: 100,
		Deferred:       true,
	}, cfg)
	if err := s.CreateJob(ctx, j, chunks); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	c, err := s.ClaimChunk(ctx, claimOpts())
	if err != nil {
		t.Fatalf("ClaimChunk: %v", err)
	}
	if c != nil {
		t.Fatal("claimed a chunk of a deferred (chunked) job")
	}

	// Releasing the job makes its chunks claimable.
	if _, err := s.TransitionJob(ctx, j.ID, syncjob.StatusPending, syncjob.StatusChunked); err != nil {
		t.Fatalf("TransitionJob: %v", err)
	}
	c, err = s.ClaimChunk(ctx, claimOpts())
	if err != nil {
		t.Fatalf("ClaimChunk after release: %v", err)
	}
	if c == nil {
		t.Fatal("no chunk claimable after release")
	}
}

func TestClaimChunkHonorsNextRetryAt(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, chunks := createJob(t, s, "tenant-1", 1)

	c, err := s.GetChunk(ctx, chunks[0].ID)
	if err != nil {
		t.Fatalf("GetChunk: %v", err)
	}
	c.Status = syncjob.ChunkRetrying
	future := time.Now().UTC().Add(time.Hour)
	c.NextRetryAt = &future
	if err := s.UpdateChunk(ctx, c); err != nil {
		t.Fatalf("UpdateChunk: %v", err)
	}

	got, err := s.ClaimChunk(ctx, claimOpts())
	if err != nil {
		t.Fatalf("ClaimChunk: %v", err)
	}
	if got != nil {
		t.Fatal("claimed a chunk whose retry is not yet due")
	}

	past := time.Now().UTC().Add(-time.Second)
	c.NextRetryAt = &past
	if err := s.UpdateChunk(ctx, c); err != nil {
		t.Fatalf("UpdateChunk: %v", err)
	}

	got, err = s.ClaimChunk(ctx, claimOpts())
	if err != nil {
		t.Fatalf("ClaimChunk: %v", err)
	}
	if got == nil {
		t.Fatal("retrying chunk with due NextRetryAt not claimed")
	}
	if got.NextRetryAt != nil {
		t.Error("NextRetryAt not cleared on claim")
	}
}

func TestTransitionJobCAS(t *testing.T) {
	s := New()
	ctx := context.Background()
	j, _ := createJob(t, s, "tenant-1", 1)

	ok, err := s.TransitionJob(ctx, j.ID, syncjob.StatusProcessing, syncjob.StatusPending)
	if err != nil || !ok {
		t.Fatalf("first transition = (%v, %v), want (true, nil)", ok, err)
	}

	// Same from-state no longer matches.
	ok, err = s.TransitionJob(ctx, j.ID, syncjob.StatusProcessing, syncjob.StatusPending)
	if err != nil {
		t.Fatalf("second transition: %v", err)
	}
	if ok {
		t.Fatal("second transition swapped, want no-op")
	}

	// Exactly one of two concurrent completion attempts wins.
	var wins int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.TransitionJob(ctx, j.ID, syncjob.StatusCompleted, syncjob.StatusProcessing)
			if err != nil {
				t.Errorf("TransitionJob: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("completion transitions won = %d, want exactly 1", wins)
	}
}

func TestReclaimChunkConditional(t *testing.T) {
	s := New()
	ctx := context.Background()
	createJob(t, s, "tenant-1", 1)

	claimed, err := s.ClaimChunk(ctx, claimOpts())
	if err != nil || claimed == nil {
		t.Fatalf("ClaimChunk = (%v, %v)", claimed, err)
	}

	// Cutoff before StartedAt: the chunk is not stuck yet.
	ok, err := s.ReclaimChunk(ctx, claimed.ID, claimed.StartedAt.Add(-time.Minute))
	if err != nil {
		t.Fatalf("ReclaimChunk: %v", err)
	}
	if ok {
		t.Fatal("reclaimed a chunk started after the cutoff")
	}

	// Cutoff after StartedAt: reclaim succeeds, attempts preserved.
	ok, err = s.ReclaimChunk(ctx, claimed.ID, claimed.StartedAt.Add(time.Minute))
	if err != nil {
		t.Fatalf("ReclaimChunk: %v", err)
	}
	if !ok {
		t.Fatal("expected reclaim to succeed")
	}

	c, err := s.GetChunk(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("GetChunk: %v", err)
	}
	if c.Status != syncjob.ChunkPending {
		t.Errorf("Status = %q, want pending", c.Status)
	}
	if c.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1 (preserved)", c.Attempts)
	}
	if !c.WorkerID.IsNil() {
		t.Errorf("WorkerID = %v, want cleared", c.WorkerID)
	}
	if c.StartedAt != nil {
		t.Error("StartedAt not cleared")
	}

	// Already pending: a second reclaim is a no-op.
	ok, err = s.ReclaimChunk(ctx, claimed.ID, time.Now().UTC())
	if err != nil {
		t.Fatalf("ReclaimChunk: %v", err)
	}
	if ok {
		t.Fatal("reclaimed a chunk that was not processing")
	}
}

func TestResetChunksByJob(t *testing.T) {
	s := New()
	ctx := context.Background()
	j, chunks := createJob(t, s, "tenant-1", 3)

	// Complete the first chunk, fail the second.
	c0, _ := s.GetChunk(ctx, chunks[0].ID)
	c0.Status = syncjob.ChunkCompleted
	_ = s.UpdateChunk(ctx, c0)

	c1, _ := s.GetChunk(ctx, chunks[1].ID)
	c1.Status = syncjob.ChunkFailed
	c1.Attempts = 3
	_ = s.UpdateChunk(ctx, c1)

	n, err := s.ResetChunksByJob(ctx, j.ID, true)
	if err != nil {
		t.Fatalf("ResetChunksByJob: %v", err)
	}
	if n != 2 {
		t.Fatalf("reset = %d chunks, want 2 (completed untouched)", n)
	}

	c0After, _ := s.GetChunk(ctx, chunks[0].ID)
	if c0After.Status != syncjob.ChunkCompleted {
		t.Errorf("completed chunk status = %q, want untouched", c0After.Status)
	}
	c1After, _ := s.GetChunk(ctx, chunks[1].ID)
	if c1After.Status != syncjob.ChunkPending || c1After.Attempts != 0 {
		t.Errorf("failed chunk after reset = %q/%d, want pending/0", c1After.Status, c1After.Attempts)
	}
}

func TestStuckChunks(t *testing.T) {
	s := New()
	ctx := context.Background()
	createJob(t, s, "tenant-1", 2)

	claimed, err := s.ClaimChunk(ctx, claimOpts())
	if err != nil || claimed == nil {
		t.Fatalf("ClaimChunk = (%v, %v)", claimed, err)
	}

	// Backdate StartedAt to simulate a crashed worker.
	c, _ := s.GetChunk(ctx, claimed.ID)
	old := time.Now().UTC().Add(-time.Hour)
	c.StartedAt = &old
	_ = s.UpdateChunk(ctx, c)

	stuck, err := s.StuckChunks(ctx, 10*time.Minute)
	if err != nil {
		t.Fatalf("StuckChunks: %v", err)
	}
	if len(stuck) != 1 {
		t.Fatalf("stuck = %d chunks, want 1", len(stuck))
	}
	if stuck[0].ID != claimed.ID {
		t.Errorf("stuck chunk = %v, want %v", stuck[0].ID, claimed.ID)
	}
}

func TestPurgeTerminalJobs(t *testing.T) {
	s := New()
	ctx := context.Background()

	j1, _ := createJob(t, s, "tenant-1", 1)
	j2, _ := createJob(t, s, "tenant-2", 1)

	// j1 completed long ago; j2 still active.
	job1, _ := s.GetJob(ctx, j1.ID)
	job1.Status = syncjob.StatusCompleted
	old := time.Now().UTC().Add(-48 * time.Hour)
	job1.CompletedAt = &old
	_ = s.UpdateJob(ctx, job1)

	n, err := s.PurgeTerminalJobs(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeTerminalJobs: %v", err)
	}
	if n != 1 {
		t.Fatalf("purged = %d, want 1", n)
	}

	if _, err := s.GetJob(ctx, j1.ID); err != mailsync.ErrJobNotFound {
		t.Errorf("purged job GetJob = %v, want ErrJobNotFound", err)
	}
	if _, err := s.GetJob(ctx, j2.ID); err != nil {
		t.Errorf("active job GetJob: %v", err)
	}

	// Chunks of the purged job are gone too.
	chunks, err := s.ListChunksByJob(ctx, j1.ID)
	if err != nil {
		t.Fatalf("ListChunksByJob: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("orphan chunks = %d, want 0", len(chunks))
	}
}

func TestDLQRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()

	entry := &dlq.Entry{
		ID:        id.NewDLQID(),
		JobID:     id.NewJobID(),
		ChunkID:   id.NewChunkID(),
		TenantID:  "tenant-1",
		FailedAt:  time.Now().UTC(),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.PushDLQ(ctx, entry); err != nil {
		t.Fatalf("PushDLQ: %v", err)
	}

	got, err := s.GetDLQ(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetDLQ: %v", err)
	}
	if got.TenantID != "tenant-1" {
		t.Errorf("TenantID = %q", got.TenantID)
	}

	if err := s.ReplayDLQ(ctx, entry.ID); err != nil {
		t.Fatalf("ReplayDLQ: %v", err)
	}
	got, _ = s.GetDLQ(ctx, entry.ID)
	if got.ReplayedAt == nil {
		t.Error("ReplayedAt not set after replay")
	}

	count, err := s.CountDLQ(ctx, "tenant-1")
	if err != nil || count != 1 {
		t.Errorf("CountDLQ = (%d, %v), want (1, nil)", count, err)
	}

	n, err := s.PurgeDLQ(ctx, time.Now().UTC().Add(time.Minute))
	if err != nil || n != 1 {
		t.Errorf("PurgeDLQ = (%d, %v), want (1, nil)", n, err)
	}
}

func TestAuditAppendAndList(t *testing.T) {
	s := New()
	ctx := context.Background()

	for i, action := range []string{audit.ActionJobCreated, audit.ActionJobCompleted, audit.ActionChunkFailed} {
		err := s.AppendAudit(ctx, &audit.Entry{
			ID:        id.NewAuditID(),
			Actor:     audit.ActorSystem,
			Action:    action,
			TenantID:  "tenant-1",
			CreatedAt: time.Now().UTC().Add(time.Duration(i) * time.Millisecond),
		})
		if err != nil {
			t.Fatalf("AppendAudit: %v", err)
		}
	}

	all, err := s.ListAudit(ctx, audit.ListOpts{TenantID: "tenant-1"})
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("entries = %d, want 3", len(all))
	}
	// Newest first.
	if all[0].Action != audit.ActionChunkFailed {
		t.Errorf("first entry = %q, want chunk.failed (newest)", all[0].Action)
	}

	filtered, err := s.ListAudit(ctx, audit.ListOpts{Action: audit.ActionJobCreated})
	if err != nil {
		t.Fatalf("ListAudit filtered: %v", err)
	}
	if len(filtered) != 1 {
		t.Errorf("filtered entries = %d, want 1", len(filtered))
	}
}

func TestProtectionMutateCreatesLazily(t *testing.T) {
	s := New()
	ctx := context.Background()

	got, err := s.GetProtection(ctx, "tenant-1", "sync")
	if err != nil {
		t.Fatalf("GetProtection: %v", err)
	}
	if got != nil {
		t.Fatal("expected nil state before first Mutate")
	}

	st, err := s.Mutate(ctx, "tenant-1", "sync", func(p *protection.State) {
		p.TotalCalls++
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if st.TenantID != "tenant-1" || st.Operation != "sync" {
		t.Errorf("state identity = %s/%s", st.TenantID, st.Operation)
	}
	if st.Breaker != protection.BreakerClosed {
		t.Errorf("Breaker = %q, want closed", st.Breaker)
	}
	if st.TotalCalls != 1 {
		t.Errorf("TotalCalls = %d, want 1", st.TotalCalls)
	}

	got, err = s.GetProtection(ctx, "tenant-1", "sync")
	if err != nil {
		t.Fatalf("GetProtection after Mutate: %v", err)
	}
	if got == nil || got.TotalCalls != 1 {
		t.Errorf("persisted state = %+v, want TotalCalls 1", got)
	}
}
