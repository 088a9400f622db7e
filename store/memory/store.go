// Package memory is a fully in-memory store backend. Safe for
// concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/marchway/mailsync"
	"github.com/marchway/mailsync/audit"
	"github.com/marchway/mailsync/dlq"
	"github.com/marchway/mailsync/id"
	"github.com/marchway/mailsync/protection"
	"github.com/marchway/mailsync/syncjob"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ syncjob.Store    = (*Store)(nil)
	_ protection.Store = (*Store)(nil)
	_ dlq.Store        = (*Store)(nil)
	_ audit.Store      = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	jobs       map[string]*syncjob.Job
	chunks     map[string]*syncjob.Chunk
	protection map[string]*protection.State // key: "tenant:operation"
	dlqs       map[string]*dlq.Entry
	audits     []*audit.Entry
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:       make(map[string]*syncjob.Job),
		chunks:     make(map[string]*syncjob.Chunk),
		protection: make(map[string]*protection.State),
		dlqs:       make(map[string]*dlq.Entry),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle: Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Sync Job Store
// ──────────────────────────────────────────────────

// CreateJob persists a job and its chunk partition atomically.
func (m *Store) CreateJob(_ context.Context, j *syncjob.Job, chunks []*syncjob.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return mailsync.ErrJobAlreadyExists
	}

	cp := *j
	m.jobs[key] = &cp
	for _, c := range chunks {
		ccp := *c
		m.chunks[c.ID.String()] = &ccp
	}
	return nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*syncjob.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, mailsync.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// UpdateJob persists changes to an existing job.
func (m *Store) UpdateJob(_ context.Context, j *syncjob.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, ok := m.jobs[key]; !ok {
		return mailsync.ErrJobNotFound
	}
	cp := *j
	cp.UpdatedAt = time.Now().UTC()
	m.jobs[key] = &cp
	return nil
}

// TransitionJob conditionally moves a job to a new status.
func (m *Store) TransitionJob(_ context.Context, jobID id.JobID, to syncjob.Status, from ...syncjob.Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return false, mailsync.ErrJobNotFound
	}

	if len(from) > 0 {
		matched := false
		for _, f := range from {
			if j.Status == f {
				matched = true
				break
			}
		}
		if !matched {
			return false, nil
		}
	}

	j.Status = to
	j.UpdatedAt = time.Now().UTC()
	return true, nil
}

// ListJobsByStatus returns jobs in the given status.
func (m *Store) ListJobsByStatus(_ context.Context, status syncjob.Status, opts syncjob.ListOpts) ([]*syncjob.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*syncjob.Job, 0)
	for _, j := range m.jobs {
		if j.Status != status {
			continue
		}
		if opts.TenantID != "" && j.TenantID != opts.TenantID {
			continue
		}
		cp := *j
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

// CountJobs returns the number of jobs per status.
func (m *Store) CountJobs(_ context.Context) (map[syncjob.Status]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[syncjob.Status]int64)
	for _, j := range m.jobs {
		counts[j.Status]++
	}
	return counts, nil
}

// ClaimChunk atomically claims the next eligible chunk.
func (m *Store) ClaimChunk(_ context.Context, opts syncjob.ClaimOpts) (*syncjob.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()

	// Per-tenant processing counts for the parallel cap.
	inFlight := make(map[string]int)
	if opts.TenantParallelLimit > 0 {
		for _, c := range m.chunks {
			if c.Status == syncjob.ChunkProcessing {
				inFlight[c.TenantID]++
			}
		}
	}

	candidates := make([]*syncjob.Chunk, 0)
	jobPrio := make(map[string]int)
	for _, c := range m.chunks {
		if !c.Status.Claimable() {
			continue
		}
		if c.Attempts >= c.MaxAttempts {
			continue
		}
		if c.NextRetryAt != nil && c.NextRetryAt.After(now) {
			continue
		}
		parent, ok := m.jobs[c.JobID.String()]
		if !ok {
			continue
		}
		if parent.Status != syncjob.StatusPending && parent.Status != syncjob.StatusProcessing {
			continue
		}
		if opts.TenantParallelLimit > 0 && inFlight[c.TenantID] >= opts.TenantParallelLimit {
			continue
		}
		jobPrio[c.JobID.String()] = parent.Priority
		candidates = append(candidates, c)
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	// Higher-priority jobs first, then partition order within a job.
	sort.Slice(candidates, func(i, k int) bool {
		pi, pk := jobPrio[candidates[i].JobID.String()], jobPrio[candidates[k].JobID.String()]
		if pi != pk {
			return pi > pk
		}
		if candidates[i].ChunkNumber != candidates[k].ChunkNumber {
			return candidates[i].ChunkNumber < candidates[k].ChunkNumber
		}
		return candidates[i].CreatedAt.Before(candidates[k].CreatedAt)
	})

	c := candidates[0]
	c.Status = syncjob.ChunkProcessing
	c.Attempts++
	c.WorkerID = opts.WorkerID
	n := now
	c.StartedAt = &n
	c.NextRetryAt = nil
	c.UpdatedAt = now

	cp := *c
	return &cp, nil
}

// GetChunk retrieves a chunk by ID.
func (m *Store) GetChunk(_ context.Context, chunkID id.ChunkID) (*syncjob.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.chunks[chunkID.String()]
	if !ok {
		return nil, mailsync.ErrChunkNotFound
	}
	cp := *c
	return &cp, nil
}

// UpdateChunk persists changes to an existing chunk.
func (m *Store) UpdateChunk(_ context.Context, c *syncjob.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := c.ID.String()
	if _, ok := m.chunks[key]; !ok {
		return mailsync.ErrChunkNotFound
	}
	cp := *c
	cp.UpdatedAt = time.Now().UTC()
	m.chunks[key] = &cp
	return nil
}

// ListChunksByJob returns all chunks of a job ordered by chunk number.
func (m *Store) ListChunksByJob(_ context.Context, jobID id.JobID) ([]*syncjob.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*syncjob.Chunk, 0)
	for _, c := range m.chunks {
		if c.JobID != jobID {
			continue
		}
		cp := *c
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].ChunkNumber < result[k].ChunkNumber
	})
	return result, nil
}

// StuckChunks returns chunks processing longer than threshold.
func (m *Store) StuckChunks(_ context.Context, threshold time.Duration) ([]*syncjob.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-threshold)
	result := make([]*syncjob.Chunk, 0)
	for _, c := range m.chunks {
		if c.Status != syncjob.ChunkProcessing {
			continue
		}
		if c.StartedAt == nil || c.StartedAt.After(cutoff) {
			continue
		}
		cp := *c
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].StartedAt.Before(*result[k].StartedAt)
	})
	return result, nil
}

// ReclaimChunk conditionally returns a stuck chunk to the pool.
func (m *Store) ReclaimChunk(_ context.Context, chunkID id.ChunkID, startedBefore time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.chunks[chunkID.String()]
	if !ok {
		return false, mailsync.ErrChunkNotFound
	}
	if c.Status != syncjob.ChunkProcessing {
		return false, nil
	}
	if c.StartedAt == nil || !c.StartedAt.Before(startedBefore) {
		return false, nil
	}

	c.Status = syncjob.ChunkPending
	c.WorkerID = id.ID{}
	c.StartedAt = nil
	c.UpdatedAt = time.Now().UTC()
	return true, nil
}

// ResetChunk unconditionally returns a chunk to pending.
func (m *Store) ResetChunk(_ context.Context, chunkID id.ChunkID, resetAttempts bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.chunks[chunkID.String()]
	if !ok {
		return mailsync.ErrChunkNotFound
	}

	resetChunkLocked(c, resetAttempts)
	return nil
}

// ResetChunksByJob resets every non-completed chunk of a job.
func (m *Store) ResetChunksByJob(_ context.Context, jobID id.JobID, resetAttempts bool) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[jobID.String()]; !ok {
		return 0, mailsync.ErrJobNotFound
	}

	var n int64
	for _, c := range m.chunks {
		if c.JobID != jobID || c.Status == syncjob.ChunkCompleted {
			continue
		}
		resetChunkLocked(c, resetAttempts)
		n++
	}
	return n, nil
}

// PurgeTerminalJobs removes terminal jobs finished before the cutoff.
func (m *Store) PurgeTerminalJobs(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for key, j := range m.jobs {
		if !j.Status.Terminal() {
			continue
		}
		finished := j.UpdatedAt
		if j.CompletedAt != nil {
			finished = *j.CompletedAt
		}
		if !finished.Before(before) {
			continue
		}

		delete(m.jobs, key)
		for ckey, c := range m.chunks {
			if c.JobID == j.ID {
				delete(m.chunks, ckey)
			}
		}
		n++
	}
	return n, nil
}

func resetChunkLocked(c *syncjob.Chunk, resetAttempts bool) {
	c.Status = syncjob.ChunkPending
	c.WorkerID = id.ID{}
	c.StartedAt = nil
	c.CompletedAt = nil
	c.NextRetryAt = nil
	c.ErrorCategory = ""
	c.ErrorMessage = ""
	if resetAttempts {
		c.Attempts = 0
	}
	c.UpdatedAt = time.Now().UTC()
}

// ──────────────────────────────────────────────────
// Protection Store
// ──────────────────────────────────────────────────

// GetProtection returns the state for a tenant+operation, or nil.
func (m *Store) GetProtection(_ context.Context, tenantID, operation string) (*protection.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.protection[tenantID+":"+operation]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

// Mutate atomically applies fn to the tenant+operation state, creating
// it lazily.
func (m *Store) Mutate(_ context.Context, tenantID, operation string, fn func(*protection.State)) (*protection.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := tenantID + ":" + operation
	s, ok := m.protection[key]
	if !ok {
		s = protection.NewState(tenantID, operation, time.Now().UTC())
		m.protection[key] = s
	}

	fn(s)
	s.UpdatedAt = time.Now().UTC()
	cp := *s
	return &cp, nil
}

// ListProtection returns all states for a tenant. Empty tenantID lists
// everything.
func (m *Store) ListProtection(_ context.Context, tenantID string) ([]*protection.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*protection.State, 0)
	for _, s := range m.protection {
		if tenantID != "" && s.TenantID != tenantID {
			continue
		}
		cp := *s
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		if result[i].TenantID != result[k].TenantID {
			return result[i].TenantID < result[k].TenantID
		}
		return result[i].Operation < result[k].Operation
	})
	return result, nil
}

// ──────────────────────────────────────────────────
// DLQ Store
// ──────────────────────────────────────────────────

// PushDLQ adds an entry to the dead-letter archive.
func (m *Store) PushDLQ(_ context.Context, entry *dlq.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.dlqs[entry.ID.String()] = &cp
	return nil
}

// ListDLQ returns archive entries, newest first.
func (m *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*dlq.Entry, 0)
	for _, e := range m.dlqs {
		if opts.TenantID != "" && e.TenantID != opts.TenantID {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

// GetDLQ retrieves an entry by ID.
func (m *Store) GetDLQ(_ context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return nil, mailsync.ErrDLQNotFound
	}
	cp := *e
	return &cp, nil
}

// ReplayDLQ marks an entry as replayed.
func (m *Store) ReplayDLQ(_ context.Context, entryID id.DLQID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return mailsync.ErrDLQNotFound
	}
	now := time.Now().UTC()
	e.ReplayedAt = &now
	return nil
}

// PurgeDLQ removes entries that failed before the cutoff.
func (m *Store) PurgeDLQ(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for key, e := range m.dlqs {
		if e.FailedAt.Before(before) {
			delete(m.dlqs, key)
			n++
		}
	}
	return n, nil
}

// CountDLQ returns the number of entries, optionally per tenant.
func (m *Store) CountDLQ(_ context.Context, tenantID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if tenantID == "" {
		return int64(len(m.dlqs)), nil
	}
	var n int64
	for _, e := range m.dlqs {
		if e.TenantID == tenantID {
			n++
		}
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Audit Store
// ──────────────────────────────────────────────────

// AppendAudit persists an audit entry.
func (m *Store) AppendAudit(_ context.Context, entry *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.audits = append(m.audits, &cp)
	return nil
}

// ListAudit returns audit entries matching opts, newest first.
func (m *Store) ListAudit(_ context.Context, opts audit.ListOpts) ([]*audit.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*audit.Entry, 0)
	for _, e := range m.audits {
		if opts.TenantID != "" && e.TenantID != opts.TenantID {
			continue
		}
		if opts.Action != "" && e.Action != opts.Action {
			continue
		}
		if opts.ResourceID != "" && e.ResourceID != opts.ResourceID {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

// PurgeAudit removes entries created before the cutoff.
func (m *Store) PurgeAudit(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.audits[:0]
	var n int64
	for _, e := range m.audits {
		if e.CreatedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	m.audits = kept
	return n, nil
}

// paginate applies offset/limit to a sorted slice.
func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
