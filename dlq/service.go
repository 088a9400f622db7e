package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/marchway/mailsync/fault"
	"github.com/marchway/mailsync/id"
	"github.com/marchway/mailsync/syncjob"
)

// Service provides high-level archive operations over a Store.
type Service struct {
	store    Store
	jobStore syncjob.Store
}

// NewService creates a dead-letter service.
func NewService(store Store, jobStore syncjob.Store) *Service {
	return &Service{store: store, jobStore: jobStore}
}

// Archive builds an Entry from a terminally failed chunk and persists
// it. The chunk's full state is preserved as a JSON snapshot; the
// error is classified for the entry's category.
func (s *Service) Archive(ctx context.Context, j *syncjob.Job, c *syncjob.Chunk, cause error) (*Entry, error) {
	snapshot, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("dlq: snapshot chunk %s: %w", c.ID, err)
	}

	now := time.Now().UTC()
	entry := &Entry{
		ID:            id.NewDLQID(),
		JobID:         j.ID,
		ChunkID:       c.ID,
		TenantID:      j.TenantID,
		MailboxID:     j.MailboxID,
		ErrorCategory: fault.CategoryOf(cause),
		ErrorMessage:  cause.Error(),
		Attempts:      c.Attempts,
		MaxAttempts:   c.MaxAttempts,
		Snapshot:      snapshot,
		FailedAt:      now,
		CreatedAt:     now,
	}
	if err := s.store.PushDLQ(ctx, entry); err != nil {
		return nil, fmt.Errorf("dlq: push entry for chunk %s: %w", c.ID, err)
	}
	return entry, nil
}

// ArchiveJob records a job-level entry with no chunk reference, used
// when a job dies before decomposition produced any chunks.
func (s *Service) ArchiveJob(ctx context.Context, j *syncjob.Job, cause error) (*Entry, error) {
	snapshot, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("dlq: snapshot job %s: %w", j.ID, err)
	}

	now := time.Now().UTC()
	entry := &Entry{
		ID:            id.NewDLQID(),
		JobID:         j.ID,
		TenantID:      j.TenantID,
		MailboxID:     j.MailboxID,
		ErrorCategory: fault.CategoryOf(cause),
		ErrorMessage:  cause.Error(),
		Attempts:      j.Attempts,
		MaxAttempts:   j.MaxAttempts,
		Snapshot:      snapshot,
		FailedAt:      now,
		CreatedAt:     now,
	}
	if err := s.store.PushDLQ(ctx, entry); err != nil {
		return nil, fmt.Errorf("dlq: push entry for job %s: %w", j.ID, err)
	}
	return entry, nil
}

// Store returns the underlying archive store for direct access to
// List, Get, Purge, and Count operations.
func (s *Service) Store() Store {
	return s.store
}
