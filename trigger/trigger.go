// Package trigger provides the invocation signal that chains chunk
// execution. The engine emits a notification whenever claimable work
// appears for a job: on creation, after each chunk outcome, when a
// retry becomes due, and when the recovery sweep returns work to the
// pool.
//
// Notifications are best-effort wake-ups, not a work queue. A lost
// notification delays work until the recovery sweep notices it; it
// never loses the work itself, because the chunk rows in the store are
// the source of truth.
package trigger

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marchway/mailsync/id"
)

// Notification reasons.
const (
	ReasonCreated        = "created"
	ReasonReleased       = "released"
	ReasonChunkCompleted = "chunk_completed"
	ReasonRetryDue       = "retry_due"
	ReasonReclaimed      = "reclaimed"
	ReasonReplayed       = "replayed"
)

// Notification identifies a job with claimable work and why it became
// claimable.
type Notification struct {
	JobID  id.JobID  `json:"job_id"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Trigger delivers work notifications. Implementations must treat
// delivery as best-effort: a failed or dropped notification is logged
// by the caller, never retried, and never blocks the pipeline.
type Trigger interface {
	Notify(ctx context.Context, jobID id.JobID, reason string) error
}

// Func is an adapter to use a plain function as a Trigger.
type Func func(ctx context.Context, jobID id.JobID, reason string) error

// Notify implements Trigger.
func (f Func) Notify(ctx context.Context, jobID id.JobID, reason string) error {
	return f(ctx, jobID, reason)
}

// Noop is a Trigger that discards all notifications. Deployments
// without push-style workers rely on the recovery sweep and polling
// instead.
type Noop struct{}

// Notify implements Trigger.
func (Noop) Notify(context.Context, id.JobID, string) error { return nil }

// Multi fans a notification out to several triggers concurrently, so a
// slow transport cannot delay the others. The first error is returned
// after every trigger has been notified.
type Multi []Trigger

// Notify implements Trigger.
func (m Multi) Notify(ctx context.Context, jobID id.JobID, reason string) error {
	var g errgroup.Group
	for _, t := range m {
		g.Go(func() error {
			return t.Notify(ctx, jobID, reason)
		})
	}
	return g.Wait()
}
