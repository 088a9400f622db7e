// Package worker provides the chunk execution engine: an Invoker that
// claims one chunk and runs it through middleware and the Executor,
// and a Pool that manages concurrent worker goroutines woken by
// triggers or a poll interval.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/marchway/mailsync/hook"
	"github.com/marchway/mailsync/id"
	"github.com/marchway/mailsync/middleware"
	"github.com/marchway/mailsync/outcome"
	"github.com/marchway/mailsync/protection"
	"github.com/marchway/mailsync/syncjob"
)

// Executor performs the actual mailbox work for one chunk: fetch the
// chunk's slice of messages from the provider and persist them. The
// returned Result carries counts and an opaque resume checkpoint.
//
// Execute must honor ctx cancellation; a reclaimed chunk is handed the
// checkpoint of its previous attempt so work can resume mid-chunk.
type Executor interface {
	Execute(ctx context.Context, j *syncjob.Job, c *syncjob.Chunk) (outcome.Result, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, j *syncjob.Job, c *syncjob.Chunk) (outcome.Result, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, j *syncjob.Job, c *syncjob.Chunk) (outcome.Result, error) {
	return f(ctx, j, c)
}

// Invoker claims and executes a single chunk at a time. It owns the
// claim-side of the chunk lifecycle; terminal transitions go through
// the outcome Recorder.
type Invoker struct {
	store    syncjob.Store
	executor Executor
	recorder *outcome.Recorder
	guard    *protection.Guard
	hooks    *hook.Registry
	mw       middleware.Middleware
	claim    syncjob.ClaimOpts
	logger   *slog.Logger
}

// InvokerOption configures an Invoker.
type InvokerOption func(*Invoker)

// WithGuard installs a protection guard consulted before every
// executor call. Refused chunks are released without consuming an
// attempt.
func WithGuard(g *protection.Guard) InvokerOption {
	return func(i *Invoker) { i.guard = g }
}

// WithHooks sets the lifecycle hook registry.
func WithHooks(r *hook.Registry) InvokerOption {
	return func(i *Invoker) { i.hooks = r }
}

// WithMiddleware sets the middleware chain wrapped around every
// executor call.
func WithMiddleware(mws ...middleware.Middleware) InvokerOption {
	return func(i *Invoker) { i.mw = middleware.Chain(mws...) }
}

// WithTenantParallelLimit caps in-flight chunks per tenant at claim
// time. Zero means no cap.
func WithTenantParallelLimit(n int) InvokerOption {
	return func(i *Invoker) { i.claim.TenantParallelLimit = n }
}

// WithInvokerLogger sets the logger.
func WithInvokerLogger(l *slog.Logger) InvokerOption {
	return func(i *Invoker) { i.logger = l }
}

// NewInvoker creates an Invoker with its own worker identity.
func NewInvoker(store syncjob.Store, executor Executor, recorder *outcome.Recorder, opts ...InvokerOption) *Invoker {
	i := &Invoker{
		store:    store,
		executor: executor,
		recorder: recorder,
		mw:       middleware.Chain(),
		claim:    syncjob.ClaimOpts{WorkerID: id.NewWorkerID()},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.hooks == nil {
		i.hooks = hook.NewRegistry(i.logger)
	}
	return i
}

// WorkerID returns the invoker's worker identifier, stamped on every
// chunk it claims.
func (i *Invoker) WorkerID() id.WorkerID { return i.claim.WorkerID }

// Invoke claims the next eligible chunk and executes it to an outcome.
// It reports whether a chunk was claimed; (false, nil) means no work
// was available. Executor failures are recorded through the Recorder
// and not returned: only claim and record errors surface.
func (i *Invoker) Invoke(ctx context.Context) (bool, error) {
	c, err := i.store.ClaimChunk(ctx, i.claim)
	if err != nil {
		return false, err
	}
	if c == nil {
		return false, nil
	}

	i.hooks.EmitChunkClaimed(ctx, c)

	j, err := i.store.GetJob(ctx, c.JobID)
	if err != nil {
		return true, err
	}
	if err := i.markJobStarted(ctx, j); err != nil {
		return true, err
	}

	op := string(j.Kind)
	if i.guard != nil {
		if refuseErr := i.guard.Allow(ctx, c.TenantID, op); refuseErr != nil {
			return true, i.release(ctx, c, refuseErr)
		}
	}

	var res outcome.Result
	terminal := func(ctx context.Context) error {
		var execErr error
		res, execErr = i.executor.Execute(ctx, j, c)
		return execErr
	}

	execErr := i.mw(ctx, c, terminal)

	if i.guard != nil {
		var reportErr error
		if execErr != nil {
			reportErr = i.guard.ReportFailure(ctx, c.TenantID, op)
		} else {
			reportErr = i.guard.ReportSuccess(ctx, c.TenantID, op)
		}
		if reportErr != nil {
			i.logger.Warn("protection report failed",
				slog.String("tenant_id", c.TenantID),
				slog.String("error", reportErr.Error()),
			)
		}
	}

	if execErr != nil {
		_, recErr := i.recorder.Fail(ctx, c.ID, execErr)
		return true, recErr
	}
	_, recErr := i.recorder.Complete(ctx, c.ID, res)
	return true, recErr
}

// markJobStarted moves a pending job to processing on its first claim.
// The conditional transition makes concurrent first claims converge.
func (i *Invoker) markJobStarted(ctx context.Context, j *syncjob.Job) error {
	if j.Status != syncjob.StatusPending {
		return nil
	}
	swapped, err := i.store.TransitionJob(ctx, j.ID, syncjob.StatusProcessing, syncjob.StatusPending)
	if err != nil || !swapped {
		return err
	}
	fresh, err := i.store.GetJob(ctx, j.ID)
	if err != nil {
		return err
	}
	if fresh.StartedAt == nil {
		now := time.Now().UTC()
		fresh.StartedAt = &now
		if err := i.store.UpdateJob(ctx, fresh); err != nil {
			return err
		}
	}
	*j = *fresh
	return nil
}

// release returns a refused chunk to the pool without consuming an
// attempt. The chunk becomes claimable again once the refusal's
// retry-after has passed.
func (i *Invoker) release(ctx context.Context, c *syncjob.Chunk, cause error) error {
	retryAfter := time.Minute
	var re *protection.RefusedError
	if errors.As(cause, &re) && re.RetryAfter > 0 {
		retryAfter = re.RetryAfter
	}

	next := time.Now().UTC().Add(retryAfter)
	c.Status = syncjob.ChunkRetrying
	c.Attempts--
	c.WorkerID = id.ID{}
	c.StartedAt = nil
	c.NextRetryAt = &next
	if err := i.store.UpdateChunk(ctx, c); err != nil {
		return err
	}

	i.logger.Info("chunk deferred by protection",
		slog.String("chunk_id", c.ID.String()),
		slog.String("tenant_id", c.TenantID),
		slog.String("reason", cause.Error()),
		slog.Duration("retry_after", retryAfter),
	)
	return nil
}
