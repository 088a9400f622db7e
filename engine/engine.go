package engine

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/marchway/mailsync"
	"github.com/marchway/mailsync/audit"
	"github.com/marchway/mailsync/backoff"
	"github.com/marchway/mailsync/dlq"
	"github.com/marchway/mailsync/hook"
	mw "github.com/marchway/mailsync/middleware"
	"github.com/marchway/mailsync/outcome"
	"github.com/marchway/mailsync/protection"
	"github.com/marchway/mailsync/recovery"
	"github.com/marchway/mailsync/store"
	"github.com/marchway/mailsync/trigger"
	"github.com/marchway/mailsync/worker"
)

// MailboxResolver checks that the mailbox a sync job targets exists in
// the caller's system. Resolve returns mailsync.ErrParentNotFound (or
// an error wrapping it) when the mailbox is unknown.
type MailboxResolver interface {
	Resolve(ctx context.Context, tenantID, mailboxID string) error
}

// MailboxResolverFunc adapts a function to the MailboxResolver interface.
type MailboxResolverFunc func(ctx context.Context, tenantID, mailboxID string) error

// Resolve implements MailboxResolver.
func (f MailboxResolverFunc) Resolve(ctx context.Context, tenantID, mailboxID string) error {
	return f(ctx, tenantID, mailboxID)
}

// Engine is the assembled scheduling system.
type Engine struct {
	store    store.Store
	cfg      mailsync.Config
	logger   *slog.Logger
	resolver MailboxResolver

	executor worker.Executor
	trig     trigger.Trigger
	wake     <-chan trigger.Notification
	policy   *backoff.Policy
	mws      []mw.Middleware
	hooks    *hook.Registry
	guard    *protection.Guard
	guardCfg *protection.Config

	trail      *audit.Trail
	dlqService *dlq.Service
	recorder   *outcome.Recorder
	invoker    *worker.Invoker
	pool       *worker.Pool
	sweeper    *recovery.Sweeper
	retention  *recovery.Retention
	scheduler  *recovery.Scheduler

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	concurrency int
	running     bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the engine configuration. Zero fields fall back to
// DefaultConfig values.
func WithConfig(cfg mailsync.Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithExecutor sets the chunk executor. Without one the engine can
// plan, record, and recover but Invoke and Start refuse to run chunks.
func WithExecutor(x worker.Executor) Option {
	return func(e *Engine) { e.executor = x }
}

// WithTrigger sets the invocation trigger used for wake-up
// notifications. A *trigger.Memory trigger also feeds the resident
// pool's wake channel.
func WithTrigger(t trigger.Trigger) Option {
	return func(e *Engine) {
		e.trig = t
		if m, ok := t.(*trigger.Memory); ok {
			e.wake = m.C()
		}
	}
}

// WithWake points the resident pool at an external wake channel,
// typically fed by a Redis trigger listener.
func WithWake(ch <-chan trigger.Notification) Option {
	return func(e *Engine) { e.wake = ch }
}

// WithBackoff sets the retry policy.
func WithBackoff(p *backoff.Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithMiddleware appends middleware to the execution chain, after the
// built-in stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(e *Engine) { e.mws = append(e.mws, m) }
}

// WithHook registers a lifecycle hook.
func WithHook(h hook.Hook) Option {
	return func(e *Engine) { e.hooks.Register(h) }
}

// WithGuardConfig enables the protection layer with the given limits.
// Without this option executor calls are not rate limited.
func WithGuardConfig(cfg protection.Config) Option {
	return func(e *Engine) { e.guardCfg = &cfg }
}

// WithMailboxResolver sets the parent existence check consulted by
// CreateSyncJob.
func WithMailboxResolver(r MailboxResolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithConcurrency sets the resident pool's worker count.
func WithConcurrency(n int) Option {
	return func(e *Engine) { e.concurrency = n }
}

// WithTracerProvider sets a custom OTel TracerProvider. When set, the
// tracing middleware uses it instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider. When set, the
// metrics middleware uses it instead of the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) { e.meterProvider = mp }
}

// Build assembles an Engine over the given store.
func Build(st store.Store, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, mailsync.ErrNoStore
	}

	e := &Engine{
		store:       st,
		cfg:         mailsync.DefaultConfig(),
		logger:      slog.Default(),
		trig:        trigger.Noop{},
		concurrency: 4,
	}
	e.hooks = hook.NewRegistry(e.logger)

	for _, opt := range opts {
		opt(e)
	}
	e.cfg = mergeDefaults(e.cfg)

	if e.policy == nil {
		e.policy = backoff.NewPolicy()
	}

	e.trail = audit.NewTrail(st, e.logger)
	e.hooks.Register(audit.NewHook(st, e.logger))

	e.dlqService = dlq.NewService(st, st)

	if e.guardCfg != nil {
		e.guard = protection.NewGuard(st, *e.guardCfg)
	}

	e.recorder = outcome.NewRecorder(st,
		outcome.WithPolicy(e.policy),
		outcome.WithDLQ(e.dlqService),
		outcome.WithHooks(e.hooks),
		outcome.WithTrigger(e.trig),
		outcome.WithLogger(e.logger),
	)

	if e.executor != nil {
		// Built-in stack: recover → tracing → metrics → logging → scope → timeout.
		var tracingMw mw.Middleware
		if e.tracerProvider != nil {
			tracingMw = mw.TracingWithTracer(e.tracerProvider.Tracer("github.com/marchway/mailsync"))
		} else {
			tracingMw = mw.Tracing()
		}
		var metricsMw mw.Middleware
		if e.meterProvider != nil {
			metricsMw = mw.MetricsWithMeter(e.meterProvider.Meter("github.com/marchway/mailsync"))
		} else {
			metricsMw = mw.Metrics()
		}

		allMws := []mw.Middleware{
			mw.Recover(e.logger),
			tracingMw,
			metricsMw,
			mw.Logging(e.logger),
			mw.Scope(),
			mw.Timeout(e.cfg.ExecuteTimeout),
		}
		allMws = append(allMws, e.mws...)

		invOpts := []worker.InvokerOption{
			worker.WithHooks(e.hooks),
			worker.WithMiddleware(allMws...),
			worker.WithTenantParallelLimit(e.cfg.TenantParallelLimit),
			worker.WithInvokerLogger(e.logger),
		}
		if e.guard != nil {
			invOpts = append(invOpts, worker.WithGuard(e.guard))
		}
		e.invoker = worker.NewInvoker(st, e.executor, e.recorder, invOpts...)

		poolOpts := []worker.PoolOption{
			worker.WithPoolConcurrency(e.concurrency),
			worker.WithPoolLogger(e.logger),
		}
		if e.wake != nil {
			poolOpts = append(poolOpts, worker.WithWake(e.wake))
		}
		e.pool = worker.NewPool(e.invoker, poolOpts...)
	}

	e.sweeper = recovery.NewSweeper(st, e.cfg.StuckThreshold,
		recovery.WithSweeperHooks(e.hooks),
		recovery.WithSweeperTrigger(e.trig),
		recovery.WithSweeperLogger(e.logger),
	)
	e.retention = recovery.NewRetention(st, st, st, e.cfg.Retention, e.cfg.DLQRetention,
		recovery.WithRetentionTrail(e.trail),
		recovery.WithRetentionLogger(e.logger),
	)

	scheduler, err := recovery.NewScheduler(e.sweeper, e.retention,
		e.cfg.SweepSchedule, e.cfg.RetentionSchedule, e.logger)
	if err != nil {
		return nil, err
	}
	e.scheduler = scheduler

	return e, nil
}

func mergeDefaults(cfg mailsync.Config) mailsync.Config {
	def := mailsync.DefaultConfig()
	if cfg.BaseChunkSize <= 0 {
		cfg.BaseChunkSize = def.BaseChunkSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.TenantParallelLimit < 0 {
		cfg.TenantParallelLimit = def.TenantParallelLimit
	}
	if cfg.StuckThreshold <= 0 {
		cfg.StuckThreshold = def.StuckThreshold
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = def.SweepSchedule
	}
	if cfg.RetentionSchedule == "" {
		cfg.RetentionSchedule = def.RetentionSchedule
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.DLQRetention <= 0 {
		cfg.DLQRetention = def.DLQRetention
	}
	if cfg.EstimateDefaults == (mailsync.EstimateDefaults{}) {
		cfg.EstimateDefaults = def.EstimateDefaults
	}
	return cfg
}

// Start runs the recovery schedules and, when an executor is wired,
// the resident worker pool. It returns immediately.
func (e *Engine) Start(ctx context.Context) error {
	if e.running {
		return nil
	}
	if err := e.store.Migrate(ctx); err != nil {
		return fmt.Errorf("engine: migrate: %w", err)
	}
	if err := e.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("engine: start recovery scheduler: %w", err)
	}
	if e.pool != nil {
		if err := e.pool.Start(ctx); err != nil {
			return fmt.Errorf("engine: start worker pool: %w", err)
		}
	}
	e.running = true
	e.logger.Info("mailsync engine started")
	return nil
}

// Stop shuts the engine down: pool first so no new chunks are claimed,
// then the recovery scheduler and any pending retry nudge timers.
// Shutdown hooks fire last.
func (e *Engine) Stop(ctx context.Context) error {
	if !e.running {
		return nil
	}
	e.running = false

	var firstErr error
	if e.pool != nil {
		if err := e.pool.Stop(ctx); err != nil {
			firstErr = err
		}
	}
	if err := e.scheduler.Stop(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	e.recorder.Close()

	e.hooks.EmitShutdown(ctx)
	e.logger.Info("mailsync engine stopped")
	return firstErr
}

// Invoke claims and executes a single chunk. It reports whether a
// chunk was claimed; use it when an external scheduler drives
// execution instead of the resident pool.
func (e *Engine) Invoke(ctx context.Context) (bool, error) {
	if e.invoker == nil {
		return false, mailsync.ErrNoExecutor
	}
	return e.invoker.Invoke(ctx)
}

// Sweep runs one recovery sweep outside the cron schedule.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	return e.sweeper.Sweep(ctx)
}

// Hooks returns the lifecycle hook registry.
func (e *Engine) Hooks() *hook.Registry { return e.hooks }

// DLQ returns the dead-letter service.
func (e *Engine) DLQ() *dlq.Service { return e.dlqService }

// Guard returns the protection guard, or nil when protection is not
// configured.
func (e *Engine) Guard() *protection.Guard { return e.guard }

// Store returns the backing store.
func (e *Engine) Store() store.Store { return e.store }

// Config returns the effective configuration.
func (e *Engine) Config() mailsync.Config { return e.cfg }

// Recorder returns the outcome recorder, for callers that execute
// chunks themselves and only report results.
func (e *Engine) Recorder() *outcome.Recorder { return e.recorder }
