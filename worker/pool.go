package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/marchway/mailsync/trigger"
)

// Pool manages a set of concurrent worker goroutines that drain the
// chunk pool. Workers are woken by trigger notifications when one is
// wired, and fall back to a poll interval so that lost notifications
// cost at most one interval of latency.
type Pool struct {
	invoker      *Invoker
	concurrency  int
	pollInterval time.Duration
	wake         <-chan trigger.Notification
	logger       *slog.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPollInterval sets how long an idle worker sleeps before checking
// for work again.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithWake points the pool at a trigger notification channel, usually
// trigger.Memory.C or a channel fed by a Redis listener. Notifications
// cut idle latency; the pool never relies on them for correctness.
func WithWake(ch <-chan trigger.Notification) PoolOption {
	return func(p *Pool) { p.wake = ch }
}

// WithPoolLogger sets the logger.
func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// NewPool creates a worker pool around an Invoker.
func NewPool(invoker *Invoker, opts ...PoolOption) *Pool {
	p := &Pool{
		invoker:      invoker,
		concurrency:  4,
		pollInterval: 5 * time.Second,
		logger:       slog.Default(),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.invoker.WorkerID().String()),
		slog.Int("concurrency", p.concurrency),
		slog.Duration("poll_interval", p.pollInterval),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.loop()
	}
	return nil
}

// Stop signals all workers to stop and waits for in-flight chunk
// executions to finish or the context to expire.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping",
		slog.String("worker_id", p.invoker.WorkerID().String()))

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out with chunks in flight")
		return ctx.Err()
	}
}

// loop is run by each worker goroutine: drain the pool, then sleep
// until woken or the poll interval elapses.
func (p *Pool) loop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		claimed, err := p.invoker.Invoke(context.Background())
		if err != nil {
			p.logger.Error("chunk invocation error", slog.String("error", err.Error()))
			p.sleep()
			continue
		}
		if claimed {
			// Claimed one; keep draining without sleeping.
			continue
		}
		p.sleep()
	}
}

// sleep blocks until a wake notification, the poll interval, or stop.
func (p *Pool) sleep() {
	timer := time.NewTimer(p.pollInterval)
	defer timer.Stop()

	if p.wake == nil {
		select {
		case <-timer.C:
		case <-p.stopCh:
		}
		return
	}

	select {
	case <-p.wake:
	case <-timer.C:
	case <-p.stopCh:
	}
}
