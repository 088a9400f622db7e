package protection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/marchway/mailsync"
)

// Limits are the per-tenant call budgets. Zero disables a window.
type Limits struct {
	PerMinute int
	PerHour   int
	PerDay    int

	// Rate and Burst configure the in-process token bucket fronting
	// the persisted windows. Zero Rate disables it.
	Rate  float64
	Burst int
}

// BreakerConfig tunes the circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is how many consecutive failures open the circuit.
	FailureThreshold int
	// SuccessThreshold is how many half-open successes close it again.
	SuccessThreshold int
	// Cooldown is how long an open circuit refuses calls before
	// allowing a probe.
	Cooldown time.Duration
}

// Config bundles the guard's tuning.
type Config struct {
	Limits  Limits
	Breaker BreakerConfig
}

// DefaultConfig returns production defaults: 60/min, 1000/h, 10000/day,
// breaker opening after 5 consecutive failures with a 2 minute cooldown.
func DefaultConfig() Config {
	return Config{
		Limits: Limits{
			PerMinute: 60,
			PerHour:   1000,
			PerDay:    10000,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Cooldown:         2 * time.Minute,
		},
	}
}

// RefusedError reports a refused call together with the earliest time a
// retry makes sense. It unwraps to ErrRateLimited or ErrCircuitOpen.
type RefusedError struct {
	Reason     string
	RetryAfter time.Duration
	sentinel   error
}

func (e *RefusedError) Error() string {
	return fmt.Sprintf("%s (retry after %s)", e.Reason, e.RetryAfter.Round(time.Second))
}

func (e *RefusedError) Unwrap() error { return e.sentinel }

// Guard enforces rate limits and circuit breaking for executor calls.
// Safe for concurrent use.
type Guard struct {
	store Store
	cfg   Config

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewGuard creates a Guard over the given protection store.
func NewGuard(store Store, cfg Config) *Guard {
	return &Guard{
		store:   store,
		cfg:     cfg,
		buckets: make(map[string]*rate.Limiter),
	}
}

// Allow checks whether a call for the tenant+operation may proceed and
// counts it. Refusals return a *RefusedError carrying a retry-after
// hint; the upstream call must not be attempted.
func (g *Guard) Allow(ctx context.Context, tenantID, operation string) error {
	// In-process bucket first: cheapest refusal, no store round trip.
	if b := g.bucket(tenantID, operation); b != nil && !b.Allow() {
		return &RefusedError{
			Reason:     "in-process rate limit exceeded",
			RetryAfter: time.Second,
			sentinel:   mailsync.ErrRateLimited,
		}
	}

	var refused *RefusedError
	_, err := g.store.Mutate(ctx, tenantID, operation, func(s *State) {
		now := time.Now().UTC()
		s.rollWindows(now)

		if refused = g.check(s, now); refused != nil {
			return
		}
		s.recordCall(now)
	})
	if err != nil {
		return fmt.Errorf("protection: allow %s/%s: %w", tenantID, operation, err)
	}
	if refused != nil {
		return refused
	}
	return nil
}

// check evaluates throttle, breaker, and window limits. Returns nil
// when the call may proceed.
func (g *Guard) check(s *State, now time.Time) *RefusedError {
	if s.ThrottledUntil != nil && now.Before(*s.ThrottledUntil) {
		return &RefusedError{
			Reason:     "tenant throttled",
			RetryAfter: s.ThrottledUntil.Sub(now),
			sentinel:   mailsync.ErrRateLimited,
		}
	}

	if s.Breaker == BreakerOpen {
		if s.ReopenAfter != nil && now.Before(*s.ReopenAfter) {
			return &RefusedError{
				Reason:     "circuit breaker open",
				RetryAfter: s.ReopenAfter.Sub(now),
				sentinel:   mailsync.ErrCircuitOpen,
			}
		}
		// Cooldown expired: move to half-open and let the probe through.
		s.Breaker = BreakerHalfOpen
		s.ConsecutiveSuccesses = 0
	}

	lim := g.cfg.Limits
	switch {
	case lim.PerMinute > 0 && s.MinuteCount >= lim.PerMinute:
		retry := s.MinuteStart.Add(time.Minute).Sub(now)
		s.throttle(now, retry)
		return &RefusedError{Reason: "per-minute limit exceeded", RetryAfter: retry, sentinel: mailsync.ErrRateLimited}
	case lim.PerHour > 0 && s.HourCount >= lim.PerHour:
		retry := s.HourStart.Add(time.Hour).Sub(now)
		s.throttle(now, retry)
		return &RefusedError{Reason: "per-hour limit exceeded", RetryAfter: retry, sentinel: mailsync.ErrRateLimited}
	case lim.PerDay > 0 && s.DayCount >= lim.PerDay:
		retry := s.DayStart.Add(24 * time.Hour).Sub(now)
		s.throttle(now, retry)
		return &RefusedError{Reason: "per-day limit exceeded", RetryAfter: retry, sentinel: mailsync.ErrRateLimited}
	}

	return nil
}

// ReportSuccess records a successful upstream call.
func (g *Guard) ReportSuccess(ctx context.Context, tenantID, operation string) error {
	_, err := g.store.Mutate(ctx, tenantID, operation, func(s *State) {
		s.recordSuccess(g.cfg.Breaker)
	})
	if err != nil {
		return fmt.Errorf("protection: report success %s/%s: %w", tenantID, operation, err)
	}
	return nil
}

// ReportFailure records a failed upstream call.
func (g *Guard) ReportFailure(ctx context.Context, tenantID, operation string) error {
	_, err := g.store.Mutate(ctx, tenantID, operation, func(s *State) {
		s.recordFailure(g.cfg.Breaker, time.Now().UTC())
	})
	if err != nil {
		return fmt.Errorf("protection: report failure %s/%s: %w", tenantID, operation, err)
	}
	return nil
}

// Do wraps fn with Allow and the matching outcome report. A refusal is
// returned without invoking fn.
func (g *Guard) Do(ctx context.Context, tenantID, operation string, fn func(context.Context) error) error {
	if err := g.Allow(ctx, tenantID, operation); err != nil {
		return err
	}

	err := fn(ctx)
	if err != nil {
		// Report best-effort: the caller's error is the one that matters.
		_ = g.ReportFailure(ctx, tenantID, operation)
		return err
	}
	_ = g.ReportSuccess(ctx, tenantID, operation)
	return nil
}

// IsRefused reports whether err is a protection refusal (rate limit or
// open circuit) rather than an upstream failure.
func IsRefused(err error) bool {
	return errors.Is(err, mailsync.ErrRateLimited) || errors.Is(err, mailsync.ErrCircuitOpen)
}

// Stats returns the current persisted state for a tenant+operation, or
// nil when the pair has never been used.
func (g *Guard) Stats(ctx context.Context, tenantID, operation string) (*State, error) {
	return g.store.GetProtection(ctx, tenantID, operation)
}

// bucket returns the in-process limiter for a tenant+operation, lazily
// created. Returns nil when no in-process rate is configured.
func (g *Guard) bucket(tenantID, operation string) *rate.Limiter {
	if g.cfg.Limits.Rate <= 0 {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	key := tenantID + ":" + operation
	b, ok := g.buckets[key]
	if !ok {
		burst := g.cfg.Limits.Burst
		if burst <= 0 {
			burst = 1
		}
		b = rate.NewLimiter(rate.Limit(g.cfg.Limits.Rate), burst)
		g.buckets[key] = b
	}
	return b
}

// throttle marks the tenant throttled for the given duration.
func (s *State) throttle(now time.Time, d time.Duration) {
	until := now.Add(d)
	s.ThrottledUntil = &until
}
