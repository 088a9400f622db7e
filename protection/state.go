// Package protection guards calls into the external executor with
// per-tenant rate limits and per (tenant, operation) circuit breakers.
//
// Counters and breaker state are persisted as ProtectionState rows,
// created lazily on first use and mutated only through the store's
// atomic [Store.Mutate] so concurrent invocations for the same tenant
// never read-modify-write from application code. An in-process token
// bucket (golang.org/x/time/rate) fronts the persisted windows to shed
// bursts before they reach the store.
package protection

import (
	"context"
	"time"

	"github.com/marchway/mailsync"
)

// BreakerState is the circuit breaker position for one tenant+operation.
type BreakerState string

const (
	// BreakerClosed: calls flow normally.
	BreakerClosed BreakerState = "closed"
	// BreakerOpen: calls are refused until the cooldown expires.
	BreakerOpen BreakerState = "open"
	// BreakerHalfOpen: cooldown expired; probe calls are allowed and
	// accumulate toward closing.
	BreakerHalfOpen BreakerState = "half_open"
)

// State is the persisted protection record for one tenant+operation.
// Mutated only through Store.Mutate.
type State struct {
	mailsync.Entity

	TenantID  string `json:"tenant_id"`
	Operation string `json:"operation"`

	// Sliding-window call counters.
	MinuteCount int       `json:"minute_count"`
	HourCount   int       `json:"hour_count"`
	DayCount    int       `json:"day_count"`
	MinuteStart time.Time `json:"minute_start"`
	HourStart   time.Time `json:"hour_start"`
	DayStart    time.Time `json:"day_start"`

	// ThrottledUntil refuses calls outright until it passes.
	ThrottledUntil *time.Time `json:"throttled_until,omitempty"`

	// Circuit breaker.
	Breaker              BreakerState `json:"breaker"`
	ConsecutiveFailures  int          `json:"consecutive_failures"`
	ConsecutiveSuccesses int          `json:"consecutive_successes"`
	ReopenAfter          *time.Time   `json:"reopen_after,omitempty"`

	// Lifetime totals, for stats endpoints.
	TotalCalls    int64 `json:"total_calls"`
	TotalFailures int64 `json:"total_failures"`
}

// NewState returns a fresh closed-breaker state with windows anchored
// at now.
func NewState(tenantID, operation string, now time.Time) *State {
	return &State{
		Entity:      mailsync.NewEntity(),
		TenantID:    tenantID,
		Operation:   operation,
		MinuteStart: now,
		HourStart:   now,
		DayStart:    now,
		Breaker:     BreakerClosed,
	}
}

// rollWindows resets any counter whose window has elapsed.
func (s *State) rollWindows(now time.Time) {
	if now.Sub(s.MinuteStart) >= time.Minute {
		s.MinuteCount = 0
		s.MinuteStart = now
	}
	if now.Sub(s.HourStart) >= time.Hour {
		s.HourCount = 0
		s.HourStart = now
	}
	if now.Sub(s.DayStart) >= 24*time.Hour {
		s.DayCount = 0
		s.DayStart = now
	}
}

// recordCall rolls windows and increments all counters.
func (s *State) recordCall(now time.Time) {
	s.rollWindows(now)
	s.MinuteCount++
	s.HourCount++
	s.DayCount++
	s.TotalCalls++
}

// recordSuccess applies a successful call to the breaker and clears
// throttling.
func (s *State) recordSuccess(cfg BreakerConfig) {
	s.ThrottledUntil = nil
	s.ConsecutiveFailures = 0

	switch s.Breaker {
	case BreakerHalfOpen:
		s.ConsecutiveSuccesses++
		if s.ConsecutiveSuccesses >= cfg.SuccessThreshold {
			s.Breaker = BreakerClosed
			s.ConsecutiveSuccesses = 0
			s.ReopenAfter = nil
		}
	case BreakerOpen:
		// A success while open means the cooldown had expired and a
		// probe got through; treat it as the first half-open success.
		s.Breaker = BreakerHalfOpen
		s.ConsecutiveSuccesses = 1
	default:
		s.ConsecutiveSuccesses = 0
	}
}

// recordFailure applies a failed call to the breaker.
func (s *State) recordFailure(cfg BreakerConfig, now time.Time) {
	s.TotalFailures++
	s.ConsecutiveSuccesses = 0
	s.ConsecutiveFailures++

	reopen := now.Add(cfg.Cooldown)
	switch s.Breaker {
	case BreakerHalfOpen:
		// Any failure while probing reopens immediately.
		s.Breaker = BreakerOpen
		s.ReopenAfter = &reopen
	case BreakerClosed:
		if s.ConsecutiveFailures >= cfg.FailureThreshold {
			s.Breaker = BreakerOpen
			s.ReopenAfter = &reopen
		}
	case BreakerOpen:
		s.ReopenAfter = &reopen
	}
}

// Store defines the persistence contract for protection state.
type Store interface {
	// GetProtection returns the state for a tenant+operation, or nil
	// when none exists yet.
	GetProtection(ctx context.Context, tenantID, operation string) (*State, error)

	// Mutate atomically loads (or lazily creates) the state for a
	// tenant+operation, applies fn under the store's exclusive-locking
	// discipline, persists the result, and returns it. fn must not
	// retain the *State.
	Mutate(ctx context.Context, tenantID, operation string, fn func(*State)) (*State, error)

	// ListProtection returns all states for a tenant. Empty tenantID
	// lists everything.
	ListProtection(ctx context.Context, tenantID string) ([]*State, error)
}
