package protection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/marchway/mailsync"
)

// fakeStore is a minimal in-memory protection store for guard tests.
type fakeStore struct {
	mu     sync.Mutex
	states map[string]*State
}

func newFakeStore() *fakeStore {
	return &fakeStore{states: make(map[string]*State)}
}

func (f *fakeStore) GetProtection(_ context.Context, tenantID, operation string) (*State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.states[tenantID+":"+operation]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStore) Mutate(_ context.Context, tenantID, operation string, fn func(*State)) (*State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := tenantID + ":" + operation
	s, ok := f.states[key]
	if !ok {
		s = NewState(tenantID, operation, time.Now().UTC())
		f.states[key] = s
	}
	fn(s)
	s.Touch()
	cp := *s
	return &cp, nil
}

func (f *fakeStore) ListProtection(_ context.Context, tenantID string) ([]*State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*State
	for _, s := range f.states {
		if tenantID == "" || s.TenantID == tenantID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func testConfig() Config {
	return Config{
		Limits: Limits{PerMinute: 3, PerHour: 100, PerDay: 1000},
		Breaker: BreakerConfig{
			FailureThreshold: 2,
			SuccessThreshold: 2,
			Cooldown:         time.Minute,
		},
	}
}

func TestGuardMinuteLimit(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	g := NewGuard(store, testConfig())

	for i := 0; i < 3; i++ {
		if err := g.Allow(ctx, "tenant-1", "sync"); err != nil {
			t.Fatalf("Allow call %d: unexpected error %v", i+1, err)
		}
	}

	err := g.Allow(ctx, "tenant-1", "sync")
	if err == nil {
		t.Fatal("Allow beyond per-minute limit: got nil, want refusal")
	}
	if !errors.Is(err, mailsync.ErrRateLimited) {
		t.Errorf("refusal = %v, want ErrRateLimited", err)
	}

	var refused *RefusedError
	if !errors.As(err, &refused) {
		t.Fatalf("refusal type = %T, want *RefusedError", err)
	}
	if refused.RetryAfter <= 0 || refused.RetryAfter > time.Minute {
		t.Errorf("RetryAfter = %s, want in (0, 1m]", refused.RetryAfter)
	}

	s, err := store.GetProtection(ctx, "tenant-1", "sync")
	if err != nil {
		t.Fatalf("GetProtection: %v", err)
	}
	if s.ThrottledUntil == nil {
		t.Error("ThrottledUntil = nil after refusal, want set")
	}
	if s.MinuteCount != 3 {
		t.Errorf("MinuteCount = %d, want 3 (refused call not counted)", s.MinuteCount)
	}
}

func TestGuardLimitIsolatedPerTenant(t *testing.T) {
	ctx := context.Background()
	g := NewGuard(newFakeStore(), testConfig())

	for i := 0; i < 3; i++ {
		if err := g.Allow(ctx, "tenant-1", "sync"); err != nil {
			t.Fatalf("tenant-1 call %d: %v", i+1, err)
		}
	}
	if err := g.Allow(ctx, "tenant-1", "sync"); err == nil {
		t.Fatal("tenant-1 over limit: got nil, want refusal")
	}

	// A different tenant is unaffected.
	if err := g.Allow(ctx, "tenant-2", "sync"); err != nil {
		t.Errorf("tenant-2 first call: unexpected error %v", err)
	}
}

func TestGuardBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	g := NewGuard(store, testConfig())

	for i := 0; i < 2; i++ {
		if err := g.Allow(ctx, "tenant-1", "sync"); err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if err := g.ReportFailure(ctx, "tenant-1", "sync"); err != nil {
			t.Fatalf("ReportFailure: %v", err)
		}
	}

	s, _ := store.GetProtection(ctx, "tenant-1", "sync")
	if s.Breaker != BreakerOpen {
		t.Fatalf("Breaker = %q after %d failures, want open", s.Breaker, 2)
	}

	err := g.Allow(ctx, "tenant-1", "sync")
	if !errors.Is(err, mailsync.ErrCircuitOpen) {
		t.Errorf("Allow with open breaker = %v, want ErrCircuitOpen", err)
	}
}

func TestGuardBreakerHalfOpenProbeAndClose(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	g := NewGuard(store, testConfig())

	// Force the breaker open with an already-expired cooldown.
	past := time.Now().UTC().Add(-time.Second)
	_, err := store.Mutate(ctx, "tenant-1", "sync", func(s *State) {
		s.Breaker = BreakerOpen
		s.ReopenAfter = &past
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}

	// Cooldown expired: the probe is let through and moves to half-open.
	if err := g.Allow(ctx, "tenant-1", "sync"); err != nil {
		t.Fatalf("probe after cooldown: %v", err)
	}
	s, _ := store.GetProtection(ctx, "tenant-1", "sync")
	if s.Breaker != BreakerHalfOpen {
		t.Fatalf("Breaker = %q after probe, want half_open", s.Breaker)
	}

	// SuccessThreshold=2 half-open successes close it.
	for i := 0; i < 2; i++ {
		if err := g.ReportSuccess(ctx, "tenant-1", "sync"); err != nil {
			t.Fatalf("ReportSuccess: %v", err)
		}
	}
	s, _ = store.GetProtection(ctx, "tenant-1", "sync")
	if s.Breaker != BreakerClosed {
		t.Errorf("Breaker = %q after %d successes, want closed", s.Breaker, 2)
	}
	if s.ReopenAfter != nil {
		t.Error("ReopenAfter still set after breaker closed")
	}
}

func TestGuardBreakerHalfOpenFailureReopens(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	g := NewGuard(store, testConfig())

	_, err := store.Mutate(ctx, "tenant-1", "sync", func(s *State) {
		s.Breaker = BreakerHalfOpen
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}

	if err := g.ReportFailure(ctx, "tenant-1", "sync"); err != nil {
		t.Fatalf("ReportFailure: %v", err)
	}

	s, _ := store.GetProtection(ctx, "tenant-1", "sync")
	if s.Breaker != BreakerOpen {
		t.Errorf("Breaker = %q after half-open failure, want open", s.Breaker)
	}
	if s.ReopenAfter == nil {
		t.Error("ReopenAfter = nil after reopen, want set")
	} else if !s.ReopenAfter.After(time.Now().UTC()) {
		t.Errorf("ReopenAfter = %s, want in the future", s.ReopenAfter)
	}
}

func TestGuardDo(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	g := NewGuard(store, testConfig())

	calls := 0
	if err := g.Do(ctx, "tenant-1", "sync", func(context.Context) error {
		calls++
		return nil
	}); err != nil {
		t.Fatalf("Do success: %v", err)
	}
	if calls != 1 {
		t.Fatalf("fn calls = %d, want 1", calls)
	}

	upstream := errors.New("imap: connection reset")
	err := g.Do(ctx, "tenant-1", "sync", func(context.Context) error {
		calls++
		return upstream
	})
	if !errors.Is(err, upstream) {
		t.Errorf("Do failure = %v, want upstream error", err)
	}

	s, _ := store.GetProtection(ctx, "tenant-1", "sync")
	if s.TotalCalls != 2 || s.TotalFailures != 1 {
		t.Errorf("totals = %d calls / %d failures, want 2 / 1", s.TotalCalls, s.TotalFailures)
	}

	// Exhaust the minute window: fn must not run on refusal.
	for g.Allow(ctx, "tenant-1", "sync") == nil {
	}
	before := calls
	err = g.Do(ctx, "tenant-1", "sync", func(context.Context) error {
		calls++
		return nil
	})
	if !IsRefused(err) {
		t.Fatalf("Do over limit = %v, want refusal", err)
	}
	if calls != before {
		t.Error("fn ran despite refusal")
	}
}

func TestGuardInProcessBucket(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Limits.PerMinute = 0
	cfg.Limits.Rate = 1
	cfg.Limits.Burst = 2
	g := NewGuard(newFakeStore(), cfg)

	if err := g.Allow(ctx, "tenant-1", "sync"); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if err := g.Allow(ctx, "tenant-1", "sync"); err != nil {
		t.Fatalf("second call (burst): %v", err)
	}
	if err := g.Allow(ctx, "tenant-1", "sync"); !errors.Is(err, mailsync.ErrRateLimited) {
		t.Errorf("third call = %v, want ErrRateLimited from bucket", err)
	}
}

func TestIsRefused(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", &RefusedError{sentinel: mailsync.ErrRateLimited}, true},
		{"circuit open", &RefusedError{sentinel: mailsync.ErrCircuitOpen}, true},
		{"upstream", errors.New("imap: timeout"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		if got := IsRefused(tt.err); got != tt.want {
			t.Errorf("IsRefused(%s) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
