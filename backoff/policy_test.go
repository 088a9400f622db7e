package backoff_test

import (
	"testing"
	"time"

	"github.com/marchway/mailsync/backoff"
	"github.com/marchway/mailsync/fault"
)

func TestPolicy_TransientRetriesWithinBudget(t *testing.T) {
	p := backoff.NewPolicy(backoff.WithStrategy(backoff.NewConstant(time.Minute)))

	d := p.Decide(fault.CategoryNetwork, 1, 3)
	if !d.Retry {
		t.Fatal("network failure on attempt 1 of 3 should retry")
	}
	if d.Delay != time.Minute {
		t.Errorf("Delay = %v, want %v", d.Delay, time.Minute)
	}

	d = p.Decide(fault.CategoryNetwork, 3, 3)
	if d.Retry {
		t.Error("network failure on attempt 3 of 3 should not retry")
	}
}

func TestPolicy_PermanentNeverRetries(t *testing.T) {
	p := backoff.NewPolicy()

	for _, cat := range []fault.Category{
		fault.CategoryPermission,
		fault.CategoryNotFound,
		fault.CategoryDataConflict,
	} {
		if d := p.Decide(cat, 1, 5); d.Retry {
			t.Errorf("%s failure should never retry", cat)
		}
	}
}

func TestPolicy_AuthRetriesOnce(t *testing.T) {
	p := backoff.NewPolicy()

	if d := p.Decide(fault.CategoryAuth, 1, 5); !d.Retry {
		t.Error("auth failure on attempt 1 should retry once")
	}
	if d := p.Decide(fault.CategoryAuth, 2, 5); d.Retry {
		t.Error("auth failure on attempt 2 should not retry again")
	}
}

func TestPolicy_DampsHotCategories(t *testing.T) {
	p := backoff.NewPolicy(
		backoff.WithStrategy(backoff.NewConstant(time.Minute)),
		backoff.WithDampingThreshold(3),
	)

	// First three failures are under the threshold.
	for i := range 3 {
		d := p.Decide(fault.CategoryTimeout, 1, 5)
		if d.Delay != time.Minute {
			t.Fatalf("failure %d: Delay = %v, want %v", i+1, d.Delay, time.Minute)
		}
	}

	// The fourth sees three recent failures and gets stretched.
	d := p.Decide(fault.CategoryTimeout, 1, 5)
	if d.Delay != 2*time.Minute {
		t.Errorf("damped Delay = %v, want %v", d.Delay, 2*time.Minute)
	}

	// Other categories are unaffected.
	d = p.Decide(fault.CategoryNetwork, 1, 5)
	if d.Delay != time.Minute {
		t.Errorf("other category Delay = %v, want %v", d.Delay, time.Minute)
	}
}

func TestPolicy_RecentFailuresCountsWindow(t *testing.T) {
	p := backoff.NewPolicy(backoff.WithDampingWindow(time.Hour))

	p.Decide(fault.CategoryTemporary, 1, 3)
	p.Decide(fault.CategoryTemporary, 2, 3)

	if got := p.RecentFailures(fault.CategoryTemporary); got != 2 {
		t.Errorf("RecentFailures = %d, want 2", got)
	}
	if got := p.RecentFailures(fault.CategoryNetwork); got != 0 {
		t.Errorf("RecentFailures(other) = %d, want 0", got)
	}
}
