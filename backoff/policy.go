package backoff

import (
	"sync"
	"time"

	"github.com/marchway/mailsync/fault"
)

// Decision is the outcome of consulting the retry policy for one failure.
type Decision struct {
	// Retry reports whether the unit should be retried at all.
	Retry bool
	// Delay is how long the unit must wait before becoming claimable
	// again. Zero when Retry is false.
	Delay time.Duration
}

// PolicyOption configures a Policy.
type PolicyOption func(*Policy)

// WithStrategy sets the delay strategy. Default: DefaultStrategy().
func WithStrategy(s Strategy) PolicyOption {
	return func(p *Policy) { p.strategy = s }
}

// WithDampingWindow sets the window over which same-category failures
// are counted for damping. Default: 5 minutes.
func WithDampingWindow(d time.Duration) PolicyOption {
	return func(p *Policy) { p.window = d }
}

// WithDampingThreshold sets how many recent same-category failures
// cause delays for that category to be stretched. Default: 10.
func WithDampingThreshold(n int) PolicyOption {
	return func(p *Policy) { p.threshold = n }
}

// Policy decides whether a failed unit is retried and with what delay.
//
// The retry eligibility itself follows the fault taxonomy: transient
// categories use the unit's full attempt budget, auth and processing
// errors get a single retry, permanent categories none. On top of that
// the policy counts recent failures per category; a category failing
// heavily across the fleet indicates a degraded upstream, and its
// delays are doubled so retries back off further instead of hammering
// it.
type Policy struct {
	strategy  Strategy
	window    time.Duration
	threshold int

	mu       sync.Mutex
	failures map[fault.Category][]time.Time
}

// NewPolicy creates a retry policy.
func NewPolicy(opts ...PolicyOption) *Policy {
	p := &Policy{
		strategy:  DefaultStrategy(),
		window:    5 * time.Minute,
		threshold: 10,
		failures:  make(map[fault.Category][]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Decide records the failure and returns the retry decision for a unit
// that just failed its attempts-th attempt (of maxAttempts) with the
// given category.
func (p *Policy) Decide(category fault.Category, attempts, maxAttempts int) Decision {
	recent := p.recordFailure(category)

	if !fault.Retryable(category, attempts, maxAttempts) {
		return Decision{}
	}

	delay := p.strategy.Delay(attempts)
	if recent >= p.threshold {
		delay *= 2
	}
	return Decision{Retry: true, Delay: delay}
}

// RecentFailures returns how many failures of the category fell inside
// the damping window.
func (p *Policy) RecentFailures(category fault.Category) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.prune(category, time.Now()))
}

// recordFailure appends a failure timestamp and returns the number of
// failures in the window before this one.
func (p *Policy) recordFailure(category fault.Category) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	kept := p.prune(category, now)
	n := len(kept)
	p.failures[category] = append(kept, now)
	return n
}

// prune drops failure timestamps older than the window. Caller holds mu.
func (p *Policy) prune(category fault.Category, now time.Time) []time.Time {
	cutoff := now.Add(-p.window)
	kept := p.failures[category][:0]
	for _, t := range p.failures[category] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	p.failures[category] = kept
	return kept
}
