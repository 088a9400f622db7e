package fault_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/marchway/mailsync/fault"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		message string
		want    fault.Category
	}{
		{"request timed out after 30s", fault.CategoryTimeout},
		{"context deadline exceeded", fault.CategoryTimeout},
		{"429 Too Many Requests", fault.CategoryRateLimit},
		{"mailbox quota exceeded", fault.CategoryRateLimit},
		{"dial tcp: connection refused", fault.CategoryNetwork},
		{"unexpected EOF", fault.CategoryNetwork},
		{"503 Service Unavailable", fault.CategoryTemporary},
		{"please try again later", fault.CategoryTemporary},
		{"401 Unauthorized", fault.CategoryAuth},
		{"oauth token expired", fault.CategoryAuth},
		{"403 Forbidden", fault.CategoryPermission},
		{"permission denied for folder", fault.CategoryPermission},
		{"message not found", fault.CategoryNotFound},
		{"folder does not exist", fault.CategoryNotFound},
		{"409 Conflict on save", fault.CategoryDataConflict},
		{"duplicate key value violates unique constraint", fault.CategoryDataConflict},
		{"runtime error: nil pointer dereference", fault.CategoryProcessing},
		{"something entirely unexpected", fault.CategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			if got := fault.Classify(tt.message); got != tt.want {
				t.Errorf("Classify(%q) = %v, want %v", tt.message, got, tt.want)
			}
		})
	}
}

func TestCategoryOf(t *testing.T) {
	// A fault.Error reports its own category, even when wrapped.
	fe := fault.New(fault.CategoryRateLimit, "slow down")
	wrapped := fmt.Errorf("execute chunk: %w", fe)
	if got := fault.CategoryOf(wrapped); got != fault.CategoryRateLimit {
		t.Errorf("CategoryOf(wrapped fault) = %v, want %v", got, fault.CategoryRateLimit)
	}

	// Plain errors are classified from their message.
	plain := errors.New("connection reset by peer")
	if got := fault.CategoryOf(plain); got != fault.CategoryNetwork {
		t.Errorf("CategoryOf(plain) = %v, want %v", got, fault.CategoryNetwork)
	}

	if got := fault.CategoryOf(nil); got != fault.CategoryUnknown {
		t.Errorf("CategoryOf(nil) = %v, want %v", got, fault.CategoryUnknown)
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name     string
		category fault.Category
		attempts int
		max      int
		want     bool
	}{
		{"network attempt 1 of 3", fault.CategoryNetwork, 1, 3, true},
		{"network attempt 3 of 3", fault.CategoryNetwork, 3, 3, false},
		{"timeout attempt 2 of 3", fault.CategoryTimeout, 2, 3, true},
		{"auth attempt 1 of 5 retried once", fault.CategoryAuth, 1, 5, true},
		{"auth attempt 2 of 5 exhausted", fault.CategoryAuth, 2, 5, false},
		{"processing attempt 2 of 5 exhausted", fault.CategoryProcessing, 2, 5, false},
		{"permission attempt 1 never retried", fault.CategoryPermission, 1, 3, false},
		{"not_found attempt 1 never retried", fault.CategoryNotFound, 1, 3, false},
		{"data_conflict attempt 1 never retried", fault.CategoryDataConflict, 1, 3, false},
		{"unknown attempt 1 retried once", fault.CategoryUnknown, 1, 3, true},
		{"unknown attempt 2 exhausted", fault.CategoryUnknown, 2, 3, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fault.Retryable(tt.category, tt.attempts, tt.max); got != tt.want {
				t.Errorf("Retryable(%v, %d, %d) = %v, want %v",
					tt.category, tt.attempts, tt.max, got, tt.want)
			}
		})
	}
}
