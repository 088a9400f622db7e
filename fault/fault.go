// Package fault defines the error taxonomy used by the retry policy.
// Executor failures are classified into categories; the category decides
// whether a failed unit is retried, retried once, or failed immediately.
package fault

import (
	"errors"
	"fmt"
	"strings"
)

// Category classifies an executor failure for retry decisions.
type Category string

const (
	// Transient categories: always eligible for retry up to the
	// attempt budget.
	CategoryTimeout   Category = "timeout"
	CategoryRateLimit Category = "rate_limit"
	CategoryNetwork   Category = "network"
	CategoryTemporary Category = "temporary"

	// Limited categories: retried at most once.
	CategoryAuth       Category = "auth"
	CategoryProcessing Category = "processing_error"

	// Permanent categories: never retried.
	CategoryPermission   Category = "permission"
	CategoryNotFound     Category = "not_found"
	CategoryDataConflict Category = "data_conflict"

	// CategoryUnknown is the fallback for unclassifiable failures.
	// Treated as retryable once, like processing_error.
	CategoryUnknown Category = "unknown"
)

// Error is a categorized executor failure.
type Error struct {
	Category Category
	Message  string
}

// New creates a categorized error.
func New(category Category, message string) *Error {
	return &Error{Category: category, Message: message}
}

// Newf creates a categorized error with a formatted message.
func Newf(category Category, format string, args ...any) *Error {
	return &Error{Category: category, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

// CategoryOf extracts the category from err. A *fault.Error reports its
// own category; anything else is classified from the error text.
func CategoryOf(err error) Category {
	if err == nil {
		return CategoryUnknown
	}

	var fe *Error
	if errors.As(err, &fe) {
		return fe.Category
	}

	return Classify(err.Error())
}

// classifier pairs message fragments with the category they indicate.
// Order matters: earlier entries win, so the more specific fragments
// come first.
var classifier = []struct {
	category  Category
	fragments []string
}{
	{CategoryRateLimit, []string{"rate limit", "too many requests", "429", "quota exceeded", "throttl"}},
	{CategoryTimeout, []string{"timeout", "timed out", "deadline exceeded", "context canceled"}},
	{CategoryAuth, []string{"401", "unauthorized", "unauthenticated", "token expired", "invalid_grant", "invalid credentials"}},
	{CategoryPermission, []string{"403", "forbidden", "permission denied", "access denied", "insufficient privileges"}},
	{CategoryNotFound, []string{"404", "not found", "no such", "does not exist", "itemnotfound"}},
	{CategoryDataConflict, []string{"409", "conflict", "duplicate key", "already exists", "precondition failed", "etag"}},
	{CategoryNetwork, []string{"connection refused", "connection reset", "no such host", "network", "broken pipe", "eof", "tls"}},
	{CategoryTemporary, []string{"503", "502", "unavailable", "try again", "temporar", "server busy", "overloaded"}},
	{CategoryProcessing, []string{"panic", "nil pointer", "index out of range", "invalid state"}},
}

// Classify derives a category from an upstream error message. The caller
// never assumes a category; classification is always derived from the
// reported error.
func Classify(message string) Category {
	m := strings.ToLower(message)
	for _, c := range classifier {
		for _, frag := range c.fragments {
			if strings.Contains(m, frag) {
				return c.category
			}
		}
	}
	return CategoryUnknown
}

// MaxRetriesFor returns the retry ceiling imposed by a category, given
// the unit's own attempt budget. Transient categories use the full
// budget, limited categories one retry, permanent categories none.
func MaxRetriesFor(category Category, maxAttempts int) int {
	switch category {
	case CategoryTimeout, CategoryRateLimit, CategoryNetwork, CategoryTemporary:
		return maxAttempts
	case CategoryAuth, CategoryProcessing, CategoryUnknown:
		if maxAttempts > 2 {
			return 2
		}
		return maxAttempts
	default:
		return 1
	}
}

// Retryable reports whether a unit that has made the given number of
// attempts may be retried for this category. attempts counts the attempt
// that just failed.
func Retryable(category Category, attempts, maxAttempts int) bool {
	return attempts < MaxRetriesFor(category, maxAttempts)
}
