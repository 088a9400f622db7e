package mailsync

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("mailsync: no store configured")
	ErrStoreClosed     = errors.New("mailsync: store closed")
	ErrMigrationFailed = errors.New("mailsync: migration failed")

	// Not found errors.
	ErrJobNotFound    = errors.New("mailsync: sync job not found")
	ErrChunkNotFound  = errors.New("mailsync: chunk not found")
	ErrParentNotFound = errors.New("mailsync: mailbox parent not found")
	ErrDLQNotFound    = errors.New("mailsync: dead letter entry not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("mailsync: sync job already exists")

	// State errors.
	ErrInvalidState       = errors.New("mailsync: invalid state transition")
	ErrJobNotActive       = errors.New("mailsync: sync job is no longer active")
	ErrMaxAttemptsReached = errors.New("mailsync: max attempts reached")

	// Protection errors.
	ErrRateLimited = errors.New("mailsync: tenant rate limit exceeded")
	ErrCircuitOpen = errors.New("mailsync: circuit breaker open")

	// Access errors.
	ErrNotAuthorized = errors.New("mailsync: actor not authorized for resource")

	// Executor wiring errors.
	ErrNoExecutor = errors.New("mailsync: no executor configured")
)
