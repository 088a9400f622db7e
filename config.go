package mailsync

import "time"

// Config holds tuning knobs for the scheduling engine. All values have
// defaults; zero values are replaced by DefaultConfig() equivalents at
// engine build time. Configuration is explicit; there is no ambient
// global state and no configuration stored as data rows.
type Config struct {
	// BaseChunkSize is the number of estimated items per chunk. A job's
	// chunk count is ceil(estimate / BaseChunkSize).
	BaseChunkSize int

	// MaxAttempts is the default attempt budget for jobs and chunks.
	MaxAttempts int

	// TenantParallelLimit caps how many chunks a single tenant may have
	// in processing state at once. Tenants at the cap are skipped during
	// claiming so other tenants keep making progress.
	TenantParallelLimit int

	// StuckThreshold is how long a chunk may sit in processing before
	// the recovery sweep resets it to pending.
	StuckThreshold time.Duration

	// SweepSchedule is the cron expression for the recovery sweep.
	SweepSchedule string

	// RetentionSchedule is the cron expression for the retention purge.
	RetentionSchedule string

	// Retention is how long terminal jobs and their chunks are kept
	// before the retention purge removes them.
	Retention time.Duration

	// DLQRetention is how long dead letter entries are kept.
	DLQRetention time.Duration

	// ExecuteTimeout bounds a single executor call. Zero disables the
	// timeout middleware.
	ExecuteTimeout time.Duration

	// EstimateDefaults supplies per-kind workload estimates used when a
	// creation request carries none.
	EstimateDefaults EstimateDefaults
}

// EstimateDefaults are the fallback workload estimates per sync kind.
type EstimateDefaults struct {
	Initial     int
	Incremental int
	Other       int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BaseChunkSize:       100,
		MaxAttempts:         3,
		TenantParallelLimit: 3,
		StuckThreshold:      10 * time.Minute,
		SweepSchedule:       "*/5 * * * *",
		RetentionSchedule:   "30 3 * * *",
		Retention:           30 * 24 * time.Hour,
		DLQRetention:        90 * 24 * time.Hour,
		ExecuteTimeout:      5 * time.Minute,
		EstimateDefaults: EstimateDefaults{
			Initial:     5000,
			Incremental: 100,
			Other:       500,
		},
	}
}

// EstimateFor returns the default estimate for a sync kind name.
// Unknown kinds get the moderate default. The floor is 1.
func (c Config) EstimateFor(kind string) int {
	var n int
	switch kind {
	case "initial":
		n = c.EstimateDefaults.Initial
	case "incremental":
		n = c.EstimateDefaults.Incremental
	default:
		n = c.EstimateDefaults.Other
	}
	if n < 1 {
		return 1
	}
	return n
}
