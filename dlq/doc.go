// Package dlq provides the dead-letter archive for sync work that has
// exhausted its retry budget. It supports inspection, replay, and
// purging.
//
// When a chunk fails terminally the outcome recorder calls
// [Service.Archive] to preserve the full last-known state of the chunk
// and its parent job: error category and message, attempt counts, and a
// JSON snapshot of the chunk at the moment of failure. Nothing about
// the original rows is deleted; the archive exists so operators can
// diagnose and replay without digging through terminal job rows.
//
// # Entry
//
// An [Entry] captures:
//   - JobID / ChunkID: the failed work's identity (ChunkID is zero for
//     job-level entries)
//   - TenantID / MailboxID: ownership, for scoped listing
//   - ErrorCategory / ErrorMessage: the terminal failure
//   - Attempts / MaxAttempts: the exhausted retry budget
//   - Snapshot: JSON of the chunk (or job) as it looked when it died
//   - FailedAt / ReplayedAt: when it failed, and when (if ever) an
//     operator replayed it
//
// # Replay
//
// Replaying an entry resets the dead chunk's attempt counter, returns
// it to the claimable pool, and moves the parent job back to
// processing. ReplayedAt is set on the entry; replaying an
// already-replayed entry is a no-op.
package dlq
