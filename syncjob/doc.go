// Package syncjob defines the sync job and chunk entities, their state
// machines, the chunk decomposition plan, and the store contract.
//
// # Entities
//
// A [Job] is one synchronization request for one mailbox. At creation it
// is decomposed into a contiguous run of [Chunk] records, each a bounded
// slice of the estimated workload. The job's status is a projection of
// its chunks:
//
//	pending    - no chunk is processing yet
//	processing - at least one chunk processing, or a mix of pending/completed
//	completed  - every chunk completed
//	failed     - no chunk pending/processing and at least one failed
//	cancelled  - externally cancelled; remaining chunks are abandoned
//
// [DeriveStatus] computes this projection; the outcome recorder rewrites
// the stored value whenever it could diverge.
//
// # Chunk state machine
//
//	pending → processing → completed
//	pending → processing → retrying → processing → ...
//	pending → processing → failed
//
// retrying is the pending-with-delay state: the chunk becomes claimable
// again once NextRetryAt has passed. processing re-enters pending only
// through explicit failure-with-retry or the recovery sweep.
//
// # Claiming
//
// [Store.ClaimChunk] atomically selects and transitions exactly one
// eligible chunk. Backends guarantee that two concurrent claimers never
// receive the same chunk (SKIP LOCKED on postgres, conditional update on
// sqlite, mutex on memory) and that tenants at their parallel cap are
// skipped so other tenants keep making progress.
package syncjob
