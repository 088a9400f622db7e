// Package postgres implements the mailsync store on PostgreSQL using
// pgx/v5 with pgxpool.
//
// Chunk claiming uses a FOR UPDATE SKIP LOCKED CTE so concurrent
// workers never block each other or double-claim, with the per-tenant
// parallel cap evaluated inside the same statement. Conditional
// transitions (TransitionJob, ReclaimChunk) are single UPDATEs judged
// by rows affected. Protection state is mutated under SELECT FOR
// UPDATE inside a transaction.
package postgres
