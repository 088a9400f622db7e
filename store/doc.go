// Package store defines the aggregate persistence interface. Each
// subsystem (syncjob, protection, dlq, audit) defines its own store
// interface; the composite Store composes them all. Backends:
// Postgres, SQLite, and Memory.
//
// # Choosing a Backend
//
//   - Postgres (store/postgres): the production backend. Claims use
//     FOR UPDATE SKIP LOCKED so concurrent invocations never serialize
//     on the claim path.
//   - SQLite (store/sqlite): single-node deployments. Claims use
//     conditional updates; writers serialize at the database level.
//   - Memory (store/memory): tests and development. No persistence.
//
// All backends satisfy the same atomicity contracts, so engine and
// worker code is backend-agnostic.
package store
