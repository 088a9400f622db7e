// Package sqlite implements store.Store on SQLite via database/sql and
// the mattn/go-sqlite3 driver, for single-node deployments and tests
// that want durability without a Postgres server.
//
// SQLite has no SELECT ... FOR UPDATE SKIP LOCKED, so chunk claiming
// uses optimistic compare-and-swap: pick a candidate, then a
// conditional UPDATE guarded on the candidate still being claimable;
// zero rows affected means another worker won and the claim retries
// with the next candidate. With WAL mode and a busy timeout this is
// contention-safe for the worker counts SQLite deployments run.
//
// All timestamps are stored in UTC. Metadata maps are stored as JSON
// text.
package sqlite
