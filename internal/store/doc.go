// Package store defines the persistence contract for the job queue.
//
// JobStore is implemented by the embedded SQLite backend and by the Postgres
// backend. Every mutation addresses a row by its integer id and is guarded by
// the set of states it may legally leave, so a late or duplicated write can
// never move a job backwards. Mutations are expected to run under WithRetry,
// which absorbs short bursts of write contention.
package store
