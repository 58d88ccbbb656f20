// Package sqlite implements the job store on an embedded SQLite database
// using the pure-Go modernc.org/sqlite driver.
//
// The database runs in WAL mode behind two handles: a single-connection
// writer that serializes all mutations in-process, and a read-only pool that
// serves status queries without ever blocking the writer. Contention from
// other processes sharing the file surfaces as SQLITE_BUSY and is absorbed by
// store.WithRetry using IsBusy as the retry predicate.
package sqlite
