// Package task runs the background side of the job queue.
//
// Dispatcher performs one poll cycle: it resets stale claims, claims a block
// of pending jobs, splits them into fixed-size batches and runs each batch
// through the generator with its own credential lease, bounded by a worker
// budget. Every batch ends with a single id-addressed Apply call, so a job
// whose label was renamed by the generator is still updated in place and a
// failure in one batch never affects another.
//
// Runner owns the poll loop. It recovers jobs left in processing by a
// previous run, sleeps when idle and can be woken early when new jobs are
// submitted.
package task
