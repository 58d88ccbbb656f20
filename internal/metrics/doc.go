// Package metrics exports Prometheus metrics for the job queue: job
// transitions, batch outcomes, generation latency, store contention retries,
// credential health and the number of jobs per state.
//
// Metrics implements task.Observer and provides hooks for the generation
// client and the store retry policy, so the instrumented packages do not
// depend on Prometheus.
package metrics
