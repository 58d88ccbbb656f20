package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/phrazzld/labelgen/internal/credential"
	"github.com/phrazzld/labelgen/internal/domain"
	"github.com/phrazzld/labelgen/internal/generation"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricPrefix is prepended to every metric name.
const MetricPrefix = "labelgen_"

// Metrics holds the application's collectors and their registry.
type Metrics struct {
	registry *prometheus.Registry

	jobTransitions   *prometheus.CounterVec
	jobsSubmitted    prometheus.Counter
	batches          *prometheus.CounterVec
	batchDuration    prometheus.Histogram
	generationCalls  *prometheus.CounterVec
	generationTiming prometheus.Histogram
	storeRetries     *prometheus.CounterVec
}

// New creates Metrics on a fresh registry that also carries the Go runtime
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricPrefix + "job_transitions_total",
			Help: "Number of jobs moved into each state",
		}, []string{"state"}),
		jobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricPrefix + "jobs_submitted_total",
			Help: "Number of jobs submitted",
		}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricPrefix + "batches_total",
			Help: "Number of batches processed, by outcome",
		}, []string{"outcome"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricPrefix + "batch_duration_seconds",
			Help:    "Time from claiming a batch to writing its results",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		generationCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricPrefix + "generation_calls_total",
			Help: "Number of generation API calls, by result",
		}, []string{"result"}),
		generationTiming: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricPrefix + "generation_call_duration_seconds",
			Help:    "Latency of generation API calls",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		storeRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricPrefix + "store_retries_total",
			Help: "Number of store operations retried after contention",
		}, []string{"backend"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.jobTransitions,
		m.jobsSubmitted,
		m.batches,
		m.batchDuration,
		m.generationCalls,
		m.generationTiming,
		m.storeRetries,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// JobsTransitioned counts n jobs moved into state to.
func (m *Metrics) JobsTransitioned(to domain.JobState, n int) {
	m.jobTransitions.WithLabelValues(string(to)).Add(float64(n))
}

// JobsSubmitted counts n newly submitted jobs.
func (m *Metrics) JobsSubmitted(n int) {
	m.jobsSubmitted.Add(float64(n))
}

// BatchFinished records one processed batch.
func (m *Metrics) BatchFinished(outcome string, _ int, elapsed time.Duration) {
	m.batches.WithLabelValues(outcome).Inc()
	m.batchDuration.Observe(elapsed.Seconds())
}

// ObserveGenerationCall records one generation API call. It matches
// generation.CallObserver.
func (m *Metrics) ObserveGenerationCall(elapsed time.Duration, err error) {
	m.generationCalls.WithLabelValues(CallResult(err)).Inc()
	m.generationTiming.Observe(elapsed.Seconds())
}

// StoreRetryHook returns a function suitable for store.RetryPolicy.OnRetry
// that counts retries for backend.
func (m *Metrics) StoreRetryHook(backend string) func(attempt int, err error) {
	counter := m.storeRetries.WithLabelValues(backend)
	return func(int, error) {
		counter.Inc()
	}
}

// CallResult maps a generation error to a metric label.
func CallResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, generation.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, generation.ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, generation.ErrCredentialRejected):
		return "credential_rejected"
	case errors.Is(err, generation.ErrContentBlocked):
		return "blocked"
	case errors.Is(err, generation.ErrTransientFailure):
		return "transient"
	default:
		return "failed"
	}
}

// CredentialSource reports the current state of every credential.
type CredentialSource interface {
	Snapshot() []credential.Status
}

// JobCounter reports the number of jobs per state.
type JobCounter interface {
	CountByState(ctx context.Context) (map[domain.JobState]int, error)
}

// RegisterCredentialPool exports the state of pool's credentials.
func (m *Metrics) RegisterCredentialPool(pool CredentialSource) error {
	return m.registry.Register(&credentialCollector{pool: pool})
}

// RegisterJobCounts exports the number of jobs per state, read from counter
// on every scrape.
func (m *Metrics) RegisterJobCounts(counter JobCounter, logger *slog.Logger) error {
	return m.registry.Register(&jobCollector{counter: counter, logger: logger, timeout: 5 * time.Second})
}
