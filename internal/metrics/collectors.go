package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/phrazzld/labelgen/internal/credential"
	"github.com/phrazzld/labelgen/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

var credentialStateDesc = prometheus.NewDesc(
	MetricPrefix+"credential_state",
	"1 for the current state of each credential, 0 otherwise",
	[]string{"credential", "state"},
	nil,
)

var credentialUsesDesc = prometheus.NewDesc(
	MetricPrefix+"credential_leases_total",
	"Number of leases issued per credential",
	[]string{"credential"},
	nil,
)

var jobsDesc = prometheus.NewDesc(
	MetricPrefix+"jobs",
	"Number of jobs currently in each state",
	[]string{"state"},
	nil,
)

type credentialCollector struct {
	pool CredentialSource
}

func (c *credentialCollector) Describe(desc chan<- *prometheus.Desc) {
	desc <- credentialStateDesc
	desc <- credentialUsesDesc
}

func (c *credentialCollector) Collect(metrics chan<- prometheus.Metric) {
	for _, st := range c.pool.Snapshot() {
		for _, state := range credential.AllStates {
			value := 0.0
			if st.State == state {
				value = 1
			}
			metrics <- prometheus.MustNewConstMetric(credentialStateDesc,
				prometheus.GaugeValue, value, st.Name, string(state))
		}
		metrics <- prometheus.MustNewConstMetric(credentialUsesDesc,
			prometheus.CounterValue, float64(st.Uses), st.Name)
	}
}

type jobCollector struct {
	counter JobCounter
	logger  *slog.Logger
	timeout time.Duration
}

func (c *jobCollector) Describe(desc chan<- *prometheus.Desc) {
	desc <- jobsDesc
}

func (c *jobCollector) Collect(metrics chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	counts, err := c.counter.CountByState(ctx)
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("failed to count jobs for metrics", "error", err)
		}
		metrics <- prometheus.NewInvalidMetric(jobsDesc, err)
		return
	}
	for _, state := range domain.AllJobStates {
		metrics <- prometheus.MustNewConstMetric(jobsDesc,
			prometheus.GaugeValue, float64(counts[state]), string(state))
	}
}
