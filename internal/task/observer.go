package task

import (
	"time"

	"github.com/phrazzld/labelgen/internal/domain"
)

// Batch outcomes reported to an Observer.
const (
	BatchOutcomeGenerated    = "generated"
	BatchOutcomeRequeued     = "requeued"
	BatchOutcomeFailed       = "failed"
	BatchOutcomeNoCredential = "no_credential"
	BatchOutcomePanic        = "panic"
	BatchOutcomeCancelled    = "cancelled"
)

// Observer receives counts of job transitions and batch outcomes, typically
// to export them as metrics.
type Observer interface {
	JobsTransitioned(to domain.JobState, n int)
	BatchFinished(outcome string, size int, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) JobsTransitioned(domain.JobState, int)    {}
func (nopObserver) BatchFinished(string, int, time.Duration) {}
