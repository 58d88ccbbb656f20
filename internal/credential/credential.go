package credential

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// State is the health of a credential.
type State string

// Credential states.
const (
	StateAvailable     State = "available"
	StateLeased        State = "leased"
	StateRateLimited   State = "rate_limited"
	StateInvalid       State = "invalid"
	StateQuotaExceeded State = "quota_exceeded"
)

// AllStates lists every credential state.
var AllStates = []State{
	StateAvailable,
	StateLeased,
	StateRateLimited,
	StateInvalid,
	StateQuotaExceeded,
}

// usable reports whether a credential in this state can be leased now or later
// without outside intervention.
func (s State) usable() bool {
	return s == StateAvailable || s == StateLeased || s == StateRateLimited
}

// Outcome is what happened to the call made with a lease.
type Outcome int

// Release outcomes.
const (
	OutcomeSuccess Outcome = iota
	OutcomeTransient
	OutcomeRateLimited
	OutcomeRejected
	OutcomeQuotaExceeded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransient:
		return "transient"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeRejected:
		return "rejected"
	case OutcomeQuotaExceeded:
		return "quota_exceeded"
	default:
		return "unknown"
	}
}

type credential struct {
	name          string
	key           string
	state         State
	lastUsedAt    time.Time
	cooldownUntil time.Time
	uses          int64
}

// Lease is exclusive use of one credential until it is released.
type Lease struct {
	ID         uuid.UUID
	Name       string
	AcquiredAt time.Time
	key        string
}

// Key returns the API key material for the leased credential.
func (l *Lease) Key() string {
	return l.key
}

// LogValue keeps key material out of structured logs.
func (l *Lease) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("credential", l.Name),
		slog.String("fingerprint", Fingerprint(l.key)),
		slog.String("lease_id", l.ID.String()),
	)
}

// Status is a point-in-time view of one credential, safe to log or serve.
type Status struct {
	Name          string     `json:"name"`
	Fingerprint   string     `json:"fingerprint"`
	State         State      `json:"state"`
	Uses          int64      `json:"uses"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
}

// Fingerprint returns a short, non-secret identifier for a key.
func Fingerprint(key string) string {
	if len(key) < 8 {
		return "****"
	}
	return "..." + key[len(key)-4:]
}
