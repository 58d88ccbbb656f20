package credential

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCooldown is how long a rate-limited credential is kept out of
// rotation when no cooldown is configured.
const DefaultCooldown = time.Minute

// Pool hands out exclusive leases on a fixed set of credentials.
// It is safe for concurrent use.
type Pool struct {
	mu       sync.Mutex
	creds    []*credential
	byName   map[string]*credential
	leases   map[uuid.UUID]*credential
	changed  chan struct{}
	cooldown time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewPool creates a pool over keys. Credentials are named key-1, key-2, ...
// in configuration order. A non-positive cooldown uses DefaultCooldown.
func NewPool(keys []string, cooldown time.Duration, logger *slog.Logger) (*Pool, error) {
	if len(keys) == 0 {
		return nil, ErrNoCredentials
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pool{
		creds:    make([]*credential, 0, len(keys)),
		byName:   make(map[string]*credential, len(keys)),
		leases:   make(map[uuid.UUID]*credential),
		changed:  make(chan struct{}),
		cooldown: cooldown,
		now:      time.Now,
		logger:   logger.With("component", "credential_pool"),
	}

	seen := make(map[string]string, len(keys))
	for i, key := range keys {
		name := fmt.Sprintf("key-%d", i+1)
		if prev, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: %s and %s share the same key", ErrDuplicateCredential, prev, name)
		}
		seen[key] = name

		c := &credential{name: name, key: key, state: StateAvailable}
		p.creds = append(p.creds, c)
		p.byName[name] = c
	}

	return p, nil
}

// Size returns the number of credentials in the pool.
func (p *Pool) Size() int {
	return len(p.creds)
}

// Acquire returns an exclusive lease on the least recently used available
// credential. It blocks while every usable credential is leased or cooling
// down, and fails with ErrPoolExhausted once none can ever become available.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	for {
		p.mu.Lock()
		now := p.now()
		p.expireCooldownsLocked(now)

		if c := p.pickLocked(); c != nil {
			lease := &Lease{ID: uuid.New(), Name: c.name, AcquiredAt: now, key: c.key}
			c.state = StateLeased
			c.uses++
			p.leases[lease.ID] = c
			p.mu.Unlock()
			return lease, nil
		}

		if !p.anyUsableLocked() {
			p.mu.Unlock()
			return nil, ErrPoolExhausted
		}

		changed := p.changed
		var timer *time.Timer
		var expired <-chan time.Time
		if next, ok := p.nextCooldownLocked(); ok {
			timer = time.NewTimer(next.Sub(now))
			expired = timer.C
		}
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil, ctx.Err()
		case <-changed:
		case <-expired:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// Release returns a lease to the pool and records how the call went.
func (p *Pool) Release(lease *Lease, outcome Outcome) error {
	if lease == nil {
		return ErrUnknownLease
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.leases[lease.ID]
	if !ok {
		return ErrUnknownLease
	}
	delete(p.leases, lease.ID)

	now := p.now()
	c.lastUsedAt = now

	switch outcome {
	case OutcomeRateLimited:
		c.state = StateRateLimited
		c.cooldownUntil = now.Add(p.cooldown)
		p.logger.Warn("credential rate limited",
			"credential", c.name,
			"cooldown_until", c.cooldownUntil)
	case OutcomeRejected:
		c.state = StateInvalid
		p.logger.Error("credential rejected, removing from rotation",
			"credential", c.name,
			"fingerprint", Fingerprint(c.key))
	case OutcomeQuotaExceeded:
		c.state = StateQuotaExceeded
		p.logger.Warn("credential quota exceeded",
			"credential", c.name)
	default:
		c.state = StateAvailable
	}

	p.broadcastLocked()
	return nil
}

// ResetQuota returns a quota-exceeded credential to rotation. It reports
// whether the credential was reset; credentials in any other state are left
// untouched.
func (p *Pool) ResetQuota(name string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.byName[name]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownCredential, name)
	}
	if c.state != StateQuotaExceeded {
		return false, nil
	}

	c.state = StateAvailable
	p.logger.Info("credential quota reset", "credential", c.name)
	p.broadcastLocked()
	return true, nil
}

// Snapshot returns the status of every credential in configuration order.
func (p *Pool) Snapshot() []Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.expireCooldownsLocked(p.now())

	out := make([]Status, 0, len(p.creds))
	for _, c := range p.creds {
		st := Status{
			Name:        c.name,
			Fingerprint: Fingerprint(c.key),
			State:       c.state,
			Uses:        c.uses,
		}
		if !c.lastUsedAt.IsZero() {
			t := c.lastUsedAt
			st.LastUsedAt = &t
		}
		if c.state == StateRateLimited {
			t := c.cooldownUntil
			st.CooldownUntil = &t
		}
		out = append(out, st)
	}
	return out
}

// Keys returns the key material of every credential, for registering with a
// log redactor. Callers must not log the result.
func (p *Pool) Keys() []string {
	keys := make([]string, len(p.creds))
	for i, c := range p.creds {
		keys[i] = c.key
	}
	return keys
}

// pickLocked selects the least recently used available credential, breaking
// ties by configuration order.
func (p *Pool) pickLocked() *credential {
	var best *credential
	for _, c := range p.creds {
		if c.state != StateAvailable {
			continue
		}
		if best == nil || c.lastUsedAt.Before(best.lastUsedAt) {
			best = c
		}
	}
	return best
}

func (p *Pool) anyUsableLocked() bool {
	for _, c := range p.creds {
		if c.state.usable() {
			return true
		}
	}
	return false
}

func (p *Pool) expireCooldownsLocked(now time.Time) {
	for _, c := range p.creds {
		if c.state == StateRateLimited && !now.Before(c.cooldownUntil) {
			c.state = StateAvailable
			c.cooldownUntil = time.Time{}
		}
	}
}

func (p *Pool) nextCooldownLocked() (time.Time, bool) {
	var next time.Time
	for _, c := range p.creds {
		if c.state != StateRateLimited {
			continue
		}
		if next.IsZero() || c.cooldownUntil.Before(next) {
			next = c.cooldownUntil
		}
	}
	return next, !next.IsZero()
}

// broadcastLocked wakes every goroutine blocked in Acquire.
func (p *Pool) broadcastLocked() {
	close(p.changed)
	p.changed = make(chan struct{})
}
