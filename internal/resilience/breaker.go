package resilience

import (
	"sync"
	"time"

	"github.com/cloudlens/cost-ingest-go/internal/shared/types"
)

// State is the circuit breaker state for one provider.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// BreakerConfig tunes a circuit breaker.
type BreakerConfig struct {
	// FailureThreshold consecutive failures open the circuit.
	FailureThreshold int
	// Cooldown is how long an open circuit rejects calls before allowing
	// half-open trials.
	Cooldown time.Duration
	// HalfOpenMax bounds the number of trial calls admitted while half-open.
	HalfOpenMax int
	// SuccessToClose consecutive half-open successes close the circuit.
	SuccessToClose int
}

// DefaultBreakerConfig matches the documented defaults: 5 failures, 60s
// cooldown, 3 trial calls, 2 successes to close.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         60 * time.Second,
		HalfOpenMax:      3,
		SuccessToClose:   2,
	}
}

// Breaker models the health of one upstream provider. It is shared across
// every account targeting that provider and safe for concurrent use.
type Breaker struct {
	mu  sync.Mutex
	cfg BreakerConfig
	now func() time.Time

	state     State
	failures  int
	successes int
	trials    int
	retryAt   time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{cfg: cfg, now: time.Now, state: StateClosed}
}

// State returns the current state, applying the open→half-open transition if
// the cooldown deadline has passed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()
	return b.state
}

// Allow is the admission check. It returns types.ErrCircuitOpen when the
// call must be rejected without touching the network.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		return types.ErrCircuitOpen
	default: // half-open: bounded trial calls
		if b.trials >= b.cfg.HalfOpenMax {
			return types.ErrCircuitOpen
		}
		b.trials++
		return nil
	}
}

// RecordSuccess reports a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessToClose {
			b.reset()
		}
	case StateClosed:
		b.failures = 0
	}
}

// RecordFailure reports a failed call. While half-open any failure re-opens
// the circuit immediately with a fresh cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.open()
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.open()
		}
	}
}

// refresh transitions open→half-open once the cooldown deadline passes.
// Caller holds the lock.
func (b *Breaker) refresh() {
	if b.state == StateOpen && !b.now().Before(b.retryAt) {
		b.state = StateHalfOpen
		b.trials = 0
		b.successes = 0
	}
}

func (b *Breaker) open() {
	b.state = StateOpen
	b.retryAt = b.now().Add(b.cfg.Cooldown)
	b.failures = 0
	b.successes = 0
	b.trials = 0
}

func (b *Breaker) reset() {
	b.state = StateClosed
	b.failures = 0
	b.successes = 0
	b.trials = 0
}

// Registry owns one breaker per provider identifier. It is constructed once
// at startup and injected; provider health is intentionally shared across
// accounts.
type Registry struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	breakers map[string]*Breaker
}

// NewRegistry creates a breaker registry with the given per-breaker config.
func NewRegistry(cfg BreakerConfig) *Registry {
	return &Registry{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// For returns the breaker for a provider, creating it on first use.
func (r *Registry) For(provider string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[provider]; ok {
		return b
	}
	b := NewBreaker(r.cfg)
	r.breakers[provider] = b
	return b
}
