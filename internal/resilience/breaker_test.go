package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudlens/cost-ingest-go/internal/shared/types"
)

func newTestBreaker(clock *time.Time) *Breaker {
	b := NewBreaker(DefaultBreakerConfig())
	b.now = func() time.Time { return *clock }
	return b
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	clock := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	b := newTestBreaker(&clock)

	for i := 0; i < 4; i++ {
		b.RecordFailure()
		assert.Equal(t, StateClosed, b.State())
	}
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Allow(), types.ErrCircuitOpen)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	clock := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	b := newTestBreaker(&clock)

	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	b.RecordSuccess()
	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenAfterCooldown(t *testing.T) {
	clock := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	b := newTestBreaker(&clock)

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	require.Equal(t, StateOpen, b.State())

	clock = clock.Add(59 * time.Second)
	assert.Equal(t, StateOpen, b.State())

	clock = clock.Add(time.Second)
	assert.Equal(t, StateHalfOpen, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreakerHalfOpenBoundsTrials(t *testing.T) {
	clock := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	b := newTestBreaker(&clock)

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	clock = clock.Add(61 * time.Second)

	for i := 0; i < 3; i++ {
		assert.NoError(t, b.Allow())
	}
	assert.ErrorIs(t, b.Allow(), types.ErrCircuitOpen)
}

func TestBreakerClosesAfterHalfOpenSuccesses(t *testing.T) {
	clock := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	b := newTestBreaker(&clock)

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	clock = clock.Add(61 * time.Second)
	require.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Allow())
	b.RecordSuccess()
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Allow())
	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	b := newTestBreaker(&clock)

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	clock = clock.Add(61 * time.Second)
	require.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Allow(), types.ErrCircuitOpen)

	// A fresh cooldown starts from the reopen.
	clock = clock.Add(59 * time.Second)
	assert.Equal(t, StateOpen, b.State())
	clock = clock.Add(2 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestRegistrySharesBreakerPerProvider(t *testing.T) {
	r := NewRegistry(DefaultBreakerConfig())
	a := r.For("aws")
	b := r.For("aws")
	other := r.For("digitalocean")

	assert.Same(t, a, b)
	assert.NotSame(t, a, other)

	for i := 0; i < 5; i++ {
		a.RecordFailure()
	}
	assert.ErrorIs(t, b.Allow(), types.ErrCircuitOpen)
	assert.NoError(t, other.Allow(), "one provider's outage must not affect another")
}

func TestRetryableClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("boom"), false},
		{"throttling text", errors.New("ThrottlingException: Rate exceeded"), true},
		{"connection reset text", errors.New("read tcp: connection reset by peer"), true},
		{"service unavailable text", errors.New("Service Unavailable"), true},
		{"validation error", errors.New("ValidationException: bad input"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Retryable(tc.err))
		})
	}
}
