package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/cloudlens/cost-ingest-go/internal/shared/types"
)

// RetryConfig tunes the retry wrapper.
type RetryConfig struct {
	MaxAttempts    int
	AttemptTimeout time.Duration
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Factor         float64
}

// DefaultRetryConfig matches the documented defaults: 3 attempts, 30s
// per-attempt timeout, 1s initial delay doubling up to 30s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		AttemptTimeout: 30 * time.Second,
		InitialDelay:   time.Second,
		MaxDelay:       30 * time.Second,
		Factor:         2,
	}
}

// Executor runs every outbound provider call through the circuit breaker
// admission check, a per-attempt timeout, and bounded exponential backoff.
type Executor struct {
	breakers *Registry
	cfg      RetryConfig
	logger   *zap.Logger

	// sleep is swappable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor wires the retry wrapper to a breaker registry.
func NewExecutor(breakers *Registry, cfg RetryConfig, logger *zap.Logger) *Executor {
	return &Executor{
		breakers: breakers,
		cfg:      cfg,
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// Do executes op against the named provider. A call blocked by an open
// circuit never reaches op. Non-retryable failures consume one attempt, are
// reported to the breaker, and returned immediately; retryable failures back
// off exponentially, and only the final exhausted attempt counts as a
// breaker failure.
func (e *Executor) Do(ctx context.Context, provider string, op func(ctx context.Context) error) error {
	br := e.breakers.For(provider)
	if err := br.Allow(); err != nil {
		return fmt.Errorf("%s: %w", provider, err)
	}

	delay := e.cfg.InitialDelay
	var err error
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		err = e.attempt(ctx, op)
		if err == nil {
			br.RecordSuccess()
			return nil
		}

		if !Retryable(err) {
			br.RecordFailure()
			return err
		}

		if attempt == e.cfg.MaxAttempts {
			break
		}

		e.logger.Warn("transient provider failure, backing off",
			zap.String("provider", provider),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		if serr := e.sleep(ctx, delay); serr != nil {
			br.RecordFailure()
			return serr
		}
		delay = time.Duration(float64(delay) * e.cfg.Factor)
		if delay > e.cfg.MaxDelay {
			delay = e.cfg.MaxDelay
		}
	}

	br.RecordFailure()
	return fmt.Errorf("%s after %d attempts: %w: %w", provider, e.cfg.MaxAttempts, types.ErrRetriesExhausted, err)
}

// attempt races op against the per-attempt timeout.
func (e *Executor) attempt(ctx context.Context, op func(ctx context.Context) error) error {
	actx, cancel := context.WithTimeout(ctx, e.cfg.AttemptTimeout)
	defer cancel()
	return op(actx)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// statusCoder is satisfied by smithy HTTP response errors.
type statusCoder interface {
	HTTPStatusCode() int
}

// Retryable classifies a failure as transient-upstream. Connection resets,
// timeouts, DNS failures, rate-limit signals, and upstream 5xx retry; every
// other failure (including non-429 4xx) does not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		code := sc.HTTPStatusCode()
		return code == 429 || code >= 500
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"throttling",
		"rate exceeded",
		"too many requests",
		"connection reset",
		"i/o timeout",
		"service unavailable",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
