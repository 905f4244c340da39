package client

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	edsmRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edsm_retries_total",
		Help: "Total number of retry attempts by error kind",
	}, []string{"error_kind"})

	edsmRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "edsm_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error kind",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"error_kind"})

	edsmRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edsm_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error kind",
	}, []string{"error_kind"})
)

// Backoff is the retry schedule of one error kind.
type Backoff struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int `yaml:"max_attempts"`

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration `yaml:"initial_backoff"`

	// MaxBackoff caps the delay.
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// Multiplier is the factor applied to the delay after every retry.
	Multiplier float64 `yaml:"multiplier"`
}

// delay returns the backoff before attempt+1, given attempt failed attempts.
func (b Backoff) delay(attempt int) time.Duration {
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(b.InitialBackoff) * math.Pow(mult, float64(attempt-1))
	if b.MaxBackoff > 0 && d > float64(b.MaxBackoff) {
		return b.MaxBackoff
	}
	return time.Duration(d)
}

// RetryPolicy maps error kinds to retry schedules.
type RetryPolicy struct {
	Transient   Backoff `yaml:"transient"`
	RateLimited Backoff `yaml:"rate_limited"`
	Malformed   Backoff `yaml:"malformed"`

	// Jitter spreads delays by ±Jitter (0.2 = ±20%). Zero disables it.
	Jitter float64 `yaml:"jitter"`
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Transient: Backoff{
			MaxAttempts:    3,
			InitialBackoff: 2 * time.Second,
			MaxBackoff:     30 * time.Second,
			Multiplier:     2.0,
		},
		RateLimited: Backoff{
			MaxAttempts:    5,
			InitialBackoff: 10 * time.Second,
			MaxBackoff:     2 * time.Minute,
			Multiplier:     2.0,
		},
		// malformed answers are retried once
		Malformed: Backoff{
			MaxAttempts:    2,
			InitialBackoff: 1 * time.Second,
			MaxBackoff:     1 * time.Second,
			Multiplier:     1.0,
		},
		Jitter: 0.2,
	}
}

// Decision is the outcome of RetryPolicy.Decide.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// Decide returns whether a request that failed attempt times, the last time
// with the given kind, should be retried and after which delay. It is a pure
// function of its inputs; jitter is applied by Retry.
func (p RetryPolicy) Decide(attempt int, kind ErrorKind) Decision {
	if !shouldRetry(kind) {
		return Decision{}
	}

	b := p.backoffFor(kind)
	if attempt >= b.MaxAttempts {
		return Decision{}
	}

	return Decision{Retry: true, Delay: b.delay(attempt)}
}

func (p RetryPolicy) backoffFor(kind ErrorKind) Backoff {
	switch kind {
	case KindRateLimited:
		return p.RateLimited
	case KindMalformedResponse:
		return p.Malformed
	default:
		return p.Transient
	}
}

func (p RetryPolicy) jitter(d time.Duration) time.Duration {
	if p.Jitter <= 0 || d <= 0 {
		return d
	}
	return time.Duration(float64(d) * (1 - p.Jitter + rand.Float64()*2*p.Jitter))
}

// Retry calls fn until it succeeds, fails with a fatal kind, or the policy
// gives up. fn receives the 1-based attempt number. Exhausted retries wrap
// ErrRetryExhausted and the last error; fatal errors are returned as is.
func Retry(ctx context.Context, policy RetryPolicy, logger zerolog.Logger, fn func(attempt int) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(attempt)
		if err == nil {
			if attempt > 1 {
				logger.Info().
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		kind := KindOf(err)
		decision := policy.Decide(attempt, kind)
		if !decision.Retry {
			if !shouldRetry(kind) {
				return err
			}
			edsmRetryExhaustedTotal.WithLabelValues(string(kind)).Inc()
			logger.Warn().
				Str("error_kind", string(kind)).
				Int("attempts", attempt).
				Msg("Retry attempts exhausted")
			return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempt, err)
		}

		delay := policy.jitter(decision.Delay)
		if after := retryAfterOf(err); after > delay {
			delay = after
		}

		edsmRetriesTotal.WithLabelValues(string(kind)).Inc()
		edsmRetryBackoffSeconds.WithLabelValues(string(kind)).Observe(delay.Seconds())

		logger.Warn().
			Err(err).
			Str("error_kind", string(kind)).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("Retrying request after backoff")

		if delay <= 0 {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
			}
			continue
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Warn().
				Str("error_kind", string(kind)).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		case <-timer.C:
		}
	}
}
