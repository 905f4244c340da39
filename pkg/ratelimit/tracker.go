package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrLimitExhausted is returned when the rate-limit window would take longer
// than the configured maximum wait to reset.
var ErrLimitExhausted = errors.New("rate limit exhausted")

// Prometheus metrics for rate limit tracking.
var (
	edsmRateLimitRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "edsm_rate_limit_remaining",
		Help: "Requests remaining in the current EDSM rate limit window",
	})

	edsmRateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edsm_rate_limit_blocks_total",
		Help: "Total number of requests held until the rate limit window reset",
	})

	edsmRateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edsm_rate_limit_throttles_total",
		Help: "Total number of requests slowed down due to a low remaining budget",
	})

	edsmPacerWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "edsm_pacer_wait_seconds",
		Help:    "Time spent waiting for the request pacer",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
	})
)

// Config holds the tracker configuration.
type Config struct {
	// RequestInterval is the minimum delay between two requests.
	// Zero disables pacing.
	RequestInterval time.Duration

	// WarningThreshold throttles requests below this remaining budget.
	WarningThreshold int

	// CriticalThreshold holds requests until reset below this remaining budget.
	CriticalThreshold int

	// ThrottleDelay is the extra delay applied in the warning range.
	ThrottleDelay time.Duration

	// MaxWait bounds how long a request is held for a window reset.
	MaxWait time.Duration

	// StateMaxAge ignores stored state observed longer ago than this, e.g.
	// left in Redis by an earlier run. Zero trusts any age.
	StateMaxAge time.Duration
}

// DefaultConfig returns the pacing EDSM tolerates for sequential clients.
func DefaultConfig() Config {
	return Config{
		RequestInterval:   400 * time.Millisecond,
		WarningThreshold:  DefaultWarningThreshold,
		CriticalThreshold: DefaultCriticalThreshold,
		ThrottleDelay:     2 * time.Second,
		MaxWait:           15 * time.Minute,
		StateMaxAge:       time.Hour,
	}
}

// Tracker gates EDSM requests: it spaces them by the request interval and
// holds them back when the observed rate-limit budget runs low.
type Tracker struct {
	store   StateStore
	limiter *rate.Limiter
	config  Config
	logger  zerolog.Logger
}

// NewTracker creates a new rate limit tracker. A nil store keeps state in
// memory.
func NewTracker(store StateStore, cfg Config, logger zerolog.Logger) *Tracker {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Tracker{
		store:   store,
		limiter: rate.NewLimiter(limitFor(cfg.RequestInterval), 1),
		config:  cfg,
		logger:  logger,
	}
}

func limitFor(interval time.Duration) rate.Limit {
	if interval <= 0 {
		return rate.Inf
	}
	return rate.Every(interval)
}

// SetInterval changes the minimum delay between requests.
func (t *Tracker) SetInterval(interval time.Duration) {
	t.config.RequestInterval = interval
	t.limiter.SetLimit(limitFor(interval))
	t.logger.Info().Dur("request_interval", interval).Msg("Request pacing changed")
}

// Interval returns the current minimum delay between requests.
func (t *Tracker) Interval() time.Duration {
	return t.config.RequestInterval
}

// State returns the last observed rate-limit state, or nil if none is known.
func (t *Tracker) State(ctx context.Context) (*State, error) {
	return t.store.Load(ctx)
}

// Wait blocks until the next request may be sent.
func (t *Tracker) Wait(ctx context.Context) error {
	start := time.Now()
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("pacer wait: %w", err)
	}
	edsmPacerWaitSeconds.Observe(time.Since(start).Seconds())

	state, err := t.store.Load(ctx)
	if err != nil {
		t.logger.Warn().Err(err).Msg("Failed to load rate limit state")
		return nil
	}
	if state == nil {
		return nil
	}
	if t.config.StateMaxAge > 0 && state.IsStale(t.config.StateMaxAge) {
		t.logger.Debug().
			Time("last_update", state.LastUpdate).
			Msg("Ignoring stale rate limit state")
		return nil
	}

	if state.NeedsCriticalBlock(t.config.CriticalThreshold) {
		wait := state.TimeUntilReset()
		if wait == 0 {
			return nil
		}
		if t.config.MaxWait > 0 && wait > t.config.MaxWait {
			t.logger.Error().
				Int("remaining", state.Remaining).
				Dur("wait_duration", wait).
				Msg("EDSM rate limit critical - reset too far away")
			return fmt.Errorf("%w: reset in %s", ErrLimitExhausted, wait.Round(time.Second))
		}

		t.logger.Warn().
			Int("remaining", state.Remaining).
			Dur("wait_duration", wait).
			Msg("EDSM rate limit critical - waiting for reset")
		edsmRateLimitBlocksTotal.Inc()
		return sleepCtx(ctx, wait)
	}

	if state.NeedsThrottling(t.config.WarningThreshold, t.config.CriticalThreshold) {
		t.logger.Debug().
			Int("remaining", state.Remaining).
			Dur("delay", t.config.ThrottleDelay).
			Msg("EDSM rate limit warning - throttling request")
		edsmRateLimitThrottlesTotal.Inc()
		return sleepCtx(ctx, t.config.ThrottleDelay)
	}

	return nil
}

// UpdateFromHeaders records the rate-limit state carried by a response.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	state, err := ParseHeaders(headers, time.Now())
	if err != nil {
		return err
	}
	if state == nil {
		return nil
	}

	if err := t.store.Save(ctx, state); err != nil {
		return fmt.Errorf("store rate limit state: %w", err)
	}

	edsmRateLimitRemaining.Set(float64(state.Remaining))

	event := t.logger.Debug()
	switch {
	case state.NeedsCriticalBlock(t.config.CriticalThreshold):
		event = t.logger.Warn()
	case state.NeedsThrottling(t.config.WarningThreshold, t.config.CriticalThreshold):
		event = t.logger.Info()
	}
	event.
		Int("limit", state.Limit).
		Int("remaining", state.Remaining).
		Time("reset_at", state.ResetAt).
		Msg("EDSM rate limit state updated")

	return nil
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
