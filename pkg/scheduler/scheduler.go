// Package scheduler drives a resumable discovery fetch: it partitions the
// requested range into intervals, skips the ones already cached and fetches
// the rest oldest first, persisting every completed interval before moving on.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/edsm-discoveries/pkg/cache"
	"github.com/Sternrassler/edsm-discoveries/pkg/client"
	"github.com/Sternrassler/edsm-discoveries/pkg/discovery"
	"github.com/Sternrassler/edsm-discoveries/pkg/interval"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for scheduler runs.
var (
	edsmIntervalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edsm_scheduler_intervals_total",
		Help: "Intervals handled by the scheduler by result (fetched, skipped, failed)",
	}, []string{"result"})

	edsmIntervalsPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "edsm_scheduler_intervals_pending",
		Help: "Intervals still to be fetched in the current run",
	})

	edsmIntervalsInvalidated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edsm_scheduler_intervals_invalidated_total",
		Help: "Cached intervals dropped by the safety refresh",
	})
)

// Fetcher retrieves the first discoveries of one interval with a single
// request. *client.Client implements it.
type Fetcher interface {
	FetchDiscoveries(ctx context.Context, iv interval.Interval) ([]discovery.Record, error)
}

// Pacer controls the spacing of requests. *ratelimit.Tracker implements it.
type Pacer interface {
	SetInterval(d time.Duration)
	Interval() time.Duration
}

// Config holds the scheduler configuration.
type Config struct {
	// Width of one interval.
	Width time.Duration

	// SafetyWindow refetches cached intervals ending less than this long
	// before now, since EDSM logs may arrive late. Zero disables it.
	SafetyWindow time.Duration

	// HeavyRunThreshold and HeavyRunDelay slow the pacer down for runs with
	// more pending intervals than the threshold. Zero disables it.
	HeavyRunThreshold int
	HeavyRunDelay     time.Duration

	// Retry decides how failed fetches are retried.
	Retry client.RetryPolicy

	// Pacer is adjusted for heavy runs; optional.
	Pacer Pacer
}

// DefaultConfig returns the default configuration: weekly intervals, a two
// week safety refresh and 10s pacing for runs of more than 360 intervals.
func DefaultConfig() Config {
	return Config{
		Width:             7 * 24 * time.Hour,
		SafetyWindow:      14 * 24 * time.Hour,
		HeavyRunThreshold: 360,
		HeavyRunDelay:     10 * time.Second,
		Retry:             client.DefaultRetryPolicy(),
	}
}

// Result summarises a completed run.
type Result struct {
	RunID string

	// Records of all planned intervals, deduplicated, oldest first.
	Records []discovery.Record

	Intervals   int
	Fetched     int
	Skipped     int
	Invalidated int
}

// AbortError reports the interval at which a run stopped. Intervals completed
// before it stay cached.
type AbortError struct {
	Interval interval.Interval
	Kind     client.ErrorKind
	Err      error
}

// Error implements the error interface.
func (e *AbortError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("run aborted at interval %s: %v", e.Interval, e.Err)
	}
	return fmt.Sprintf("run aborted at interval %s (%s): %v", e.Interval, e.Kind, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *AbortError) Unwrap() error {
	return e.Err
}

// Scheduler fetches the intervals of a range that are not cached yet.
// Not safe for concurrent use.
type Scheduler struct {
	fetcher Fetcher
	store   *cache.Store
	config  Config
	now     func() time.Time
}

// New creates a scheduler fetching through fetcher into store.
func New(fetcher Fetcher, store *cache.Store, cfg Config) (*Scheduler, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if store == nil {
		return nil, fmt.Errorf("cache store is required")
	}
	if cfg.Width <= 0 {
		return nil, fmt.Errorf("%w: %s", interval.ErrInvalidWidth, cfg.Width)
	}
	if cfg.SafetyWindow < 0 {
		return nil, fmt.Errorf("safety window must not be negative: %s", cfg.SafetyWindow)
	}

	return &Scheduler{
		fetcher: fetcher,
		store:   store,
		config:  cfg,
		now:     time.Now,
	}, nil
}

// Plan returns the intervals of [from, to) and which of them are pending.
func (s *Scheduler) Plan(from, to time.Time) (planned, pending []interval.Interval, err error) {
	planned, err = interval.Plan(from, to, s.config.Width)
	if err != nil {
		return nil, nil, err
	}
	for _, iv := range planned {
		if !s.store.Completed(iv) {
			pending = append(pending, iv)
		}
	}
	return planned, pending, nil
}

// Run fetches every interval of [from, to) missing from the cache and
// returns the merged records of the whole range. On a fatal or exhausted
// failure Run stops and returns an *AbortError; everything fetched before is
// already flushed to disk.
func (s *Scheduler) Run(ctx context.Context, from, to time.Time) (*Result, error) {
	runID := uuid.NewString()
	logger := zerolog.Ctx(ctx).With().Str("run_id", runID).Logger()
	ctx = logger.WithContext(ctx)

	result := &Result{RunID: runID}

	if s.config.SafetyWindow > 0 {
		cutoff := s.now().UTC().Add(-s.config.SafetyWindow)
		if n := s.store.InvalidateAfter(cutoff); n > 0 {
			result.Invalidated = n
			edsmIntervalsInvalidated.Add(float64(n))
			logger.Info().
				Int("invalidated", n).
				Time("cutoff", cutoff).
				Msg("Safety refresh dropped recent intervals")
			if err := s.store.Flush(); err != nil {
				return nil, err
			}
		}
	}

	planned, pending, err := s.Plan(from, to)
	if err != nil {
		return nil, err
	}
	result.Intervals = len(planned)
	result.Skipped = len(planned) - len(pending)
	edsmIntervalsTotal.WithLabelValues("skipped").Add(float64(result.Skipped))
	edsmIntervalsPending.Set(float64(len(pending)))

	logger.Info().
		Time("from", from).
		Time("to", to).
		Int("intervals", len(planned)).
		Int("cached", result.Skipped).
		Int("pending", len(pending)).
		Msg("Run planned")

	s.adjustPacing(logger, len(pending))

	for i, iv := range pending {
		records, err := s.fetch(ctx, iv)
		if err != nil {
			edsmIntervalsTotal.WithLabelValues("failed").Inc()
			abort := &AbortError{Interval: iv, Kind: client.KindOf(err), Err: err}
			logger.Error().
				Err(err).
				Str("interval", iv.Key()).
				Str("error_kind", string(abort.Kind)).
				Int("completed", result.Skipped+result.Fetched).
				Int("intervals", result.Intervals).
				Msg("Run aborted")
			return nil, abort
		}

		s.store.Put(iv, records)
		if err := s.store.Flush(); err != nil {
			return nil, &AbortError{Interval: iv, Err: err}
		}

		result.Fetched++
		edsmIntervalsTotal.WithLabelValues("fetched").Inc()
		edsmIntervalsPending.Set(float64(len(pending) - i - 1))

		logger.Info().
			Str("interval", iv.Key()).
			Int("records", len(records)).
			Str("progress", fmt.Sprintf("%d/%d", result.Skipped+result.Fetched, result.Intervals)).
			Msg("Interval completed")
	}

	result.Records = s.store.Records(planned)

	logger.Info().
		Int("records", len(result.Records)).
		Int("fetched", result.Fetched).
		Int("skipped", result.Skipped).
		Msg("Run finished")

	return result, nil
}

// fetch retrieves one interval under the retry policy.
func (s *Scheduler) fetch(ctx context.Context, iv interval.Interval) ([]discovery.Record, error) {
	logger := zerolog.Ctx(ctx).With().Str("interval", iv.Key()).Logger()

	var records []discovery.Record
	err := client.Retry(ctx, s.config.Retry, logger, func(attempt int) error {
		var err error
		records, err = s.fetcher.FetchDiscoveries(ctx, iv)
		return err
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			return nil, fmt.Errorf("%w: %w", ctxErr, err)
		}
		return nil, err
	}
	return records, nil
}

func (s *Scheduler) adjustPacing(logger zerolog.Logger, pending int) {
	if s.config.Pacer == nil || s.config.HeavyRunThreshold <= 0 {
		return
	}
	if pending <= s.config.HeavyRunThreshold {
		return
	}
	if s.config.Pacer.Interval() >= s.config.HeavyRunDelay {
		return
	}

	logger.Warn().
		Int("pending", pending).
		Int("threshold", s.config.HeavyRunThreshold).
		Dur("request_interval", s.config.HeavyRunDelay).
		Msg("Heavy run, slowing down requests")
	s.config.Pacer.SetInterval(s.config.HeavyRunDelay)
}
