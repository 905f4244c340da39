// Package enrich attaches EDSM traffic statistics to discovery records,
// reusing cached values while they are fresh.
package enrich

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/edsm-discoveries/pkg/cache"
	"github.com/Sternrassler/edsm-discoveries/pkg/client"
	"github.com/Sternrassler/edsm-discoveries/pkg/discovery"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var edsmEnrichSystemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "edsm_enrich_systems_total",
	Help: "Systems handled by traffic enrichment by source (cache, fetched, skipped)",
}, []string{"source"})

// TrafficFetcher retrieves the traffic of one system with a single request.
// *client.Client implements it.
type TrafficFetcher interface {
	FetchTraffic(ctx context.Context, systemID int64) (*discovery.TrafficStats, error)
}

// Config holds the enrichment configuration.
type Config struct {
	// MaxAge is how long cached traffic stays valid. Zero reuses any cached value.
	MaxAge time.Duration

	// FlushEvery writes the traffic cache after this many fetched systems.
	FlushEvery int

	Retry client.RetryPolicy
}

// DefaultConfig returns the default enrichment configuration.
func DefaultConfig() Config {
	return Config{
		MaxAge:     7 * 24 * time.Hour,
		FlushEvery: 25,
		Retry:      client.DefaultRetryPolicy(),
	}
}

// Result summarises an enrichment pass.
type Result struct {
	Records []discovery.Record

	Fetched int
	Cached  int

	// Skipped counts records without an EDSM system id.
	Skipped int
}

// Enricher adds traffic stats to records. Not safe for concurrent use.
type Enricher struct {
	fetcher TrafficFetcher
	store   *cache.TrafficStore
	config  Config
}

// New creates an enricher fetching through fetcher and caching in store.
func New(fetcher TrafficFetcher, store *cache.TrafficStore, cfg Config) (*Enricher, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("traffic fetcher is required")
	}
	if store == nil {
		return nil, fmt.Errorf("traffic store is required")
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = 1
	}
	return &Enricher{fetcher: fetcher, store: store, config: cfg}, nil
}

// Enrich returns a copy of records with traffic stats attached. On failure it
// returns the records enriched so far together with the error; fetched
// traffic is flushed to the cache either way.
func (e *Enricher) Enrich(ctx context.Context, records []discovery.Record) (*Result, error) {
	logger := zerolog.Ctx(ctx)

	result := &Result{Records: make([]discovery.Record, len(records))}
	copy(result.Records, records)

	unflushed := 0
	for i := range result.Records {
		rec := &result.Records[i]
		if rec.SystemID == 0 {
			result.Skipped++
			edsmEnrichSystemsTotal.WithLabelValues("skipped").Inc()
			continue
		}

		if entry, ok := e.store.Fresh(rec.SystemID, e.config.MaxAge); ok {
			stats := entry.Traffic
			rec.Traffic = &stats
			result.Cached++
			edsmEnrichSystemsTotal.WithLabelValues("cache").Inc()
			continue
		}

		var stats *discovery.TrafficStats
		err := client.Retry(ctx, e.config.Retry, *logger, func(int) error {
			var err error
			stats, err = e.fetcher.FetchTraffic(ctx, rec.SystemID)
			return err
		})
		if err != nil {
			logger.Error().
				Err(err).
				Str("system", rec.SystemName).
				Int64("system_id", rec.SystemID).
				Str("error_kind", string(client.KindOf(err))).
				Msg("Traffic enrichment aborted")
			if flushErr := e.flush(unflushed); flushErr != nil {
				logger.Error().Err(flushErr).Msg("Failed to flush traffic cache")
			}
			return result, fmt.Errorf("fetch traffic of %s: %w", rec.SystemName, err)
		}

		e.store.Put(rec.SystemID, rec.SystemName, *stats)
		rec.Traffic = stats
		result.Fetched++
		edsmEnrichSystemsTotal.WithLabelValues("fetched").Inc()

		unflushed++
		if unflushed >= e.config.FlushEvery {
			if err := e.flush(unflushed); err != nil {
				return result, err
			}
			unflushed = 0
		}

		logger.Debug().
			Str("system", rec.SystemName).
			Int("total", stats.Total).
			Str("progress", fmt.Sprintf("%d/%d", i+1, len(result.Records))).
			Msg("Traffic fetched")
	}

	if err := e.flush(unflushed); err != nil {
		return result, err
	}

	logger.Info().
		Int("fetched", result.Fetched).
		Int("cached", result.Cached).
		Int("skipped", result.Skipped).
		Msg("Traffic enrichment finished")

	return result, nil
}

func (e *Enricher) flush(pending int) error {
	if pending == 0 {
		return nil
	}
	return e.store.Flush()
}
