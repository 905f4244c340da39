// Package cache persists fetched EDSM data between runs as JSON files.
//
// The discovery Store maps an interval key to the records fetched for that
// interval. It is the only progress state the tool keeps: an interval present
// in the store is completed, anything else is pending and will be fetched on
// the next run.
//
// - Completed entries are never overwritten (Put is idempotent)
// - Flush replaces the file atomically (temp file, fsync, rename)
// - A cache file written for one commander is never reused for another
// - Entries can be dropped explicitly (Invalidate, InvalidateAfter, Reset)
//
// # Basic Usage
//
//	store, err := cache.Open("first_discoveries_cache.json", "Jameson")
//	if err != nil {
//		return err
//	}
//
//	if !store.Completed(iv) {
//		records, err := fetch(ctx, iv)
//		if err != nil {
//			return err
//		}
//		store.Put(iv, records)
//		if err := store.Flush(); err != nil {
//			return err
//		}
//	}
//
//	merged := store.Records(plan)
//
// # Traffic
//
// TrafficStore keeps per-system traffic counters keyed by EDSM system id so
// enrichment can resume as well. Unlike discovery entries, traffic entries age
// out (see TrafficStore.Fresh).
//
// # Metrics
//
//   - edsm_cache_hits_total{store} - Lookups answered from the cache
//   - edsm_cache_misses_total{store} - Lookups that require a fetch
//   - edsm_cache_flushes_total{store} - Successful atomic writes
//   - edsm_cache_errors_total{operation} - Load/flush failures
//   - edsm_cache_entries{store} - Entries currently held
package cache
