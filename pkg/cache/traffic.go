package cache

import (
	"fmt"
	"strconv"
	"time"

	"github.com/Sternrassler/edsm-discoveries/pkg/discovery"
)

// TrafficEntry is the cached traffic of one system.
type TrafficEntry struct {
	SystemName string                 `json:"system_name,omitempty"`
	Traffic    discovery.TrafficStats `json:"traffic"`
	FetchedAt  time.Time              `json:"fetched_at"`
}

type trafficFile struct {
	Version int                     `json:"version"`
	Systems map[string]TrafficEntry `json:"systems"`
}

// TrafficStore caches traffic stats by EDSM system id, backed by one JSON file.
// Not safe for concurrent use.
type TrafficStore struct {
	path    string
	systems map[string]TrafficEntry
	now     func() time.Time
}

// OpenTraffic loads the traffic cache at path. A missing file yields an empty
// store.
func OpenTraffic(path string) (*TrafficStore, error) {
	if path == "" {
		return nil, fmt.Errorf("traffic cache path is required")
	}

	s := &TrafficStore{
		path:    path,
		systems: make(map[string]TrafficEntry),
		now:     time.Now,
	}

	var file trafficFile
	found, err := readJSON(path, &file)
	if err != nil {
		return nil, err
	}
	if found {
		if file.Version > FormatVersion {
			return nil, fmt.Errorf("%w: %d (max %d)", ErrUnsupportedVersion, file.Version, FormatVersion)
		}
		for id, entry := range file.Systems {
			s.systems[id] = entry
		}
	}

	CacheEntries.WithLabelValues(storeTraffic).Set(float64(len(s.systems)))
	return s, nil
}

func trafficKey(systemID int64) string {
	return strconv.FormatInt(systemID, 10)
}

// Get returns the cached traffic of a system.
func (s *TrafficStore) Get(systemID int64) (TrafficEntry, bool) {
	entry, ok := s.systems[trafficKey(systemID)]
	return entry, ok
}

// Fresh returns the cached traffic of a system if it was fetched within
// maxAge. A maxAge of zero or less accepts any cached entry.
func (s *TrafficStore) Fresh(systemID int64, maxAge time.Duration) (TrafficEntry, bool) {
	entry, ok := s.systems[trafficKey(systemID)]
	if !ok || (maxAge > 0 && s.now().Sub(entry.FetchedAt) > maxAge) {
		CacheMisses.WithLabelValues(storeTraffic).Inc()
		return TrafficEntry{}, false
	}
	CacheHits.WithLabelValues(storeTraffic).Inc()
	return entry, true
}

// Put stores the traffic of a system, replacing any previous value.
func (s *TrafficStore) Put(systemID int64, systemName string, stats discovery.TrafficStats) {
	s.systems[trafficKey(systemID)] = TrafficEntry{
		SystemName: systemName,
		Traffic:    stats,
		FetchedAt:  s.now().UTC(),
	}
	CacheEntries.WithLabelValues(storeTraffic).Set(float64(len(s.systems)))
}

// Len returns the number of cached systems.
func (s *TrafficStore) Len() int {
	return len(s.systems)
}

// Flush writes the store to disk atomically.
func (s *TrafficStore) Flush() error {
	file := trafficFile{Version: FormatVersion, Systems: s.systems}
	if err := writeJSONAtomic(s.path, file); err != nil {
		return fmt.Errorf("flush traffic cache: %w", err)
	}
	CacheFlushes.WithLabelValues(storeTraffic).Inc()
	return nil
}
