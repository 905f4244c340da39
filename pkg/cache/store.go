package cache

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Sternrassler/edsm-discoveries/pkg/discovery"
	"github.com/Sternrassler/edsm-discoveries/pkg/interval"
)

// FormatVersion is the current discovery cache file version.
const FormatVersion = 1

var (
	// ErrCommanderMismatch indicates the cache file belongs to another commander
	ErrCommanderMismatch = errors.New("cache belongs to a different commander")

	// ErrUnsupportedVersion indicates the cache file was written by a newer format
	ErrUnsupportedVersion = errors.New("unsupported cache file version")
)

// storeFile is the on-disk layout of the discovery cache.
type storeFile struct {
	Version   int              `json:"version"`
	Commander string           `json:"commander"`
	Intervals map[string]Entry `json:"intervals"`
}

// Store is the discovery cache: interval key -> Entry, backed by one JSON file.
// A Store is owned by a single run and is not safe for concurrent use.
type Store struct {
	path      string
	commander string
	entries   map[string]Entry

	// now is replaced in tests
	now func() time.Time
}

// Open loads the cache file at path for the given commander. A missing file
// yields an empty store; a file that cannot be decoded is an error and is left
// untouched.
func Open(path, commander string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("cache path is required")
	}
	if commander == "" {
		return nil, fmt.Errorf("commander is required")
	}

	s := &Store{
		path:      path,
		commander: commander,
		entries:   make(map[string]Entry),
		now:       time.Now,
	}

	var file storeFile
	found, err := readJSON(path, &file)
	if err != nil {
		return nil, err
	}
	if !found {
		CacheEntries.WithLabelValues(storeDiscoveries).Set(0)
		return s, nil
	}

	if file.Version > FormatVersion {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrUnsupportedVersion, file.Version, FormatVersion)
	}
	if file.Commander != "" && file.Commander != commander {
		return nil, fmt.Errorf("%w: %s has %q, want %q", ErrCommanderMismatch, path, file.Commander, commander)
	}

	for key, entry := range file.Intervals {
		iv, err := interval.ParseKey(key)
		if err != nil {
			CacheErrors.WithLabelValues("load").Inc()
			return nil, fmt.Errorf("%w %s: %v", ErrInvalidFile, path, err)
		}
		if entry.Status != StatusCompleted {
			continue
		}
		entry.Start, entry.End = iv.Start, iv.End
		s.entries[key] = entry
	}

	CacheEntries.WithLabelValues(storeDiscoveries).Set(float64(len(s.entries)))
	return s, nil
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Commander returns the commander the store belongs to.
func (s *Store) Commander() string {
	return s.commander
}

// Get returns the entry for iv, if any.
func (s *Store) Get(iv interval.Interval) (Entry, bool) {
	entry, ok := s.entries[iv.Key()]
	return entry, ok
}

// Completed reports whether iv is cached as completed.
func (s *Store) Completed(iv interval.Interval) bool {
	entry, ok := s.entries[iv.Key()]
	if ok && entry.IsCompleted() {
		CacheHits.WithLabelValues(storeDiscoveries).Inc()
		return true
	}
	CacheMisses.WithLabelValues(storeDiscoveries).Inc()
	return false
}

// Put stores records for iv and marks it completed. Entries under other keys
// that overlap iv, such as a tail interval clipped by an earlier run, are
// replaced. If iv is already completed, Put is a no-op and returns false. Put
// does not write to disk; call Flush.
func (s *Store) Put(iv interval.Interval, records []discovery.Record) bool {
	key := iv.Key()
	if existing, ok := s.entries[key]; ok && existing.IsCompleted() {
		return false
	}

	for other, entry := range s.entries {
		if other != key && iv.Overlaps(entry.Interval()) {
			delete(s.entries, other)
		}
	}

	stored := make([]discovery.Record, len(records))
	copy(stored, records)

	s.entries[key] = Entry{
		Start:     iv.Start,
		End:       iv.End,
		Status:    StatusCompleted,
		FetchedAt: s.now().UTC(),
		Records:   stored,
	}
	CacheEntries.WithLabelValues(storeDiscoveries).Set(float64(len(s.entries)))
	return true
}

// Invalidate drops the entry for iv so the next run fetches it again.
func (s *Store) Invalidate(iv interval.Interval) bool {
	key := iv.Key()
	if _, ok := s.entries[key]; !ok {
		return false
	}
	delete(s.entries, key)
	CacheEntries.WithLabelValues(storeDiscoveries).Set(float64(len(s.entries)))
	return true
}

// InvalidateAfter drops every entry whose interval ends after t and returns
// the number of dropped entries.
func (s *Store) InvalidateAfter(t time.Time) int {
	dropped := 0
	for key, entry := range s.entries {
		if entry.End.After(t) {
			delete(s.entries, key)
			dropped++
		}
	}
	CacheEntries.WithLabelValues(storeDiscoveries).Set(float64(len(s.entries)))
	return dropped
}

// Reset drops all entries.
func (s *Store) Reset() int {
	n := len(s.entries)
	s.entries = make(map[string]Entry)
	CacheEntries.WithLabelValues(storeDiscoveries).Set(0)
	return n
}

// Len returns the number of cached entries.
func (s *Store) Len() int {
	return len(s.entries)
}

// Entries returns all entries, oldest interval first.
func (s *Store) Entries() []Entry {
	entries := make([]Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].Start.Equal(entries[j].Start) {
			return entries[i].Start.Before(entries[j].Start)
		}
		return entries[i].End.Before(entries[j].End)
	})
	return entries
}

// Records returns the merged records of the completed entries among ivs,
// deduplicated by system and sorted chronologically.
func (s *Store) Records(ivs []interval.Interval) []discovery.Record {
	sets := make([][]discovery.Record, 0, len(ivs))
	for _, iv := range ivs {
		if entry, ok := s.entries[iv.Key()]; ok && entry.IsCompleted() {
			sets = append(sets, entry.Records)
		}
	}
	return discovery.Merge(sets...)
}

// AllRecords returns the merged records of every cached entry.
func (s *Store) AllRecords() []discovery.Record {
	sets := make([][]discovery.Record, 0, len(s.entries))
	for _, entry := range s.Entries() {
		sets = append(sets, entry.Records)
	}
	return discovery.Merge(sets...)
}

// Flush writes the whole store to disk atomically.
func (s *Store) Flush() error {
	file := storeFile{
		Version:   FormatVersion,
		Commander: s.commander,
		Intervals: s.entries,
	}
	if err := writeJSONAtomic(s.path, file); err != nil {
		return fmt.Errorf("flush discovery cache: %w", err)
	}
	CacheFlushes.WithLabelValues(storeDiscoveries).Inc()
	return nil
}
