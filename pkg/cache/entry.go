package cache

import (
	"time"

	"github.com/Sternrassler/edsm-discoveries/pkg/discovery"
	"github.com/Sternrassler/edsm-discoveries/pkg/interval"
)

// Status is the fetch state of an interval.
type Status string

const (
	// StatusPending means the interval still has to be fetched. Pending
	// intervals are never written to disk; absence from the file is pending.
	StatusPending Status = "pending"

	// StatusCompleted means the interval was fetched successfully. Completed
	// entries are immutable until explicitly invalidated.
	StatusCompleted Status = "completed"
)

// Entry is the cached result of one interval.
type Entry struct {
	// Start and End repeat the interval bounds so the file is readable
	// without parsing keys
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	Status Status `json:"status"`

	// FetchedAt is when the interval was fetched
	FetchedAt time.Time `json:"fetched_at"`

	// Records are the first discoveries reported for the interval, in the
	// order the API returned them
	Records []discovery.Record `json:"records"`
}

// Interval returns the interval the entry belongs to.
func (e Entry) Interval() interval.Interval {
	return interval.New(e.Start, e.End)
}

// IsCompleted returns true if the interval needs no further fetching.
func (e Entry) IsCompleted() bool {
	return e.Status == StatusCompleted
}
