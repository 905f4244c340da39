// Package interval partitions a date range into half-open fetch intervals.
//
// An Interval is one unit of fetch work against the EDSM logs API. Plans are
// deterministic for a given range and width, which is what lets a resumed run
// recognise the intervals a previous run already completed.
package interval

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidWidth is returned when the interval width is not positive.
var ErrInvalidWidth = errors.New("interval width must be positive")

// Interval is a half-open UTC time range [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// New returns the interval [start, end) normalised to UTC.
func New(start, end time.Time) Interval {
	return Interval{Start: start.UTC(), End: end.UTC()}
}

// Key returns the stable cache key of the interval in ISO-8601 interval
// notation, e.g. "2024-01-01T00:00:00Z/2024-01-04T00:00:00Z".
func (iv Interval) Key() string {
	return iv.Start.UTC().Format(time.RFC3339) + "/" + iv.End.UTC().Format(time.RFC3339)
}

// String implements fmt.Stringer.
func (iv Interval) String() string {
	return "[" + iv.Start.UTC().Format(time.RFC3339) + ", " + iv.End.UTC().Format(time.RFC3339) + ")"
}

// Duration returns End - Start.
func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// Contains reports whether t lies in [Start, End).
func (iv Interval) Contains(t time.Time) bool {
	return !t.Before(iv.Start) && t.Before(iv.End)
}

// Overlaps reports whether the two half-open intervals share any instant.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

// ParseKey is the inverse of Key.
func ParseKey(key string) (Interval, error) {
	startStr, endStr, ok := strings.Cut(key, "/")
	if !ok {
		return Interval{}, fmt.Errorf("interval key %q: missing separator", key)
	}
	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		return Interval{}, fmt.Errorf("interval key %q: parse start: %w", key, err)
	}
	end, err := time.Parse(time.RFC3339, endStr)
	if err != nil {
		return Interval{}, fmt.Errorf("interval key %q: parse end: %w", key, err)
	}
	if !start.Before(end) {
		return Interval{}, fmt.Errorf("interval key %q: start is not before end", key)
	}
	return New(start, end), nil
}

// Plan partitions [from, to) into consecutive intervals of the given width,
// oldest first. The last interval is clipped to to. An empty range yields no
// intervals.
func Plan(from, to time.Time, width time.Duration) ([]Interval, error) {
	if width <= 0 {
		return nil, fmt.Errorf("%w (got %s)", ErrInvalidWidth, width)
	}

	from, to = from.UTC(), to.UTC()
	if !from.Before(to) {
		return nil, nil
	}

	n := int((to.Sub(from) + width - 1) / width)
	intervals := make([]Interval, 0, n)

	for start := from; start.Before(to); start = start.Add(width) {
		end := start.Add(width)
		if end.After(to) {
			end = to
		}
		intervals = append(intervals, Interval{Start: start, End: end})
	}

	return intervals, nil
}

// AlignWeek returns midnight UTC of the Monday on or before t. Planning from
// an aligned start keeps weekly interval keys stable across runs.
func AlignWeek(t time.Time) time.Time {
	t = t.UTC()
	offset := (int(t.Weekday()) + 6) % 7
	return time.Date(t.Year(), t.Month(), t.Day()-offset, 0, 0, 0, 0, time.UTC)
}
