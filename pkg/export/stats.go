package export

import (
	"github.com/Sternrassler/edsm-discoveries/pkg/discovery"
)

// DefaultTopN is the length of the most-visited list.
const DefaultTopN = 10

// Stats summarises an export.
type Stats struct {
	Total int

	// NeverRevisited counts systems with a total traffic of at most one,
	// the discovering visit.
	NeverRevisited int
	Revisited      int

	// IntactPercent is NeverRevisited as a share of Total, rounded to two
	// decimals.
	IntactPercent float64

	// WithTraffic counts records carrying traffic stats.
	WithTraffic int

	// Top lists the most visited systems, busiest first.
	Top []discovery.Record
}

// Summarize computes statistics over records. Records without traffic stats
// count as never revisited.
func Summarize(records []discovery.Record, topN int) Stats {
	stats := Stats{Total: len(records)}

	for _, rec := range records {
		if rec.Traffic != nil {
			stats.WithTraffic++
		}
		if rec.VisitedAfterDiscovery() {
			stats.Revisited++
		} else {
			stats.NeverRevisited++
		}
	}

	if stats.Total > 0 {
		pct := float64(stats.NeverRevisited) / float64(stats.Total) * 100
		stats.IntactPercent = float64(int64(pct*100+0.5)) / 100
	}

	if topN > 0 {
		sorted := Sort(records, SortByTraffic)
		if len(sorted) > topN {
			sorted = sorted[:topN]
		}
		stats.Top = sorted
	}

	return stats
}
