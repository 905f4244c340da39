// Package discovery defines the first-discovery records fetched from EDSM.
package discovery

import (
	"sort"
	"time"
)

// DateLayout is the timestamp format EDSM uses for log dates and query
// parameters. All values are UTC.
const DateLayout = "2006-01-02 15:04:05"

// TrafficStats holds EDSM traffic counters for a system.
type TrafficStats struct {
	Total     int            `json:"total"`
	Week      int            `json:"week"`
	Day       int            `json:"day"`
	Breakdown map[string]int `json:"breakdown,omitempty"`
}

// Record is one system first discovered by the commander.
type Record struct {
	SystemName    string        `json:"system_name"`
	SystemID      int64         `json:"system_id,omitempty"`
	DiscoveryDate time.Time     `json:"discovery_date"`
	Traffic       *TrafficStats `json:"traffic_stats,omitempty"`
}

// VisitedAfterDiscovery reports whether anyone else passed through the system.
// The discovering visit itself counts once in the total.
func (r Record) VisitedAfterDiscovery() bool {
	return r.Traffic != nil && r.Traffic.Total > 1
}

// TotalTraffic returns the total traffic count, or 0 when unknown.
func (r Record) TotalTraffic() int {
	if r.Traffic == nil {
		return 0
	}
	return r.Traffic.Total
}

// Merge combines record sets keyed by system name. When a system appears more
// than once the earliest discovery date is kept, and traffic stats are taken
// from whichever copy carries them. The result is sorted chronologically.
func Merge(sets ...[]Record) []Record {
	byName := make(map[string]Record)
	for _, set := range sets {
		for _, rec := range set {
			existing, ok := byName[rec.SystemName]
			if !ok {
				byName[rec.SystemName] = rec
				continue
			}
			if rec.DiscoveryDate.Before(existing.DiscoveryDate) {
				if rec.Traffic == nil {
					rec.Traffic = existing.Traffic
				}
				if rec.SystemID == 0 {
					rec.SystemID = existing.SystemID
				}
				byName[rec.SystemName] = rec
				continue
			}
			if existing.Traffic == nil && rec.Traffic != nil {
				existing.Traffic = rec.Traffic
			}
			if existing.SystemID == 0 {
				existing.SystemID = rec.SystemID
			}
			byName[rec.SystemName] = existing
		}
	}

	merged := make([]Record, 0, len(byName))
	for _, rec := range byName {
		merged = append(merged, rec)
	}
	SortByDate(merged)
	return merged
}

// SortByDate orders records oldest first, breaking ties by system name.
func SortByDate(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].DiscoveryDate.Equal(records[j].DiscoveryDate) {
			return records[i].DiscoveryDate.Before(records[j].DiscoveryDate)
		}
		return records[i].SystemName < records[j].SystemName
	})
}

// SortByTraffic orders records by total traffic, busiest first, breaking ties
// chronologically.
func SortByTraffic(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		ti, tj := records[i].TotalTraffic(), records[j].TotalTraffic()
		if ti != tj {
			return ti > tj
		}
		if !records[i].DiscoveryDate.Equal(records[j].DiscoveryDate) {
			return records[i].DiscoveryDate.Before(records[j].DiscoveryDate)
		}
		return records[i].SystemName < records[j].SystemName
	})
}
