// Package export writes discovery records as CSV and summarises them.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/Sternrassler/edsm-discoveries/pkg/discovery"
)

// Header is the column layout of the export.
var Header = []string{
	"systemName",
	"systemId",
	"firstDiscoveryDate",
	"totalTraffic",
	"trafficWeek",
	"trafficDay",
	"visitedAfterDiscovery",
}

// ErrInvalidCSV is returned by Read for input not produced by Write.
var ErrInvalidCSV = errors.New("invalid discoveries csv")

// SortOrder selects the row order of the export.
type SortOrder string

const (
	// SortByDate orders rows oldest discovery first.
	SortByDate SortOrder = "date"

	// SortByTraffic orders rows busiest system first.
	SortByTraffic SortOrder = "traffic"
)

// ParseSortOrder validates a sort order name.
func ParseSortOrder(s string) (SortOrder, error) {
	switch SortOrder(s) {
	case SortByDate, SortByTraffic:
		return SortOrder(s), nil
	case "":
		return SortByDate, nil
	default:
		return "", fmt.Errorf("unknown sort order %q (want %q or %q)", s, SortByDate, SortByTraffic)
	}
}

// Sort returns a sorted copy of records.
func Sort(records []discovery.Record, order SortOrder) []discovery.Record {
	sorted := make([]discovery.Record, len(records))
	copy(sorted, records)
	if order == SortByTraffic {
		discovery.SortByTraffic(sorted)
	} else {
		discovery.SortByDate(sorted)
	}
	return sorted
}

// Write writes a header line and one row per record, in the given order.
// Traffic columns are empty for records without traffic stats.
func Write(w io.Writer, records []discovery.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, rec := range records {
		if err := cw.Write(row(rec)); err != nil {
			return fmt.Errorf("write csv row for %s: %w", rec.SystemName, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func row(rec discovery.Record) []string {
	id := ""
	if rec.SystemID != 0 {
		id = strconv.FormatInt(rec.SystemID, 10)
	}

	total, week, day := "", "", ""
	if rec.Traffic != nil {
		total = strconv.Itoa(rec.Traffic.Total)
		week = strconv.Itoa(rec.Traffic.Week)
		day = strconv.Itoa(rec.Traffic.Day)
	}

	return []string{
		rec.SystemName,
		id,
		rec.DiscoveryDate.UTC().Format(discovery.DateLayout),
		total,
		week,
		day,
		strconv.FormatBool(rec.VisitedAfterDiscovery()),
	}
}

// WriteFile writes the export to path atomically.
func WriteFile(path string, records []discovery.Record) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if err := Write(tmp, records); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename to %s: %w", path, err)
	}
	return nil
}

// Read parses an export written by Write.
func Read(r io.Reader) ([]discovery.Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrInvalidCSV, err)
	}
	for i, name := range Header {
		if header[i] != name {
			return nil, fmt.Errorf("%w: column %d is %q, want %q", ErrInvalidCSV, i+1, header[i], name)
		}
	}

	var records []discovery.Record
	for {
		fields, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCSV, err)
		}

		rec, err := parseRow(fields)
		if err != nil {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("%w: line %d: %v", ErrInvalidCSV, line, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseRow(fields []string) (discovery.Record, error) {
	rec := discovery.Record{SystemName: fields[0]}

	if fields[1] != "" {
		id, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return rec, fmt.Errorf("system id: %w", err)
		}
		rec.SystemID = id
	}

	date, err := time.ParseInLocation(discovery.DateLayout, fields[2], time.UTC)
	if err != nil {
		return rec, fmt.Errorf("discovery date: %w", err)
	}
	rec.DiscoveryDate = date

	if fields[3] == "" && fields[4] == "" && fields[5] == "" {
		return rec, nil
	}

	var counters [3]int
	for i := range counters {
		n, err := strconv.Atoi(fields[3+i])
		if err != nil {
			return rec, fmt.Errorf("%s: %w", Header[3+i], err)
		}
		counters[i] = n
	}
	rec.Traffic = &discovery.TrafficStats{Total: counters[0], Week: counters[1], Day: counters[2]}
	return rec, nil
}
