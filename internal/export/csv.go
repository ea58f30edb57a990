// Package export writes and reads the history log as CSV.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/JakeFAU/headline-tracker/internal/tracker"
)

// Columns is the CSV header, in order.
var Columns = []string{
	"id",
	"run_id",
	"profile_id",
	"observed_at",
	"old_title",
	"old_company",
	"observed_title",
	"observed_company",
	"change_type",
	"changed",
	"detail",
}

// WriteHistoryCSV writes the header followed by one row per entry.
func WriteHistoryCSV(w io.Writer, entries []tracker.HistoryEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, e := range entries {
		row := []string{
			strconv.FormatInt(e.ID, 10),
			e.RunID,
			strconv.FormatInt(e.ProfileID, 10),
			e.ObservedAt.UTC().Format(time.RFC3339Nano),
			e.OldTitle,
			e.OldCompany,
			e.ObservedTitle,
			e.ObservedCompany,
			string(e.ChangeType),
			strconv.FormatBool(e.Changed),
			e.Detail,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row %d: %w", e.ID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// ReadHistoryCSV parses a file produced by WriteHistoryCSV.
func ReadHistoryCSV(r io.Reader) ([]tracker.HistoryEntry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Columns)

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("csv is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i, col := range Columns {
		if header[i] != col {
			return nil, fmt.Errorf("unexpected column %d: got %q, want %q", i, header[i], col)
		}
	}

	entries := make([]tracker.HistoryEntry, 0)
	for line := 2; ; line++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
		entry, err := parseRow(record)
		if err != nil {
			return nil, fmt.Errorf("parse csv line %d: %w", line, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func parseRow(record []string) (tracker.HistoryEntry, error) {
	id, err := strconv.ParseInt(record[0], 10, 64)
	if err != nil {
		return tracker.HistoryEntry{}, fmt.Errorf("id: %w", err)
	}
	profileID, err := strconv.ParseInt(record[2], 10, 64)
	if err != nil {
		return tracker.HistoryEntry{}, fmt.Errorf("profile_id: %w", err)
	}
	observedAt, err := time.Parse(time.RFC3339Nano, record[3])
	if err != nil {
		return tracker.HistoryEntry{}, fmt.Errorf("observed_at: %w", err)
	}
	changeType, err := tracker.ParseChangeType(record[8])
	if err != nil {
		return tracker.HistoryEntry{}, err
	}
	changed, err := strconv.ParseBool(record[9])
	if err != nil {
		return tracker.HistoryEntry{}, fmt.Errorf("changed: %w", err)
	}
	return tracker.HistoryEntry{
		ID:              id,
		RunID:           record[1],
		ProfileID:       profileID,
		ObservedAt:      observedAt.UTC(),
		OldTitle:        record[4],
		OldCompany:      record[5],
		ObservedTitle:   record[6],
		ObservedCompany: record[7],
		ChangeType:      changeType,
		Changed:         changed,
		Detail:          record[10],
	}, nil
}
