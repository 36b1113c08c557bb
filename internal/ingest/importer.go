// Package ingest loads observation rows into the metric store and keeps
// forecasts refreshed on a schedule.
package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/opspulse/opspulse/internal/models"
)

// timestampLayout matches exported dashboard CSVs, e.g. "05.01.26 14:35:00".
const timestampLayout = "02.01.06 15:04:05"

// Inserter is the write half of the metric store needed for imports.
type Inserter interface {
	InsertObservation(ctx context.Context, obs models.Observation) error
}

// Importer reads CSV exports with columns vm, metric, timestamp, value.
// Duplicate (vm, metric, timestamp) rows resolve last-wins through the
// store's upsert.
type Importer struct {
	store Inserter
	comma rune
}

func NewImporter(store Inserter, comma rune) *Importer {
	if comma == 0 {
		comma = ','
	}
	return &Importer{store: store, comma: comma}
}

// ImportCSV reads rows from r and inserts them, returning the number of rows
// imported. A header row is skipped when its timestamp column does not parse.
// Malformed data rows abort the import with the offending line number.
func (im *Importer) ImportCSV(ctx context.Context, r io.Reader) (int, error) {
	reader := csv.NewReader(r)
	reader.Comma = im.comma
	reader.TrimLeadingSpace = true

	imported := 0
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			return imported, nil
		}
		if err != nil {
			return imported, fmt.Errorf("read csv line %d: %w", line+1, err)
		}
		line++

		if len(record) != 4 {
			return imported, fmt.Errorf("csv line %d: got %d columns, want 4 (vm, metric, timestamp, value)", line, len(record))
		}

		obs, err := parseRow(record)
		if err != nil {
			if line == 1 {
				// Header row.
				continue
			}
			return imported, fmt.Errorf("csv line %d: %w", line, err)
		}

		if err := im.store.InsertObservation(ctx, obs); err != nil {
			return imported, fmt.Errorf("insert csv line %d: %w", line, err)
		}
		imported++
	}
}

func parseRow(record []string) (models.Observation, error) {
	ts, err := time.ParseInLocation(timestampLayout, strings.TrimSpace(record[2]), time.UTC)
	if err != nil {
		return models.Observation{}, fmt.Errorf("parse timestamp %q: %w", record[2], err)
	}

	// Exports from locales with decimal commas.
	raw := strings.ReplaceAll(strings.TrimSpace(record[3]), ",", ".")
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return models.Observation{}, fmt.Errorf("parse value %q: %w", record[3], err)
	}

	return models.Observation{
		VM:        strings.TrimSpace(record[0]),
		Metric:    strings.TrimSpace(record[1]),
		Timestamp: ts,
		Value:     value,
	}, nil
}
