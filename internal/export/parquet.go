// Package export writes backtest output to Parquet files for offline
// analysis (pandas, DuckDB).
package export

import (
	"fmt"
	"sort"

	"stock-evalv1/internal/model"

	"github.com/parquet-go/parquet-go"
)

// featureRow is the flat Parquet DTO for one feature output at one bar.
// One row per (symbol, ts, feature) keeps the schema stable across
// indicator configurations.
type featureRow struct {
	Symbol  string  `parquet:"symbol"`
	TS      int64   `parquet:"ts"` // Unix timestamp in milliseconds
	Feature string  `parquet:"feature"`
	Value   float64 `parquet:"value"`
	Ready   bool    `parquet:"ready"`
}

// barRow is the flat Parquet DTO for one bar.
type barRow struct {
	Symbol string  `parquet:"symbol"`
	TS     int64   `parquet:"ts"` // Unix timestamp in milliseconds
	Open   float64 `parquet:"o"`
	High   float64 `parquet:"h"`
	Low    float64 `parquet:"l"`
	Close  float64 `parquet:"c"`
	Volume int64   `parquet:"v"`
}

// WriteFeatureRecords flattens records into rows and writes a Parquet file.
func WriteFeatureRecords(path string, records []model.FeatureRecord) error {
	rows := make([]featureRow, 0, len(records)*4)
	for i := range records {
		rec := &records[i]

		// Deterministic row order within a record
		names := make([]string, 0, len(rec.Features))
		for name := range rec.Features {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			fv := rec.Features[name]
			rows = append(rows, featureRow{
				Symbol:  rec.Symbol,
				TS:      rec.TS.UnixMilli(),
				Feature: name,
				Value:   fv.Value,
				Ready:   fv.Ready,
			})
		}
	}

	if err := parquet.WriteFile(path, rows); err != nil {
		return fmt.Errorf("write feature parquet %s: %w", path, err)
	}
	return nil
}

// WriteBars writes bars to a Parquet file, prices converted to dollars.
func WriteBars(path string, bars []model.Bar) error {
	rows := make([]barRow, len(bars))
	for i, b := range bars {
		rows[i] = barRow{
			Symbol: b.Symbol,
			TS:     b.TS.UnixMilli(),
			Open:   b.OpenDollars(),
			High:   b.HighDollars(),
			Low:    b.LowDollars(),
			Close:  b.CloseDollars(),
			Volume: b.Volume,
		}
	}

	if err := parquet.WriteFile(path, rows); err != nil {
		return fmt.Errorf("write bar parquet %s: %w", path, err)
	}
	return nil
}
