// Package exporter renders concentration documents as a flat CSV and a
// multi-sheet workbook. Both artifacts reflect the JSON result exactly;
// a missing threshold in a period is an empty cell, never a zero.
package exporter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"log/slog"

	"concentra/internal/concentration"
	"concentra/internal/table"
)

// csvHeader is the flat export's column order.
var csvHeader = []string{"period", "threshold", "count", "value", "pct_of_total"}

// Exporter writes concentration artifacts.
type Exporter struct {
	logger *slog.Logger
}

// New creates an exporter.
func New(logger *slog.Logger) *Exporter {
	return &Exporter{logger: logger.With(slog.String("component", "exporter"))}
}

// WriteCSV renders the flat export: one row per (period, threshold) for
// each period, then for TOTAL, periods first in document order. A
// trailing "GroupBy,<column>" line is kept for consumers of the previous
// format; readers should ignore extra columns.
func (e *Exporter) WriteCSV(doc *concentration.Document, path string) error {
	// Rendered in memory and replaced atomically so the dataset directory
	// never holds a torn artifact. A UTF-8 BOM keeps spreadsheet
	// applications honest about the encoding.
	var buf bytes.Buffer
	buf.Write([]byte{0xEF, 0xBB, 0xBF})

	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	writePeriod := func(p concentration.PeriodResult) error {
		for _, threshold := range doc.Thresholds {
			stat, ok := p.Concentration[concentration.ThresholdKey(threshold)]
			row := []string{p.Period, formatInt(threshold), "", "", ""}
			if ok {
				row[2] = formatInt(stat.Count)
				row[3] = formatValue(stat.Value)
				row[4] = formatPct(stat.PctOfTotal)
			}
			if err := w.Write(row); err != nil {
				return fmt.Errorf("write row for period %s: %w", p.Period, err)
			}
		}
		return nil
	}

	for _, p := range doc.ByPeriod {
		if err := writePeriod(p); err != nil {
			return err
		}
	}
	if err := writePeriod(doc.Totals); err != nil {
		return err
	}

	// Transitional compatibility line; scheduled for removal.
	if err := w.Write([]string{"GroupBy", doc.GroupBy}); err != nil {
		return fmt.Errorf("write compatibility line: %w", err)
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	if err := table.WriteFileAtomic(path, buf.Bytes()); err != nil {
		return err
	}

	e.logger.Info("csv export written",
		slog.String("path", path),
		slog.Int("periods", len(doc.ByPeriod)))
	return nil
}
