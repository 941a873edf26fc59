package exporter

import (
	"fmt"
	"log/slog"
	"strings"

	"concentra/internal/concentration"
	"concentra/internal/table"
)

// WriteWorkbook renders the three-sheet workbook: Summary, Top_Entities
// and Parameters, in that order.
func (e *Exporter) WriteWorkbook(doc *concentration.Document, path string) error {
	summary, err := summarySheet(doc)
	if err != nil {
		return err
	}
	details, err := detailsSheet(doc)
	if err != nil {
		return err
	}
	params, err := parametersSheet(doc)
	if err != nil {
		return err
	}

	sheets := []table.Sheet{
		{Name: "Summary", Table: summary},
		{Name: "Top_Entities", Table: details},
		{Name: "Parameters", Table: params},
	}
	if err := table.WriteSpreadsheet(sheets, path); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}

	e.logger.Info("workbook export written", slog.String("path", path))
	return nil
}

// summarySheet has one row per period plus TOTAL, with dynamic
// per-threshold count/value/pct columns. Missing thresholds stay null.
func summarySheet(doc *concentration.Document) (*table.Table, error) {
	periods := append(append([]concentration.PeriodResult(nil), doc.ByPeriod...), doc.Totals)
	n := len(periods)

	t := table.New()
	periodCol := table.NewStringColumn("period", n)
	totalCol := &table.Column{Name: "total", Type: table.TypeFloat, Nulls: make([]bool, n), Floats: make([]float64, n)}
	for i, p := range periods {
		periodCol.SetString(i, p.Period)
		totalCol.Floats[i] = p.Total
	}
	if err := t.AddColumn(periodCol); err != nil {
		return nil, err
	}
	if err := t.AddColumn(totalCol); err != nil {
		return nil, err
	}

	for _, threshold := range doc.Thresholds {
		key := concentration.ThresholdKey(threshold)
		countCol := &table.Column{Name: key + "_count", Type: table.TypeInteger, Nulls: make([]bool, n), Ints: make([]int64, n)}
		valueCol := &table.Column{Name: key + "_value", Type: table.TypeFloat, Nulls: make([]bool, n), Floats: make([]float64, n)}
		pctCol := &table.Column{Name: key + "_pct", Type: table.TypeFloat, Nulls: make([]bool, n), Floats: make([]float64, n)}
		for i, p := range periods {
			stat, ok := p.Concentration[key]
			if !ok {
				countCol.SetNull(i)
				valueCol.SetNull(i)
				pctCol.SetNull(i)
				continue
			}
			countCol.Ints[i] = int64(stat.Count)
			valueCol.Floats[i] = stat.Value
			pctCol.Floats[i] = stat.PctOfTotal
		}
		for _, c := range []*table.Column{countCol, valueCol, pctCol} {
			if err := t.AddColumn(c); err != nil {
				return nil, err
			}
		}
	}
	return t, nil
}

// detailsSheet flattens the head rows across all periods.
func detailsSheet(doc *concentration.Document) (*table.Table, error) {
	periods := append(append([]concentration.PeriodResult(nil), doc.ByPeriod...), doc.Totals)
	rows := 0
	for _, p := range periods {
		rows += len(p.Head)
	}

	periodCol := table.NewStringColumn("period", rows)
	entityCol := table.NewStringColumn("entity", rows)
	valueCol := &table.Column{Name: "value", Type: table.TypeFloat, Nulls: make([]bool, rows), Floats: make([]float64, rows)}
	cumsumCol := &table.Column{Name: "cumsum", Type: table.TypeFloat, Nulls: make([]bool, rows), Floats: make([]float64, rows)}
	cumPctCol := &table.Column{Name: "cumulative_pct", Type: table.TypeFloat, Nulls: make([]bool, rows), Floats: make([]float64, rows)}

	i := 0
	for _, p := range periods {
		for _, head := range p.Head {
			periodCol.SetString(i, p.Period)
			entityCol.SetString(i, headString(head, doc.GroupBy))
			valueCol.Floats[i] = headFloat(head, doc.ValueColumn)
			cumsumCol.Floats[i] = headFloat(head, "cumsum")
			cumPctCol.Floats[i] = headFloat(head, "cumulative_pct")
			i++
		}
	}

	t := table.New()
	for _, c := range []*table.Column{periodCol, entityCol, valueCol, cumsumCol, cumPctCol} {
		if err := t.AddColumn(c); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// parametersSheet lists the request parameters as a two-column table.
func parametersSheet(doc *concentration.Document) (*table.Table, error) {
	thresholds := make([]string, len(doc.Thresholds))
	for i, t := range doc.Thresholds {
		thresholds[i] = formatInt(t)
	}
	entries := [][2]string{
		{"Group By", doc.GroupBy},
		{"Value Column", doc.ValueColumn},
		{"Time Column", doc.TimeColumn},
		{"Thresholds", strings.Join(thresholds, ", ")},
	}

	paramCol := table.NewStringColumn("Parameter", len(entries))
	valueCol := table.NewStringColumn("Value", len(entries))
	for i, entry := range entries {
		paramCol.SetString(i, entry[0])
		valueCol.SetString(i, entry[1])
	}

	t := table.New()
	if err := t.AddColumn(paramCol); err != nil {
		return nil, err
	}
	if err := t.AddColumn(valueCol); err != nil {
		return nil, err
	}
	return t, nil
}

func headString(row concentration.HeadRow, key string) string {
	if v, ok := row[key].(string); ok {
		return v
	}
	return fmt.Sprintf("%v", row[key])
}

func headFloat(row concentration.HeadRow, key string) float64 {
	if v, ok := row[key].(float64); ok {
		return v
	}
	return 0
}
