package concentration

import (
	"sort"

	apierrors "concentra/internal/errors"
	"concentra/internal/dataprocessing"
	"concentra/internal/table"
)

const maxThresholds = 10

// Params are the inputs to an analysis run. TimeColumn is optional; the
// derived period key is used when present and no explicit column is given.
type Params struct {
	GroupBy    string
	Value      string
	TimeColumn string
	Thresholds []int
}

// ValidateThresholds checks range and count, then sorts ascending and
// deduplicates. Out-of-range entries and oversize lists are rejected;
// duplicates are not.
func ValidateThresholds(thresholds []int) ([]int, error) {
	if len(thresholds) == 0 {
		return append([]int(nil), DefaultThresholds...), nil
	}
	if len(thresholds) > maxThresholds {
		return nil, apierrors.Validationf("At most %d thresholds are allowed", maxThresholds)
	}
	for _, t := range thresholds {
		if t < 1 || t > 100 {
			return nil, apierrors.Validationf("Threshold %d is out of range [1,100]", t)
		}
	}
	sorted := append([]int(nil), thresholds...)
	sort.Ints(sorted)
	deduped := sorted[:0]
	for i, t := range sorted {
		if i == 0 || t != sorted[i-1] {
			deduped = append(deduped, t)
		}
	}
	return deduped, nil
}

// validateParams resolves and checks the requested columns against the
// normalized table and schema.
func validateParams(t *table.Table, schema *dataprocessing.Schema, p *Params) error {
	if !t.HasColumn(p.GroupBy) {
		return apierrors.Validationf("Column '%s' not found in dataset", p.GroupBy)
	}
	if !t.HasColumn(p.Value) {
		return apierrors.Validationf("Column '%s' not found in dataset", p.Value)
	}
	valueCol := t.Column(p.Value)
	if valueCol.Type != table.TypeFloat && valueCol.Type != table.TypeInteger {
		return apierrors.Validationf("Column '%s' is not numeric", p.Value)
	}
	if p.TimeColumn != "" && !t.HasColumn(p.TimeColumn) {
		return apierrors.Validationf("Column '%s' not found in dataset", p.TimeColumn)
	}
	if p.TimeColumn == "" && t.HasColumn(dataprocessing.PeriodKeyColumn) {
		p.TimeColumn = dataprocessing.PeriodKeyColumn
	}
	return nil
}
