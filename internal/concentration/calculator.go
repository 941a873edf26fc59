package concentration

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"concentra/internal/dataprocessing"
	"concentra/internal/table"
)

// ErrNonPositiveTotal is the per-period error text when a period's total
// is zero or negative. It appears in the result, never as a request error.
const ErrNonPositiveTotal = "Total value is non-positive; cannot compute concentration"

// Analyzer computes concentration documents from normalized tables.
type Analyzer struct {
	largeDatasetThreshold int
	logger                *slog.Logger
}

// NewAnalyzer creates an analyzer. largeDatasetThreshold controls the
// performance warning; zero applies the default of 10000 entities.
func NewAnalyzer(largeDatasetThreshold int, logger *slog.Logger) *Analyzer {
	if largeDatasetThreshold <= 0 {
		largeDatasetThreshold = 10000
	}
	return &Analyzer{
		largeDatasetThreshold: largeDatasetThreshold,
		logger:                logger.With(slog.String("component", "concentration")),
	}
}

// entityAgg is one entity's summed value within a slice of rows.
type entityAgg struct {
	entity string
	value  float64
}

// Analyze runs the concentration computation per period and for the
// overall total. The table must already be normalized; params are
// validated against it with specific errors.
func (a *Analyzer) Analyze(t *table.Table, schema *dataprocessing.Schema, p Params) (*Document, error) {
	thresholds, err := ValidateThresholds(p.Thresholds)
	if err != nil {
		return nil, err
	}
	p.Thresholds = thresholds
	if err := validateParams(t, schema, &p); err != nil {
		return nil, err
	}

	doc := &Document{
		PeriodGrain: string(schema.PeriodGrain),
		GroupBy:     p.GroupBy,
		ValueColumn: p.Value,
		TimeColumn:  p.TimeColumn,
		Thresholds:  thresholds,
		Warnings:    []string{},
		ByPeriod:    []PeriodResult{},
		Formulas:    documentFormulas(thresholds),
	}

	groupCol := t.Column(p.GroupBy)
	valueCol := t.Column(p.Value)

	// Periods in lexicographic order; the period-key convention makes that
	// chronological within a grain.
	if p.TimeColumn != "" {
		timeCol := t.Column(p.TimeColumn)
		periods := make(map[string][]int)
		for i := 0; i < t.RowCount(); i++ {
			if timeCol.IsNull(i) {
				continue
			}
			key := timeCol.CellString(i)
			periods[key] = append(periods[key], i)
		}
		keys := make([]string, 0, len(periods))
		for key := range periods {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			result := a.computePeriod(key, periods[key], groupCol, valueCol, p, thresholds)
			doc.ByPeriod = append(doc.ByPeriod, result)
		}
	}

	allRows := make([]int, t.RowCount())
	for i := range allRows {
		allRows[i] = i
	}
	doc.Totals = a.computePeriod("TOTAL", allRows, groupCol, valueCol, p, thresholds)

	if doc.Totals.TotalEntities > a.largeDatasetThreshold {
		doc.Warnings = append(doc.Warnings, fmt.Sprintf(
			"Large dataset: %d entities exceed configured threshold", doc.Totals.TotalEntities))
	}

	a.logger.Info("concentration computed",
		slog.String("group_by", p.GroupBy),
		slog.String("value", p.Value),
		slog.Int("periods", len(doc.ByPeriod)),
		slog.Int("entities", doc.Totals.TotalEntities))

	return doc, nil
}

// computePeriod aggregates, ranks and buckets one period's rows.
func (a *Analyzer) computePeriod(period string, rows []int, groupCol, valueCol *table.Column, p Params, thresholds []int) PeriodResult {
	result := PeriodResult{Period: period}

	sums := make(map[string]float64)
	for _, i := range rows {
		if groupCol.IsNull(i) || valueCol.IsNull(i) {
			continue
		}
		sums[groupCol.CellString(i)] += valueCol.Float(i)
	}

	aggs := make([]entityAgg, 0, len(sums))
	for entity, value := range sums {
		aggs = append(aggs, entityAgg{entity: entity, value: value})
	}
	// Value descending, entity ascending on the string form for ties.
	sort.Slice(aggs, func(i, j int) bool {
		if aggs[i].value != aggs[j].value {
			return aggs[i].value > aggs[j].value
		}
		return aggs[i].entity < aggs[j].entity
	})

	var total float64
	for _, agg := range aggs {
		total += agg.value
	}
	result.Total = total
	if period == "TOTAL" {
		result.TotalEntities = len(aggs)
	}

	if total <= 0 {
		result.Error = ErrNonPositiveTotal
		return result
	}

	cumsum := make([]float64, len(aggs))
	cumPct := make([]float64, len(aggs))
	running := 0.0
	for i, agg := range aggs {
		running += agg.value
		cumsum[i] = running
		cumPct[i] = running / total * 100
	}

	result.Concentration = make(map[string]ThresholdStat, len(thresholds))
	for _, threshold := range thresholds {
		count := 0
		for i := range aggs {
			// Inclusion uses the unrounded cumulative percentage. Counting
			// stops at the first exceedance: negative-valued entities sort to
			// the tail and can pull the cumulative share back under a
			// threshold, but they never extend a top-k prefix.
			if cumPct[i] <= float64(threshold) {
				count = i + 1
			} else {
				break
			}
		}
		if count == 0 {
			count = 1
		}
		value := cumsum[count-1]
		result.Concentration[ThresholdKey(threshold)] = ThresholdStat{
			Count:      count,
			Value:      value,
			PctOfTotal: round1(value / total * 100),
		}
	}

	headLen := len(aggs)
	if headLen > 10 {
		headLen = 10
	}
	result.Head = make([]HeadRow, 0, headLen)
	for i := 0; i < headLen; i++ {
		result.Head = append(result.Head, NewHeadRow(
			p.GroupBy, aggs[i].entity, p.Value,
			aggs[i].value, cumsum[i], round1(cumPct[i])))
	}

	return result
}

// round1 rounds to one decimal place for reporting.
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
