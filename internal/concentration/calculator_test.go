package concentration

import (
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concentra/internal/dataprocessing"
	"concentra/internal/table"
)

func testLogger() *slog.Logger {
	return slog.Default()
}

// buildTable creates a typed table with an entity column and a float
// value column, plus an optional period key column.
func buildTable(t *testing.T, entities []string, values []float64, periods []string) *table.Table {
	t.Helper()
	tbl := table.New()

	entityCol := table.NewStringColumn("entity", len(entities))
	for i, e := range entities {
		entityCol.SetString(i, e)
	}
	require.NoError(t, tbl.AddColumn(entityCol))

	valueCol := &table.Column{
		Name:   "revenue",
		Type:   table.TypeFloat,
		Nulls:  make([]bool, len(values)),
		Floats: values,
	}
	require.NoError(t, tbl.AddColumn(valueCol))

	if periods != nil {
		periodCol := table.NewStringColumn(dataprocessing.PeriodKeyColumn, len(periods))
		for i, p := range periods {
			if p == "" {
				periodCol.SetNull(i)
				continue
			}
			periodCol.SetString(i, p)
		}
		require.NoError(t, tbl.AddColumn(periodCol))
	}
	return tbl
}

func testSchema(grain dataprocessing.PeriodGrain) *dataprocessing.Schema {
	return &dataprocessing.Schema{PeriodGrain: grain}
}

func TestAnalyzeSinglePeriodWithTies(t *testing.T) {
	tbl := buildTable(t,
		[]string{"ACME", "BETA", "GAMMA", "DELTA"},
		[]float64{1000, 500, 500, 500},
		nil)

	analyzer := NewAnalyzer(0, testLogger())
	doc, err := analyzer.Analyze(tbl, testSchema(dataprocessing.GrainNone), Params{
		GroupBy:    "entity",
		Value:      "revenue",
		Thresholds: []int{10, 50},
	})
	require.NoError(t, err)

	assert.Empty(t, doc.ByPeriod)
	assert.Equal(t, []int{10, 50}, doc.Thresholds)
	assert.Equal(t, 2500.0, doc.Totals.Total)
	assert.Equal(t, 4, doc.Totals.TotalEntities)

	top10 := doc.Totals.Concentration["top_10"]
	assert.Equal(t, 1, top10.Count)
	assert.Equal(t, 1000.0, top10.Value)
	assert.Equal(t, 40.0, top10.PctOfTotal)

	top50 := doc.Totals.Concentration["top_50"]
	assert.Equal(t, 1, top50.Count)
	assert.Equal(t, 1000.0, top50.Value)
	assert.Equal(t, 40.0, top50.PctOfTotal)

	// Ties break ascending on the entity's string form.
	require.Len(t, doc.Totals.Head, 4)
	assert.Equal(t, "ACME", doc.Totals.Head[0]["entity"])
	assert.Equal(t, "BETA", doc.Totals.Head[1]["entity"])
	assert.Equal(t, "DELTA", doc.Totals.Head[2]["entity"])
	assert.Equal(t, "GAMMA", doc.Totals.Head[3]["entity"])
}

func TestAnalyzeMultiPeriod(t *testing.T) {
	tbl := buildTable(t,
		[]string{"ACME", "BETA", "ACME", "BETA"},
		[]float64{100, 50, 200, 100},
		[]string{"2024-M01", "2024-M01", "2024-M02", "2024-M02"})

	analyzer := NewAnalyzer(0, testLogger())
	doc, err := analyzer.Analyze(tbl, testSchema(dataprocessing.GrainYearMonth), Params{
		GroupBy: "entity",
		Value:   "revenue",
	})
	require.NoError(t, err)

	require.Len(t, doc.ByPeriod, 2)
	assert.Equal(t, "2024-M01", doc.ByPeriod[0].Period)
	assert.Equal(t, "2024-M02", doc.ByPeriod[1].Period)
	assert.Equal(t, 150.0, doc.ByPeriod[0].Total)
	assert.Equal(t, 300.0, doc.ByPeriod[1].Total)
	assert.Equal(t, 450.0, doc.Totals.Total)
	assert.Equal(t, "TOTAL", doc.Totals.Period)
}

func TestAnalyzeNonPositiveTotal(t *testing.T) {
	tbl := buildTable(t,
		[]string{"ACME", "BETA"},
		[]float64{-10, -5},
		[]string{"2024", "2024"})

	analyzer := NewAnalyzer(0, testLogger())
	doc, err := analyzer.Analyze(tbl, testSchema(dataprocessing.GrainYear), Params{
		GroupBy: "entity",
		Value:   "revenue",
	})
	require.NoError(t, err)

	require.Len(t, doc.ByPeriod, 1)
	assert.Equal(t, ErrNonPositiveTotal, doc.ByPeriod[0].Error)
	assert.Nil(t, doc.ByPeriod[0].Concentration)
	assert.Nil(t, doc.ByPeriod[0].Head)
	assert.Equal(t, ErrNonPositiveTotal, doc.Totals.Error)
}

func TestAnalyzeUnknownColumn(t *testing.T) {
	tbl := buildTable(t, []string{"ACME"}, []float64{1}, nil)
	analyzer := NewAnalyzer(0, testLogger())

	_, err := analyzer.Analyze(tbl, testSchema(dataprocessing.GrainNone), Params{
		GroupBy: "nope",
		Value:   "revenue",
	})
	require.Error(t, err)
	assert.EqualError(t, err, "Column 'nope' not found in dataset")

	_, err = analyzer.Analyze(tbl, testSchema(dataprocessing.GrainNone), Params{
		GroupBy: "entity",
		Value:   "entity",
	})
	require.Error(t, err)
	assert.EqualError(t, err, "Column 'entity' is not numeric")
}

func TestValidateThresholds(t *testing.T) {
	tests := []struct {
		name    string
		in      []int
		want    []int
		wantErr bool
	}{
		{name: "defaults", in: nil, want: []int{10, 20, 50}},
		{name: "sorted deduped", in: []int{50, 10, 10}, want: []int{10, 50}},
		{name: "out of range high", in: []int{50, 10, 10, 120}, wantErr: true},
		{name: "out of range low", in: []int{0, 10}, wantErr: true},
		{name: "too many", in: []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}, wantErr: true},
		{name: "single", in: []int{100}, want: []int{100}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateThresholds(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCountsMonotoneInThreshold(t *testing.T) {
	entities := []string{"A", "B", "C", "D", "E", "F"}
	values := []float64{600, 250, 80, 40, 20, 10}
	tbl := buildTable(t, entities, values, nil)

	analyzer := NewAnalyzer(0, testLogger())
	doc, err := analyzer.Analyze(tbl, testSchema(dataprocessing.GrainNone), Params{
		GroupBy:    "entity",
		Value:      "revenue",
		Thresholds: []int{5, 10, 25, 60, 90, 100},
	})
	require.NoError(t, err)

	prev := 0
	for _, threshold := range doc.Thresholds {
		stat := doc.Totals.Concentration[ThresholdKey(threshold)]
		assert.GreaterOrEqual(t, stat.Count, prev, "count must not decrease with threshold")
		assert.GreaterOrEqual(t, stat.Count, 1)
		prev = stat.Count
	}
	// The 100% threshold covers every entity.
	assert.Equal(t, len(entities), doc.Totals.Concentration["top_100"].Count)
}

func TestMixedSignValuesStopAtFirstExceedance(t *testing.T) {
	// Negative entities sort to the tail, so cumulative share overshoots
	// 100% mid-list and dips back at the end. The count must reflect the
	// top-k prefix, not the later dip, and stay monotone in threshold.
	tbl := buildTable(t,
		[]string{"A", "B", "C", "D"},
		[]float64{500, 300, 200, -100},
		nil)

	analyzer := NewAnalyzer(0, testLogger())
	doc, err := analyzer.Analyze(tbl, testSchema(dataprocessing.GrainNone), Params{
		GroupBy:    "entity",
		Value:      "revenue",
		Thresholds: []int{50, 90, 100},
	})
	require.NoError(t, err)

	// Total = 900; cumulative pct runs ~55.6, ~88.9, ~111.1, 100.
	assert.Equal(t, 900.0, doc.Totals.Total)

	top50 := doc.Totals.Concentration["top_50"]
	assert.Equal(t, 1, top50.Count, "floor of one when no prefix qualifies")

	top90 := doc.Totals.Concentration["top_90"]
	assert.Equal(t, 2, top90.Count)
	assert.Equal(t, 800.0, top90.Value)
	assert.Equal(t, 88.9, top90.PctOfTotal)

	// The final dip back to 100% does not extend the prefix past the
	// overshoot at entity C.
	top100 := doc.Totals.Concentration["top_100"]
	assert.Equal(t, 2, top100.Count)

	prev := 0
	for _, threshold := range doc.Thresholds {
		stat := doc.Totals.Concentration[ThresholdKey(threshold)]
		assert.GreaterOrEqual(t, stat.Count, prev)
		prev = stat.Count
	}

	// The ranked head still carries the negative entity at the tail.
	require.Len(t, doc.Totals.Head, 4)
	assert.Equal(t, "D", doc.Totals.Head[3]["entity"])
}

func TestTotalsMatchEntitySum(t *testing.T) {
	entities := []string{"A", "B", "C", "A", "B"}
	values := []float64{1.1, 2.2, 3.3, 4.4, 5.5}
	tbl := buildTable(t, entities, values, nil)

	analyzer := NewAnalyzer(0, testLogger())
	doc, err := analyzer.Analyze(tbl, testSchema(dataprocessing.GrainNone), Params{
		GroupBy: "entity",
		Value:   "revenue",
	})
	require.NoError(t, err)

	var sum float64
	for _, v := range values {
		sum += v
	}
	ulp := math.Nextafter(sum, math.Inf(1)) - sum
	assert.InDelta(t, sum, doc.Totals.Total, ulp*float64(len(values)))
}

func TestNullRowsExcludedFromPeriodsButCounted(t *testing.T) {
	tbl := buildTable(t,
		[]string{"A", "B", "C"},
		[]float64{10, 20, 30},
		[]string{"2024", "", "2024"})

	analyzer := NewAnalyzer(0, testLogger())
	doc, err := analyzer.Analyze(tbl, testSchema(dataprocessing.GrainYear), Params{
		GroupBy: "entity",
		Value:   "revenue",
	})
	require.NoError(t, err)

	require.Len(t, doc.ByPeriod, 1)
	assert.Equal(t, 40.0, doc.ByPeriod[0].Total)
	assert.Equal(t, 60.0, doc.Totals.Total)
}

func TestLargeDatasetWarning(t *testing.T) {
	n := 25
	entities := make([]string, n)
	values := make([]float64, n)
	for i := range entities {
		entities[i] = string(rune('a'+i%26)) + string(rune('0'+i/26))
		values[i] = float64(i + 1)
	}
	tbl := buildTable(t, entities, values, nil)

	analyzer := NewAnalyzer(20, testLogger())
	doc, err := analyzer.Analyze(tbl, testSchema(dataprocessing.GrainNone), Params{
		GroupBy: "entity",
		Value:   "revenue",
	})
	require.NoError(t, err)
	require.Len(t, doc.Warnings, 1)
	assert.Contains(t, doc.Warnings[0], "Large dataset")
}
