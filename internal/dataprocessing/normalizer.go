package dataprocessing

import (
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"concentra/internal/table"
)

var (
	nonAlnumRe     = regexp.MustCompile(`[^a-z0-9]+`)
	underscoreRunRe = regexp.MustCompile(`_+`)

	// Negative-value policy: flagged names always warn, allowed names never do.
	negativeFlaggedRe = regexp.MustCompile(`(^|_)(revenue|sales|turnover)(_|$)`)
	negativeAllowedRe = regexp.MustCompile(`(^|_)(cost|expense|profit|margin|adjustment|net_income)(_|$)`)
)

// Normalizer coerces an all-string table into typed columns and produces
// the schema document.
type Normalizer struct {
	logger *slog.Logger
}

// NewNormalizer creates a normalizer.
func NewNormalizer(logger *slog.Logger) *Normalizer {
	return &Normalizer{logger: logger.With(slog.String("component", "normalizer"))}
}

// NormalizeHeader cleans one header: trim, lowercase, collapse runs of
// non-alphanumerics to underscores, strip edge underscores and prefix
// names that would start with a digit.
func NormalizeHeader(header string) string {
	clean := strings.ToLower(strings.TrimSpace(header))
	clean = nonAlnumRe.ReplaceAllString(clean, "_")
	clean = underscoreRunRe.ReplaceAllString(clean, "_")
	clean = strings.Trim(clean, "_")
	if clean == "" {
		return "column"
	}
	if clean[0] >= '0' && clean[0] <= '9' {
		clean = "col_" + clean
	}
	return clean
}

// normalizeHeaders cleans every header and deduplicates with numeric
// suffixes. Returns normalized names in order and the normalized-to-
// original mapping.
func normalizeHeaders(headers []string) ([]string, map[string]string) {
	seen := make(map[string]struct{}, len(headers))
	mapping := make(map[string]string, len(headers))
	names := make([]string, len(headers))
	for i, header := range headers {
		clean := NormalizeHeader(header)
		if _, dup := seen[clean]; dup {
			for n := 2; ; n++ {
				candidate := fmt.Sprintf("%s_%d", clean, n)
				if _, dup := seen[candidate]; !dup {
					clean = candidate
					break
				}
			}
		}
		seen[clean] = struct{}{}
		names[i] = clean
		mapping[clean] = header
	}
	return names, mapping
}

// Normalize runs the full pipeline: header cleanup, per-column coercion,
// role assignment, temporal detection and period-key derivation.
func (n *Normalizer) Normalize(raw *table.Table) (*Result, error) {
	rows := raw.RowCount()
	names, headerMapping := normalizeHeaders(rawHeaders(raw))

	typed := table.New()
	columnMeta := make([]ColumnSchema, 0, raw.ColumnCount())
	var warnings []string
	multiCurrencyWarned := false
	ambiguousDatesWarned := false
	allCurrencies := make(map[string]struct{})

	for idx, src := range raw.Columns() {
		name := names[idx]
		col := &table.Column{Name: name, Type: table.TypeString, Nulls: src.Nulls, Strings: src.Strings}
		meta := ColumnSchema{Name: name, OriginalName: headerMapping[name]}

		if numeric, ok := coerceNumeric(col); ok {
			out := numeric.column
			meta.Coercions = numeric.coercions
			meta.DecimalConvention = numeric.convention
			meta.CurrenciesDetected = numeric.currencies
			if applyHeaderPercent(name, out, &meta.Coercions) {
				meta.Representation = "percent"
			}
			if len(numeric.currencies) > 1 {
				meta.MultiCurrency = true
			}
			for _, cur := range numeric.currencies {
				allCurrencies[cur] = struct{}{}
			}
			if meta.MultiCurrency && !multiCurrencyWarned {
				warnings = append(warnings, "Multi-currency data detected")
				multiCurrencyWarned = true
			}
			if numeric.convention == "mixed" {
				warnings = append(warnings, fmt.Sprintf("Mixed decimal conventions within column '%s'", name))
			}
			if err := typed.AddColumn(out); err != nil {
				return nil, err
			}
			columnMeta = append(columnMeta, meta)
			continue
		}

		if dt, ok := coerceDatetime(col); ok {
			meta.Coercions.DatetimeParsed = dt.parsed
			if dt.ambiguous && !ambiguousDatesWarned {
				warnings = append(warnings, "Ambiguous date formats; defaulted to dayfirst=False")
				ambiguousDatesWarned = true
			}
			if err := typed.AddColumn(dt.column); err != nil {
				return nil, err
			}
			columnMeta = append(columnMeta, meta)
			continue
		}

		if b, ok := coerceBoolean(col); ok {
			meta.Coercions.BooleanCoerced = b.coerced
			if err := typed.AddColumn(b.column); err != nil {
				return nil, err
			}
			columnMeta = append(columnMeta, meta)
			continue
		}

		if err := typed.AddColumn(col); err != nil {
			return nil, err
		}
		columnMeta = append(columnMeta, meta)
	}

	// Temporal detection runs on the typed table so numeric year columns
	// and parsed datetimes both count.
	det := detectTemporal(typed)
	if det.grain != GrainNone {
		pk := table.NewStringColumn(PeriodKeyColumn, rows)
		for i, key := range det.periodKeys {
			if key == "" {
				pk.SetNull(i)
				continue
			}
			pk.SetString(i, key)
		}
		if err := typed.AddColumn(pk); err != nil {
			return nil, err
		}
		columnMeta = append(columnMeta, ColumnSchema{
			Name:         PeriodKeyColumn,
			OriginalName: PeriodKeyColumn,
		})
	}

	// Roles, anomalies and the negative-value policy need the final types.
	for i := range columnMeta {
		c := typed.Column(columnMeta[i].Name)
		columnMeta[i].Dtype = c.Type
		columnMeta[i].Cardinality = c.Cardinality()
		nullCount := c.Len() - c.NonNullCount()
		if c.Len() > 0 {
			columnMeta[i].NullRate = float64(nullCount) / float64(c.Len())
		}
		if columnMeta[i].Name == PeriodKeyColumn {
			columnMeta[i].Role = RoleCategorical
		} else {
			columnMeta[i].Role = assignRole(c)
		}
		columnMeta[i].Anomalies = detectAnomalies(c, rows)

		if columnMeta[i].Role == RoleNumeric && columnMeta[i].Anomalies.NegativeCount > 0 {
			switch {
			case negativeAllowedRe.MatchString(columnMeta[i].Name):
			case negativeFlaggedRe.MatchString(columnMeta[i].Name):
				warnings = append(warnings, fmt.Sprintf("Unexpected negative values in column '%s'", columnMeta[i].Name))
			}
		}
	}

	currencies := make([]string, 0, len(allCurrencies))
	for cur := range allCurrencies {
		currencies = append(currencies, cur)
	}
	sort.Strings(currencies)

	hasTime := det.grain != GrainNone
	for _, meta := range columnMeta {
		if meta.Role == RoleDatetime {
			hasTime = true
		}
	}

	schema := &Schema{
		GeneratedAt:           time.Now().UTC(),
		Columns:               columnMeta,
		PeriodGrain:           det.grain,
		PeriodGrainCandidates: det.grainCandidates,
		TimeCandidates:        det.candidates,
		Warnings:              warnings,
		Notes:                 []string{},
		Metadata: Metadata{
			RowCount:           rows,
			ColumnCount:        typed.ColumnCount(),
			MultiCurrency:      len(allCurrencies) > 1,
			CurrenciesDetected: currencies,
			HasTimeDimension:   hasTime,
		},
	}
	if schema.TimeCandidates == nil {
		schema.TimeCandidates = []string{}
	}
	if schema.Warnings == nil {
		schema.Warnings = []string{}
	}

	n.logger.Info("normalization complete",
		slog.Int("rows", rows),
		slog.Int("columns", typed.ColumnCount()),
		slog.String("period_grain", string(det.grain)),
		slog.Int("warnings", len(warnings)))

	return &Result{Table: typed, Schema: schema, Warnings: warnings}, nil
}

func rawHeaders(t *table.Table) []string {
	return t.ColumnNames()
}

// assignRole maps a typed column to its semantic role.
func assignRole(c *table.Column) Role {
	switch c.Type {
	case table.TypeDatetime:
		return RoleDatetime
	case table.TypeBoolean:
		return RoleBoolean
	case table.TypeFloat, table.TypeInteger:
		return RoleNumeric
	}
	if c.Len() > 0 && c.Cardinality() == c.NonNullCount() && c.NonNullCount() == c.Len() {
		return RoleIdentifier
	}
	return RoleCategorical
}

// detectAnomalies computes the per-column quality block.
func detectAnomalies(c *table.Column, rows int) ColumnAnomalies {
	a := ColumnAnomalies{}
	a.NullCount = c.Len() - c.NonNullCount()
	if c.Len() > 0 {
		a.NullRate = float64(a.NullCount) / float64(c.Len())
	}
	a.HighNullRate = a.NullRate > 0.5
	a.LowCardinality = rows > 100 && c.Cardinality() < 5

	if c.Type != table.TypeFloat && c.Type != table.TypeInteger {
		return a
	}

	var sum, count float64
	for i := 0; i < c.Len(); i++ {
		if c.IsNull(i) {
			continue
		}
		v := c.Float(i)
		sum += v
		count++
		if v < 0 {
			a.NegativeCount++
		}
	}
	if count == 0 {
		return a
	}
	mean := sum / count
	var variance float64
	for i := 0; i < c.Len(); i++ {
		if c.IsNull(i) {
			continue
		}
		d := c.Float(i) - mean
		variance += d * d
	}
	stddev := math.Sqrt(variance / count)
	if stddev > 0 {
		for i := 0; i < c.Len(); i++ {
			if c.IsNull(i) {
				continue
			}
			if math.Abs(c.Float(i)-mean) > 3*stddev {
				a.OutlierCount++
			}
		}
		a.OutlierRate = float64(a.OutlierCount) / count
	}
	return a
}
