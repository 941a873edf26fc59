package dataprocessing

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"concentra/internal/table"
)

var (
	// temporalNameRe matches period-bearing headers on token boundaries so
	// "posting_date" qualifies but "candidate" does not.
	temporalNameRe = regexp.MustCompile(`(^|_)(date|dt|as_of|posting_date|transaction_date|year|month|quarter|fiscal_period)(_|$)`)
	yearNameRe     = regexp.MustCompile(`(^|_)year(_|$)`)
	monthNameRe    = regexp.MustCompile(`(^|_)month(_|$)`)
	quarterNameRe  = regexp.MustCompile(`(^|_)(quarter|fiscal_period)(_|$)`)

	fourDigitYearRe = regexp.MustCompile(`^(19|20)\d{2}$`)
	yearMonthRe     = regexp.MustCompile(`^\d{4}-\d{2}$`)
	monthYearRe     = regexp.MustCompile(`^\d{2}/\d{4}$`)
	quarterTokenRe  = regexp.MustCompile(`^[Qq][1-4]$`)
)

const (
	minYear = 1900
	maxYear = 2100
	// temporalValueCoverage is the share of non-null cells that must match a
	// temporal value pattern for a column to become a candidate by value.
	temporalValueCoverage = 0.7
)

// temporalDetection is the outcome of scanning a typed table for its time
// dimension.
type temporalDetection struct {
	candidates      []string
	grain           PeriodGrain
	grainCandidates []PeriodGrain
	periodKeys      []string // per row; empty means underivable
}

// detectTemporal finds time-candidate columns, selects the period grain by
// precedence and derives per-row period keys.
func detectTemporal(t *table.Table) temporalDetection {
	det := temporalDetection{grain: GrainNone}

	var dateCol, yearCol, monthCol, quarterCol *table.Column
	for _, c := range t.Columns() {
		byName := temporalNameRe.MatchString(c.Name)
		byValue := valuesLookTemporal(c)
		if !byName && !byValue && c.Type != table.TypeDatetime {
			continue
		}
		det.candidates = append(det.candidates, c.Name)

		switch {
		case c.Type == table.TypeDatetime:
			if dateCol == nil {
				dateCol = c
			}
		case yearNameRe.MatchString(c.Name) || columnMatches(c, fourDigitYearRe):
			if yearCol == nil {
				yearCol = c
			}
		case monthNameRe.MatchString(c.Name):
			if monthCol == nil {
				monthCol = c
			}
		case quarterNameRe.MatchString(c.Name) || columnMatches(c, quarterTokenRe):
			if quarterCol == nil {
				quarterCol = c
			}
		}
	}

	// Grain precedence: date > year+month > year+quarter > year > none.
	if dateCol != nil || (yearCol != nil && monthCol != nil) {
		det.grainCandidates = append(det.grainCandidates, GrainYearMonth)
	}
	if yearCol != nil && quarterCol != nil {
		det.grainCandidates = append(det.grainCandidates, GrainYearQuarter)
	}
	if yearCol != nil {
		det.grainCandidates = append(det.grainCandidates, GrainYear)
	}
	det.grainCandidates = append(det.grainCandidates, GrainNone)

	for _, grain := range det.grainCandidates {
		keys, ok := deriveKeys(t.RowCount(), grain, dateCol, yearCol, monthCol, quarterCol)
		if ok {
			det.grain = grain
			det.periodKeys = keys
			break
		}
	}
	return det
}

// valuesLookTemporal reports whether a string column's values match one of
// the recognized period patterns at sufficient coverage.
func valuesLookTemporal(c *table.Column) bool {
	if c.Type != table.TypeString {
		return false
	}
	matched, total := 0, 0
	for i := 0; i < c.Len(); i++ {
		if c.IsNull(i) {
			continue
		}
		total++
		s := strings.TrimSpace(c.Strings[i])
		if fourDigitYearRe.MatchString(s) || yearMonthRe.MatchString(s) ||
			monthYearRe.MatchString(s) || quarterTokenRe.MatchString(s) {
			matched++
		}
	}
	return total > 0 && float64(matched) >= temporalValueCoverage*float64(total)
}

func columnMatches(c *table.Column, re *regexp.Regexp) bool {
	if c.Type == table.TypeString {
		matched, total := 0, 0
		for i := 0; i < c.Len(); i++ {
			if c.IsNull(i) {
				continue
			}
			total++
			if re.MatchString(strings.TrimSpace(c.Strings[i])) {
				matched++
			}
		}
		return total > 0 && float64(matched) >= temporalValueCoverage*float64(total)
	}
	if re == fourDigitYearRe && (c.Type == table.TypeFloat || c.Type == table.TypeInteger) {
		matched, total := 0, 0
		for i := 0; i < c.Len(); i++ {
			if c.IsNull(i) {
				continue
			}
			total++
			v := c.Float(i)
			if v == float64(int64(v)) && v >= minYear && v <= maxYear {
				matched++
			}
		}
		return total > 0 && float64(matched) >= temporalValueCoverage*float64(total)
	}
	return false
}

// deriveKeys builds per-row period keys for a grain. It succeeds when at
// least one row yields a key; rows without a derivable key get "".
func deriveKeys(rows int, grain PeriodGrain, dateCol, yearCol, monthCol, quarterCol *table.Column) ([]string, bool) {
	if grain == GrainNone {
		return nil, true
	}
	keys := make([]string, rows)
	derived := 0
	for i := 0; i < rows; i++ {
		var key string
		switch grain {
		case GrainYearMonth:
			if dateCol != nil {
				if !dateCol.IsNull(i) {
					ts := dateCol.Times[i]
					key = fmt.Sprintf("%04d-M%02d", ts.Year(), int(ts.Month()))
				}
			} else {
				y, yok := cellYear(yearCol, i)
				m, mok := cellInt(monthCol, i)
				if yok && mok && m >= 1 && m <= 12 {
					key = fmt.Sprintf("%04d-M%02d", y, m)
				}
			}
		case GrainYearQuarter:
			y, yok := cellYear(yearCol, i)
			q, qok := cellQuarter(quarterCol, i)
			if yok && qok {
				key = fmt.Sprintf("%04d-Q%d", y, q)
			}
		case GrainYear:
			if y, ok := cellYear(yearCol, i); ok {
				key = fmt.Sprintf("%04d", y)
			}
		}
		if key != "" {
			derived++
		}
		keys[i] = key
	}
	return keys, derived > 0
}

func cellYear(c *table.Column, i int) (int, bool) {
	v, ok := cellInt(c, i)
	if !ok || v < minYear || v > maxYear {
		return 0, false
	}
	return v, true
}

func cellInt(c *table.Column, i int) (int, bool) {
	if c == nil || c.IsNull(i) {
		return 0, false
	}
	switch c.Type {
	case table.TypeInteger:
		return int(c.Ints[i]), true
	case table.TypeFloat:
		v := c.Floats[i]
		if v != float64(int64(v)) {
			return 0, false
		}
		return int(v), true
	case table.TypeString:
		v, err := strconv.Atoi(strings.TrimSpace(c.Strings[i]))
		if err != nil {
			return 0, false
		}
		return v, true
	}
	return 0, false
}

func cellQuarter(c *table.Column, i int) (int, bool) {
	if c == nil || c.IsNull(i) {
		return 0, false
	}
	if c.Type == table.TypeString {
		s := strings.TrimSpace(c.Strings[i])
		if quarterTokenRe.MatchString(s) {
			q, _ := strconv.Atoi(s[1:])
			return q, true
		}
	}
	if q, ok := cellInt(c, i); ok && q >= 1 && q <= 4 {
		return q, true
	}
	return 0, false
}
