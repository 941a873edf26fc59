package dataprocessing

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"concentra/internal/table"
)

var (
	currencySymbolRe = regexp.MustCompile(`[\$€£¥]`)
	currencyCodeRe   = regexp.MustCompile(`\b(CHF|USD|EUR|GBP|JPY)\b`)
	scaleSuffixRe    = regexp.MustCompile(`(?i)^(.*\d)\s*(mm|bn|k|m|b)$`)
	euDecimalRe      = regexp.MustCompile(`,\d{1,2}$`)
	separatorRe      = regexp.MustCompile(`[\s\x{00A0}\x{202F}']`)
)

// cellOutcome is what parsing a single cell produced.
type cellOutcome struct {
	value        float64
	ok           bool
	currencies   []string
	parens       bool
	unicodeMinus bool
	scaled       bool
	percent      bool
	convention   string // "US", "EU" or ""
}

// parseNumericCell applies the full coercion ladder to one cell: sign
// detection, currency stripping, scale suffixes, locale-aware decimal
// resolution and trailing-percent division.
func parseNumericCell(raw string) cellOutcome {
	var out cellOutcome
	s := strings.TrimSpace(raw)
	if s == "" {
		return out
	}

	// Fast path for plain numbers.
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		out.value = v
		out.ok = true
		return out
	}

	if strings.ContainsRune(s, '−') {
		s = strings.ReplaceAll(s, "−", "-")
		out.unicodeMinus = true
	}

	for _, sym := range currencySymbolRe.FindAllString(s, -1) {
		out.currencies = append(out.currencies, sym)
	}
	if len(out.currencies) > 0 {
		s = currencySymbolRe.ReplaceAllString(s, "")
	}
	for _, code := range currencyCodeRe.FindAllString(s, -1) {
		out.currencies = append(out.currencies, code)
	}
	if currencyCodeRe.MatchString(s) {
		s = currencyCodeRe.ReplaceAllString(s, "")
	}

	s = strings.TrimSpace(s)
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		s = s[1 : len(s)-1]
		negative = true
		out.parens = true
	}
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "-") {
		s = strings.TrimSuffix(s, "-")
		negative = !negative
	} else if strings.HasPrefix(s, "-") {
		s = strings.TrimPrefix(s, "-")
		negative = !negative
	}

	if strings.HasSuffix(s, "%") {
		s = strings.TrimSuffix(s, "%")
		out.percent = true
	}

	scale := 1.0
	if m := scaleSuffixRe.FindStringSubmatch(strings.TrimSpace(s)); m != nil {
		switch strings.ToLower(m[2]) {
		case "k":
			scale = 1e3
		case "m", "mm":
			scale = 1e6
		case "b", "bn":
			scale = 1e9
		}
		s = m[1]
		out.scaled = true
	}

	s = separatorRe.ReplaceAllString(strings.TrimSpace(s), "")

	// Decimal convention: with both separators present the rightmost wins;
	// a lone comma is decimal only when followed by 1-2 digits.
	hasDot := strings.Contains(s, ".")
	hasComma := strings.Contains(s, ",")
	switch {
	case hasDot && hasComma:
		if strings.LastIndex(s, ".") > strings.LastIndex(s, ",") {
			s = strings.ReplaceAll(s, ",", "")
			out.convention = "US"
		} else {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.ReplaceAll(s, ",", ".")
			out.convention = "EU"
		}
	case hasComma:
		if euDecimalRe.MatchString(s) {
			s = strings.ReplaceAll(s, ",", ".")
			out.convention = "EU"
		} else {
			s = strings.ReplaceAll(s, ",", "")
			out.convention = "US"
		}
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return cellOutcome{}
	}
	v *= scale
	if out.percent {
		v /= 100
	}
	if negative {
		v = -v
	}
	out.value = v
	out.ok = true
	return out
}

// numericColumn is the column-level result of numeric coercion.
type numericColumn struct {
	column     *table.Column
	coercions  Coercions
	currencies []string
	convention string // "US", "EU", "mixed" or ""
	attempted  int
	succeeded  int
}

// coerceNumeric attempts to turn a string column into floats. The column
// stays string when more than half the non-null cells refuse to parse.
func coerceNumeric(c *table.Column) (numericColumn, bool) {
	res := numericColumn{}
	out := &table.Column{
		Name:   c.Name,
		Type:   table.TypeFloat,
		Nulls:  make([]bool, c.Len()),
		Floats: make([]float64, c.Len()),
	}

	currencySet := make(map[string]struct{})
	conventionSet := make(map[string]struct{})

	for i := 0; i < c.Len(); i++ {
		if c.IsNull(i) {
			out.SetNull(i)
			continue
		}
		res.attempted++
		cell := parseNumericCell(c.Strings[i])
		if !cell.ok {
			res.coercions.FailedNumeric++
			out.SetNull(i)
			continue
		}
		res.succeeded++
		out.Floats[i] = cell.value
		if len(cell.currencies) > 0 {
			res.coercions.CurrencyRemoved++
			for _, cur := range cell.currencies {
				currencySet[cur] = struct{}{}
			}
		}
		if cell.parens {
			res.coercions.ParenthesesToNegative++
		}
		if cell.unicodeMinus {
			res.coercions.UnicodeMinusNormalized++
		}
		if cell.scaled {
			res.coercions.ScalingApplied++
		}
		if cell.percent {
			res.coercions.PercentNormalized++
		}
		if cell.convention != "" {
			conventionSet[cell.convention] = struct{}{}
		}
	}

	if res.succeeded == 0 || res.coercions.FailedNumeric*2 > res.attempted {
		return res, false
	}

	for cur := range currencySet {
		res.currencies = append(res.currencies, cur)
	}
	sort.Strings(res.currencies)

	switch len(conventionSet) {
	case 0:
	case 1:
		for conv := range conventionSet {
			res.convention = conv
		}
	default:
		res.convention = "mixed"
	}

	res.column = out
	return res, true
}

var percentHeaderRe = regexp.MustCompile(`(?i)(percent|pct|percentage)`)

// applyHeaderPercent rescales values in (1,100] on columns whose header
// marks them as percentages. Values already in [0,1] are left alone.
func applyHeaderPercent(name string, col *table.Column, coercions *Coercions) bool {
	if !percentHeaderRe.MatchString(name) {
		return false
	}
	for i := 0; i < col.Len(); i++ {
		if col.Nulls[i] {
			continue
		}
		if col.Floats[i] > 1 && col.Floats[i] <= 100 {
			col.Floats[i] /= 100
			coercions.PercentNormalized++
		}
	}
	return true
}
