package dataprocessing

import (
	"regexp"
	"strings"
	"time"

	"concentra/internal/table"
)

// dateColumnRe marks headers that suggest a datetime column.
var dateColumnRe = regexp.MustCompile(`(?i)(date|dt|time|timestamp|created|updated|modified)`)

// datetimeLayouts are tried in order. Month-first layouts come before
// day-first alternatives (dayfirst=false).
var datetimeLayouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"Jan 2, 2006",
	"2 Jan 2006",
	"January 2, 2006",
	"2006-01",
}

// datetimeCoverage is the share of non-null cells that must parse before
// a column without a date-like header is treated as datetime.
const datetimeCoverage = 0.7

type datetimeColumn struct {
	column    *table.Column
	parsed    int
	failed    int
	ambiguous bool
}

// coerceDatetime attempts to parse a string column as timestamps.
// Failures become nulls. A column qualifies when its header looks
// temporal and more than half of its non-null cells parse, or when
// coverage alone clears the threshold.
func coerceDatetime(c *table.Column) (datetimeColumn, bool) {
	res := datetimeColumn{}
	out := &table.Column{
		Name:  c.Name,
		Type:  table.TypeDatetime,
		Nulls: make([]bool, c.Len()),
		Times: make([]time.Time, c.Len()),
	}

	layoutsSeen := make(map[string]struct{})
	attempted := 0
	for i := 0; i < c.Len(); i++ {
		if c.IsNull(i) {
			out.SetNull(i)
			continue
		}
		attempted++
		ts, layout, ok := parseDatetime(c.Strings[i])
		if !ok {
			res.failed++
			out.SetNull(i)
			continue
		}
		res.parsed++
		out.Times[i] = ts
		layoutsSeen[layout] = struct{}{}
	}

	if res.parsed == 0 {
		return res, false
	}
	headerLooksTemporal := dateColumnRe.MatchString(c.Name)
	if !headerLooksTemporal && float64(res.parsed) < datetimeCoverage*float64(attempted) {
		return res, false
	}
	if headerLooksTemporal && res.parsed*2 <= attempted {
		return res, false
	}

	res.ambiguous = len(layoutsSeen) > 1
	res.column = out
	return res, true
}

func parseDatetime(s string) (time.Time, string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, "", false
	}
	for _, layout := range datetimeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, layout, true
		}
	}
	return time.Time{}, "", false
}

// booleanTokens maps the accepted spellings, case-insensitively.
var booleanTokens = map[string]bool{
	"true": true, "false": false,
	"yes": true, "no": false,
	"y": true, "n": false,
	"1": true, "0": false,
}

// booleanCoverage is the share of non-null cells that must be boolean
// tokens for the column to coerce.
const booleanCoverage = 0.95

type booleanColumn struct {
	column  *table.Column
	coerced int
}

// coerceBoolean converts recognized token columns to booleans.
func coerceBoolean(c *table.Column) (booleanColumn, bool) {
	res := booleanColumn{}
	out := &table.Column{
		Name:  c.Name,
		Type:  table.TypeBoolean,
		Nulls: make([]bool, c.Len()),
		Bools: make([]bool, c.Len()),
	}

	attempted := 0
	for i := 0; i < c.Len(); i++ {
		if c.IsNull(i) {
			out.SetNull(i)
			continue
		}
		attempted++
		v, ok := booleanTokens[strings.ToLower(strings.TrimSpace(c.Strings[i]))]
		if !ok {
			out.SetNull(i)
			continue
		}
		res.coerced++
		out.Bools[i] = v
	}

	if attempted == 0 || float64(res.coerced) < booleanCoverage*float64(attempted) {
		return res, false
	}
	res.column = out
	return res, true
}
