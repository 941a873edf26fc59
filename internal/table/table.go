// Package table implements the typed column store used across the
// pipeline: an in-memory table of typed arrays with first-class nulls,
// plus readers and writers for delimited text, spreadsheets and the
// persisted columnar format.
package table

import (
	"fmt"
	"strconv"
	"time"
)

// Type is the physical type of a column.
type Type string

const (
	TypeInteger  Type = "integer"
	TypeFloat    Type = "float"
	TypeBoolean  Type = "boolean"
	TypeDatetime Type = "datetime"
	TypeString   Type = "string"
)

// Column holds one typed array. Exactly one of the value slices is
// populated, chosen by Type; Nulls is always row-aligned.
type Column struct {
	Name    string
	Type    Type
	Nulls   []bool
	Ints    []int64
	Floats  []float64
	Bools   []bool
	Times   []time.Time
	Strings []string
}

// NewStringColumn creates a string column of the given length with every
// cell a non-null empty string.
func NewStringColumn(name string, length int) *Column {
	return &Column{
		Name:    name,
		Type:    TypeString,
		Nulls:   make([]bool, length),
		Strings: make([]string, length),
	}
}

// Len returns the number of rows in the column.
func (c *Column) Len() int {
	return len(c.Nulls)
}

// IsNull reports whether row i holds a null.
func (c *Column) IsNull(i int) bool {
	return c.Nulls[i]
}

// SetString stores a non-null string at row i. Only valid on string columns.
func (c *Column) SetString(i int, v string) {
	c.Strings[i] = v
	c.Nulls[i] = false
}

// SetNull marks row i as null.
func (c *Column) SetNull(i int) {
	c.Nulls[i] = true
	switch c.Type {
	case TypeString:
		c.Strings[i] = ""
	case TypeFloat:
		c.Floats[i] = 0
	case TypeInteger:
		c.Ints[i] = 0
	case TypeBoolean:
		c.Bools[i] = false
	case TypeDatetime:
		c.Times[i] = time.Time{}
	}
}

// Float returns the float value at row i. Integer columns widen.
func (c *Column) Float(i int) float64 {
	if c.Type == TypeInteger {
		return float64(c.Ints[i])
	}
	return c.Floats[i]
}

// CellString renders row i as a string for export. Null renders as the
// empty string; datetimes use RFC 3339 date form when midnight, full
// timestamp otherwise.
func (c *Column) CellString(i int) string {
	if c.Nulls[i] {
		return ""
	}
	switch c.Type {
	case TypeString:
		return c.Strings[i]
	case TypeInteger:
		return strconv.FormatInt(c.Ints[i], 10)
	case TypeFloat:
		return strconv.FormatFloat(c.Floats[i], 'g', -1, 64)
	case TypeBoolean:
		return strconv.FormatBool(c.Bools[i])
	case TypeDatetime:
		t := c.Times[i]
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
			return t.Format("2006-01-02")
		}
		return t.Format(time.RFC3339)
	}
	return ""
}

// NonNullCount returns the number of non-null cells.
func (c *Column) NonNullCount() int {
	n := 0
	for _, isNull := range c.Nulls {
		if !isNull {
			n++
		}
	}
	return n
}

// Cardinality returns the number of distinct non-null values, compared on
// the string rendering so mixed representations stay stable.
func (c *Column) Cardinality() int {
	seen := make(map[string]struct{})
	for i := range c.Nulls {
		if c.Nulls[i] {
			continue
		}
		seen[c.CellString(i)] = struct{}{}
	}
	return len(seen)
}

// Table is an ordered collection of equal-length columns.
type Table struct {
	columns []*Column
	byName  map[string]int
}

// New creates an empty table.
func New() *Table {
	return &Table{byName: make(map[string]int)}
}

// AddColumn appends a column. Duplicate names are an error; the
// normalizer guarantees uniqueness upstream.
func (t *Table) AddColumn(c *Column) error {
	if _, exists := t.byName[c.Name]; exists {
		return fmt.Errorf("duplicate column %q", c.Name)
	}
	if len(t.columns) > 0 && c.Len() != t.RowCount() {
		return fmt.Errorf("column %q has %d rows, table has %d", c.Name, c.Len(), t.RowCount())
	}
	t.byName[c.Name] = len(t.columns)
	t.columns = append(t.columns, c)
	return nil
}

// Column returns the named column, or nil when absent.
func (t *Table) Column(name string) *Column {
	idx, ok := t.byName[name]
	if !ok {
		return nil
	}
	return t.columns[idx]
}

// HasColumn reports whether the named column exists.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.byName[name]
	return ok
}

// Columns returns the columns in order.
func (t *Table) Columns() []*Column {
	return t.columns
}

// ColumnNames returns the column names in order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name
	}
	return names
}

// RowCount returns the number of rows.
func (t *Table) RowCount() int {
	if len(t.columns) == 0 {
		return 0
	}
	return t.columns[0].Len()
}

// ColumnCount returns the number of columns.
func (t *Table) ColumnCount() int {
	return len(t.columns)
}

// Rename changes a column's name in place.
func (t *Table) Rename(from, to string) error {
	idx, ok := t.byName[from]
	if !ok {
		return fmt.Errorf("column %q not found", from)
	}
	if _, exists := t.byName[to]; exists && to != from {
		return fmt.Errorf("column %q already exists", to)
	}
	delete(t.byName, from)
	t.byName[to] = idx
	t.columns[idx].Name = to
	return nil
}

// ReplaceColumn swaps the named column for a new one, keeping its position.
func (t *Table) ReplaceColumn(name string, c *Column) error {
	idx, ok := t.byName[name]
	if !ok {
		return fmt.Errorf("column %q not found", name)
	}
	if c.Name != name {
		delete(t.byName, name)
		t.byName[c.Name] = idx
	}
	t.columns[idx] = c
	return nil
}

// FromRows builds an all-string table from a header row and cell rows.
// Ragged rows are padded with nulls; empty cells become nulls.
func FromRows(headers []string, rows [][]string) *Table {
	t := New()
	for col, header := range headers {
		c := NewStringColumn(header, len(rows))
		for row := range rows {
			if col >= len(rows[row]) || rows[row][col] == "" {
				c.SetNull(row)
				continue
			}
			c.SetString(row, rows[row][col])
		}
		// Duplicate headers are resolved by the normalizer later; here we
		// suffix blindly so the raw table stays loadable.
		name := header
		for i := 2; t.HasColumn(name); i++ {
			name = fmt.Sprintf("%s_%d", header, i)
		}
		c.Name = name
		t.AddColumn(c)
	}
	return t
}
