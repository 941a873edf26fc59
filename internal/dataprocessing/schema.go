// Package dataprocessing turns an all-string table into a typed table
// plus a schema document: header cleanup, value coercion, role
// assignment, temporal detection and period-key derivation. Every rule
// is deterministic; the same bytes always produce the same schema.
package dataprocessing

import (
	"time"

	"concentra/internal/table"
)

// Role is the semantic role assigned to a column.
type Role string

const (
	RoleNumeric     Role = "numeric"
	RoleCategorical Role = "categorical"
	RoleDatetime    Role = "datetime"
	RoleBoolean     Role = "boolean"
	RoleIdentifier  Role = "identifier"
)

// PeriodGrain is the granularity of derived period keys.
type PeriodGrain string

const (
	GrainYearMonth   PeriodGrain = "year_month"
	GrainYearQuarter PeriodGrain = "year_quarter"
	GrainYear        PeriodGrain = "year"
	GrainNone        PeriodGrain = "none"
)

// PeriodKeyColumn is the derived column's normalized name.
const PeriodKeyColumn = "period_key"

// Coercions counts what happened to a column's cells during coercion.
type Coercions struct {
	CurrencyRemoved        int `json:"currency_removed"`
	ParenthesesToNegative  int `json:"parentheses_to_negative"`
	ScalingApplied         int `json:"scaling_applied"`
	PercentNormalized      int `json:"percent_normalized"`
	DatetimeParsed         int `json:"datetime_parsed"`
	BooleanCoerced         int `json:"boolean_coerced"`
	FailedNumeric          int `json:"failed_numeric"`
	UnicodeMinusNormalized int `json:"unicode_minus_normalized"`
}

// ColumnAnomalies carries the per-column quality counters.
type ColumnAnomalies struct {
	NullCount      int     `json:"null_count"`
	NullRate       float64 `json:"null_rate"`
	HighNullRate   bool    `json:"high_null_rate,omitempty"`
	OutlierCount   int     `json:"outlier_count,omitempty"`
	OutlierRate    float64 `json:"outlier_rate,omitempty"`
	LowCardinality bool    `json:"low_cardinality,omitempty"`
	NegativeCount  int     `json:"negative_count,omitempty"`
}

// ColumnSchema describes one normalized column.
type ColumnSchema struct {
	Name               string          `json:"name"`
	OriginalName       string          `json:"original_name"`
	Dtype              table.Type      `json:"dtype"`
	Role               Role            `json:"role"`
	Cardinality        int             `json:"cardinality"`
	NullRate           float64         `json:"null_rate"`
	Coercions          Coercions       `json:"coercions"`
	Representation     string          `json:"representation,omitempty"`
	DecimalConvention  string          `json:"decimal_convention,omitempty"`
	CurrenciesDetected []string        `json:"currencies_detected,omitempty"`
	MultiCurrency      bool            `json:"multi_currency,omitempty"`
	Anomalies          ColumnAnomalies `json:"anomalies"`
}

// Metadata summarizes dataset-level facts discovered during normalization.
type Metadata struct {
	RowCount           int      `json:"row_count"`
	ColumnCount        int      `json:"column_count"`
	MultiCurrency      bool     `json:"multi_currency"`
	CurrenciesDetected []string `json:"currencies_detected"`
	HasTimeDimension   bool     `json:"has_time_dimension"`
}

// Schema is the persisted schema document.
type Schema struct {
	DatasetID             string         `json:"dataset_id"`
	GeneratedAt           time.Time      `json:"generated_at"`
	Columns               []ColumnSchema `json:"columns"`
	PeriodGrain           PeriodGrain    `json:"period_grain"`
	PeriodGrainCandidates []PeriodGrain  `json:"period_grain_candidates"`
	TimeCandidates        []string       `json:"time_candidates"`
	Warnings              []string       `json:"warnings"`
	Notes                 []string       `json:"notes"`
	Metadata              Metadata       `json:"metadata"`
}

// Column returns the schema entry for a normalized name, or nil.
func (s *Schema) Column(name string) *ColumnSchema {
	for i := range s.Columns {
		if s.Columns[i].Name == name {
			return &s.Columns[i]
		}
	}
	return nil
}

// Result is what Normalize returns: the typed table, its schema and the
// warnings accumulated along the way (also embedded in the schema).
type Result struct {
	Table    *table.Table
	Schema   *Schema
	Warnings []string
}
