// Package concentration computes ranked concentration distributions: for
// each period and for the overall total, how much of a numeric metric the
// top entities account for at each threshold.
package concentration

import "fmt"

// DefaultThresholds apply when a request omits thresholds.
var DefaultThresholds = []int{10, 20, 50}

// ThresholdStat is the concentration at one threshold.
type ThresholdStat struct {
	Count      int     `json:"count"`
	Value      float64 `json:"value"`
	PctOfTotal float64 `json:"pct_of_total"`
}

// HeadRow is one of the top-ranked entities for a period. The entity and
// value keys are the request's group-by and value column names; "cumsum"
// and "cumulative_pct" are always present.
type HeadRow map[string]interface{}

// NewHeadRow builds a head row with the dynamic key convention.
func NewHeadRow(groupBy string, entity string, valueColumn string, value, cumsum, cumulativePct float64) HeadRow {
	return HeadRow{
		groupBy:          entity,
		valueColumn:      value,
		"cumsum":         cumsum,
		"cumulative_pct": cumulativePct,
	}
}

// PeriodResult is the concentration outcome for one period key, or for
// the overall aggregate when Period is "TOTAL".
type PeriodResult struct {
	Period        string                   `json:"period"`
	Total         float64                  `json:"total"`
	TotalEntities int                      `json:"total_entities,omitempty"`
	Concentration map[string]ThresholdStat `json:"concentration,omitempty"`
	Head          []HeadRow                `json:"head,omitempty"`
	Error         string                   `json:"error,omitempty"`
}

// ExportLinks holds the relative paths of the rendered artifacts.
type ExportLinks struct {
	CSV  string `json:"csv"`
	XLSX string `json:"xlsx"`
}

// Document is the persisted concentration result.
type Document struct {
	DatasetID   string            `json:"dataset_id"`
	PeriodGrain string            `json:"period_grain"`
	GroupBy     string            `json:"group_by"`
	ValueColumn string            `json:"value_column"`
	TimeColumn  string            `json:"time_column,omitempty"`
	Thresholds  []int             `json:"thresholds"`
	Warnings    []string          `json:"warnings"`
	ByPeriod    []PeriodResult    `json:"by_period"`
	Totals      PeriodResult      `json:"totals"`
	Formulas    map[string]string `json:"formulas"`
	ExportLinks *ExportLinks      `json:"export_links"`
}

// ThresholdKey renders the serialized key for a threshold.
func ThresholdKey(threshold int) string {
	return fmt.Sprintf("top_%d", threshold)
}

// documentFormulas describes each threshold's definition for the audit
// trail embedded in the result.
func documentFormulas(thresholds []int) map[string]string {
	formulas := make(map[string]string, len(thresholds))
	for _, t := range thresholds {
		formulas[ThresholdKey(t)] = fmt.Sprintf("Count entities where cumulative_sum <= %d%% of total", t)
	}
	return formulas
}
