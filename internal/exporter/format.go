package exporter

import (
	"fmt"
	"strconv"
)

// formatValue renders an aggregate value at full precision so a parsed
// export matches the JSON document exactly.
func formatValue(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// formatPct renders a percentage with one decimal place.
func formatPct(f float64) string {
	return fmt.Sprintf("%.1f", f)
}

// formatInt renders an integer cell.
func formatInt(i int) string {
	return strconv.Itoa(i)
}
