// Package tabular models an in-memory tabular dataset and the per-column
// statistics the drift detector and confidence scorer consume.
package tabular

import (
	"fmt"
	"strings"
)

// Record represents a single row as key-value pairs.
type Record = map[string]any

// Dataset is one arriving batch for a logical table.
type Dataset struct {
	Table   string
	Columns []string
	Rows    []Record
}

// RowCount returns the number of rows.
func (d *Dataset) RowCount() int { return len(d.Rows) }

// HasColumn reports whether the dataset carries the named column.
func (d *Dataset) HasColumn(name string) bool {
	for _, c := range d.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// IsMissing reports whether a cell value counts as absent. CSV sources
// surface empty cells as empty strings.
func IsMissing(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

func valueString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
