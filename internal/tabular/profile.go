package tabular

import (
	"strconv"
	"strings"
	"time"

	"github.com/retailpulse/ingest-core/internal/schema"
)

// MaxSampleValues bounds the observed-value sample kept per column for
// audit display.
const MaxSampleValues = 10

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ColumnProfile summarizes one column of a dataset.
type ColumnProfile struct {
	Name          string
	Type          schema.TypeTag
	NullRatio     float64
	DistinctRatio float64
	Samples       []string
}

// Profile computes the column profile for a single column. An empty dataset
// yields a text column with null ratio 1.
func (d *Dataset) Profile(column string) ColumnProfile {
	prof := ColumnProfile{Name: column, Type: schema.TypeText, NullRatio: 1}
	if d.RowCount() == 0 {
		return prof
	}

	distinct := make(map[string]bool)
	var nulls int
	var values []string
	for _, row := range d.Rows {
		v, ok := row[column]
		if !ok || IsMissing(v) {
			nulls++
			continue
		}
		s := valueString(v)
		distinct[s] = true
		values = append(values, s)
		if len(prof.Samples) < MaxSampleValues {
			prof.Samples = append(prof.Samples, s)
		}
	}

	total := float64(d.RowCount())
	prof.NullRatio = float64(nulls) / total
	prof.DistinctRatio = float64(len(distinct)) / total
	prof.Type = inferType(values)
	return prof
}

// ProfileAll computes profiles for every dataset column.
func (d *Dataset) ProfileAll() map[string]ColumnProfile {
	out := make(map[string]ColumnProfile, len(d.Columns))
	for _, c := range d.Columns {
		out[c] = d.Profile(c)
	}
	return out
}

// inferType classifies the observed type from non-null values: the column is
// integer/float/timestamp only if every value parses as such, otherwise text.
func inferType(values []string) schema.TypeTag {
	if len(values) == 0 {
		return schema.TypeText
	}
	isInt, isFloat, isTime := true, true, true
	for _, v := range values {
		s := strings.TrimSpace(v)
		if _, err := strconv.ParseInt(s, 10, 64); err != nil {
			isInt = false
		}
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			isFloat = false
		}
		if !parsesAsTimestamp(s) {
			isTime = false
		}
		if !isInt && !isFloat && !isTime {
			return schema.TypeText
		}
	}
	switch {
	case isInt:
		return schema.TypeInteger
	case isFloat:
		return schema.TypeFloat
	case isTime:
		return schema.TypeTimestamp
	}
	return schema.TypeText
}

func parsesAsTimestamp(s string) bool {
	for _, layout := range timestampLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}
