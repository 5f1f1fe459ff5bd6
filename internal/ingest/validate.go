package ingest

import (
	"sort"

	"github.com/retailpulse/ingest-core/internal/schema"
	"github.com/retailpulse/ingest-core/internal/sink"
	"github.com/retailpulse/ingest-core/internal/tabular"
)

// Row-level quarantine reason code prefixes.
const (
	ReasonMissingRequiredColumn = "missing_required_column:"
	ReasonMissingRequiredValue  = "missing_required_value:"
	ReasonLowConfidenceDrift    = "low_confidence_schema_drift"
)

// RecordSet is the outcome of one dataset's row-level validation. Valid and
// quarantined rows partition the input exactly.
type RecordSet struct {
	Valid       []tabular.Record
	Quarantined []sink.QuarantineRow
	RowCount    int
	ColumnCount int
}

// validateAndSplit applies required-field completeness row by row. A row
// missing a value in any required column is quarantined with a reason code
// naming the column; if the whole column is absent every row is quarantined.
func validateAndSplit(ds *tabular.Dataset, current schema.TableSchema) *RecordSet {
	rs := &RecordSet{
		RowCount:    ds.RowCount(),
		ColumnCount: len(ds.Columns),
	}

	required := append([]string(nil), current.Required...)
	sort.Strings(required)

	var absent []string
	for _, col := range required {
		if !ds.HasColumn(col) {
			absent = append(absent, col)
		}
	}

	for _, row := range ds.Rows {
		var reasons []string
		for _, col := range absent {
			reasons = append(reasons, ReasonMissingRequiredColumn+col)
		}
		for _, col := range required {
			if !ds.HasColumn(col) {
				continue
			}
			if tabular.IsMissing(row[col]) {
				reasons = append(reasons, ReasonMissingRequiredValue+col)
			}
		}
		if len(reasons) > 0 {
			rs.Quarantined = append(rs.Quarantined, sink.QuarantineRow{Record: row, Reasons: reasons})
		} else {
			rs.Valid = append(rs.Valid, row)
		}
	}
	return rs
}

// quarantineAll moves every row, valid ones included, into quarantine with
// the given extra reason. Used when the decision policy rejects the batch.
func (rs *RecordSet) quarantineAll(reason string) []sink.QuarantineRow {
	out := make([]sink.QuarantineRow, 0, len(rs.Valid)+len(rs.Quarantined))
	for _, row := range rs.Valid {
		out = append(out, sink.QuarantineRow{Record: row, Reasons: []string{reason}})
	}
	for _, row := range rs.Quarantined {
		reasons := append(append([]string(nil), row.Reasons...), reason)
		out = append(out, sink.QuarantineRow{Record: row.Record, Reasons: reasons})
	}
	return out
}
