// Package sink writes validated and quarantined record sets to durable,
// append-only outputs keyed by table name and run timestamp.
package sink

import (
	"context"

	"github.com/retailpulse/ingest-core/internal/schema"
	"github.com/retailpulse/ingest-core/internal/tabular"
)

// WriteRequest carries one table's rows for a single run. RunStamp
// disambiguates outputs so prior runs are never overwritten.
type WriteRequest struct {
	Table    string
	LoadDate string
	RunStamp string
	Columns  []string
	Types    map[string]schema.TypeTag
	Rows     []tabular.Record
}

// WriteResult reports what a sink wrote.
type WriteResult struct {
	RowsWritten int64
	Path        string
}

// ValidSink receives rows that passed validation.
type ValidSink interface {
	Write(ctx context.Context, req *WriteRequest) (*WriteResult, error)
}

// QuarantineRow is one rejected row plus its reason codes.
type QuarantineRow struct {
	Record  tabular.Record
	Reasons []string
}

// QuarantineSink receives rejected rows, each stamped with its reasons.
type QuarantineSink interface {
	Write(ctx context.Context, req *WriteRequest, rows []QuarantineRow) (*WriteResult, error)
}
