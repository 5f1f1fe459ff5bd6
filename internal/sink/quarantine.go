package sink

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"sort"
	"strings"

	"github.com/retailpulse/ingest-core/internal/objectstore"
	"github.com/retailpulse/ingest-core/internal/tabular"
)

// QuarantineReasonColumn is appended to quarantined rows so a human can
// diagnose without re-running the pipeline.
const QuarantineReasonColumn = "quarantine_reason"

// CSVQuarantineSink writes rejected rows as CSV into an object store under
// <prefix>/<table>/dt=<date>/run=<stamp>/part-000000.csv.
type CSVQuarantineSink struct {
	store  objectstore.ObjectStore
	bucket string
	prefix string
}

// NewCSVQuarantineSink builds the quarantine sink.
func NewCSVQuarantineSink(store objectstore.ObjectStore, bucket, prefix string) *CSVQuarantineSink {
	if prefix == "" {
		prefix = "quarantine"
	}
	return &CSVQuarantineSink{store: store, bucket: bucket, prefix: prefix}
}

func (s *CSVQuarantineSink) Write(ctx context.Context, req *WriteRequest, rows []QuarantineRow) (*WriteResult, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	if len(rows) == 0 {
		return &WriteResult{}, nil
	}
	if err := s.store.EnsureBucket(ctx, s.bucket); err != nil {
		return nil, err
	}

	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)

	header := append(append([]string(nil), req.Columns...), QuarantineReasonColumn)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, row := range rows {
		record := make([]string, 0, len(header))
		for _, col := range req.Columns {
			record = append(record, cellString(row.Record[col]))
		}
		record = append(record, JoinReasons(row.Reasons))
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}

	key := objectstore.JoinKey(
		s.prefix,
		req.Table,
		fmt.Sprintf("dt=%s", req.LoadDate),
		fmt.Sprintf("run=%s", req.RunStamp),
		"part-000000.csv",
	)
	if err := s.store.PutObject(ctx, s.bucket, key, buf.Bytes()); err != nil {
		return nil, err
	}
	return &WriteResult{RowsWritten: int64(len(rows)), Path: key}, nil
}

// JoinReasons joins reason codes deterministically: sorted, deduplicated,
// semicolon-separated.
func JoinReasons(reasons []string) string {
	if len(reasons) == 0 {
		return "unknown_reason"
	}
	seen := make(map[string]bool, len(reasons))
	var out []string
	for _, r := range reasons {
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	if len(out) == 0 {
		return "unknown_reason"
	}
	sort.Strings(out)
	return strings.Join(out, ";")
}

func cellString(v any) string {
	if tabular.IsMissing(v) {
		return ""
	}
	return fmt.Sprintf("%v", v)
}
