package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	writerfile "github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/retailpulse/ingest-core/internal/objectstore"
	"github.com/retailpulse/ingest-core/internal/schema"
	"github.com/retailpulse/ingest-core/internal/tabular"
)

// ParquetSink writes validated rows as Snappy-compressed Parquet into an
// object store under <prefix>/<table>/dt=<date>/run=<stamp>/part-000000.parquet.
type ParquetSink struct {
	store  objectstore.ObjectStore
	bucket string
	prefix string
}

// NewParquetSink builds the valid-record sink.
func NewParquetSink(store objectstore.ObjectStore, bucket, prefix string) *ParquetSink {
	if prefix == "" {
		prefix = "valid"
	}
	return &ParquetSink{store: store, bucket: bucket, prefix: prefix}
}

func (s *ParquetSink) Write(ctx context.Context, req *WriteRequest) (*WriteResult, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	if len(req.Rows) == 0 {
		return &WriteResult{}, nil
	}
	if err := s.store.EnsureBucket(ctx, s.bucket); err != nil {
		return nil, err
	}

	buf := &bytes.Buffer{}
	pfw := writerfile.NewWriterFile(buf)
	pw, err := writer.NewJSONWriter(buildParquetSchema(req), pfw, 4)
	if err != nil {
		return nil, err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	var rows int64
	for _, rec := range req.Rows {
		encoded, err := json.Marshal(projectParquetRow(rec, req))
		if err != nil {
			_ = pw.WriteStop()
			_ = pfw.Close()
			return nil, err
		}
		if err := pw.Write(string(encoded)); err != nil {
			_ = pw.WriteStop()
			_ = pfw.Close()
			return nil, err
		}
		rows++
	}
	if err := pw.WriteStop(); err != nil {
		_ = pfw.Close()
		return nil, err
	}
	_ = pfw.Close()

	key := objectstore.JoinKey(
		s.prefix,
		req.Table,
		fmt.Sprintf("dt=%s", req.LoadDate),
		fmt.Sprintf("run=%s", req.RunStamp),
		"part-000000.parquet",
	)
	if err := s.store.PutObject(ctx, s.bucket, key, buf.Bytes()); err != nil {
		return nil, err
	}
	return &WriteResult{RowsWritten: rows, Path: key}, nil
}

func buildParquetSchema(req *WriteRequest) string {
	fields := make([]map[string]string, 0, len(req.Columns))
	for _, col := range req.Columns {
		fields = append(fields, map[string]string{
			"Tag": fmt.Sprintf("name=%s, type=%s, repetitiontype=OPTIONAL", col, parquetPhysicalType(req.Types[col])),
		})
	}
	out := map[string]any{
		"Tag":    "name=parquet_go_root, repetitiontype=REQUIRED",
		"Fields": fields,
	}
	b, _ := json.Marshal(out)
	return string(b)
}

func parquetPhysicalType(t schema.TypeTag) string {
	switch schema.NormalizeType(t) {
	case schema.TypeInteger:
		return "INT64"
	case schema.TypeFloat:
		return "DOUBLE"
	default:
		return "BYTE_ARRAY"
	}
}

func projectParquetRow(rec tabular.Record, req *WriteRequest) map[string]any {
	row := make(map[string]any, len(req.Columns))
	for _, col := range req.Columns {
		row[col] = parquetValue(rec[col], req.Types[col])
	}
	return row
}

// parquetValue coerces a cell to the declared physical type; unparseable or
// missing cells become null.
func parquetValue(v any, t schema.TypeTag) any {
	if tabular.IsMissing(v) {
		return nil
	}
	switch schema.NormalizeType(t) {
	case schema.TypeInteger:
		switch n := v.(type) {
		case int:
			return int64(n)
		case int64:
			return n
		case float64:
			return int64(n)
		case string:
			if parsed, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil {
				return parsed
			}
		}
		return nil
	case schema.TypeFloat:
		switch n := v.(type) {
		case int:
			return float64(n)
		case int64:
			return float64(n)
		case float64:
			return n
		case string:
			if parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				return parsed
			}
		}
		return nil
	default:
		return fmt.Sprintf("%v", v)
	}
}
