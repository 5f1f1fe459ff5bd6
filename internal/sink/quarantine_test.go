package sink

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"

	"github.com/retailpulse/ingest-core/internal/objectstore"
	"github.com/retailpulse/ingest-core/internal/schema"
	"github.com/retailpulse/ingest-core/internal/tabular"
)

func quarantineRequest() *WriteRequest {
	return &WriteRequest{
		Table:    "transactions",
		LoadDate: "2026-08-30",
		RunStamp: "20260830T061500-abc123",
		Columns:  []string{"transaction_id", "price"},
		Types: map[string]schema.TypeTag{
			"transaction_id": schema.TypeInteger,
			"price":          schema.TypeFloat,
		},
	}
}

func TestCSVQuarantineSink(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewLocalStore(t.TempDir())
	s := NewCSVQuarantineSink(store, "retail-lake", "")

	rows := []QuarantineRow{
		{
			Record:  tabular.Record{"transaction_id": "1", "price": ""},
			Reasons: []string{"missing_required_value:price"},
		},
		{
			Record:  tabular.Record{"transaction_id": "", "price": ""},
			Reasons: []string{"missing_required_value:transaction_id", "missing_required_value:price"},
		},
	}

	res, err := s.Write(ctx, quarantineRequest(), rows)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if res.RowsWritten != 2 {
		t.Errorf("rows written = %d, want 2", res.RowsWritten)
	}
	wantPath := "quarantine/transactions/dt=2026-08-30/run=20260830T061500-abc123/part-000000.csv"
	if res.Path != wantPath {
		t.Errorf("path = %q, want %q", res.Path, wantPath)
	}

	data, err := store.GetObject(ctx, "retail-lake", res.Path)
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("csv rows = %d, want header plus 2", len(records))
	}
	header := records[0]
	if header[len(header)-1] != QuarantineReasonColumn {
		t.Errorf("last header column = %q, want %q", header[len(header)-1], QuarantineReasonColumn)
	}
	if records[1][2] != "missing_required_value:price" {
		t.Errorf("row 1 reason = %q", records[1][2])
	}
	if records[2][2] != "missing_required_value:price;missing_required_value:transaction_id" {
		t.Errorf("row 2 reason = %q", records[2][2])
	}
}

func TestCSVQuarantineSink_EmptyRows(t *testing.T) {
	store := objectstore.NewLocalStore(t.TempDir())
	s := NewCSVQuarantineSink(store, "retail-lake", "")

	res, err := s.Write(context.Background(), quarantineRequest(), nil)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if res.RowsWritten != 0 || res.Path != "" {
		t.Errorf("result = %+v, want empty", res)
	}
	keys, _ := store.ListPrefix(context.Background(), "retail-lake", "quarantine")
	if len(keys) != 0 {
		t.Errorf("no object should be written for an empty row set, got %v", keys)
	}
}

func TestJoinReasons(t *testing.T) {
	cases := []struct {
		in   []string
		want string
	}{
		{nil, "unknown_reason"},
		{[]string{""}, "unknown_reason"},
		{[]string{"b", "a"}, "a;b"},
		{[]string{"a", "a", "b"}, "a;b"},
	}
	for _, tc := range cases {
		if got := JoinReasons(tc.in); got != tc.want {
			t.Errorf("JoinReasons(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
