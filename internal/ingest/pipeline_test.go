package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/retailpulse/ingest-core/internal/policy"
	"github.com/retailpulse/ingest-core/internal/schema"
	"github.com/retailpulse/ingest-core/internal/sink"
	"github.com/retailpulse/ingest-core/internal/tabular"
	"github.com/retailpulse/ingest-core/internal/warehouse"
)

// =============================================================================
// STUBS
// =============================================================================

// stubSource serves canned datasets per table, optionally failing a number of
// attempts first.
type stubSource struct {
	datasets  map[string]*tabular.Dataset
	failUntil map[string]int
	attempts  map[string]int
}

func newStubSource() *stubSource {
	return &stubSource{
		datasets:  make(map[string]*tabular.Dataset),
		failUntil: make(map[string]int),
		attempts:  make(map[string]int),
	}
}

func (s *stubSource) Load(ctx context.Context, table, file string) (*tabular.Dataset, error) {
	s.attempts[table]++
	if s.attempts[table] <= s.failUntil[table] {
		return nil, fmt.Errorf("transient read failure for %s", file)
	}
	ds, ok := s.datasets[table]
	if !ok {
		return nil, fmt.Errorf("no dataset for %s", table)
	}
	return ds, nil
}

type stubValidSink struct {
	requests []*sink.WriteRequest
	err      error
}

func (s *stubValidSink) Write(ctx context.Context, req *sink.WriteRequest) (*sink.WriteResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.requests = append(s.requests, req)
	return &sink.WriteResult{
		RowsWritten: int64(len(req.Rows)),
		Path:        fmt.Sprintf("valid/%s/dt=%s/run=%s/part-000000.parquet", req.Table, req.LoadDate, req.RunStamp),
	}, nil
}

type stubQuarantineSink struct {
	requests [][]sink.QuarantineRow
	err      error
}

func (s *stubQuarantineSink) Write(ctx context.Context, req *sink.WriteRequest, rows []sink.QuarantineRow) (*sink.WriteResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.requests = append(s.requests, rows)
	return &sink.WriteResult{
		RowsWritten: int64(len(rows)),
		Path:        fmt.Sprintf("quarantine/%s/dt=%s/run=%s/part-000000.csv", req.Table, req.LoadDate, req.RunStamp),
	}, nil
}

type fixture struct {
	registry   *schema.Registry
	source     *stubSource
	valid      *stubValidSink
	quarantine *stubQuarantineSink
	store      *warehouse.MemoryStore
	pipeline   *Pipeline
	backoffs   []time.Duration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		registry:   schema.NewRegistry(schema.DefaultRetailSchemas()...),
		source:     newStubSource(),
		valid:      &stubValidSink{},
		quarantine: &stubQuarantineSink{},
		store:      warehouse.NewMemoryStore(),
	}
	f.pipeline = New(Config{MaxRetries: 3, BaseBackoff: time.Second}, f.registry, f.source, f.valid, f.quarantine, f.store, zap.NewNop())
	f.pipeline.sleep = func(ctx context.Context, d time.Duration) error {
		f.backoffs = append(f.backoffs, d)
		return nil
	}
	return f
}

func transactionRows(n int) []tabular.Record {
	rows := make([]tabular.Record, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, tabular.Record{
			"transaction_id": fmt.Sprintf("%d", i+1),
			"product_id":     "100",
			"store_id":       "7",
			"timestamp":      "2026-08-30 09:15:00",
			"quantity":       "2",
			"price":          "19.99",
		})
	}
	return rows
}

var transactionColumns = []string{"transaction_id", "product_id", "store_id", "timestamp", "quantity", "price"}

// =============================================================================
// TABLE-LEVEL SCENARIOS
// =============================================================================

func TestRunAll_MatchingSchema(t *testing.T) {
	f := newFixture(t)
	f.source.datasets["transactions"] = &tabular.Dataset{
		Table:   "transactions",
		Columns: transactionColumns,
		Rows:    transactionRows(4),
	}

	result := f.pipeline.RunAll(context.Background(), []TableSpec{{Name: "transactions", File: "transactions.csv"}})

	if result.Status != warehouse.RunStatusSuccess {
		t.Errorf("run status = %s, want success", result.Status)
	}
	if result.RowsProcessed != 4 || result.RowsQuarantined != 0 {
		t.Errorf("rows processed=%d quarantined=%d, want 4/0", result.RowsProcessed, result.RowsQuarantined)
	}
	res := result.Tables[0]
	if res.Status != StatusApproved || res.Action != ActionProcess {
		t.Errorf("table status=%s action=%s, want approved/process", res.Status, res.Action)
	}
	if len(f.valid.requests) != 1 || len(f.valid.requests[0].Rows) != 4 {
		t.Fatalf("valid sink did not receive the 4 rows")
	}
	if got, _ := f.registry.Get("transactions"); got.Version != 1 {
		t.Errorf("registry version = %d, want unchanged", got.Version)
	}
}

func TestRunAll_NewColumnAutoApproved(t *testing.T) {
	f := newFixture(t)
	columns := append(append([]string(nil), transactionColumns...), "payment_method")
	rows := transactionRows(10)
	methods := []string{"card", "cash", "voucher"}
	for i, row := range rows {
		row["payment_method"] = methods[i%len(methods)]
	}
	f.source.datasets["transactions"] = &tabular.Dataset{Table: "transactions", Columns: columns, Rows: rows}

	// payment_method is already optional in the seeded schema; drop it so
	// this run genuinely discovers it.
	f.registry = schema.NewRegistry(schema.TableSchema{
		Name:     "transactions",
		Required: []string{"transaction_id", "product_id", "store_id", "timestamp", "quantity", "price"},
		Types: map[string]schema.TypeTag{
			"transaction_id": schema.TypeInteger,
			"product_id":     schema.TypeInteger,
			"store_id":       schema.TypeInteger,
			"timestamp":      schema.TypeTimestamp,
			"quantity":       schema.TypeInteger,
			"price":          schema.TypeFloat,
		},
	})
	f.pipeline = New(Config{}, f.registry, f.source, f.valid, f.quarantine, f.store, zap.NewNop())

	result := f.pipeline.RunAll(context.Background(), []TableSpec{{Name: "transactions", File: "transactions.csv"}})

	res := result.Tables[0]
	if res.Status != StatusApproved || res.Action != ActionProcess {
		t.Fatalf("table status=%s action=%s, want approved/process", res.Status, res.Action)
	}
	if res.Decision == nil || res.Decision.Action != policy.ActionAutoApprove {
		t.Fatalf("decision = %+v, want auto_approve", res.Decision)
	}
	if res.SchemaVersion != 2 {
		t.Errorf("schema version = %d, want 2 after auto-approval", res.SchemaVersion)
	}
	got, _ := f.registry.Get("transactions")
	if !got.KnownColumns()["payment_method"] {
		t.Error("payment_method should now be a known column")
	}

	entries, _ := f.store.ChangeLog().ListByTable(context.Background(), "transactions")
	if len(entries) != 1 {
		t.Fatalf("change log entries = %d, want 1", len(entries))
	}
	if entries[0].ColumnName != "payment_method" || entries[0].Status != string(policy.ActionAutoApprove) {
		t.Errorf("unexpected change log entry %+v", entries[0])
	}
	if pending, _ := f.store.ApprovalQueue().ListPending(context.Background()); len(pending) != 0 {
		t.Errorf("auto-approval must not enqueue approval requests")
	}
}

func TestRunAll_MassDriftQuarantinesEverything(t *testing.T) {
	f := newFixture(t)
	columns := append([]string(nil), transactionColumns...)
	for i := 0; i < 6; i++ {
		columns = append(columns, fmt.Sprintf("zz_blob_%d", i))
	}
	rows := transactionRows(5)
	for r, row := range rows {
		for i := 0; i < 6; i++ {
			row[fmt.Sprintf("zz_blob_%d", i)] = fmt.Sprintf("garbage-%d-%d", r, i)
		}
	}
	f.source.datasets["transactions"] = &tabular.Dataset{Table: "transactions", Columns: columns, Rows: rows}

	result := f.pipeline.RunAll(context.Background(), []TableSpec{{Name: "transactions", File: "transactions.csv"}})

	res := result.Tables[0]
	if res.Status != StatusPendingApproval {
		t.Errorf("table status = %s, want pending_approval", res.Status)
	}
	if res.Action != string(policy.ActionQuarantineAll) {
		t.Errorf("action = %s, want quarantine_all", res.Action)
	}
	if len(f.valid.requests) != 0 {
		t.Error("no valid rows may be written under quarantine_all")
	}
	if len(f.quarantine.requests) != 1 || len(f.quarantine.requests[0]) != 5 {
		t.Fatalf("quarantine sink should receive all 5 rows")
	}
	for _, q := range f.quarantine.requests[0] {
		if q.Reasons[len(q.Reasons)-1] != ReasonLowConfidenceDrift {
			t.Errorf("row reasons = %v, want trailing drift reason", q.Reasons)
		}
	}
	if got, _ := f.registry.Get("transactions"); got.Version != 1 {
		t.Errorf("registry version = %d, want unchanged", got.Version)
	}
	pending, _ := f.store.ApprovalQueue().ListPending(context.Background())
	if len(pending) != 1 {
		t.Fatalf("pending approvals = %d, want 1", len(pending))
	}
	if pending[0].Action != string(policy.ActionQuarantineAll) {
		t.Errorf("queued action = %s, want quarantine_all", pending[0].Action)
	}
}

func TestRunAll_MissingRequiredColumnRejectsDataset(t *testing.T) {
	f := newFixture(t)
	columns := []string{"transaction_id", "product_id", "store_id", "timestamp", "quantity"} // no price
	rows := []tabular.Record{
		{"transaction_id": "1", "product_id": "100", "store_id": "7", "timestamp": "2026-08-30", "quantity": "2"},
		{"transaction_id": "2", "product_id": "101", "store_id": "7", "timestamp": "2026-08-30", "quantity": "1"},
	}
	f.source.datasets["transactions"] = &tabular.Dataset{Table: "transactions", Columns: columns, Rows: rows}

	result := f.pipeline.RunAll(context.Background(), []TableSpec{{Name: "transactions", File: "transactions.csv"}})

	res := result.Tables[0]
	if res.Status != StatusRejected || res.Action != ActionQuarantine {
		t.Errorf("table status=%s action=%s, want rejected/quarantine", res.Status, res.Action)
	}
	if !strings.Contains(res.Reason, "price") {
		t.Errorf("reason = %q, want the missing column named", res.Reason)
	}
	if len(res.Candidates) != 0 {
		t.Error("no candidates may be scored when required columns are missing")
	}
	if len(f.valid.requests) != 0 {
		t.Error("no valid rows may be written for a rejected dataset")
	}
	if len(f.quarantine.requests) != 1 || len(f.quarantine.requests[0]) != 2 {
		t.Fatalf("quarantine sink should receive both rows")
	}
	for _, q := range f.quarantine.requests[0] {
		if q.Reasons[0] != ReasonMissingRequiredColumn+"price" {
			t.Errorf("reason = %v", q.Reasons)
		}
	}
}

func TestRunAll_MixedDriftHoldsSchemaButProcessesRows(t *testing.T) {
	f := newFixture(t)
	columns := append(append([]string(nil), transactionColumns...), "discount_amount", "zz_blob")
	rows := transactionRows(8)
	for i, row := range rows {
		row["discount_amount"] = fmt.Sprintf("%d.50", i%3)
		row["zz_blob"] = fmt.Sprintf("x%d", i)
	}
	f.source.datasets["transactions"] = &tabular.Dataset{Table: "transactions", Columns: columns, Rows: rows}

	result := f.pipeline.RunAll(context.Background(), []TableSpec{{Name: "transactions", File: "transactions.csv"}})

	res := result.Tables[0]
	if res.Status != StatusPendingApproval || res.Action != ActionHold {
		t.Errorf("table status=%s action=%s, want pending_approval/hold", res.Status, res.Action)
	}
	if res.Decision.Action != policy.ActionBatchApprovalRequired {
		t.Errorf("decision = %s, want batch_approval_required", res.Decision.Action)
	}
	if len(f.valid.requests) != 1 || len(f.valid.requests[0].Rows) != 8 {
		t.Error("valid rows must still be written while the schema change is held")
	}
	if got, _ := f.registry.Get("transactions"); got.Version != 1 {
		t.Errorf("registry version = %d, want unchanged", got.Version)
	}
	if pending, _ := f.store.ApprovalQueue().ListPending(context.Background()); len(pending) != 1 {
		t.Errorf("pending approvals = %d, want 1", len(pending))
	}
}

// =============================================================================
// RETRY AND RUN AGGREGATION
// =============================================================================

func TestRunAll_RetriesWithExponentialBackoff(t *testing.T) {
	f := newFixture(t)
	f.source.failUntil["transactions"] = 2
	f.source.datasets["transactions"] = &tabular.Dataset{
		Table:   "transactions",
		Columns: transactionColumns,
		Rows:    transactionRows(1),
	}

	result := f.pipeline.RunAll(context.Background(), []TableSpec{{Name: "transactions", File: "transactions.csv"}})

	if f.source.attempts["transactions"] != 3 {
		t.Errorf("attempts = %d, want 3", f.source.attempts["transactions"])
	}
	if len(f.backoffs) != 2 || f.backoffs[0] != time.Second || f.backoffs[1] != 2*time.Second {
		t.Errorf("backoffs = %v, want [1s 2s]", f.backoffs)
	}
	if result.Tables[0].Status != StatusApproved {
		t.Errorf("table status = %s, want approved after recovery", result.Tables[0].Status)
	}
}

func TestRunAll_ReadFailureIsolatedToTable(t *testing.T) {
	f := newFixture(t)
	f.source.failUntil["transactions"] = 99
	f.source.datasets["customers"] = &tabular.Dataset{
		Table:   "customers",
		Columns: []string{"customer_id"},
		Rows:    []tabular.Record{{"customer_id": "c-1"}},
	}

	result := f.pipeline.RunAll(context.Background(), []TableSpec{
		{Name: "transactions", File: "transactions.csv"},
		{Name: "customers", File: "customers.csv"},
	})

	if f.source.attempts["transactions"] != 3 {
		t.Errorf("attempts = %d, want MaxRetries", f.source.attempts["transactions"])
	}
	if result.Tables[0].Status != StatusFailed {
		t.Errorf("failed table status = %s, want failed", result.Tables[0].Status)
	}
	if result.Tables[1].Failed() {
		t.Error("healthy table must not be affected by the failed one")
	}
	if result.Status != warehouse.RunStatusPartial {
		t.Errorf("run status = %s, want partial", result.Status)
	}

	runs, _ := f.store.RunTracker().ListRuns(context.Background(), 1)
	if len(runs) != 1 {
		t.Fatalf("runs recorded = %d, want 1", len(runs))
	}
	if runs[0].Status != warehouse.RunStatusPartial {
		t.Errorf("recorded run status = %s, want partial", runs[0].Status)
	}
	if runs[0].ErrorMessage == "" {
		t.Error("recorded run should carry an error message")
	}
}

func TestRunAll_AllTablesFailed(t *testing.T) {
	f := newFixture(t)
	f.source.failUntil["transactions"] = 99

	result := f.pipeline.RunAll(context.Background(), []TableSpec{{Name: "transactions", File: "transactions.csv"}})
	if result.Status != warehouse.RunStatusFailed {
		t.Errorf("run status = %s, want failed", result.Status)
	}
}

func TestRunAll_CancellationStopsBetweenTables(t *testing.T) {
	f := newFixture(t)
	f.source.datasets["transactions"] = &tabular.Dataset{
		Table:   "transactions",
		Columns: transactionColumns,
		Rows:    transactionRows(1),
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := f.pipeline.RunAll(ctx, []TableSpec{
		{Name: "transactions", File: "transactions.csv"},
		{Name: "customers", File: "customers.csv"},
	})
	if !result.Aborted {
		t.Error("result should be marked aborted")
	}
	if len(result.Tables) != 0 {
		t.Errorf("tables processed = %d, want 0 with a pre-cancelled context", len(result.Tables))
	}
	if result.Status != warehouse.RunStatusPartial {
		t.Errorf("run status = %s, want partial", result.Status)
	}
}

func TestRunAll_SinkFailureFailsTable(t *testing.T) {
	f := newFixture(t)
	f.valid.err = errors.New("bucket unavailable")
	f.source.datasets["transactions"] = &tabular.Dataset{
		Table:   "transactions",
		Columns: transactionColumns,
		Rows:    transactionRows(2),
	}

	result := f.pipeline.RunAll(context.Background(), []TableSpec{{Name: "transactions", File: "transactions.csv"}})
	if result.Tables[0].Status != StatusFailed {
		t.Errorf("table status = %s, want failed on sink error", result.Tables[0].Status)
	}
}
