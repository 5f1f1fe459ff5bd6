// Package ingest orchestrates batch ingestion: read with bounded retry,
// row-level validation, column-level drift handling, and persistence of
// outputs, audit records and run history.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/retailpulse/ingest-core/internal/drift"
	"github.com/retailpulse/ingest-core/internal/policy"
	"github.com/retailpulse/ingest-core/internal/schema"
	"github.com/retailpulse/ingest-core/internal/sink"
	"github.com/retailpulse/ingest-core/internal/source"
	"github.com/retailpulse/ingest-core/internal/tabular"
	"github.com/retailpulse/ingest-core/internal/warehouse"
)

// TableSpec names one logical table and its source file.
type TableSpec struct {
	Name string
	File string
}

// Config tunes the pipeline.
type Config struct {
	PipelineName        string
	MaxRetries          int
	BaseBackoff         time.Duration
	ConfidenceThreshold float64
}

func (c Config) withDefaults() Config {
	if c.PipelineName == "" {
		c.PipelineName = "batch_ingestion"
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Second
	}
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = policy.DefaultConfidenceThreshold
	}
	return c
}

// Pipeline runs batch ingestion for a set of tables. Tables are processed
// sequentially with a cooperative cancellation checkpoint between them; each
// table's outputs are committed at the end of its own validate/write step.
type Pipeline struct {
	cfg      Config
	registry *schema.Registry
	detector *drift.Detector
	policy   *policy.Policy
	source   source.Source
	valid    sink.ValidSink
	bad      sink.QuarantineSink
	store    warehouse.Store
	log      *zap.Logger

	// sleep is replaceable in tests so retry backoff can be observed
	// without waiting.
	sleep func(ctx context.Context, d time.Duration) error

	logWriteFailures atomic.Int64
}

// New builds a pipeline.
func New(cfg Config, registry *schema.Registry, src source.Source, valid sink.ValidSink, bad sink.QuarantineSink, store warehouse.Store, log *zap.Logger) *Pipeline {
	cfg = cfg.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		cfg:      cfg,
		registry: registry,
		detector: drift.NewDetector(registry, drift.NewScorer()),
		policy:   policy.NewPolicy(cfg.ConfidenceThreshold),
		source:   src,
		valid:    valid,
		bad:      bad,
		store:    store,
		log:      log,
		sleep:    sleepContext,
	}
}

// RunAll executes one pipeline run over the given tables. A read failure
// for one table never aborts the others; the run status degrades to partial
// or failed accordingly. Run history and metrics are always recorded, even
// on failure.
func (p *Pipeline) RunAll(ctx context.Context, tables []TableSpec) *RunResult {
	start := time.Now().UTC()
	stamp := start.Format("20060102T150405") + "-" + strings.Split(uuid.New().String(), "-")[0]
	loadDate := start.Format("2006-01-02")

	result := &RunResult{RunStamp: stamp}

	runID, err := p.store.RunTracker().Start(ctx, p.cfg.PipelineName, start)
	if err != nil {
		p.countLogFailure("start pipeline run", err)
	}
	result.RunID = runID

	p.log.Info("starting pipeline run",
		zap.Int64("runId", runID),
		zap.String("pipeline", p.cfg.PipelineName),
		zap.Int("tables", len(tables)))

	var failures int
	for _, spec := range tables {
		if ctx.Err() != nil {
			result.Aborted = true
			p.log.Warn("run aborted between tables", zap.String("next", spec.Name))
			break
		}
		res := p.ingestTable(ctx, spec, stamp, loadDate)
		result.Tables = append(result.Tables, res)
		result.RowsProcessed += int64(res.RowsValid)
		result.RowsQuarantined += int64(res.RowsQuarantined)
		if res.Failed() {
			failures++
		}
	}

	end := time.Now().UTC()
	result.Status = runStatus(result, failures)

	var errMsg string
	if result.Aborted {
		errMsg = "run aborted before all tables completed"
	} else if failures > 0 {
		errMsg = fmt.Sprintf("%d of %d tables failed", failures, len(tables))
	}
	finishErr := p.store.RunTracker().Finish(ctx, warehouse.PipelineRun{
		RunID:           runID,
		Status:          result.Status,
		EndTime:         &end,
		RowsProcessed:   result.RowsProcessed,
		RowsQuarantined: result.RowsQuarantined,
		ErrorMessage:    errMsg,
		DurationSeconds: end.Sub(start).Seconds(),
	})
	if finishErr != nil {
		p.countLogFailure("finish pipeline run", finishErr)
	}
	p.recordMetrics(ctx, runID, result, failures, end)

	p.log.Info("pipeline run completed",
		zap.Int64("runId", runID),
		zap.String("status", result.Status),
		zap.Int64("rowsProcessed", result.RowsProcessed),
		zap.Int64("rowsQuarantined", result.RowsQuarantined),
		zap.Duration("duration", end.Sub(start)))
	return result
}

// LogWriteFailures returns how many warehouse writes were swallowed. Meant
// to be monitored; a swallowed write never aborts ingestion of valid data.
func (p *Pipeline) LogWriteFailures() int64 { return p.logWriteFailures.Load() }

func (p *Pipeline) ingestTable(ctx context.Context, spec TableSpec, stamp, loadDate string) TableResult {
	res := TableResult{Table: spec.Name}
	log := p.log.With(zap.String("table", spec.Name), zap.String("file", spec.File))

	ds, err := p.readWithRetries(ctx, spec)
	if err != nil {
		log.Error("read failed after retries", zap.Error(err))
		res.Status = StatusFailed
		res.Reason = err.Error()
		res.Err = err
		return res
	}
	res.RowsRead = ds.RowCount()
	log.Info("read dataset", zap.Int("rows", ds.RowCount()), zap.Int("columns", len(ds.Columns)))

	current := p.registry.Ensure(spec.Name)
	res.SchemaVersion = current.Version
	rs := validateAndSplit(ds, current)

	candidates, missing := p.detector.Detect(ds)
	res.Candidates = candidates

	writeReq := &sink.WriteRequest{
		Table:    spec.Name,
		LoadDate: loadDate,
		RunStamp: stamp,
		Columns:  ds.Columns,
		Types:    observedTypes(ds, current),
	}

	// Missing required columns reject the whole dataset regardless of
	// row-level results. Candidates are never scored in that case.
	if len(missing) > 0 {
		res.Status = StatusRejected
		res.Action = ActionQuarantine
		res.Reason = fmt.Sprintf("Missing required columns: %s", strings.Join(missing, ", "))
		log.Warn("dataset rejected", zap.Strings("missingColumns", missing))
		path, n, err := p.writeQuarantine(ctx, writeReq, rs.Quarantined)
		if err != nil {
			res.Status = StatusFailed
			res.Err = err
			return res
		}
		res.QuarantinePath = path
		res.RowsQuarantined = n
		return res
	}

	decision := p.policy.Decide(candidates)
	res.Decision = &decision
	if len(candidates) > 0 {
		log.Info("schema drift detected",
			zap.Int("candidates", len(candidates)),
			zap.String("action", string(decision.Action)),
			zap.String("reason", decision.Reason))
	}
	p.appendChangeLog(ctx, spec.Name, decision)

	switch decision.Action {
	case policy.ActionNone:
		res.Status = StatusApproved
		res.Action = ActionProcess
		res.Reason = "Schema matches registry"

	case policy.ActionAutoApprove:
		changes := make([]schema.Change, 0, len(decision.Candidates))
		for _, c := range decision.Candidates {
			changes = append(changes, c.Change())
		}
		version, err := p.registry.Apply(spec.Name, changes)
		if err != nil {
			log.Error("registry apply failed", zap.Error(err))
			res.Status = StatusFailed
			res.Err = err
			return res
		}
		res.SchemaVersion = version
		res.Status = StatusApproved
		res.Action = ActionProcess
		res.Reason = decision.Reason
		log.Info("schema change auto-approved", zap.Int("version", version))
		// The accepted columns are now part of the write schema.
		writeReq.Types = observedTypes(ds, p.registry.Ensure(spec.Name))

	case policy.ActionQuarantineAll:
		p.enqueueApproval(ctx, spec.Name, decision)
		res.Status = StatusPendingApproval
		res.Action = string(policy.ActionQuarantineAll)
		res.Reason = decision.Reason
		quarantined := rs.quarantineAll(ReasonLowConfidenceDrift)
		path, n, err := p.writeQuarantine(ctx, writeReq, quarantined)
		if err != nil {
			res.Status = StatusFailed
			res.Err = err
			return res
		}
		res.QuarantinePath = path
		res.RowsQuarantined = n
		return res

	default:
		// Ambiguous drift: escalate, keep the registry at its last accepted
		// version, and keep processing the batch.
		p.enqueueApproval(ctx, spec.Name, decision)
		res.Status = StatusPendingApproval
		res.Action = ActionHold
		res.Reason = decision.Reason
	}

	path, n, err := p.writeQuarantine(ctx, writeReq, rs.Quarantined)
	if err != nil {
		res.Status = StatusFailed
		res.Err = err
		return res
	}
	res.QuarantinePath = path
	res.RowsQuarantined = n

	if len(rs.Valid) > 0 {
		wres, err := p.valid.Write(ctx, &sink.WriteRequest{
			Table:    writeReq.Table,
			LoadDate: writeReq.LoadDate,
			RunStamp: writeReq.RunStamp,
			Columns:  writeReq.Columns,
			Types:    writeReq.Types,
			Rows:     rs.Valid,
		})
		if err != nil {
			log.Error("valid sink write failed", zap.Error(err))
			res.Status = StatusFailed
			res.Err = err
			return res
		}
		res.ValidPath = wres.Path
		res.RowsValid = len(rs.Valid)
		log.Info("wrote valid rows", zap.Int("rows", len(rs.Valid)), zap.String("path", wres.Path))
	}
	return res
}

func (p *Pipeline) readWithRetries(ctx context.Context, spec TableSpec) (*tabular.Dataset, error) {
	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxRetries; attempt++ {
		ds, err := p.source.Load(ctx, spec.Name, spec.File)
		if err == nil {
			return ds, nil
		}
		lastErr = err
		p.log.Warn("read attempt failed",
			zap.String("table", spec.Name),
			zap.Int("attempt", attempt),
			zap.Int("maxRetries", p.cfg.MaxRetries),
			zap.Error(err))
		if attempt == p.cfg.MaxRetries {
			break
		}
		backoff := p.cfg.BaseBackoff * time.Duration(1<<(attempt-1))
		if err := p.sleep(ctx, backoff); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("read %s after %d attempts: %w", spec.File, p.cfg.MaxRetries, lastErr)
}

func (p *Pipeline) writeQuarantine(ctx context.Context, req *sink.WriteRequest, rows []sink.QuarantineRow) (string, int, error) {
	if len(rows) == 0 {
		return "", 0, nil
	}
	wres, err := p.bad.Write(ctx, req, rows)
	if err != nil {
		p.log.Error("quarantine sink write failed", zap.String("table", req.Table), zap.Error(err))
		return "", 0, err
	}
	p.log.Info("wrote quarantined rows",
		zap.String("table", req.Table),
		zap.Int("rows", len(rows)),
		zap.String("path", wres.Path))
	return wres.Path, len(rows), nil
}

// appendChangeLog writes one audit entry per evaluated candidate. Failures
// are logged and swallowed so a logging failure never aborts ingestion.
func (p *Pipeline) appendChangeLog(ctx context.Context, tableName string, decision policy.Decision) {
	now := time.Now().UTC()
	for _, c := range decision.Candidates {
		samples, _ := json.Marshal(c.Samples)
		entry := warehouse.ChangeLogEntry{
			TableName:    tableName,
			ChangeType:   string(c.Kind),
			ColumnName:   c.Column,
			OldValue:     string(c.PreviousType),
			NewValue:     string(c.ObservedType),
			Confidence:   c.Confidence,
			Status:       string(decision.Action),
			DetectedAt:   now,
			AffectedRows: int64(c.AffectedRows),
			SampleData:   string(samples),
		}
		if _, err := p.store.ChangeLog().Append(ctx, entry); err != nil {
			p.countLogFailure("append change log", err)
		}
	}
}

// enqueueApproval escalates a decision to the human approval queue. The
// registry stays at its last accepted version until someone resolves it.
func (p *Pipeline) enqueueApproval(ctx context.Context, tableName string, decision policy.Decision) {
	payload, err := json.Marshal(decision)
	if err != nil {
		p.countLogFailure("encode decision", err)
		return
	}
	id, err := p.store.ApprovalQueue().Enqueue(ctx, warehouse.ApprovalRequest{
		TableName:    tableName,
		Action:       string(decision.Action),
		Reason:       decision.Reason,
		DecisionJSON: string(payload),
	})
	if err != nil {
		p.countLogFailure("enqueue approval request", err)
		return
	}
	p.log.Info("approval request enqueued",
		zap.String("table", tableName),
		zap.Int64("queueId", id),
		zap.String("action", string(decision.Action)))
}

func (p *Pipeline) recordMetrics(ctx context.Context, runID int64, result *RunResult, failures int, at time.Time) {
	tracker := p.store.RunTracker()
	metrics := map[string]float64{
		"rows_processed":     float64(result.RowsProcessed),
		"rows_quarantined":   float64(result.RowsQuarantined),
		"tables_failed":      float64(failures),
		"log_write_failures": float64(p.logWriteFailures.Load()),
	}
	for name, value := range metrics {
		if err := tracker.RecordMetric(ctx, runID, name, value, at); err != nil {
			p.countLogFailure("record metric "+name, err)
		}
	}
}

func (p *Pipeline) countLogFailure(op string, err error) {
	p.logWriteFailures.Add(1)
	p.log.Warn("warehouse write failed; continuing", zap.String("op", op), zap.Error(err))
}

func runStatus(result *RunResult, failures int) string {
	switch {
	case result.Aborted:
		return warehouse.RunStatusPartial
	case len(result.Tables) == 0:
		return warehouse.RunStatusSuccess
	case failures == 0:
		return warehouse.RunStatusSuccess
	case failures == len(result.Tables):
		return warehouse.RunStatusFailed
	default:
		return warehouse.RunStatusPartial
	}
}

func observedTypes(ds *tabular.Dataset, current schema.TableSchema) map[string]schema.TypeTag {
	types := make(map[string]schema.TypeTag, len(ds.Columns))
	for _, col := range ds.Columns {
		if declared, ok := current.DeclaredType(col); ok {
			types[col] = declared
			continue
		}
		types[col] = ds.Profile(col).Type
	}
	return types
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
