package warehouse

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists the warehouse tables in Postgres via pgx.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

var ddl = []string{
	`CREATE TABLE IF NOT EXISTS schema_change_log (
		change_id BIGSERIAL PRIMARY KEY,
		table_name TEXT NOT NULL,
		change_type TEXT NOT NULL,
		column_name TEXT NOT NULL,
		old_value TEXT NOT NULL DEFAULT '',
		new_value TEXT NOT NULL DEFAULT '',
		confidence_score DOUBLE PRECISION NOT NULL,
		status TEXT NOT NULL,
		detected_at TIMESTAMPTZ NOT NULL,
		approved_at TIMESTAMPTZ,
		approved_by TEXT,
		affected_rows BIGINT NOT NULL DEFAULT 0,
		sample_data TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS schema_approval_queue (
		queue_id BIGSERIAL PRIMARY KEY,
		table_name TEXT NOT NULL,
		action TEXT NOT NULL,
		reason TEXT NOT NULL,
		decision_json TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS pipeline_runs (
		run_id BIGSERIAL PRIMARY KEY,
		pipeline_name TEXT NOT NULL,
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ,
		status TEXT NOT NULL,
		rows_processed BIGINT NOT NULL DEFAULT 0,
		rows_quarantined BIGINT NOT NULL DEFAULT 0,
		error_message TEXT,
		duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS pipeline_metrics (
		metric_id BIGSERIAL PRIMARY KEY,
		run_id BIGINT NOT NULL,
		metric_name TEXT NOT NULL,
		metric_value DOUBLE PRECISION NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL
	)`,
}

// EnsureSchema creates the warehouse tables if absent.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range ddl {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) ChangeLog() ChangeLog         { return &pgChangeLog{db: s.db} }
func (s *PostgresStore) ApprovalQueue() ApprovalQueue { return &pgQueue{db: s.db} }
func (s *PostgresStore) RunTracker() RunTracker       { return &pgRuns{db: s.db} }

// --- ChangeLog ---

type pgChangeLog struct {
	db *pgxpool.Pool
}

func (r *pgChangeLog) Append(ctx context.Context, entry ChangeLogEntry) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO schema_change_log
		(table_name, change_type, column_name, old_value, new_value,
		 confidence_score, status, detected_at, affected_rows, sample_data)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING change_id`,
		entry.TableName, entry.ChangeType, entry.ColumnName, entry.OldValue, entry.NewValue,
		entry.Confidence, entry.Status, entry.DetectedAt, entry.AffectedRows, entry.SampleData,
	).Scan(&id)
	return id, err
}

func (r *pgChangeLog) StampApproval(ctx context.Context, tableName string, columns []string, status, approvedBy string, at time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE schema_change_log
		SET status = $1, approved_by = $2, approved_at = $3
		WHERE table_name = $4 AND column_name = ANY($5) AND approved_at IS NULL`,
		status, approvedBy, at, tableName, columns)
	return err
}

func (r *pgChangeLog) ListByTable(ctx context.Context, tableName string) ([]ChangeLogEntry, error) {
	rows, err := r.db.Query(ctx, `SELECT change_id, table_name, change_type, column_name,
		old_value, new_value, confidence_score, status, detected_at, approved_at,
		COALESCE(approved_by, ''), affected_rows, sample_data
		FROM schema_change_log WHERE table_name = $1 ORDER BY change_id`, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ChangeLogEntry
	for rows.Next() {
		var e ChangeLogEntry
		if err := rows.Scan(&e.ChangeID, &e.TableName, &e.ChangeType, &e.ColumnName,
			&e.OldValue, &e.NewValue, &e.Confidence, &e.Status, &e.DetectedAt, &e.ApprovedAt,
			&e.ApprovedBy, &e.AffectedRows, &e.SampleData); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- ApprovalQueue ---

type pgQueue struct {
	db *pgxpool.Pool
}

func (r *pgQueue) Enqueue(ctx context.Context, req ApprovalRequest) (int64, error) {
	createdAt := req.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO schema_approval_queue
		(table_name, action, reason, decision_json, status, created_at)
		VALUES ($1,$2,$3,$4,'pending',$5)
		RETURNING queue_id`,
		req.TableName, req.Action, req.Reason, req.DecisionJSON, createdAt,
	).Scan(&id)
	return id, err
}

func (r *pgQueue) Resolve(ctx context.Context, queueID int64, outcome string) (*ApprovalRequest, error) {
	// The status guard makes resolution idempotent: a terminal request is
	// never silently overwritten.
	row := r.db.QueryRow(ctx, `UPDATE schema_approval_queue
		SET status = $1
		WHERE queue_id = $2 AND status = 'pending'
		RETURNING queue_id, table_name, action, reason, decision_json, status, created_at`,
		outcome, queueID)
	req, err := scanApprovalRequest(row)
	if err == nil {
		return req, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if _, getErr := r.Get(ctx, queueID); getErr != nil {
		return nil, getErr
	}
	return nil, ErrAlreadyResolved
}

func (r *pgQueue) Get(ctx context.Context, queueID int64) (*ApprovalRequest, error) {
	row := r.db.QueryRow(ctx, `SELECT queue_id, table_name, action, reason, decision_json, status, created_at
		FROM schema_approval_queue WHERE queue_id = $1`, queueID)
	req, err := scanApprovalRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return req, err
}

func (r *pgQueue) ListPending(ctx context.Context) ([]ApprovalRequest, error) {
	rows, err := r.db.Query(ctx, `SELECT queue_id, table_name, action, reason, decision_json, status, created_at
		FROM schema_approval_queue WHERE status = 'pending' ORDER BY queue_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ApprovalRequest
	for rows.Next() {
		var req ApprovalRequest
		if err := rows.Scan(&req.QueueID, &req.TableName, &req.Action, &req.Reason,
			&req.DecisionJSON, &req.Status, &req.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func scanApprovalRequest(row pgx.Row) (*ApprovalRequest, error) {
	var req ApprovalRequest
	if err := row.Scan(&req.QueueID, &req.TableName, &req.Action, &req.Reason,
		&req.DecisionJSON, &req.Status, &req.CreatedAt); err != nil {
		return nil, err
	}
	return &req, nil
}

// --- RunTracker ---

type pgRuns struct {
	db *pgxpool.Pool
}

func (r *pgRuns) Start(ctx context.Context, pipelineName string, at time.Time) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO pipeline_runs (pipeline_name, start_time, status)
		VALUES ($1,$2,'running') RETURNING run_id`, pipelineName, at).Scan(&id)
	return id, err
}

func (r *pgRuns) Finish(ctx context.Context, run PipelineRun) error {
	tag, err := r.db.Exec(ctx, `UPDATE pipeline_runs
		SET end_time = $1, status = $2, rows_processed = $3, rows_quarantined = $4,
		    error_message = NULLIF($5, ''), duration_seconds = $6
		WHERE run_id = $7`,
		run.EndTime, run.Status, run.RowsProcessed, run.RowsQuarantined,
		run.ErrorMessage, run.DurationSeconds, run.RunID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *pgRuns) RecordMetric(ctx context.Context, runID int64, name string, value float64, at time.Time) error {
	_, err := r.db.Exec(ctx, `INSERT INTO pipeline_metrics (run_id, metric_name, metric_value, timestamp)
		VALUES ($1,$2,$3,$4)`, runID, name, value, at)
	return err
}

func (r *pgRuns) ListRuns(ctx context.Context, limit int) ([]PipelineRun, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `SELECT run_id, pipeline_name, start_time, end_time, status,
		rows_processed, rows_quarantined, COALESCE(error_message, ''), duration_seconds
		FROM pipeline_runs ORDER BY run_id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PipelineRun
	for rows.Next() {
		var run PipelineRun
		if err := rows.Scan(&run.RunID, &run.PipelineName, &run.StartTime, &run.EndTime,
			&run.Status, &run.RowsProcessed, &run.RowsQuarantined, &run.ErrorMessage,
			&run.DurationSeconds); err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (r *pgRuns) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM pipeline_runs WHERE start_time < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
