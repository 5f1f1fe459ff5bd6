// Package warehouse persists the audit trail, approval queue and pipeline
// run history. Everything is append-only except the single approval
// resolution update.
package warehouse

import (
	"context"
	"errors"
	"time"
)

// Approval queue statuses.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// Pipeline run statuses.
const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
	RunStatusPartial = "partial"
)

var (
	// ErrNotFound indicates a missing queue entry or run.
	ErrNotFound = errors.New("warehouse: not found")
	// ErrAlreadyResolved guards against resolving a terminal approval
	// request twice; terminal states are final.
	ErrAlreadyResolved = errors.New("warehouse: approval request already resolved")
)

// ChangeLogEntry is one audit record per evaluated change candidate.
type ChangeLogEntry struct {
	ChangeID     int64
	TableName    string
	ChangeType   string
	ColumnName   string
	OldValue     string
	NewValue     string
	Confidence   float64
	Status       string
	DetectedAt   time.Time
	ApprovedAt   *time.Time
	ApprovedBy   string
	AffectedRows int64
	SampleData   string
}

// ApprovalRequest is a decision awaiting human adjudication.
type ApprovalRequest struct {
	QueueID      int64
	TableName    string
	Action       string
	Reason       string
	DecisionJSON string
	Status       string
	CreatedAt    time.Time
}

// PipelineRun is one pipeline execution instance.
type PipelineRun struct {
	RunID           int64
	PipelineName    string
	StartTime       time.Time
	EndTime         *time.Time
	Status          string
	RowsProcessed   int64
	RowsQuarantined int64
	ErrorMessage    string
	DurationSeconds float64
}

// ChangeLog is the append-only audit trail. StampApproval is the sole
// permitted post-write mutation.
type ChangeLog interface {
	Append(ctx context.Context, entry ChangeLogEntry) (int64, error)
	// StampApproval records the adjudication outcome on the still-unstamped
	// entries for the given table columns.
	StampApproval(ctx context.Context, tableName string, columns []string, status, approvedBy string, at time.Time) error
	ListByTable(ctx context.Context, tableName string) ([]ChangeLogEntry, error)
}

// ApprovalQueue persists decisions requiring human adjudication.
type ApprovalQueue interface {
	Enqueue(ctx context.Context, req ApprovalRequest) (int64, error)
	// Resolve transitions pending→approved|rejected exactly once and returns
	// the resolved request. Resolving a terminal request returns
	// ErrAlreadyResolved.
	Resolve(ctx context.Context, queueID int64, outcome string) (*ApprovalRequest, error)
	Get(ctx context.Context, queueID int64) (*ApprovalRequest, error)
	ListPending(ctx context.Context) ([]ApprovalRequest, error)
}

// RunTracker records pipeline executions and their metrics.
type RunTracker interface {
	Start(ctx context.Context, pipelineName string, at time.Time) (int64, error)
	// Finish applies the single terminal transition for a run.
	Finish(ctx context.Context, run PipelineRun) error
	RecordMetric(ctx context.Context, runID int64, name string, value float64, at time.Time) error
	ListRuns(ctx context.Context, limit int) ([]PipelineRun, error)
	// PruneBefore removes run history older than the cutoff.
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Store bundles the three persistence surfaces behind one warehouse handle.
type Store interface {
	ChangeLog() ChangeLog
	ApprovalQueue() ApprovalQueue
	RunTracker() RunTracker
}
