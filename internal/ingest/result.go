package ingest

import (
	"github.com/retailpulse/ingest-core/internal/drift"
	"github.com/retailpulse/ingest-core/internal/policy"
)

// Table ingestion statuses.
const (
	StatusApproved        = "approved"
	StatusPendingApproval = "pending_approval"
	StatusRejected        = "rejected"
	StatusFailed          = "failed"
)

// Table ingestion actions.
const (
	ActionProcess    = "process"
	ActionHold       = "hold"
	ActionQuarantine = "quarantine"
)

// TableResult is the outcome of one table's ingestion within a run.
type TableResult struct {
	Table           string
	Status          string
	Action          string
	Reason          string
	SchemaVersion   int
	RowsRead        int
	RowsValid       int
	RowsQuarantined int
	Candidates      []drift.Candidate
	Decision        *policy.Decision
	ValidPath       string
	QuarantinePath  string
	Err             error
}

// Failed reports whether the table's ingestion failed outright (as opposed
// to being rejected or held, which are recorded outcomes).
func (r TableResult) Failed() bool { return r.Status == StatusFailed }

// RunResult summarizes one pipeline execution.
type RunResult struct {
	RunID           int64
	RunStamp        string
	Status          string
	Tables          []TableResult
	RowsProcessed   int64
	RowsQuarantined int64
	Aborted         bool
}
