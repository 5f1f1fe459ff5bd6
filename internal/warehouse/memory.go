package warehouse

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps the warehouse tables in process memory. Used by tests
// and by deployments that have not provisioned Postgres yet.
type MemoryStore struct {
	mu sync.Mutex

	changeSeq int64
	changes   []ChangeLogEntry

	queueSeq int64
	queue    map[int64]*ApprovalRequest

	runSeq  int64
	runs    map[int64]*PipelineRun
	metrics []memoryMetric
}

type memoryMetric struct {
	RunID     int64
	Name      string
	Value     float64
	Timestamp time.Time
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		queue: make(map[int64]*ApprovalRequest),
		runs:  make(map[int64]*PipelineRun),
	}
}

func (s *MemoryStore) ChangeLog() ChangeLog         { return (*memoryChangeLog)(s) }
func (s *MemoryStore) ApprovalQueue() ApprovalQueue { return (*memoryQueue)(s) }
func (s *MemoryStore) RunTracker() RunTracker       { return (*memoryRuns)(s) }

// --- ChangeLog ---

type memoryChangeLog MemoryStore

func (s *memoryChangeLog) Append(ctx context.Context, entry ChangeLogEntry) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changeSeq++
	entry.ChangeID = s.changeSeq
	s.changes = append(s.changes, entry)
	return entry.ChangeID, nil
}

func (s *memoryChangeLog) StampApproval(ctx context.Context, tableName string, columns []string, status, approvedBy string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	wanted := make(map[string]bool, len(columns))
	for _, c := range columns {
		wanted[c] = true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.changes {
		e := &s.changes[i]
		if e.TableName != tableName || e.ApprovedAt != nil || !wanted[e.ColumnName] {
			continue
		}
		stamp := at
		e.ApprovedAt = &stamp
		e.ApprovedBy = approvedBy
		e.Status = status
	}
	return nil
}

func (s *memoryChangeLog) ListByTable(ctx context.Context, tableName string) ([]ChangeLogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ChangeLogEntry
	for _, e := range s.changes {
		if e.TableName == tableName {
			out = append(out, e)
		}
	}
	return out, nil
}

// --- ApprovalQueue ---

type memoryQueue MemoryStore

func (s *memoryQueue) Enqueue(ctx context.Context, req ApprovalRequest) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queueSeq++
	req.QueueID = s.queueSeq
	req.Status = StatusPending
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	stored := req
	s.queue[req.QueueID] = &stored
	return req.QueueID, nil
}

func (s *memoryQueue) Resolve(ctx context.Context, queueID int64, outcome string) (*ApprovalRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.queue[queueID]
	if !ok {
		return nil, ErrNotFound
	}
	if req.Status != StatusPending {
		return nil, ErrAlreadyResolved
	}
	req.Status = outcome
	out := *req
	return &out, nil
}

func (s *memoryQueue) Get(ctx context.Context, queueID int64) (*ApprovalRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.queue[queueID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *req
	return &out, nil
}

func (s *memoryQueue) ListPending(ctx context.Context) ([]ApprovalRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ApprovalRequest
	for _, req := range s.queue {
		if req.Status == StatusPending {
			out = append(out, *req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueueID < out[j].QueueID })
	return out, nil
}

// --- RunTracker ---

type memoryRuns MemoryStore

func (s *memoryRuns) Start(ctx context.Context, pipelineName string, at time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runSeq++
	s.runs[s.runSeq] = &PipelineRun{
		RunID:        s.runSeq,
		PipelineName: pipelineName,
		StartTime:    at,
		Status:       RunStatusRunning,
	}
	return s.runSeq, nil
}

func (s *memoryRuns) Finish(ctx context.Context, run PipelineRun) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.runs[run.RunID]
	if !ok {
		return ErrNotFound
	}
	stored.EndTime = run.EndTime
	stored.Status = run.Status
	stored.RowsProcessed = run.RowsProcessed
	stored.RowsQuarantined = run.RowsQuarantined
	stored.ErrorMessage = run.ErrorMessage
	stored.DurationSeconds = run.DurationSeconds
	return nil
}

func (s *memoryRuns) RecordMetric(ctx context.Context, runID int64, name string, value float64, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = append(s.metrics, memoryMetric{RunID: runID, Name: name, Value: value, Timestamp: at})
	return nil
}

func (s *memoryRuns) ListRuns(ctx context.Context, limit int) ([]PipelineRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PipelineRun, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, *run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunID > out[j].RunID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryRuns) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var pruned int64
	for id, run := range s.runs {
		if run.StartTime.Before(cutoff) {
			delete(s.runs, id)
			pruned++
		}
	}
	return pruned, nil
}
