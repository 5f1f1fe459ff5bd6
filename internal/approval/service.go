// Package approval adjudicates escalated schema-change decisions. Approving
// a request replays its recorded changes into the schema registry; rejecting
// leaves the registry untouched. Either way the audit trail is stamped.
package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/retailpulse/ingest-core/internal/policy"
	"github.com/retailpulse/ingest-core/internal/schema"
	"github.com/retailpulse/ingest-core/internal/warehouse"
)

// Service resolves pending approval requests.
type Service struct {
	registry *schema.Registry
	store    warehouse.Store
	log      *zap.Logger

	now func() time.Time
}

// NewService builds an approval service over the registry and warehouse.
func NewService(registry *schema.Registry, store warehouse.Store, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{registry: registry, store: store, log: log, now: time.Now}
}

// Resolution is the outcome of adjudicating one queued request.
type Resolution struct {
	QueueID       int64
	TableName     string
	Outcome       string
	SchemaVersion int
	Columns       []string
}

// Approve accepts a pending request: the recorded changes are applied to the
// registry as one atomic version bump and the change log entries are stamped.
func (s *Service) Approve(ctx context.Context, queueID int64, approvedBy string) (*Resolution, error) {
	req, err := s.store.ApprovalQueue().Resolve(ctx, queueID, warehouse.StatusApproved)
	if err != nil {
		return nil, err
	}

	decision, err := decodeDecision(req.DecisionJSON)
	if err != nil {
		return nil, fmt.Errorf("approval request %d: %w", queueID, err)
	}

	changes := make([]schema.Change, 0, len(decision.Candidates))
	columns := make([]string, 0, len(decision.Candidates))
	for _, c := range decision.Candidates {
		changes = append(changes, c.Change())
		columns = append(columns, c.Column)
	}

	version, err := s.registry.Apply(req.TableName, changes)
	if err != nil {
		return nil, fmt.Errorf("apply approved changes to %s: %w", req.TableName, err)
	}

	now := s.now().UTC()
	if err := s.store.ChangeLog().StampApproval(ctx, req.TableName, columns, warehouse.StatusApproved, approvedBy, now); err != nil {
		s.log.Warn("approval stamp failed; registry already updated",
			zap.Int64("queueId", queueID), zap.Error(err))
	}

	s.log.Info("approval request approved",
		zap.Int64("queueId", queueID),
		zap.String("table", req.TableName),
		zap.String("approvedBy", approvedBy),
		zap.Int("schemaVersion", version))
	return &Resolution{
		QueueID:       queueID,
		TableName:     req.TableName,
		Outcome:       warehouse.StatusApproved,
		SchemaVersion: version,
		Columns:       columns,
	}, nil
}

// Reject declines a pending request. The registry stays at its last accepted
// version; the audit trail records who declined.
func (s *Service) Reject(ctx context.Context, queueID int64, rejectedBy string) (*Resolution, error) {
	req, err := s.store.ApprovalQueue().Resolve(ctx, queueID, warehouse.StatusRejected)
	if err != nil {
		return nil, err
	}

	var columns []string
	if decision, err := decodeDecision(req.DecisionJSON); err == nil {
		for _, c := range decision.Candidates {
			columns = append(columns, c.Column)
		}
	}

	now := s.now().UTC()
	if err := s.store.ChangeLog().StampApproval(ctx, req.TableName, columns, warehouse.StatusRejected, rejectedBy, now); err != nil {
		s.log.Warn("rejection stamp failed",
			zap.Int64("queueId", queueID), zap.Error(err))
	}

	s.log.Info("approval request rejected",
		zap.Int64("queueId", queueID),
		zap.String("table", req.TableName),
		zap.String("rejectedBy", rejectedBy))
	return &Resolution{
		QueueID:   queueID,
		TableName: req.TableName,
		Outcome:   warehouse.StatusRejected,
		Columns:   columns,
	}, nil
}

// Pending lists the requests still awaiting adjudication.
func (s *Service) Pending(ctx context.Context) ([]warehouse.ApprovalRequest, error) {
	return s.store.ApprovalQueue().ListPending(ctx)
}

func decodeDecision(raw string) (*policy.Decision, error) {
	var d policy.Decision
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return nil, fmt.Errorf("decode recorded decision: %w", err)
	}
	return &d, nil
}
