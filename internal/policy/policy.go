// Package policy classifies a batch of scored change candidates into a
// single noise-reduction action.
package policy

import (
	"fmt"

	"github.com/retailpulse/ingest-core/internal/drift"
)

// DefaultConfidenceThreshold is the boundary between high- and
// low-confidence candidates.
const DefaultConfidenceThreshold = 0.75

// maxLowConfidenceChanges is the corrupt-batch cutoff: more simultaneous
// low-confidence changes than this quarantines the whole batch.
const maxLowConfidenceChanges = 5

// maxAutoApproveBatch caps how many consistently high-confidence changes may
// self-heal without a human.
const maxAutoApproveBatch = 3

// Action is the decision emitted for one candidate batch.
type Action string

const (
	ActionNone                  Action = "none"
	ActionAutoApprove           Action = "auto_approve"
	ActionManualReview          Action = "manual_review"
	ActionBatchApprovalRequired Action = "batch_approval_required"
	ActionQuarantineAll         Action = "quarantine_all"
)

// RequiresApproval reports whether the action must be adjudicated by a human
// before the registry may change.
func (a Action) RequiresApproval() bool {
	switch a {
	case ActionManualReview, ActionBatchApprovalRequired, ActionQuarantineAll:
		return true
	}
	return false
}

// Decision is the policy output for one batch. Ephemeral; persisted via the
// change log and approval queue.
type Decision struct {
	Action         Action            `json:"action"`
	Reason         string            `json:"reason"`
	Candidates     []drift.Candidate `json:"changes"`
	HighConfidence []drift.Candidate `json:"highConfidence,omitempty"`
	LowConfidence  []drift.Candidate `json:"lowConfidence,omitempty"`
	Recommendation string            `json:"recommendation,omitempty"`
}

// Policy holds the confidence threshold τ.
type Policy struct {
	Threshold float64
}

// NewPolicy builds a policy; a non-positive threshold falls back to the
// default.
func NewPolicy(threshold float64) *Policy {
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}
	return &Policy{Threshold: threshold}
}

// Decide classifies the batch. The rules form a strict priority chain,
// evaluated top to bottom, first match wins; the result is independent of
// candidate order.
func (p *Policy) Decide(candidates []drift.Candidate) Decision {
	if len(candidates) == 0 {
		return Decision{Action: ActionNone}
	}

	var high, low []drift.Candidate
	for _, c := range candidates {
		if c.Confidence >= p.Threshold {
			high = append(high, c)
		} else {
			low = append(low, c)
		}
	}

	// Mass low-confidence changes: likely a corrupt batch.
	if len(low) > maxLowConfidenceChanges {
		return Decision{
			Action:         ActionQuarantineAll,
			Reason:         fmt.Sprintf("%d low-confidence changes detected simultaneously", len(low)),
			Candidates:     candidates,
			HighConfidence: high,
			LowConfidence:  low,
			Recommendation: "Review source data quality",
		}
	}

	// Small number of consistently high-confidence changes self-heals.
	if len(high) == len(candidates) && len(candidates) <= maxAutoApproveBatch {
		return Decision{
			Action:     ActionAutoApprove,
			Reason:     "All changes have high confidence",
			Candidates: candidates,
		}
	}

	// A batch mixing trustworthy and untrustworthy signals must not silently
	// mutate the registry.
	if len(candidates) > 1 && len(low) > 0 {
		return Decision{
			Action:         ActionBatchApprovalRequired,
			Reason:         fmt.Sprintf("%d columns changed, %d with low confidence", len(candidates), len(low)),
			Candidates:     candidates,
			HighConfidence: high,
			LowConfidence:  low,
			Recommendation: "Review changes as a group before accepting",
		}
	}

	if len(candidates) == 1 && len(high) == 1 {
		return Decision{
			Action:     ActionAutoApprove,
			Reason:     "Single high-confidence change",
			Candidates: candidates,
		}
	}

	return Decision{
		Action:         ActionManualReview,
		Reason:         "Changes do not match auto-approval criteria",
		Candidates:     candidates,
		HighConfidence: high,
		LowConfidence:  low,
	}
}
