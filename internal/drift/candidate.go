// Package drift detects structural differences between an arriving dataset
// and its registry schema, and scores how trustworthy each difference is.
package drift

import "github.com/retailpulse/ingest-core/internal/schema"

// Kind discriminates the change-candidate variants.
type Kind string

const (
	KindNewColumn  Kind = "new_column"
	KindTypeChange Kind = "type_change"
)

// Candidate is one detected structural anomaly. Immutable once created.
type Candidate struct {
	Kind          Kind           `json:"type"`
	Column        string         `json:"column"`
	Confidence    float64        `json:"confidence"`
	ObservedType  schema.TypeTag `json:"dataType"`
	PreviousType  schema.TypeTag `json:"oldType,omitempty"`
	NullRatio     float64        `json:"nullPercentage"`
	DistinctRatio float64        `json:"uniquePercentage"`
	Samples       []string       `json:"sampleValues,omitempty"`
	AffectedRows  int            `json:"affectedRows"`
}

// Change converts an accepted candidate into the registry mutation it implies.
func (c Candidate) Change() schema.Change {
	kind := schema.ChangeNewColumn
	if c.Kind == KindTypeChange {
		kind = schema.ChangeTypeChange
	}
	return schema.Change{Kind: kind, Column: c.Column, Type: c.ObservedType}
}
