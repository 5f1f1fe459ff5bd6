package drift

import (
	"strings"

	"github.com/retailpulse/ingest-core/internal/schema"
)

// Scoring weights for NEW_COLUMN candidates. The result is a heuristic
// priority signal for the decision policy, not a statistical guarantee.
const (
	weightNamingVocab           = 0.50
	weightNamingIdentifier      = 0.30
	weightCompleteness          = 0.20
	weightTypedColumn           = 0.15
	weightTextColumn            = 0.05
	weightHealthyCardinality    = 0.15
	weightDegenerateCardinality = 0.05

	defaultTransitionConfidence = 0.2
)

// businessVocabulary lists column-name fragments that mark a plausible
// business field.
var businessVocabulary = []string{
	"id", "name", "date", "time", "amount", "price", "quantity",
	"status", "type", "code", "description", "flag", "method", "payment",
}

type typeTransition struct {
	from schema.TypeTag
	to   schema.TypeTag
}

// safeTransitions assigns confidence to known type transitions. Widening is
// safe, narrowing needs review, numeric-to-text is suspicious.
var safeTransitions = map[typeTransition]float64{
	{schema.TypeInteger, schema.TypeFloat}:  0.9,
	{schema.TypeFloat, schema.TypeInteger}:  0.5,
	{schema.TypeText, schema.TypeTimestamp}: 0.8,
	{schema.TypeInteger, schema.TypeText}:   0.3,
}

// Scorer assigns [0,1] confidence values to change candidates.
type Scorer struct{}

// NewScorer returns a scorer with the default weights.
func NewScorer() *Scorer { return &Scorer{} }

// ScoreNewColumn combines naming plausibility, completeness, type stability
// and cardinality shape, clamped to [0,1]. An empty dataset scores 0.
func (s *Scorer) ScoreNewColumn(c Candidate, rowCount int) float64 {
	if rowCount == 0 {
		return 0
	}
	confidence := s.namingScore(c.Column)
	confidence += (1 - c.NullRatio) * weightCompleteness
	confidence += s.typeStabilityScore(c.ObservedType)
	confidence += s.cardinalityScore(c.DistinctRatio)
	if confidence > 1 {
		confidence = 1
	}
	return confidence
}

// ScoreTypeChange looks the transition up in the safe-transition table;
// unlisted transitions default to a low constant.
func (s *Scorer) ScoreTypeChange(from, to schema.TypeTag) float64 {
	key := typeTransition{schema.NormalizeType(from), schema.NormalizeType(to)}
	if conf, ok := safeTransitions[key]; ok {
		return conf
	}
	return defaultTransitionConfidence
}

func (s *Scorer) namingScore(column string) float64 {
	lower := strings.ToLower(column)
	for _, term := range businessVocabulary {
		if strings.Contains(lower, term) {
			return weightNamingVocab
		}
	}
	if isIdentifier(column) {
		return weightNamingIdentifier
	}
	return 0
}

// typeStabilityScore favors already-typed columns: free text is more likely
// to hold inconsistent or noisy data.
func (s *Scorer) typeStabilityScore(observed schema.TypeTag) float64 {
	if schema.NormalizeType(observed) == schema.TypeText {
		return weightTextColumn
	}
	return weightTypedColumn
}

// cardinalityScore rewards a distinct ratio strictly between 1% and 99%;
// constant and unique-per-row columns more often indicate corruption or
// identifier leaks.
func (s *Scorer) cardinalityScore(distinctRatio float64) float64 {
	if distinctRatio > 0.01 && distinctRatio < 0.99 {
		return weightHealthyCardinality
	}
	return weightDegenerateCardinality
}

func isIdentifier(column string) bool {
	if column == "" {
		return false
	}
	for _, r := range column {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_':
		default:
			return false
		}
	}
	return true
}
