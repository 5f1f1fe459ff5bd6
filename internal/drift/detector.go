package drift

import (
	"sort"

	"github.com/retailpulse/ingest-core/internal/schema"
	"github.com/retailpulse/ingest-core/internal/tabular"
)

// Detector compares incoming datasets against the schema registry.
type Detector struct {
	registry *schema.Registry
	scorer   *Scorer
}

// NewDetector builds a detector over the given registry.
func NewDetector(registry *schema.Registry, scorer *Scorer) *Detector {
	if scorer == nil {
		scorer = NewScorer()
	}
	return &Detector{registry: registry, scorer: scorer}
}

// Detect returns the scored change candidates for the dataset plus any
// missing required column names. Missing required columns are never scored;
// the caller treats them as fatal for the dataset. Unknown tables receive a
// lazy default registry entry.
func (d *Detector) Detect(ds *tabular.Dataset) ([]Candidate, []string) {
	current := d.registry.Ensure(ds.Table)
	known := current.KnownColumns()

	var missing []string
	for _, col := range current.Required {
		if !ds.HasColumn(col) {
			missing = append(missing, col)
		}
	}
	sort.Strings(missing)
	// Missing required columns are fatal for the dataset; nothing gets
	// scored in that case.
	if len(missing) > 0 {
		return nil, missing
	}

	var candidates []Candidate
	for _, col := range ds.Columns {
		prof := ds.Profile(col)

		if !known[col] {
			cand := Candidate{
				Kind:          KindNewColumn,
				Column:        col,
				ObservedType:  prof.Type,
				NullRatio:     prof.NullRatio,
				DistinctRatio: prof.DistinctRatio,
				Samples:       prof.Samples,
				AffectedRows:  ds.RowCount(),
			}
			cand.Confidence = d.scorer.ScoreNewColumn(cand, ds.RowCount())
			candidates = append(candidates, cand)
			continue
		}

		declared, ok := current.DeclaredType(col)
		if !ok {
			continue
		}
		// Integer subtypes are normalized before comparing, so width-only
		// differences never trigger a candidate.
		observed := schema.NormalizeType(prof.Type)
		if observed == declared {
			continue
		}
		cand := Candidate{
			Kind:          KindTypeChange,
			Column:        col,
			ObservedType:  observed,
			PreviousType:  declared,
			NullRatio:     prof.NullRatio,
			DistinctRatio: prof.DistinctRatio,
			Samples:       prof.Samples,
			AffectedRows:  ds.RowCount(),
		}
		cand.Confidence = d.scorer.ScoreTypeChange(declared, observed)
		candidates = append(candidates, cand)
	}

	return candidates, missing
}
