package drift

import (
	"testing"

	"github.com/retailpulse/ingest-core/internal/schema"
	"github.com/retailpulse/ingest-core/internal/tabular"
)

func testRegistry() *schema.Registry {
	return schema.NewRegistry(schema.TableSchema{
		Name:     "transactions",
		Required: []string{"transaction_id", "price"},
		Optional: []string{"discount"},
		Types: map[string]schema.TypeTag{
			"transaction_id": schema.TypeInteger,
			"price":          schema.TypeFloat,
			"discount":       schema.TypeFloat,
		},
	})
}

func TestDetect(t *testing.T) {
	t.Run("matching dataset yields nothing", func(t *testing.T) {
		d := NewDetector(testRegistry(), nil)
		ds := &tabular.Dataset{
			Table:   "transactions",
			Columns: []string{"transaction_id", "price"},
			Rows: []tabular.Record{
				{"transaction_id": "1", "price": "9.99"},
				{"transaction_id": "2", "price": "5.25"},
			},
		}
		candidates, missing := d.Detect(ds)
		if len(candidates) != 0 {
			t.Errorf("candidates = %v, want none", candidates)
		}
		if len(missing) != 0 {
			t.Errorf("missing = %v, want none", missing)
		}
	})

	t.Run("unknown column becomes new-column candidate", func(t *testing.T) {
		d := NewDetector(testRegistry(), nil)
		ds := &tabular.Dataset{
			Table:   "transactions",
			Columns: []string{"transaction_id", "price", "payment_method"},
			Rows: []tabular.Record{
				{"transaction_id": "1", "price": "9.99", "payment_method": "card"},
				{"transaction_id": "2", "price": "5.25", "payment_method": "cash"},
				{"transaction_id": "3", "price": "1.10", "payment_method": "card"},
			},
		}
		candidates, missing := d.Detect(ds)
		if len(missing) != 0 {
			t.Fatalf("missing = %v, want none", missing)
		}
		if len(candidates) != 1 {
			t.Fatalf("candidates = %d, want 1", len(candidates))
		}
		c := candidates[0]
		if c.Kind != KindNewColumn || c.Column != "payment_method" {
			t.Errorf("unexpected candidate %+v", c)
		}
		if c.ObservedType != schema.TypeText {
			t.Errorf("observed type = %s, want text", c.ObservedType)
		}
		if c.Confidence <= 0 || c.Confidence > 1 {
			t.Errorf("confidence = %v, want (0,1]", c.Confidence)
		}
		if c.AffectedRows != 3 {
			t.Errorf("affected rows = %d, want 3", c.AffectedRows)
		}
	})

	t.Run("observed type mismatch becomes type-change candidate", func(t *testing.T) {
		d := NewDetector(testRegistry(), nil)
		ds := &tabular.Dataset{
			Table:   "transactions",
			Columns: []string{"transaction_id", "price"},
			Rows: []tabular.Record{
				{"transaction_id": "1.5", "price": "9.99"},
				{"transaction_id": "2.5", "price": "5.25"},
			},
		}
		candidates, _ := d.Detect(ds)
		if len(candidates) != 1 {
			t.Fatalf("candidates = %d, want 1", len(candidates))
		}
		c := candidates[0]
		if c.Kind != KindTypeChange || c.Column != "transaction_id" {
			t.Errorf("unexpected candidate %+v", c)
		}
		if c.PreviousType != schema.TypeInteger || c.ObservedType != schema.TypeFloat {
			t.Errorf("transition %s to %s, want integer to float", c.PreviousType, c.ObservedType)
		}
		if !almostEqual(c.Confidence, 0.9) {
			t.Errorf("confidence = %v, want 0.9", c.Confidence)
		}
	})

	t.Run("integer width differences are not drift", func(t *testing.T) {
		reg := schema.NewRegistry(schema.TableSchema{
			Name:     "inventory",
			Required: []string{"sku"},
			Types:    map[string]schema.TypeTag{"sku": "int64"},
		})
		d := NewDetector(reg, nil)
		ds := &tabular.Dataset{
			Table:   "inventory",
			Columns: []string{"sku"},
			Rows: []tabular.Record{
				{"sku": "100234"},
				{"sku": "100235"},
			},
		}
		if candidates, _ := d.Detect(ds); len(candidates) != 0 {
			t.Errorf("candidates = %v, want none", candidates)
		}
	})

	t.Run("missing required columns suppress scoring", func(t *testing.T) {
		d := NewDetector(testRegistry(), nil)
		ds := &tabular.Dataset{
			Table:   "transactions",
			Columns: []string{"transaction_id", "mystery_col"},
			Rows: []tabular.Record{
				{"transaction_id": "1", "mystery_col": "x"},
			},
		}
		candidates, missing := d.Detect(ds)
		if len(missing) != 1 || missing[0] != "price" {
			t.Errorf("missing = %v, want [price]", missing)
		}
		if candidates != nil {
			t.Errorf("candidates = %v, want nil when required columns are missing", candidates)
		}
	})

	t.Run("unknown table is ingestable with every column as candidate", func(t *testing.T) {
		d := NewDetector(testRegistry(), nil)
		ds := &tabular.Dataset{
			Table:   "promotions",
			Columns: []string{"promo_code", "discount_pct"},
			Rows: []tabular.Record{
				{"promo_code": "SAVE10", "discount_pct": "10"},
			},
		}
		candidates, missing := d.Detect(ds)
		if len(missing) != 0 {
			t.Errorf("missing = %v, want none", missing)
		}
		if len(candidates) != 2 {
			t.Errorf("candidates = %d, want 2", len(candidates))
		}
	})
}
