package schema

// DefaultRetailSchemas returns the seed registry entries for the retail
// source tables. Only transactions carries a strict contract; the other
// feeds start permissive and tighten as drift is accepted.
func DefaultRetailSchemas() []TableSchema {
	return []TableSchema{
		{
			Name:     "transactions",
			Version:  1,
			Required: []string{"transaction_id", "product_id", "store_id", "timestamp", "quantity", "price"},
			Optional: []string{"discount", "payment_method", "customer_id"},
			Types: map[string]TypeTag{
				"transaction_id": TypeInteger,
				"product_id":     TypeInteger,
				"store_id":       TypeInteger,
				"quantity":       TypeInteger,
				"price":          TypeFloat,
				"timestamp":      TypeTimestamp,
				"discount":       TypeFloat,
				"customer_id":    TypeInteger,
			},
		},
		{Name: "customers", Version: 1},
		{Name: "products", Version: 1},
		{Name: "stores", Version: 1},
		{Name: "inventory", Version: 1},
		{Name: "shipments", Version: 1},
		{Name: "web_clickstream", Version: 1},
	}
}
