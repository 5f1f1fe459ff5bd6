package schema

import (
	"fmt"
	"sync"
)

// Registry is the in-process catalog of table schemas. Unknown tables get a
// lazy empty entry at version 1 so a brand-new source is always ingestable.
// Apply is the only mutator; updates are serialized per table.
type Registry struct {
	mu     sync.RWMutex
	tables map[string]*tableEntry
}

type tableEntry struct {
	mu     sync.Mutex
	schema TableSchema
}

// NewRegistry builds a registry seeded with the given schemas.
func NewRegistry(schemas ...TableSchema) *Registry {
	reg := &Registry{tables: make(map[string]*tableEntry)}
	for _, s := range schemas {
		entry := &tableEntry{schema: s.clone()}
		if entry.schema.Version <= 0 {
			entry.schema.Version = 1
		}
		if entry.schema.Types == nil {
			entry.schema.Types = make(map[string]TypeTag)
		}
		reg.tables[s.Name] = entry
	}
	return reg
}

// Get returns a copy of the registry entry for tableName.
func (r *Registry) Get(tableName string) (TableSchema, bool) {
	r.mu.RLock()
	entry, ok := r.tables[tableName]
	r.mu.RUnlock()
	if !ok {
		return TableSchema{}, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.schema.clone(), true
}

// Ensure returns the entry for tableName, creating a default empty schema
// at version 1 when the table is unknown.
func (r *Registry) Ensure(tableName string) TableSchema {
	return r.entry(tableName).snapshot()
}

// Apply mutates the entry for tableName with the accepted change set and
// returns the new version. NEW_COLUMN appends to optional and records the
// observed type; TYPE_CHANGE overwrites the declared type. There is no
// rollback; corrections are issued as compensating changes.
func (r *Registry) Apply(tableName string, changes []Change) (int, error) {
	entry := r.entry(tableName)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	known := entry.schema.KnownColumns()
	for _, c := range changes {
		switch c.Kind {
		case ChangeNewColumn:
			if !known[c.Column] {
				entry.schema.Optional = append(entry.schema.Optional, c.Column)
				known[c.Column] = true
			}
			entry.schema.Types[c.Column] = NormalizeType(c.Type)
		case ChangeTypeChange:
			entry.schema.Types[c.Column] = NormalizeType(c.Type)
		default:
			return entry.schema.Version, fmt.Errorf("unknown change kind %q for column %s", c.Kind, c.Column)
		}
	}
	entry.schema.Version++
	return entry.schema.Version, nil
}

// TableNames returns the registered table names.
func (r *Registry) TableNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tables))
	for name := range r.tables {
		names = append(names, name)
	}
	return names
}

func (r *Registry) entry(tableName string) *tableEntry {
	r.mu.RLock()
	entry, ok := r.tables[tableName]
	r.mu.RUnlock()
	if ok {
		return entry
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok = r.tables[tableName]; ok {
		return entry
	}
	entry = &tableEntry{schema: TableSchema{
		Name:    tableName,
		Version: 1,
		Types:   make(map[string]TypeTag),
	}}
	r.tables[tableName] = entry
	return entry
}

func (e *tableEntry) snapshot() TableSchema {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.schema.clone()
}
