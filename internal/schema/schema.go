// Package schema holds the versioned table-schema registry that the
// ingestion pipeline validates incoming datasets against.
package schema

import "strings"

// TypeTag is the declared type class of a column.
type TypeTag string

const (
	TypeInteger   TypeTag = "integer"
	TypeFloat     TypeTag = "float"
	TypeText      TypeTag = "text"
	TypeTimestamp TypeTag = "timestamp"
)

// NormalizeType collapses integer subtypes (int, int32, int64, ...) to a
// single integer class so width-only differences never register as drift.
func NormalizeType(t TypeTag) TypeTag {
	s := strings.ToLower(string(t))
	if strings.Contains(s, "int") {
		return TypeInteger
	}
	if strings.Contains(s, "float") || strings.Contains(s, "double") {
		return TypeFloat
	}
	if strings.Contains(s, "datetime") || s == string(TypeTimestamp) {
		return TypeTimestamp
	}
	if s == "" || s == "object" || s == "string" {
		return TypeText
	}
	return TypeTag(s)
}

// TableSchema is the registry entry for one logical table.
type TableSchema struct {
	Name     string
	Version  int
	Required []string
	Optional []string
	Types    map[string]TypeTag
}

// KnownColumns returns the union of required and optional columns as a set.
func (s TableSchema) KnownColumns() map[string]bool {
	known := make(map[string]bool, len(s.Required)+len(s.Optional))
	for _, c := range s.Required {
		known[c] = true
	}
	for _, c := range s.Optional {
		known[c] = true
	}
	return known
}

// DeclaredType returns the normalized declared type for a column, if any.
func (s TableSchema) DeclaredType(column string) (TypeTag, bool) {
	t, ok := s.Types[column]
	if !ok {
		return "", false
	}
	return NormalizeType(t), true
}

func (s TableSchema) clone() TableSchema {
	out := TableSchema{
		Name:     s.Name,
		Version:  s.Version,
		Required: append([]string(nil), s.Required...),
		Optional: append([]string(nil), s.Optional...),
		Types:    make(map[string]TypeTag, len(s.Types)),
	}
	for k, v := range s.Types {
		out.Types[k] = v
	}
	return out
}

// ChangeKind discriminates the accepted structural change variants.
type ChangeKind string

const (
	ChangeNewColumn  ChangeKind = "new_column"
	ChangeTypeChange ChangeKind = "type_change"
)

// Change is one accepted structural change to apply to a registry entry.
type Change struct {
	Kind   ChangeKind
	Column string
	Type   TypeTag
}
