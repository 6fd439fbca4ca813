// Package schema holds entity-type metadata: tables, columns, primary keys,
// association reflections and default scopes.
//
// Metadata is explicit. A Registry is built once (from Go values or from a
// YAML/CUE schema file) and passed to the relation engine; there is no global
// registry. Registries and reflections are read-only after NewRegistry.
package schema

import (
	"slices"
	"strings"
	"unicode"

	"github.com/roach88/relq/internal/queryir"
)

// ColumnType is the logical type of a column. Values read from the query
// engine are cast to it.
type ColumnType string

const (
	TypeInteger ColumnType = "integer"
	TypeFloat   ColumnType = "float"
	TypeDecimal ColumnType = "decimal"
	TypeString  ColumnType = "string"
	TypeBoolean ColumnType = "boolean"
	TypeTime    ColumnType = "time"
)

// Valid reports whether t is a known column type.
func (t ColumnType) Valid() bool {
	switch t {
	case TypeInteger, TypeFloat, TypeDecimal, TypeString, TypeBoolean, TypeTime:
		return true
	}
	return false
}

// Column is one typed column of an entity table.
type Column struct {
	Name string
	Type ColumnType
}

// Macro is the kind of an association.
type Macro string

const (
	BelongsTo           Macro = "belongs_to"
	HasOne              Macro = "has_one"
	HasMany             Macro = "has_many"
	HasAndBelongsToMany Macro = "has_and_belongs_to_many"
)

// Reflection is the metadata of one association.
//
// Key columns by macro:
//
//	belongs_to                owner.ForeignKey      -> target.PrimaryKey
//	has_one, has_many         owner.PrimaryKey      -> target.ForeignKey
//	has_and_belongs_to_many   owner.PrimaryKey      -> JoinTable.ForeignKey,
//	                          JoinTable.AssociationForeignKey -> target primary key
//
// A polymorphic belongs_to has no fixed Target; the owner's TypeColumn names
// the target entity type per row. A has_* reflection with As set is the
// inverse side of a polymorphic belongs_to and filters on TypeColumn = Owner.
type Reflection struct {
	Name                  string
	Macro                 Macro
	Owner                 string // Owner entity type name
	Target                string // Target entity type name ("" when Polymorphic)
	ForeignKey            string
	PrimaryKey            string
	Polymorphic           bool
	TypeColumn            string
	As                    string
	JoinTable             string
	AssociationForeignKey string
	Scope                 *queryir.Fragments // Extra fragments on the target type
}

// Collection reports whether the association holds many targets.
func (r *Reflection) Collection() bool {
	return r.Macro == HasMany || r.Macro == HasAndBelongsToMany
}

// OwnerKey is the owner column whose value identifies the owner's targets.
func (r *Reflection) OwnerKey() string {
	if r.Macro == BelongsTo {
		return r.ForeignKey
	}
	return r.PrimaryKey
}

// AssociationKey is the column, on the target table or on the join table
// for has_and_belongs_to_many, matched against owner keys.
func (r *Reflection) AssociationKey() string {
	if r.Macro == BelongsTo {
		return r.PrimaryKey
	}
	return r.ForeignKey
}

// EntityType describes one persisted entity.
type EntityType struct {
	Name         string
	Table        string
	PrimaryKeys  []string
	Columns      []Column
	Associations []*Reflection
	DefaultScope *queryir.Fragments
}

// PrimaryKey returns the single-column primary key, or "" when the type has
// no primary key or a composite one.
func (t *EntityType) PrimaryKey() string {
	if len(t.PrimaryKeys) != 1 {
		return ""
	}
	return t.PrimaryKeys[0]
}

// Column returns the named column.
func (t *EntityType) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// HasColumn reports whether the table has the named column.
func (t *EntityType) HasColumn(name string) bool {
	_, ok := t.Column(name)
	return ok
}

// ColumnNames returns column names in declaration order.
func (t *EntityType) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Association returns the named association reflection.
func (t *EntityType) Association(name string) (*Reflection, bool) {
	for _, r := range t.Associations {
		if r.Name == name {
			return r, true
		}
	}
	return nil, false
}

// snake converts a type name such as "BlogPost" to "blog_post".
func snake(name string) string {
	var b strings.Builder
	runes := []rune(name)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// joinTableName is the default has_and_belongs_to_many join table: both
// table names sorted and joined with "_".
func joinTableName(a, b string) string {
	names := []string{a, b}
	slices.Sort(names)
	return strings.Join(names, "_")
}
