// Package record is the entity mapping layer: it turns raw engine rows into
// typed records and holds preloaded association targets.
package record

import (
	"encoding/json"
	"maps"
	"slices"

	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/schema"
	"github.com/roach88/relq/internal/typecast"
)

// Record is one materialized entity.
//
// Records are not safe for concurrent mutation. Association targets are
// attached once by the preloader and then only read.
type Record struct {
	typ    *schema.EntityType
	attrs  map[string]any
	assocs map[string]*Association
}

// New creates a record of type t with the given attributes. The map is
// copied.
func New(t *schema.EntityType, attrs map[string]any) *Record {
	return &Record{
		typ:    t,
		attrs:  maps.Clone(attrs),
		assocs: map[string]*Association{},
	}
}

// Type returns the record's entity type.
func (r *Record) Type() *schema.EntityType {
	return r.typ
}

// Get returns the attribute value and whether the attribute was loaded.
func (r *Record) Get(column string) (any, bool) {
	v, ok := r.attrs[column]
	return v, ok
}

// Value returns the attribute value, nil when absent.
func (r *Record) Value(column string) any {
	return r.attrs[column]
}

// Set assigns an attribute value.
func (r *Record) Set(column string, v any) {
	if r.attrs == nil {
		r.attrs = map[string]any{}
	}
	r.attrs[column] = v
}

// Attributes returns a copy of the loaded attributes.
func (r *Record) Attributes() map[string]any {
	return maps.Clone(r.attrs)
}

// ID returns the primary key value, nil for types without a single-column
// primary key.
func (r *Record) ID() any {
	pk := r.typ.PrimaryKey()
	if pk == "" {
		return nil
	}
	return r.attrs[pk]
}

// Association returns the loaded association, if any.
func (r *Record) Association(name string) (*Association, bool) {
	a, ok := r.assocs[name]
	return a, ok
}

// AssociationLoaded reports whether the association has been attached.
func (r *Record) AssociationLoaded(name string) bool {
	_, ok := r.assocs[name]
	return ok
}

// SetTargets attaches a collection association. A nil slice attaches an
// empty collection.
func (r *Record) SetTargets(name string, targets []*Record) {
	if targets == nil {
		targets = []*Record{}
	}
	r.assocs[name] = &Association{targets: targets}
}

// SetTarget attaches a singular association. A nil target marks the
// association as loaded and empty.
func (r *Record) SetTarget(name string, target *Record) {
	a := &Association{singular: true, targets: []*Record{}}
	if target != nil {
		a.targets = []*Record{target}
	}
	r.assocs[name] = a
}

// MarshalJSON renders attributes and loaded associations as one object.
func (r *Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.attrs)+len(r.assocs))
	maps.Copy(out, r.attrs)
	for _, name := range slices.Sorted(maps.Keys(r.assocs)) {
		a := r.assocs[name]
		if a.singular {
			out[name] = a.Target()
		} else {
			out[name] = a.Targets()
		}
	}
	return json.Marshal(out)
}

// Association holds the targets attached to one owner.
type Association struct {
	singular bool
	targets  []*Record
}

// Target returns the single target, nil when empty.
func (a *Association) Target() *Record {
	if len(a.targets) == 0 {
		return nil
	}
	return a.targets[0]
}

// Targets returns every target, never nil.
func (a *Association) Targets() []*Record {
	return a.targets
}

// Len returns the number of targets.
func (a *Association) Len() int {
	return len(a.targets)
}

// Mapper casts row values by column type and builds records. Row columns
// unknown to the type (aliases, computed values) are not mapped.
type Mapper struct{}

// Map builds a record of type t from a row.
func (Mapper) Map(t *schema.EntityType, row queryir.Row) (*Record, error) {
	attrs := make(map[string]any, len(row.Columns))
	for i, name := range row.Columns {
		col, ok := t.Column(name)
		if !ok || i >= len(row.Values) {
			continue
		}
		v, err := typecast.Cast(row.Values[i], col.Type)
		if err != nil {
			return nil, err
		}
		attrs[name] = v
	}
	return &Record{typ: t, attrs: attrs, assocs: map[string]*Association{}}, nil
}
