package schema

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/relq/internal/queryir"
)

// File is the on-disk schema document.
//
// YAML:
//
//	types:
//	  - name: Author
//	    table: authors
//	    primary_key: [id]
//	    columns:
//	      - {name: id, type: integer}
//	      - {name: name, type: string}
//	    associations:
//	      - {name: books, macro: has_many, target: Book}
//
// CUE files use the same field names.
type File struct {
	Types []TypeDef `yaml:"types" json:"types"`
}

// TypeDef declares one entity type.
type TypeDef struct {
	Name         string           `yaml:"name" json:"name"`
	Table        string           `yaml:"table" json:"table"`
	PrimaryKey   []string         `yaml:"primary_key" json:"primary_key"`
	Columns      []ColumnDef      `yaml:"columns" json:"columns"`
	Associations []AssociationDef `yaml:"associations" json:"associations"`
	DefaultScope *ScopeDef        `yaml:"default_scope" json:"default_scope"`
}

// ColumnDef declares one column.
type ColumnDef struct {
	Name string     `yaml:"name" json:"name"`
	Type ColumnType `yaml:"type" json:"type"`
}

// AssociationDef declares one association. Empty keys take registry defaults.
type AssociationDef struct {
	Name                  string    `yaml:"name" json:"name"`
	Macro                 Macro     `yaml:"macro" json:"macro"`
	Target                string    `yaml:"target" json:"target"`
	ForeignKey            string    `yaml:"foreign_key" json:"foreign_key"`
	PrimaryKey            string    `yaml:"primary_key" json:"primary_key"`
	Polymorphic           bool      `yaml:"polymorphic" json:"polymorphic"`
	TypeColumn            string    `yaml:"type_column" json:"type_column"`
	As                    string    `yaml:"as" json:"as"`
	JoinTable             string    `yaml:"join_table" json:"join_table"`
	AssociationForeignKey string    `yaml:"association_foreign_key" json:"association_foreign_key"`
	Scope                 *ScopeDef `yaml:"scope" json:"scope"`
}

// ScopeDef is a declarative scope: where predicates, order and limit.
type ScopeDef struct {
	Where []PredicateDef `yaml:"where" json:"where"`
	Order []string       `yaml:"order" json:"order"`
	Limit *int           `yaml:"limit" json:"limit"`
}

// PredicateDef is a declarative predicate.
//
// Op is one of eq (default), neq, gt, gte, lt, lte, in, not_in, sql.
// Setting SQL implies op sql.
type PredicateDef struct {
	Column string `yaml:"column" json:"column"`
	Op     string `yaml:"op" json:"op"`
	Value  any    `yaml:"value" json:"value"`
	Values []any  `yaml:"values" json:"values"`
	SQL    string `yaml:"sql" json:"sql"`
	Binds  []any  `yaml:"binds" json:"binds"`
}

// Predicate converts the definition into a queryir predicate.
func (d PredicateDef) Predicate() (queryir.Predicate, error) {
	op := strings.ToLower(d.Op)
	if op == "" {
		op = "eq"
		if d.SQL != "" {
			op = "sql"
		}
	}
	if op != "sql" && d.Column == "" {
		return nil, fmt.Errorf("predicate %q needs a column", op)
	}

	switch op {
	case "eq", "=":
		return queryir.Eq(d.Column, d.Value), nil
	case "neq", "!=", "<>":
		return queryir.Neq(d.Column, d.Value), nil
	case "gt", ">":
		return queryir.Gt(d.Column, d.Value), nil
	case "gte", ">=":
		return queryir.Gte(d.Column, d.Value), nil
	case "lt", "<":
		return queryir.Lt(d.Column, d.Value), nil
	case "lte", "<=":
		return queryir.Lte(d.Column, d.Value), nil
	case "in":
		return queryir.AnyOf(d.Column, d.Values...), nil
	case "not_in":
		return queryir.NoneOf(d.Column, d.Values...), nil
	case "sql":
		if d.SQL == "" {
			return nil, fmt.Errorf("sql predicate without sql")
		}
		return queryir.SQL(d.SQL, d.Binds...), nil
	default:
		return nil, fmt.Errorf("unknown predicate op %q", d.Op)
	}
}

// ParseOrder parses "column", "column asc" or "column desc".
func ParseOrder(s string) (queryir.OrderTerm, error) {
	fields := strings.Fields(s)
	switch {
	case len(fields) == 1:
		return queryir.Asc(fields[0]), nil
	case len(fields) == 2 && strings.EqualFold(fields[1], "asc"):
		return queryir.Asc(fields[0]), nil
	case len(fields) == 2 && strings.EqualFold(fields[1], "desc"):
		return queryir.Desc(fields[0]), nil
	default:
		return queryir.OrderTerm{}, fmt.Errorf("invalid order term %q", s)
	}
}

// Fragments converts the scope into relation fragments.
func (d *ScopeDef) Fragments() (*queryir.Fragments, error) {
	f := &queryir.Fragments{Limit: d.Limit}
	for _, pd := range d.Where {
		p, err := pd.Predicate()
		if err != nil {
			return nil, err
		}
		f.Where = append(f.Where, p)
	}
	for _, o := range d.Order {
		term, err := ParseOrder(o)
		if err != nil {
			return nil, err
		}
		f.Order = append(f.Order, term)
	}
	return f, nil
}

// Registry builds a Registry from the file's declarations.
func (f *File) Registry() (*Registry, error) {
	types := make([]*EntityType, 0, len(f.Types))
	for _, td := range f.Types {
		t, err := td.entityType()
		if err != nil {
			return nil, fmt.Errorf("type %s: %w", td.Name, err)
		}
		types = append(types, t)
	}
	return NewRegistry(types...)
}

func (td TypeDef) entityType() (*EntityType, error) {
	t := &EntityType{
		Name:        td.Name,
		Table:       td.Table,
		PrimaryKeys: td.PrimaryKey,
	}
	for _, cd := range td.Columns {
		t.Columns = append(t.Columns, Column{Name: cd.Name, Type: cd.Type})
	}
	// An omitted primary key defaults to "id" when that column exists.
	// An explicit empty list declares a type without a primary key.
	if td.PrimaryKey == nil && t.HasColumn("id") {
		t.PrimaryKeys = []string{"id"}
	}

	for _, ad := range td.Associations {
		r := &Reflection{
			Name:                  ad.Name,
			Macro:                 ad.Macro,
			Target:                ad.Target,
			ForeignKey:            ad.ForeignKey,
			PrimaryKey:            ad.PrimaryKey,
			Polymorphic:           ad.Polymorphic,
			TypeColumn:            ad.TypeColumn,
			As:                    ad.As,
			JoinTable:             ad.JoinTable,
			AssociationForeignKey: ad.AssociationForeignKey,
		}
		if ad.Scope != nil {
			scope, err := ad.Scope.Fragments()
			if err != nil {
				return nil, fmt.Errorf("association %s scope: %w", ad.Name, err)
			}
			r.Scope = scope
		}
		t.Associations = append(t.Associations, r)
	}

	if td.DefaultScope != nil {
		scope, err := td.DefaultScope.Fragments()
		if err != nil {
			return nil, fmt.Errorf("default scope: %w", err)
		}
		t.DefaultScope = scope
	}
	return t, nil
}

// Load reads a schema file and builds its Registry. The format is chosen by
// extension: .cue for CUE, anything else is read as YAML.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}

	var file *File
	if filepath.Ext(path) == ".cue" {
		file, err = ParseCUE(data, path)
	} else {
		file, err = ParseYAML(data)
	}
	if err != nil {
		return nil, err
	}
	return file.Registry()
}

// ParseYAML decodes a YAML schema document. Unknown fields are rejected.
func ParseYAML(data []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse schema YAML: %w", err)
	}
	return &f, nil
}

// ParseCUE compiles and decodes a CUE schema document.
func ParseCUE(data []byte, filename string) (*File, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(filename, err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(filename, err)
	}

	var f File
	if err := v.Decode(&f); err != nil {
		return nil, formatCUEError(filename, err)
	}
	return &f, nil
}

// formatCUEError reports the first CUE error with its position.
func formatCUEError(filename string, err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return fmt.Errorf("parse schema %s: %w", filename, err)
	}

	first := errs[0]
	positions := cueerrors.Positions(first)
	if len(positions) > 0 && positions[0].IsValid() {
		pos := positions[0]
		return fmt.Errorf("parse schema %s:%d:%d: %w", pos.Filename(), pos.Line(), pos.Column(), first)
	}
	return fmt.Errorf("parse schema %s: %w", filename, first)
}
