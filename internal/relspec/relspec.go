// Package relspec describes relations declaratively, so the same relation can
// come from a YAML document, a scenario step or command-line flags.
package relspec

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/relation"
	"github.com/roach88/relq/internal/schema"
)

// Spec is a declarative relation.
//
//	from: Book
//	where:
//	  - {column: pages, op: gt, value: 100}
//	joins: [author]
//	order: ["pages desc", id]
//	limit: 10
//	includes: [author, tags]
type Spec struct {
	From     string                `yaml:"from" json:"from"`
	Unscoped bool                  `yaml:"unscoped,omitempty" json:"unscoped,omitempty"`
	Where    []schema.PredicateDef `yaml:"where,omitempty" json:"where,omitempty"`
	Joins    []string              `yaml:"joins,omitempty" json:"joins,omitempty"`
	Order    []string              `yaml:"order,omitempty" json:"order,omitempty"`
	Reorder  bool                  `yaml:"reorder,omitempty" json:"reorder,omitempty"`
	Group    []string              `yaml:"group,omitempty" json:"group,omitempty"`
	GroupBy  string                `yaml:"group_by,omitempty" json:"group_by,omitempty"`
	Having   []schema.PredicateDef `yaml:"having,omitempty" json:"having,omitempty"`
	Limit    *int                  `yaml:"limit,omitempty" json:"limit,omitempty"`
	Offset   *int                  `yaml:"offset,omitempty" json:"offset,omitempty"`
	Select   []string              `yaml:"select,omitempty" json:"select,omitempty"`
	Distinct bool                  `yaml:"distinct,omitempty" json:"distinct,omitempty"`
	Includes []string              `yaml:"includes,omitempty" json:"includes,omitempty"`
}

// Parse decodes a YAML relation spec. Unknown fields are rejected.
func Parse(data []byte) (Spec, error) {
	var s Spec
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return Spec{}, fmt.Errorf("failed to parse relation spec: %w", err)
	}
	if s.From == "" {
		return Spec{}, fmt.Errorf("relation spec: from is required")
	}
	return s, nil
}

// Build applies s to a relation from db. Invalid predicates and
// unknown references surface through the relation's Err.
func (s Spec) Build(db *relation.DB) (*relation.Relation, error) {
	rel := db.From(s.From)
	if s.Unscoped {
		rel = rel.Unscoped()
	}

	where, err := predicates(s.Where)
	if err != nil {
		return nil, err
	}
	rel = rel.Where(where...)

	if len(s.Joins) > 0 {
		rel = rel.JoinsAssociation(s.Joins...)
	}

	if len(s.Order) > 0 {
		terms := make([]queryir.OrderTerm, len(s.Order))
		for i, o := range s.Order {
			if terms[i], err = schema.ParseOrder(o); err != nil {
				return nil, err
			}
		}
		if s.Reorder {
			rel = rel.Reorder(terms...)
		} else {
			rel = rel.Order(terms...)
		}
	}

	if len(s.Group) > 0 {
		rel = rel.Group(s.Group...)
	}
	if s.GroupBy != "" {
		rel = rel.GroupByAssociation(s.GroupBy)
	}
	having, err := predicates(s.Having)
	if err != nil {
		return nil, err
	}
	if len(having) > 0 {
		rel = rel.Having(having...)
	}

	if s.Limit != nil {
		rel = rel.Limit(*s.Limit)
	}
	if s.Offset != nil {
		rel = rel.Offset(*s.Offset)
	}
	if len(s.Select) > 0 {
		rel = rel.Select(s.Select...)
	}
	if s.Distinct {
		rel = rel.Distinct(true)
	}
	if len(s.Includes) > 0 {
		rel = rel.Includes(s.Includes...)
	}

	return rel, rel.Err()
}

func predicates(defs []schema.PredicateDef) ([]queryir.Predicate, error) {
	out := make([]queryir.Predicate, 0, len(defs))
	for _, d := range defs {
		p, err := d.Predicate()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

var flagOps = []struct {
	token string
	op    string
}{
	// Longest tokens first so ">=" is not read as ">".
	{"!=", "neq"},
	{">=", "gte"},
	{"<=", "lte"},
	{"=", "eq"},
	{">", "gt"},
	{"<", "lt"},
}

// ParseCondition parses a command-line condition such as "pages>=100" or
// "title = Earthsea". The value is read as a YAML scalar, so 100 is an
// integer, true a boolean and null a nil value. A comma-separated value
// with "in:" or "not_in:" after the operator builds a list predicate, e.g.
// "id = in:1,2,3".
func ParseCondition(s string) (schema.PredicateDef, error) {
	for _, fo := range flagOps {
		i := strings.Index(s, fo.token)
		if i <= 0 {
			continue
		}
		column := strings.TrimSpace(s[:i])
		raw := strings.TrimSpace(s[i+len(fo.token):])

		for prefix, op := range map[string]string{"in:": "in", "not_in:": "not_in"} {
			if rest, ok := strings.CutPrefix(raw, prefix); ok && fo.op == "eq" {
				var values []any
				for _, part := range strings.Split(rest, ",") {
					v, err := ParseValue(strings.TrimSpace(part))
					if err != nil {
						return schema.PredicateDef{}, err
					}
					values = append(values, v)
				}
				return schema.PredicateDef{Column: column, Op: op, Values: values}, nil
			}
		}

		v, err := ParseValue(raw)
		if err != nil {
			return schema.PredicateDef{}, err
		}
		return schema.PredicateDef{Column: column, Op: fo.op, Value: v}, nil
	}
	return schema.PredicateDef{}, fmt.Errorf("condition %q: expected <column><op><value> with op one of = != > >= < <=", s)
}

// ParseValue reads a command-line value as a YAML scalar. An empty string
// stays an empty string.
func ParseValue(raw string) (any, error) {
	if raw == "" {
		return "", nil
	}
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("value %q: %w", raw, err)
	}
	return v, nil
}
