package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/relq/internal/relation"
	"github.com/roach88/relq/internal/relspec"
)

// RelationFlags describe a relation on the command line, either through a
// relspec file or through individual flags. Flags given alongside a file
// are appended to it.
type RelationFlags struct {
	SpecFile string
	Where    []string
	Having   []string
	Joins    []string
	Order    []string
	Reorder  bool
	Group    []string
	GroupBy  string
	Limit    int
	Offset   int
	Select   []string
	Distinct bool
	Includes []string
	Unscoped bool
}

// bind registers the relation flags on cmd.
func (f *RelationFlags) bind(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVarP(&f.SpecFile, "file", "f", "", "relation spec file (YAML)")
	fl.StringArrayVarP(&f.Where, "where", "w", nil, `condition "column<op>value", op one of = != > >= < <= (repeatable)`)
	fl.StringArrayVar(&f.Having, "having", nil, "condition on grouped rows (repeatable)")
	fl.StringSliceVar(&f.Joins, "joins", nil, "association paths to inner join")
	fl.StringArrayVarP(&f.Order, "order", "o", nil, `order term "column [asc|desc]" (repeatable)`)
	fl.BoolVar(&f.Reorder, "reorder", false, "replace the default scope order")
	fl.StringSliceVar(&f.Group, "group", nil, "columns to group by")
	fl.StringVar(&f.GroupBy, "group-by", "", "belongs_to association to group by")
	fl.IntVar(&f.Limit, "limit", -1, "maximum number of rows")
	fl.IntVar(&f.Offset, "offset", -1, "rows to skip")
	fl.StringSliceVar(&f.Select, "select", nil, "columns to select")
	fl.BoolVar(&f.Distinct, "distinct", false, "select distinct rows")
	fl.StringSliceVarP(&f.Includes, "includes", "i", nil, "association paths to preload")
	fl.BoolVar(&f.Unscoped, "unscoped", false, "drop the default scope")
}

// spec builds the relation spec. from is the positional type name, which
// may be empty when a spec file names the type.
func (f *RelationFlags) spec(from string) (relspec.Spec, error) {
	var s relspec.Spec
	if f.SpecFile != "" {
		data, err := os.ReadFile(f.SpecFile)
		if err != nil {
			return relspec.Spec{}, WrapExitError(ExitCommandError, "failed to read relation spec", err)
		}
		if s, err = relspec.Parse(data); err != nil {
			return relspec.Spec{}, WrapExitError(ExitCommandError, "invalid relation spec", err)
		}
	}

	if from != "" {
		s.From = from
	}
	if s.From == "" {
		return relspec.Spec{}, NewExitError(ExitCommandError, "a type name or --file is required")
	}

	for _, w := range f.Where {
		def, err := relspec.ParseCondition(w)
		if err != nil {
			return relspec.Spec{}, WrapExitError(ExitCommandError, "invalid --where", err)
		}
		s.Where = append(s.Where, def)
	}
	for _, h := range f.Having {
		def, err := relspec.ParseCondition(h)
		if err != nil {
			return relspec.Spec{}, WrapExitError(ExitCommandError, "invalid --having", err)
		}
		s.Having = append(s.Having, def)
	}

	s.Joins = append(s.Joins, f.Joins...)
	s.Order = append(s.Order, f.Order...)
	s.Reorder = s.Reorder || f.Reorder
	s.Group = append(s.Group, f.Group...)
	if f.GroupBy != "" {
		s.GroupBy = f.GroupBy
	}
	if f.Limit >= 0 {
		s.Limit = &f.Limit
	}
	if f.Offset >= 0 {
		s.Offset = &f.Offset
	}
	s.Select = append(s.Select, f.Select...)
	s.Distinct = s.Distinct || f.Distinct
	s.Includes = append(s.Includes, f.Includes...)
	s.Unscoped = s.Unscoped || f.Unscoped
	return s, nil
}

// relation builds the relation against db.
func (f *RelationFlags) relation(db *relation.DB, args []string) (*relation.Relation, error) {
	from := ""
	if len(args) > 0 {
		from = args[0]
	}
	s, err := f.spec(from)
	if err != nil {
		return nil, err
	}

	rel, err := s.Build(db)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("invalid relation on %s", s.From), err)
	}
	return rel, nil
}
