package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/spf13/cobra"

	"github.com/roach88/relq/internal/relation"
)

// CalcOptions holds flags for the calc command.
type CalcOptions struct {
	*RootOptions
	RelationFlags
	Column         string
	DistinctValues bool
}

// CalcResult is a calculation result: Value for plain relations, Groups for
// grouped ones.
type CalcResult struct {
	Op     string      `json:"op"`
	Column string      `json:"column,omitempty"`
	Value  any         `json:"value"`
	Groups []CalcGroup `json:"groups,omitempty"`
}

// CalcGroup is one group of a grouped calculation.
type CalcGroup struct {
	Key   []any `json:"key"`
	Owner any   `json:"owner,omitempty"` // primary key of the associated record
	Value any   `json:"value"`
}

// NewCalcCommand creates the calc command.
func NewCalcCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CalcOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "calc <count|sum|average|minimum|maximum> [type]",
		Short: "Run a calculation over a relation",
		Long: `Run an aggregate over a relation. Limits and offsets are honored. Grouped
relations print one line per group.

Examples:
  relq calc count Book --where published=true
  relq calc sum Book --column price
  relq calc count Book --group-by author
  relq calc maximum Book --column pages --order pages --limit 3`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCalc(opts, args, cmd)
		},
	}
	opts.bind(cmd)
	cmd.Flags().StringVar(&opts.Column, "column", "", "column to aggregate (count defaults to *)")
	cmd.Flags().BoolVar(&opts.DistinctValues, "distinct-values", false, "aggregate distinct values only")

	return cmd
}

func runCalc(opts *CalcOptions, args []string, cmd *cobra.Command) error {
	op, err := relation.ParseOp(args[0])
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid calculation", err)
	}

	s, err := opts.openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	rel, err := opts.relation(s.db, args[1:])
	if err != nil {
		return err
	}

	var calcOpts []relation.CalcOption
	if opts.DistinctValues {
		calcOpts = append(calcOpts, relation.DistinctValues())
	}
	res, err := rel.Calculate(cmd.Context(), op, opts.Column, calcOpts...)
	if err != nil {
		return wrapRelationError("calculation failed", err)
	}

	result := CalcResult{Op: string(op), Column: opts.Column, Value: jsonValue(res.Value)}
	if res.Grouped() {
		result.Value = nil
		result.Groups = make([]CalcGroup, len(res.Groups))
		for i, g := range res.Groups {
			cg := CalcGroup{Key: make([]any, len(g.Key)), Value: jsonValue(g.Value)}
			for j, k := range g.Key {
				cg.Key[j] = jsonValue(k)
			}
			if g.Owner != nil {
				cg.Owner = jsonValue(g.Owner.ID())
			}
			result.Groups[i] = cg
		}
	}

	if opts.Format == "json" {
		return opts.formatter(cmd).Success(result)
	}

	w := cmd.OutOrStdout()
	if !res.Grouped() {
		fmt.Fprintln(w, formatValue(res.Value))
		return nil
	}
	for _, g := range res.Groups {
		keys := make([]string, len(g.Key))
		for i, k := range g.Key {
			keys[i] = formatValue(k)
		}
		line := fmt.Sprintf("%s\t%s", strings.Join(keys, ","), formatValue(g.Value))
		if rel.Fragments().GroupAssociation != "" {
			owner := "-"
			if g.Owner != nil {
				owner = fmt.Sprintf("%s#%s", g.Owner.Type().Name, formatValue(g.Owner.ID()))
			}
			line += "\t" + owner
		}
		fmt.Fprintln(w, line)
	}
	return nil
}

// formatValue renders a value for text output.
func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case *apd.Decimal:
		return x.Text('f')
	case time.Time:
		return x.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(v)
	}
}

// jsonValue renders decimals as strings so no precision is lost.
func jsonValue(v any) any {
	if d, ok := v.(*apd.Decimal); ok && d != nil {
		return d.Text('f')
	}
	return v
}
