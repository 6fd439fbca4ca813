package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/relq/internal/querysql"
	"github.com/roach88/relq/internal/record"
	"github.com/roach88/relq/internal/relation"
	"github.com/roach88/relq/internal/schema"
	"github.com/roach88/relq/internal/store"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	RelationFlags
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query [type]",
		Short: "Load a relation and print its records",
		Long: `Load the records of a relation, preloading any included associations.

Text output prints one JSON object per record.

Examples:
  relq query Book --where "pages>200" --order "pages desc" --limit 5
  relq query Author --includes books.reviews
  relq query --file recent.yaml --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args, cmd)
		},
	}
	opts.bind(cmd)

	return cmd
}

func runQuery(opts *QueryOptions, args []string, cmd *cobra.Command) error {
	s, err := opts.openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	rel, err := opts.relation(s.db, args)
	if err != nil {
		return err
	}

	records, err := rel.ToA(cmd.Context())
	if err != nil {
		return wrapRelationError("query failed", err)
	}

	if opts.Format == "json" {
		return opts.formatter(cmd).Success(records)
	}
	return writeRecords(cmd, records)
}

func writeRecords(cmd *cobra.Command, records []*record.Record) error {
	w := cmd.OutOrStdout()
	for _, r := range records {
		line, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to encode record: %w", err)
		}
		fmt.Fprintln(w, string(line))
	}
	fmt.Fprintf(w, "(%d records)\n", len(records))
	return nil
}

// ExplainResult is the compiled SQL of a relation.
type ExplainResult struct {
	SQL  string `json:"sql"`
	Args []any  `json:"args"`
}

// NewExplainCommand creates the explain command.
func NewExplainCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "explain [type]",
		Short: "Print the SQL a relation compiles to",
		Long: `Compile a relation to SQL for the configured dialect without touching the
database. Includes are not shown: they run as separate queries after load.

Examples:
  relq explain Book --joins author --where "authors.name=Octavia"
  relq explain Book --where "id=in:1,2,3" --driver postgres`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExplain(opts, args, cmd)
		},
	}
	opts.bind(cmd)

	return cmd
}

func runExplain(opts *QueryOptions, args []string, cmd *cobra.Command) error {
	cfg, err := opts.settings()
	if err != nil {
		return err
	}
	reg, err := schema.Load(cfg.Schema)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load schema", err)
	}
	dialect, err := store.DialectFor(cfg.Database.Driver)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid driver", err)
	}

	// Compiling never reaches the engine, so none is configured.
	db := relation.New(nil, reg, relation.WithLogger(opts.logger(cfg, cmd.ErrOrStderr())))
	rel, err := opts.relation(db, args)
	if err != nil {
		return err
	}
	q, err := rel.ToQuery()
	if err != nil {
		return wrapRelationError("invalid relation", err)
	}

	sql, sqlArgs, err := querysql.NewCompiler(dialect.Placeholder).Compile(q)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to compile", err)
	}
	result := ExplainResult{SQL: sql, Args: sqlArgs}
	if result.Args == nil {
		result.Args = []any{}
	}

	if opts.Format == "json" {
		return opts.formatter(cmd).Success(result)
	}
	w := cmd.OutOrStdout()
	fmt.Fprintln(w, result.SQL)
	if len(result.Args) > 0 {
		fmt.Fprintf(w, "args: %v\n", result.Args)
	}
	return nil
}
