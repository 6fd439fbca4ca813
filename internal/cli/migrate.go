package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// MigrateResult lists the entity tables the migration ensured.
type MigrateResult struct {
	Tables []string `json:"tables"`
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create tables for every schema type",
		Long: `Create the table of every type in the schema, plus the join tables of
has_and_belongs_to_many associations. Existing tables are left alone.

Examples:
  relq migrate --schema library.yaml --db library.db
  relq migrate --config relq.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(rootOpts, cmd)
		},
	}
	return cmd
}

func runMigrate(opts *RootOptions, cmd *cobra.Command) error {
	s, err := opts.openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.store.Migrate(cmd.Context(), s.registry); err != nil {
		return WrapExitError(ExitFailure, "migration failed", err)
	}

	result := MigrateResult{Tables: []string{}}
	for _, t := range s.registry.Types() {
		result.Tables = append(result.Tables, t.Table)
	}
	s.logger.Info("migrated", "tables", len(result.Tables))

	out := opts.formatter(cmd)
	if opts.Format == "json" {
		return out.Success(result)
	}
	w := cmd.OutOrStdout()
	for _, t := range result.Tables {
		fmt.Fprintf(w, "✓ %s\n", t)
	}
	fmt.Fprintf(w, "Migrated %d tables\n", len(result.Tables))
	return nil
}
