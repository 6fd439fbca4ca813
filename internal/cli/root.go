package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/relq/internal/config"
	"github.com/roach88/relq/internal/relation"
	"github.com/roach88/relq/internal/schema"
	"github.com/roach88/relq/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// Config is the configuration file. Flags below override its values.
	Config string
	DB     string
	Driver string
	Schema string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the relq CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "relq",
		Short: "relq - lazy relations over SQL",
		Long:  "Build, run, explain and test lazy relational queries against a schema-described database.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Validate format flag
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "configuration file")
	cmd.PersistentFlags().StringVar(&opts.DB, "db", "", "database DSN (SQLite path or PostgreSQL URL)")
	cmd.PersistentFlags().StringVar(&opts.Driver, "driver", "", "database driver (sqlite3|postgres)")
	cmd.PersistentFlags().StringVar(&opts.Schema, "schema", "", "schema file (YAML or CUE)")

	// Add subcommands
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewExplainCommand(opts))
	cmd.AddCommand(NewCalcCommand(opts))
	cmd.AddCommand(NewBatchesCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// Run executes the relq CLI with args and returns the process exit code.
// Errors are reported on stderr in the selected output format.
func Run(args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.Execute()
	if err == nil {
		return ExitSuccess
	}
	// Commands return ExitErrors; anything else is cobra rejecting the
	// command line.
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		err = WrapExitError(ExitCommandError, "invalid command", err)
	}

	format, _ := cmd.PersistentFlags().GetString("format")
	if !slices.Contains(ValidFormats, format) {
		format = "text"
	}
	out := &OutputFormatter{Format: format, Writer: stderr}
	_ = out.Error(errorCode(err), err.Error(), nil)
	return GetExitCode(err)
}

// settings resolves the configuration file (or defaults) and applies flag
// overrides.
func (o *RootOptions) settings() (config.Config, error) {
	cfg := config.Default()
	if o.Config != "" {
		loaded, err := config.Load(o.Config)
		if err != nil {
			return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
		}
		cfg = loaded
	}

	if o.Driver != "" {
		cfg.Database.Driver = o.Driver
	}
	if o.DB != "" {
		cfg.Database.DSN = o.DB
	}
	if o.Schema != "" {
		cfg.Schema = o.Schema
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	return cfg, nil
}

// logger writes text logs to w. Verbose forces debug level.
func (o *RootOptions) logger(cfg config.Config, w io.Writer) *slog.Logger {
	level, err := cfg.Level()
	if err != nil {
		level = slog.LevelInfo
	}
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// formatter builds the output formatter for cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// session is an open store with its schema, ready for relations.
type session struct {
	cfg      config.Config
	store    *store.Store
	registry *schema.Registry
	db       *relation.DB
	logger   *slog.Logger
}

// openSession loads the schema and connects to the database.
func (o *RootOptions) openSession(cmd *cobra.Command) (*session, error) {
	cfg, err := o.settings()
	if err != nil {
		return nil, err
	}
	logger := o.logger(cfg, cmd.ErrOrStderr())

	reg, err := schema.Load(cfg.Schema)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load schema", err)
	}

	logger.Debug("opening database", "driver", cfg.Database.Driver, "dsn", cfg.Database.DSN)
	st, err := store.Open(cfg.StoreConfig(logger))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	return &session{
		cfg:      cfg,
		store:    st,
		registry: reg,
		db:       relation.New(st, reg, relation.WithLogger(logger)),
		logger:   logger,
	}, nil
}

func (s *session) Close() error {
	return s.store.Close()
}
