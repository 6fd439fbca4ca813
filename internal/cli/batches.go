package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/relq/internal/relation"
	"github.com/roach88/relq/internal/relspec"
)

// BatchesOptions holds flags for the batches command.
type BatchesOptions struct {
	*RootOptions
	RelationFlags
	BatchSize int
	Start     string
	Finish    string
}

// BatchesResult summarizes a batch iteration.
type BatchesResult struct {
	Batches []BatchSummary `json:"batches"`
	Total   int            `json:"total"`
}

// BatchSummary describes one page.
type BatchSummary struct {
	Size    int `json:"size"`
	FirstID any `json:"first_id"`
	LastID  any `json:"last_id"`
}

// NewBatchesCommand creates the batches command.
func NewBatchesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BatchesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "batches [type]",
		Short: "Iterate a relation in primary key batches",
		Long: `Walk a relation in pages ordered by primary key and report each page.
The relation's order is replaced and its offset ignored; a limit caps the
total number of records.

Examples:
  relq batches Book --batch-size 100
  relq batches Book --where published=true --start 10 --finish 500`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatches(opts, args, cmd)
		},
	}
	opts.bind(cmd)
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 0, "records per batch (default from config)")
	cmd.Flags().StringVar(&opts.Start, "start", "", "first primary key, inclusive")
	cmd.Flags().StringVar(&opts.Finish, "finish", "", "last primary key, inclusive")

	return cmd
}

func runBatches(opts *BatchesOptions, args []string, cmd *cobra.Command) error {
	s, err := opts.openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	rel, err := opts.relation(s.db, args)
	if err != nil {
		return err
	}

	size := s.cfg.BatchSize
	if cmd.Flags().Changed("batch-size") {
		size = opts.BatchSize
	}
	batchOpts := []relation.BatchOption{relation.BatchSize(size)}
	if opts.Start != "" {
		v, err := relspec.ParseValue(opts.Start)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --start", err)
		}
		batchOpts = append(batchOpts, relation.StartAt(v))
	}
	if opts.Finish != "" {
		v, err := relspec.ParseValue(opts.Finish)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --finish", err)
		}
		batchOpts = append(batchOpts, relation.FinishAt(v))
	}

	result := BatchesResult{Batches: []BatchSummary{}}
	pk := rel.Type().PrimaryKey()
	for batch, err := range rel.FindInBatches(cmd.Context(), batchOpts...) {
		if err != nil {
			return wrapRelationError("batch iteration failed", err)
		}
		result.Batches = append(result.Batches, BatchSummary{
			Size:    len(batch),
			FirstID: batch[0].Value(pk),
			LastID:  batch[len(batch)-1].Value(pk),
		})
		result.Total += len(batch)
	}
	s.logger.Debug("batches done", "batches", len(result.Batches), "total", result.Total)

	if opts.Format == "json" {
		return opts.formatter(cmd).Success(result)
	}
	w := cmd.OutOrStdout()
	for i, b := range result.Batches {
		fmt.Fprintf(w, "batch %d: %d records (%s..%s)\n", i+1, b.Size, formatValue(b.FirstID), formatValue(b.LastID))
	}
	fmt.Fprintf(w, "(%d records in %d batches)\n", result.Total, len(result.Batches))
	return nil
}
