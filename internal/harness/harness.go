package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/relq/internal/record"
	"github.com/roach88/relq/internal/relation"
	"github.com/roach88/relq/internal/schema"
	"github.com/roach88/relq/internal/store"
	"github.com/roach88/relq/internal/testutil"
)

// Harness is the test execution engine.
// It runs scenario steps against one database and counts their queries.
type Harness struct {
	store  *store.Store
	engine *testutil.CountingEngine
	db     *relation.DB
	logger *slog.Logger
}

// outcome is what one step produced.
type outcome struct {
	records []*record.Record
	values  []any
	batches []int
	calc    relation.Result
	err     error
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
// 1. Load the schema and create its tables
// 2. Insert fixtures
// 3. Execute steps, checking each expect clause
// 4. Return result with pass/fail, trace, and errors
//
// Failed expectations are reported in the result. Errors are returned only
// when the scenario cannot be set up.
func Run(scenario *Scenario) (*Result, error) {
	return RunWithLogger(scenario, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// RunWithLogger is Run with query and relation logs sent to logger.
func RunWithLogger(scenario *Scenario, logger *slog.Logger) (*Result, error) {
	reg, err := schema.Load(scenario.Schema)
	if err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}

	st, err := store.Open(store.Config{Driver: store.SQLite.Name, DSN: ":memory:", Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	if err := st.Migrate(ctx, reg); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	for _, f := range scenario.Fixtures {
		for i, row := range f.Rows {
			if err := st.Insert(ctx, f.Table, row); err != nil {
				return nil, fmt.Errorf("fixture %s[%d]: %w", f.Table, i, err)
			}
		}
	}

	eng := testutil.NewCountingEngine(st)
	h := &Harness{
		store:  st,
		engine: eng,
		db:     relation.New(eng, reg, relation.WithLogger(logger)),
		logger: logger,
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		h.runStep(ctx, i, step, result)
	}
	return result, nil
}

// runStep executes one step and records its trace and failures.
func (h *Harness) runStep(ctx context.Context, index int, step Step, result *Result) {
	h.engine.Reset()
	out := h.execute(ctx, step)

	event := TraceEvent{
		Step:    index,
		Name:    step.Name,
		Op:      step.Op,
		Queries: h.compiledQueries(),
	}
	if out.err != nil {
		event.Error = out.err.Error()
	}
	result.AddTrace(event)

	for _, err := range checkExpect(step, out, h.engine.Count()) {
		result.AddError(err.Error())
	}

	h.logger.Debug("step completed",
		"step", index,
		"name", step.Name,
		"queries", h.engine.Count(),
		"error", out.err,
	)
}

func (h *Harness) execute(ctx context.Context, step Step) outcome {
	rel, err := step.Query.Build(h.db)
	if err != nil {
		return outcome{err: err}
	}

	switch step.Op {
	case OpLoad:
		recs, err := rel.ToA(ctx)
		return outcome{records: recs, err: err}

	case OpPluck:
		vals, err := rel.Pluck(ctx, step.Column)
		return outcome{values: vals, err: err}

	case OpBatches:
		var opts []relation.BatchOption
		if step.BatchSize > 0 {
			opts = append(opts, relation.BatchSize(step.BatchSize))
		}
		if step.StartAt != nil {
			opts = append(opts, relation.StartAt(step.StartAt))
		}
		if step.FinishAt != nil {
			opts = append(opts, relation.FinishAt(step.FinishAt))
		}

		out := outcome{records: []*record.Record{}, batches: []int{}}
		for batch, err := range rel.FindInBatches(ctx, opts...) {
			if err != nil {
				out.err = err
				break
			}
			out.batches = append(out.batches, len(batch))
			out.records = append(out.records, batch...)
		}
		return out

	default:
		op, err := relation.ParseOp(step.Op)
		if err != nil {
			return outcome{err: err}
		}
		var opts []relation.CalcOption
		if step.Distinct {
			opts = append(opts, relation.DistinctValues())
		}
		res, err := rel.Calculate(ctx, op, step.Column, opts...)
		return outcome{calc: res, err: err}
	}
}

// compiledQueries renders the queries recorded for the current step.
func (h *Harness) compiledQueries() []string {
	queries := h.engine.Queries()
	out := make([]string, 0, len(queries))
	for _, q := range queries {
		sql, _, err := h.store.Compiler().Compile(q)
		if err != nil {
			sql = "<" + err.Error() + ">"
		}
		out = append(out, sql)
	}
	return out
}
