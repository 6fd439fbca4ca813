package store

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/google/uuid"

	"github.com/roach88/relq/internal/qerr"
	"github.com/roach88/relq/internal/queryir"
)

// Rows compiles and executes q, returning every row with raw driver values.
//
// Returns an empty slice (not nil) when no rows match.
func (s *Store) Rows(ctx context.Context, q queryir.Query) ([]queryir.Row, error) {
	sql, args, err := s.compiler.Compile(q)
	if err != nil {
		return nil, qerr.Execution("", fmt.Errorf("compile query: %w", err))
	}
	args = bindArgs(args)

	queryID := newQueryID()
	start := time.Now()
	s.logger.Debug("executing query", "query_id", queryID, "sql", sql, "args", len(args))

	rows, err := s.db.QueryxContext(ctx, sql, args...)
	if err != nil {
		s.logger.Debug("query failed", "query_id", queryID, "error", err)
		return nil, qerr.Execution(sql, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, qerr.Execution(sql, fmt.Errorf("read columns: %w", err))
	}

	var result []queryir.Row
	for rows.Next() {
		values, err := rows.SliceScan()
		if err != nil {
			return nil, qerr.Execution(sql, fmt.Errorf("scan row: %w", err))
		}
		result = append(result, queryir.Row{Columns: columns, Values: values})
	}
	if err := rows.Err(); err != nil {
		return nil, qerr.Execution(sql, fmt.Errorf("iterate rows: %w", err))
	}

	s.logger.Debug("query done", "query_id", queryID, "rows", len(result), "elapsed", time.Since(start))

	// Return empty slice instead of nil
	if result == nil {
		result = []queryir.Row{}
	}
	return result, nil
}

// Scalar executes q and returns the first column of the first row, or nil
// when the query returns no rows.
func (s *Store) Scalar(ctx context.Context, q queryir.Query) (any, error) {
	rows, err := s.Rows(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 || len(rows[0].Values) == 0 {
		return nil, nil
	}
	return rows[0].Values[0], nil
}

// bindArgs converts values the drivers cannot bind directly.
func bindArgs(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case *apd.Decimal:
			if v == nil {
				out[i] = nil
			} else {
				out[i] = v.String()
			}
		case apd.Decimal:
			out[i] = v.String()
		default:
			out[i] = a
		}
	}
	return out
}

// newQueryID returns a time-ordered id for correlating query log lines.
func newQueryID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
