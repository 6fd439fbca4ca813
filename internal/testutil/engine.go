package testutil

import (
	"context"
	"slices"
	"sync"

	"github.com/roach88/relq/internal/queryir"
)

// Engine is the query engine contract wrapped by CountingEngine. It matches
// relation.Engine.
type Engine interface {
	Rows(ctx context.Context, q queryir.Query) ([]queryir.Row, error)
	Scalar(ctx context.Context, q queryir.Query) (any, error)
	MaxInList() int
}

// CountingEngine records every query passed to an inner engine.
//
// It can also override the IN-list limit and fail a chosen call, which
// lets tests exercise slicing and partial failure against a real database.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type CountingEngine struct {
	inner Engine

	mu        sync.Mutex
	queries   []queryir.Query
	maxInList int
	failAt    int
	failErr   error
}

// NewCountingEngine wraps inner.
func NewCountingEngine(inner Engine) *CountingEngine {
	return &CountingEngine{inner: inner}
}

// Rows records q and delegates.
func (e *CountingEngine) Rows(ctx context.Context, q queryir.Query) ([]queryir.Row, error) {
	if err := e.record(q); err != nil {
		return nil, err
	}
	return e.inner.Rows(ctx, q)
}

// Scalar records q and delegates.
func (e *CountingEngine) Scalar(ctx context.Context, q queryir.Query) (any, error) {
	if err := e.record(q); err != nil {
		return nil, err
	}
	return e.inner.Scalar(ctx, q)
}

// MaxInList returns the override when set, else the inner engine's limit.
func (e *CountingEngine) MaxInList() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.maxInList > 0 {
		return e.maxInList
	}
	return e.inner.MaxInList()
}

// SetMaxInList overrides the IN-list limit. Zero restores the inner limit.
func (e *CountingEngine) SetMaxInList(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.maxInList = n
}

// FailAt makes the n-th query from now (1-based) return err without
// reaching the inner engine.
func (e *CountingEngine) FailAt(n int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failAt = len(e.queries) + n
	e.failErr = err
}

// Count returns the number of queries issued since the last Reset.
func (e *CountingEngine) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queries)
}

// Queries returns the queries issued since the last Reset, in order.
func (e *CountingEngine) Queries() []queryir.Query {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.queries)
}

// Reset forgets recorded queries and any pending failure.
func (e *CountingEngine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queries = nil
	e.failAt = 0
	e.failErr = nil
}

func (e *CountingEngine) record(q queryir.Query) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queries = append(e.queries, q)
	if e.failAt > 0 && len(e.queries) == e.failAt {
		e.failAt = 0
		return e.failErr
	}
	return nil
}
