package harness

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/cockroachdb/apd/v3"

	"github.com/roach88/relq/internal/qerr"
	"github.com/roach88/relq/internal/record"
	"github.com/roach88/relq/internal/typecast"
)

// AssertionError is returned when an expectation fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Step     string // Step name
	Field    string // Expect field that failed
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s (%s)\n", e.Step, e.Field)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// checkExpect compares a step's outcome against its expect clause.
func checkExpect(step Step, out outcome, queries int) []error {
	exp := step.Expect
	var errs []error
	fail := func(field string, expected, actual any) {
		errs = append(errs, &AssertionError{
			Step:     step.Name,
			Field:    field,
			Expected: fmt.Sprint(expected),
			Actual:   fmt.Sprint(actual),
		})
	}

	if exp.Queries != nil && *exp.Queries != queries {
		fail("queries", *exp.Queries, queries)
	}

	if exp.Error != "" {
		if out.err == nil {
			fail("error", exp.Error, "no error")
		} else if !matchError(exp.Error, out.err) {
			fail("error", exp.Error, out.err)
		}
		return errs
	}
	if out.err != nil {
		fail("error", "no error", out.err)
		return errs
	}

	if exp.Null && out.calc.Value != nil {
		fail("null", "nil", display(out.calc.Value))
	}
	if exp.Value != nil && !sameValue(exp.Value, out.calc.Value) {
		fail("value", exp.Value, display(out.calc.Value))
	}

	if exp.IDs != nil {
		got := recordIDs(out.records)
		if !sameValues(exp.IDs, got) {
			fail("ids", exp.IDs, got)
		}
	}
	if exp.Values != nil && !sameValues(exp.Values, out.values) {
		fail("values", exp.Values, displayAll(out.values))
	}
	if exp.Len != nil {
		n := len(out.records)
		if step.Op == OpPluck {
			n = len(out.values)
		}
		if n != *exp.Len {
			fail("len", *exp.Len, n)
		}
	}
	if exp.Batches != nil && !reflect.DeepEqual(exp.Batches, out.batches) {
		fail("batches", exp.Batches, out.batches)
	}

	for name, want := range exp.Associations {
		got, err := associationSizes(out.records, name)
		if err != nil {
			fail("associations."+name, want, err)
			continue
		}
		if !reflect.DeepEqual(want, got) {
			fail("associations."+name, want, got)
		}
	}

	if exp.Groups != nil {
		errs = append(errs, checkGroups(step.Name, exp.Groups, out)...)
	}
	return errs
}

func checkGroups(stepName string, want []GroupExpect, out outcome) []error {
	got := out.calc.Groups
	if !out.calc.Grouped() || len(got) != len(want) {
		return []error{&AssertionError{
			Step:     stepName,
			Field:    "groups",
			Expected: fmt.Sprintf("%d groups", len(want)),
			Actual:   fmt.Sprintf("%d groups (grouped=%t)", len(got), out.calc.Grouped()),
		}}
	}

	var errs []error
	for i, w := range want {
		g := got[i]
		field := fmt.Sprintf("groups[%d]", i)
		if !sameValues(w.Key, g.Key) {
			errs = append(errs, &AssertionError{Step: stepName, Field: field + ".key", Expected: fmt.Sprint(w.Key), Actual: fmt.Sprint(displayAll(g.Key))})
		}
		if !sameValue(w.Value, g.Value) {
			errs = append(errs, &AssertionError{Step: stepName, Field: field + ".value", Expected: fmt.Sprint(w.Value), Actual: display(g.Value)})
		}
		if w.Owner != nil {
			var owner any
			if g.Owner != nil {
				owner = g.Owner.ID()
			}
			if !sameValue(w.Owner, owner) {
				errs = append(errs, &AssertionError{Step: stepName, Field: field + ".owner", Expected: fmt.Sprint(w.Owner), Actual: fmt.Sprint(owner)})
			}
		}
	}
	return errs
}

// matchError accepts an error code or a message substring.
func matchError(want string, err error) bool {
	if code, ok := qerr.CodeOf(err); ok && string(code) == want {
		return true
	}
	return strings.Contains(err.Error(), want)
}

// sameValue compares an expected YAML scalar with an actual value.
// Decimals compare numerically; other values compare after key
// normalization, so 3 matches int64(3).
func sameValue(want, got any) bool {
	if d, ok := got.(*apd.Decimal); ok && want != nil {
		w, err := typecast.ToDecimal(want)
		return err == nil && d != nil && w.Cmp(d) == 0
	}
	return reflect.DeepEqual(typecast.Key(want), typecast.Key(got))
}

func sameValues(want, got []any) bool {
	if len(want) != len(got) {
		return false
	}
	for i := range want {
		if !sameValue(want[i], got[i]) {
			return false
		}
	}
	return true
}

func recordIDs(records []*record.Record) []any {
	ids := make([]any, len(records))
	for i, r := range records {
		ids[i] = r.ID()
	}
	return ids
}

func associationSizes(records []*record.Record, name string) ([]int, error) {
	sizes := make([]int, len(records))
	for i, r := range records {
		a, ok := r.Association(name)
		if !ok {
			return nil, fmt.Errorf("association %s not loaded on record %v", name, r.ID())
		}
		sizes[i] = a.Len()
	}
	return sizes, nil
}

func display(v any) string {
	if d, ok := v.(*apd.Decimal); ok && d != nil {
		return d.Text('f')
	}
	return fmt.Sprint(v)
}

func displayAll(vs []any) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = display(v)
	}
	return out
}
