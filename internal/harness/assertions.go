package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/tandem/internal/engine"
	"github.com/roach88/tandem/internal/identity"
	"github.com/roach88/tandem/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Subject  string       // Record or record.field the assertion is about
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s %s\n", e.Type, e.Subject)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, ev := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s %s", ev.Step, ev.Op, ev.Record)
		if ev.Field != "" {
			fmt.Fprintf(&buf, ".%s", ev.Field)
		}
		if ev.Member != "" {
			fmt.Fprintf(&buf, " %s", ev.Member)
		}
		if ev.Error != "" {
			fmt.Fprintf(&buf, " -> %s", ev.Error)
		}
		buf.WriteByte('\n')
	}

	return buf.String()
}

// evaluateAssertions evaluates all assertions against the final engine
// state. Returns a slice of error messages for failed assertions.
func (h *Harness) evaluateAssertions(assertions []Assertion, result *Result) []string {
	var errs []string

	for i, a := range assertions {
		var err error

		switch a.Type {
		case AssertSymmetric:
			err = h.assertSymmetric(result.Trace)
		case AssertAbsent:
			err = h.assertAbsent(a, result.Trace)
		case AssertMembers, AssertCanonical:
			err = h.assertMembers(a, result.Trace)
		case AssertAttributes:
			err = h.assertAttributes(a, result.Trace)
		case AssertDirty, AssertDeleted, AssertLoaded:
			err = h.assertFlag(a, result.Trace)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	return errs
}

func (h *Harness) assertSymmetric(trace []TraceEvent) error {
	violations := h.engine.CheckSymmetry()
	if len(violations) == 0 {
		return nil
	}
	actual := make([]string, len(violations))
	for i, v := range violations {
		actual[i] = v.String()
	}
	return &AssertionError{
		Type:     AssertSymmetric,
		Expected: "every inverse pair agrees",
		Actual:   strings.Join(actual, "; "),
		Trace:    trace,
	}
}

func (h *Harness) assertAbsent(a Assertion, trace []TraceEvent) error {
	rec, err := h.resolve(a.Record)
	if engine.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	// An alias still points at its handle; it is absent once unloaded.
	if _, err := h.engine.LookupKey(rec.Key()); engine.IsNotFound(err) {
		return nil
	}
	return &AssertionError{
		Type:     AssertAbsent,
		Subject:  a.Record,
		Expected: "record not in the identity map",
		Actual:   "record " + rec.Key().String() + " is present",
		Trace:    trace,
	}
}

func (h *Harness) assertMembers(a Assertion, trace []TraceEvent) error {
	rec, err := h.resolve(a.Record)
	if err != nil {
		return fmt.Errorf("%s %s.%s: %w", a.Type, a.Record, a.Field, err)
	}
	expected, err := h.resolveKeys(a.Members)
	if err != nil {
		return fmt.Errorf("%s %s.%s: %w", a.Type, a.Record, a.Field, err)
	}

	var actual []string
	if a.Type == AssertCanonical {
		fs, ok := h.fieldSnapshot(rec, a.Field)
		if !ok {
			return fmt.Errorf("%s %s.%s: field has no state", a.Type, a.Record, a.Field)
		}
		actual = fs.Canonical
	} else {
		view, err := h.engine.Relationship(rec, a.Field)
		if err != nil {
			return fmt.Errorf("%s %s.%s: %w", a.Type, a.Record, a.Field, err)
		}
		actual = ir.KeyStrings(view.Keys())
	}

	if slices.Equal(expected, actual) {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Subject:  a.Record + "." + a.Field,
		Expected: fmt.Sprintf("%v", expected),
		Actual:   fmt.Sprintf("%v", actual),
		Trace:    trace,
	}
}

func (h *Harness) assertAttributes(a Assertion, trace []TraceEvent) error {
	rec, err := h.resolve(a.Record)
	if err != nil {
		return fmt.Errorf("attributes %s: %w", a.Record, err)
	}
	expected, err := convertAttributes(a.Attributes)
	if err != nil {
		return fmt.Errorf("attributes %s: %w", a.Record, err)
	}

	// Subset match - only specified attributes are validated.
	actual := rec.Attributes()
	for _, name := range expected.SortedKeys() {
		got, ok := actual[name]
		if !ok {
			got = ir.Null{}
		}
		if !ir.Equal(expected[name], got) {
			return &AssertionError{
				Type:     AssertAttributes,
				Subject:  a.Record + "." + name,
				Expected: valueString(expected[name]),
				Actual:   valueString(got),
				Trace:    trace,
			}
		}
	}
	return nil
}

func (h *Harness) assertFlag(a Assertion, trace []TraceEvent) error {
	rec, err := h.resolve(a.Record)
	if err != nil {
		return fmt.Errorf("%s %s: %w", a.Type, a.Record, err)
	}

	var actual bool
	subject := a.Record
	switch a.Type {
	case AssertDirty:
		actual = rec.IsDirty()
	case AssertDeleted:
		actual = rec.IsDeleted()
	case AssertLoaded:
		subject += "." + a.Field
		if _, err := h.engine.Registry().Field(rec.Type(), a.Field); err != nil {
			return fmt.Errorf("loaded %s: %w", subject, err)
		}
		fs, ok := h.fieldSnapshot(rec, a.Field)
		actual = ok && fs.Loaded
	}

	if actual == *a.Value {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Subject:  subject,
		Expected: fmt.Sprintf("%t", *a.Value),
		Actual:   fmt.Sprintf("%t", actual),
		Trace:    trace,
	}
}

// fieldSnapshot reads one relationship state through the engine snapshot,
// which takes the engine lock.
func (h *Harness) fieldSnapshot(rec *identity.Record, field string) (engine.FieldSnapshot, bool) {
	key := rec.Key().String()
	for _, r := range h.engine.Snapshot().Records {
		if r.Key != key {
			continue
		}
		for _, f := range r.Fields {
			if f.Name == field {
				return f, true
			}
		}
	}
	return engine.FieldSnapshot{}, false
}

func valueString(v ir.Value) string {
	data, err := ir.MarshalValue(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
