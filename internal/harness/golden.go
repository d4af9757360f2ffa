package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/tandem/internal/ir"
)

// canonicalResult converts a scenario's trace and final state to the plain
// map form accepted by ir.MarshalCanonical.
func canonicalResult(name string, result *Result) map[string]any {
	trace := make([]any, len(result.Trace))
	for i, ev := range result.Trace {
		m := map[string]any{
			"step": ev.Step,
			"op":   ev.Op,
		}
		if ev.Record != "" {
			m["record"] = ev.Record
		}
		if ev.Field != "" {
			m["field"] = ev.Field
		}
		if ev.Member != "" {
			m["member"] = ev.Member
		}
		if ev.Error != "" {
			m["error"] = ev.Error
		}
		if ev.Members != nil {
			m["members"] = ev.Members
		}
		trace[i] = m
	}

	return map[string]any{
		"scenario_name": name,
		"trace":         trace,
		"state":         result.State.Canonical(),
	}
}

// MarshalResult renders a result as canonical JSON.
func MarshalResult(name string, result *Result) ([]byte, error) {
	return ir.MarshalCanonical(canonicalResult(name, result))
}

// RunWithGolden executes a scenario and compares its trace and final state
// against a golden file stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the output doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...Option) (*Result, error) {
	t.Helper()

	result, err := Run(scenario, opts...)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an already-computed result against a golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := MarshalResult(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)

	return nil
}
