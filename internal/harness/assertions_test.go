package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingScenario runs a small social flow with the given assertions.
func failingScenario(t *testing.T, assertions ...Assertion) *Result {
	t.Helper()
	return runOK(t, &Scenario{
		Name:        "assertions",
		Description: "Assertion evaluation",
		Schema:      socialSchemaPath,
		Flow: []Step{
			{Op: OpPush, Record: "account:2", Relationships: map[string][]string{"users": {"1"}}},
			{Op: OpPush, Record: "user:1", Attributes: map[string]any{"name": "Stanley"}},
			{Op: OpPush, Record: "user:3"},
			{Op: OpAdd, Record: "account:2", Field: "users", Member: "user:3"},
		},
		Assertions: assertions,
	})
}

func TestAssertions_Passing(t *testing.T) {
	result := failingScenario(t,
		Assertion{Type: AssertMembers, Record: "account:2", Field: "users", Members: []string{"user:1", "user:3"}},
		Assertion{Type: AssertCanonical, Record: "account:2", Field: "users", Members: []string{"user:1"}},
		Assertion{Type: AssertAttributes, Record: "user:1", Attributes: map[string]any{"name": "Stanley"}},
		Assertion{Type: AssertDirty, Record: "account:2", Value: boolPtr(true)},
		Assertion{Type: AssertDirty, Record: "user:1", Value: boolPtr(false)},
		Assertion{Type: AssertDeleted, Record: "user:1", Value: boolPtr(false)},
		Assertion{Type: AssertAbsent, Record: "user:9"},
		Assertion{Type: AssertSymmetric},
	)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestAssertions_Failing(t *testing.T) {
	tests := []struct {
		name      string
		assertion Assertion
		wantErr   string
	}{
		{
			name:      "members",
			assertion: Assertion{Type: AssertMembers, Record: "account:2", Field: "users", Members: []string{"user:1"}},
			wantErr:   "Assertion failed: members account:2.users",
		},
		{
			name:      "canonical",
			assertion: Assertion{Type: AssertCanonical, Record: "account:2", Field: "users", Members: []string{"user:1", "user:3"}},
			wantErr:   "Assertion failed: canonical account:2.users",
		},
		{
			name:      "attributes",
			assertion: Assertion{Type: AssertAttributes, Record: "user:1", Attributes: map[string]any{"name": "Ada"}},
			wantErr:   `Expected: "Ada"`,
		},
		{
			name:      "missing attribute compares as null",
			assertion: Assertion{Type: AssertAttributes, Record: "user:3", Attributes: map[string]any{"name": "Ada"}},
			wantErr:   "Actual: null",
		},
		{
			name:      "dirty",
			assertion: Assertion{Type: AssertDirty, Record: "user:1", Value: boolPtr(true)},
			wantErr:   "Assertion failed: dirty user:1",
		},
		{
			name:      "loaded",
			assertion: Assertion{Type: AssertLoaded, Record: "user:3", Field: "topics", Value: boolPtr(true)},
			wantErr:   "Assertion failed: loaded user:3.topics",
		},
		{
			name:      "loaded unknown field",
			assertion: Assertion{Type: AssertLoaded, Record: "user:3", Field: "friends", Value: boolPtr(true)},
			wantErr:   "loaded user:3.friends",
		},
		{
			name:      "absent",
			assertion: Assertion{Type: AssertAbsent, Record: "user:1"},
			wantErr:   "record user:1 is present",
		},
		{
			name:      "missing record",
			assertion: Assertion{Type: AssertDirty, Record: "user:9", Value: boolPtr(false)},
			wantErr:   "dirty user:9",
		},
		{
			name:      "canonical without state",
			assertion: Assertion{Type: AssertCanonical, Record: "user:3", Field: "topics", Members: []string{}},
			wantErr:   "field has no state",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := failingScenario(t, tt.assertion)
			assert.False(t, result.Pass)
			require.Len(t, result.Errors, 1)
			assert.Contains(t, result.Errors[0], tt.wantErr)
		})
	}
}

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{
		Type:     AssertMembers,
		Subject:  "account:2.users",
		Expected: "[user:1]",
		Actual:   "[]",
		Trace: []TraceEvent{
			{Step: 0, Op: OpPush, Record: "account:2"},
			{Step: 1, Op: OpRemove, Record: "account:2", Field: "users", Member: "user:1"},
			{Step: 2, Op: OpFetch, Record: "user:9", Field: "accounts", Error: "NOT_FOUND"},
		},
	}

	want := "Assertion failed: members account:2.users\n" +
		"  Expected: [user:1]\n" +
		"  Actual: []\n" +
		"\nFull trace:\n" +
		"  [0] push account:2\n" +
		"  [1] remove account:2.users user:1\n" +
		"  [2] fetch user:9.accounts -> NOT_FOUND\n"
	assert.Equal(t, want, err.Error())
}
