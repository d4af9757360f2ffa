package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDemoScenarios runs every scenario under testdata/scenarios at the
// project root. They double as usage examples for the scenario format.
func TestDemoScenarios(t *testing.T) {
	paths, err := filepath.Glob("../../testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		name := filepath.Base(path)
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err, "failed to load scenario")

			result, err := Run(scenario)
			require.NoError(t, err, "failed to run scenario")

			for _, msg := range result.Errors {
				t.Log(msg)
			}
			assert.True(t, result.Pass, "scenario %s failed", scenario.Name)
			assert.Len(t, result.Trace, len(scenario.Flow))
		})
	}
}

func TestDemoScenario_CreatedRecordRollback(t *testing.T) {
	scenario, err := LoadScenario("../../testdata/scenarios/created_record_rollback.yaml")
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	assert.Equal(t, "UNLOADED", result.Trace[5].Error)
	require.Len(t, result.State.Records, 1, "only account:2 remains")
	assert.Equal(t, "account:2", result.State.Records[0].Key)
	assert.Empty(t, result.State.Records[0].Fields[0].Additions)
}
