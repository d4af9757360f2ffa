package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWithGolden(t *testing.T) {
	// To regenerate:
	//   go test ./internal/harness -run TestRunWithGolden -update
	for _, name := range []string{"local_sync_edit", "async_materialization"} {
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario("../../testdata/scenarios/" + name + ".yaml")
			require.NoError(t, err)

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestMarshalResult_Deterministic(t *testing.T) {
	scenario, err := LoadScenario("../../testdata/scenarios/deletion_rollback.yaml")
	require.NoError(t, err)

	var outputs []string
	for range 3 {
		result, err := Run(scenario)
		require.NoError(t, err)
		data, err := MarshalResult(scenario.Name, result)
		require.NoError(t, err)
		outputs = append(outputs, string(data))
	}

	assert.Equal(t, outputs[0], outputs[1])
	assert.Equal(t, outputs[1], outputs[2])
	assert.Contains(t, outputs[0], `"error":"RECORD_DELETED"`)
}

func TestMarshalResult_OmitsEmptyTraceFields(t *testing.T) {
	result := NewResult()
	result.AddTrace(TraceEvent{Step: 0, Op: OpCreate})
	result.AddTrace(TraceEvent{Step: 1, Op: OpFetch, Record: "user:1", Field: "topics", Members: []string{}})

	data, err := MarshalResult("empty", result)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"trace":[{"op":"create","step":0},{"field":"topics","members":[],"op":"fetch","record":"user:1","step":1}]`)
}
