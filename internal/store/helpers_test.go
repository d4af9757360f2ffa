package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// createTestStore creates a new in-memory store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}
