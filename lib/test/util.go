package test

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// ReadJSON reads a test data file and unmarshals it into a new T.
func ReadJSON[T any](t *testing.T, path string) T {
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var result T
	require.NoError(t, json.Unmarshal(data, &result))
	return result
}
