package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteSchemaDescribesDefinitions(t *testing.T) {
	out := filepath.Join(t.TempDir(), "schema", "mirage.json")
	require.NoError(t, writeSchema(out, buildSchema()))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "Mirage Server Configuration", doc["title"])

	defs, ok := doc["definitions"].(map[string]any)
	require.True(t, ok, "expected definitions in schema")
	assert.Contains(t, defs, "Definition")
	assert.Contains(t, defs, "File")

	_, err = os.Stat(out + ".tmp")
	assert.True(t, os.IsNotExist(err))
}
