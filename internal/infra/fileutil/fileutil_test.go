package fileutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, WriteJSON(path, map[string]int{"runs": 2}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"runs": 2}`, string(data))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestWriteAtomic_Replaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.md")
	require.NoError(t, WriteAtomic(path, []byte("old")))
	require.NoError(t, WriteAtomic(path, []byte("new")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestWriteAtomic_MissingDir(t *testing.T) {
	err := WriteAtomic(filepath.Join(t.TempDir(), "nope", "x.json"), []byte("x"))
	assert.Error(t, err)
}

func TestWriteJSON_Unmarshalable(t *testing.T) {
	err := WriteJSON(filepath.Join(t.TempDir(), "x.json"), make(chan int))
	assert.Error(t, err)
}
