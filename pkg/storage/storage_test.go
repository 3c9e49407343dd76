package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type document struct {
	ID     string    `json:"id"`
	Values []float64 `json:"values"`
}

func TestFileStorage_SaveLoad(t *testing.T) {
	fs, err := NewFileStorage(t.TempDir(), Options{})
	require.NoError(t, err)

	in := document{ID: "job-1", Values: []float64{1, 2.5}}
	require.NoError(t, fs.Save("job-1", in))

	var out document
	require.NoError(t, fs.Load("job-1", &out))
	assert.Equal(t, in, out)

	in.Values = []float64{3}
	require.NoError(t, fs.Save("job-1", in))
	require.NoError(t, fs.Load("job-1", &out))
	assert.Equal(t, []float64{3}, out.Values)

	require.NoError(t, fs.Delete("job-1"))
	assert.ErrorIs(t, fs.Load("job-1", &out), ErrNotFound)
}

func TestFileStorage_RejectsPathNames(t *testing.T) {
	fs, err := NewFileStorage(t.TempDir(), Options{})
	require.NoError(t, err)

	for _, name := range []string{"", "..", "a/b", `a\b`} {
		assert.Error(t, fs.Save(name, document{}), name)
	}
}

func TestFileStorage_Rotate(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStorage(dir, Options{Retention: 72 * time.Hour, CompressAfter: 24 * time.Hour})
	require.NoError(t, err)

	now := time.Now()
	ages := map[string]time.Duration{"fresh": time.Hour, "old": 48 * time.Hour, "expired": 100 * time.Hour}
	for name, age := range ages {
		require.NoError(t, fs.Save(name, document{ID: name}))
		stamp := now.Add(-age)
		require.NoError(t, os.Chtimes(filepath.Join(dir, reportsDir, name+jsonExt), stamp, stamp))
	}

	stats, err := fs.Rotate()
	require.NoError(t, err)
	assert.Equal(t, RotationStats{Compressed: 1, Removed: 1}, stats)

	assert.FileExists(t, filepath.Join(dir, reportsDir, "fresh.json"))
	assert.FileExists(t, filepath.Join(dir, reportsDir, "old.json.gz"))
	assert.NoFileExists(t, filepath.Join(dir, reportsDir, "old.json"))

	var out document
	require.NoError(t, fs.Load("old", &out))
	assert.Equal(t, "old", out.ID)
	assert.ErrorIs(t, fs.Load("expired", &out), ErrNotFound)

	// a second pass keeps the compressed file until it expires
	stats, err = fs.Rotate()
	require.NoError(t, err)
	assert.Equal(t, RotationStats{}, stats)
}
