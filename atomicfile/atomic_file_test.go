package atomicfile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listDir(t *testing.T, dir string) []string {
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var res []string
	for _, e := range entries {
		res = append(res, e.Name())
	}
	return res
}

func TestWriteAndClose(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "data.manifest")
	f, err := New(dst)
	require.NoError(t, err)
	_, err = f.Write([]byte("count: 3\n"))
	require.NoError(t, err)
	_, err = f.WriteString("format: kv\n")
	require.NoError(t, err)

	// not visible until Close
	_, err = os.Stat(dst)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
	d, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "count: 3\nformat: kv\n", string(d))
	assert.Equal(t, []string{"data.manifest"}, listDir(t, dir))
}

func TestRemoveIfNotClosed(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "data.manifest")
	require.NoError(t, os.WriteFile(dst, []byte("old"), 0644))

	f, err := New(dst)
	require.NoError(t, err)
	_, err = f.Write([]byte("new"))
	require.NoError(t, err)
	f.RemoveIfNotClosed()

	assert.ErrorIs(t, f.Close(), ErrCancelled)
	_, err = f.Write([]byte("more"))
	assert.ErrorIs(t, err, ErrCancelled)

	d, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "old", string(d))
	assert.Equal(t, []string{"data.manifest"}, listDir(t, dir))

	// a no-op after Close
	f2, err := New(dst)
	require.NoError(t, err)
	require.NoError(t, f2.Close())
	f2.RemoveIfNotClosed()
	d, err = os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "", string(d))
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "out.txt")
	require.NoError(t, WriteFile(dst, []byte("hello")))
	require.NoError(t, WriteFile(dst, []byte("bye")))
	d, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "bye", string(d))

	err = WriteFile(filepath.Join(dir, "missing", "out.txt"), nil)
	assert.Error(t, err)

	_, err = New(dir + string(filepath.Separator))
	assert.Error(t, err)
}
