package u

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatSize(t *testing.T) {
	tests := []struct {
		n   int64
		exp string
	}{
		{0, "0 bytes"},
		{1023, "1023 bytes"},
		{1024, "1 kB"},
		{1536, "1.50 kB"},
		{5 * 1024 * 1024, "5 MB"},
		{3 * 1024 * 1024 * 1024, "3 GB"},
	}
	for _, test := range tests {
		assert.Equal(t, test.exp, FormatSize(test.n))
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d   time.Duration
		exp string
	}{
		{1500 * time.Nanosecond, "1 µs"},
		{12 * time.Microsecond, "12 µs"},
		{1234567 * time.Nanosecond, "1.23 ms"},
		{3 * time.Millisecond, "3 ms"},
		{1500 * time.Millisecond, "1.5s"},
	}
	for _, test := range tests {
		assert.Equal(t, test.exp, FormatDuration(test.d))
	}
}

func TestFileHelpers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.kv")
	assert.False(t, FileExists(path))
	assert.Equal(t, int64(-1), FileSize(path))
	require.NoError(t, os.WriteFile(path, []byte("kvstore 1\n"), 0644))
	assert.True(t, FileExists(path))
	assert.False(t, FileExists(dir))
	assert.Equal(t, int64(10), FileSize(path))
}

func TestMust(t *testing.T) {
	assert.NotPanics(t, func() { Must(nil) })
	err := errors.New("boom")
	assert.PanicsWithValue(t, err, func() { Must(err) })
}

func TestPanicIf(t *testing.T) {
	assert.NotPanics(t, func() { PanicIf(false) })
	assert.PanicsWithValue(t, "condition failed", func() { PanicIf(true) })
	assert.PanicsWithValue(t, "bad index 3", func() { PanicIf(true, "bad index %d", 3) })
}
