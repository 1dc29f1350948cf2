package u

import (
	"os"
)

// FileExists returns true if path exists and is a regular file
func FileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular()
}

// FileSize gets file size, -1 if file doesn't exist
func FileSize(path string) int64 {
	st, err := os.Stat(path)
	if err == nil {
		return st.Size()
	}
	return -1
}
