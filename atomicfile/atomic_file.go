package atomicfile

import (
	"errors"
	"io"
	"os"
	"path/filepath"
)

var (
	// ErrCancelled is returned by calls after RemoveIfNotClosed()
	ErrCancelled = errors.New("atomicfile: cancelled")

	_ io.WriteCloser = &File{}
)

// File writes to a temporary file in the destination directory and
// renames it over the destination on Close. If anything fails, the
// destination is left untouched
type File struct {
	dstPath string
	dir     string
	tmpPath string
	tmpFile *os.File
	// first error, returned by all subsequent calls
	err error
}

// New creates a temporary file next to path
func New(path string) (*File, error) {
	dir, name := filepath.Split(path)
	if name == "" {
		return nil, &os.PathError{Op: "open", Path: path, Err: os.ErrInvalid}
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	tmpFile, err := os.CreateTemp(dir, name+".tmp*")
	if err != nil {
		return nil, err
	}
	return &File{
		dstPath: path,
		dir:     dir,
		tmpPath: tmpFile.Name(),
		tmpFile: tmpFile,
	}, nil
}

func (f *File) handleError(err error) error {
	if err == nil {
		return nil
	}
	if f.err == nil {
		f.err = err
	}
	// deletes the temporary file
	_ = f.Close()
	return err
}

func (f *File) Write(d []byte) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	n, err := f.tmpFile.Write(d)
	return n, f.handleError(err)
}

func (f *File) WriteString(s string) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	n, err := f.tmpFile.WriteString(s)
	return n, f.handleError(err)
}

func (f *File) alreadyClosed() bool {
	return f.tmpFile == nil
}

// RemoveIfNotClosed removes the temporary file if Close wasn't called.
// The destination is not created. Meant to be deferred
func (f *File) RemoveIfNotClosed() {
	if f == nil || f.alreadyClosed() {
		return
	}
	f.err = ErrCancelled
	_ = f.Close()
}

// Close syncs the temporary file and renames it to destination.
// Can be called multiple times, returns the first error
func (f *File) Close() error {
	if f.alreadyClosed() {
		return f.err
	}
	tmpFile := f.tmpFile
	f.tmpFile = nil

	errSync := tmpFile.Sync()
	errClose := tmpFile.Close()

	didRename := false
	defer func() {
		if !didRename {
			_ = os.Remove(f.tmpPath)
		}
	}()

	if f.err != nil {
		return f.err
	}
	err := errSync
	if err == nil {
		err = errClose
	}
	if err == nil {
		err = os.Rename(f.tmpPath, f.dstPath)
		didRename = err == nil
		// sync the directory so that the rename survives a crash
		if fdir, _ := os.Open(f.dir); fdir != nil {
			_ = fdir.Sync()
			_ = fdir.Close()
		}
	}
	f.err = err
	return err
}

// WriteFile writes d to path atomically
func WriteFile(path string, d []byte) error {
	f, err := New(path)
	if err != nil {
		return err
	}
	defer f.RemoveIfNotClosed()
	if _, err = f.Write(d); err != nil {
		return err
	}
	return f.Close()
}
