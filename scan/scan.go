// Package scan lists image files in a directory, reads their content and
// derives labels from their names.
//
// File names follow the convention <label>_<rest>.<ext> e.g. 9598098491_01.jpg
// has label 9598098491.
//
// All functions return results sorted by path so that payloads and labels
// produced by separate calls stay index-aligned.
package scan

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	ErrDirectoryNotFound = errors.New("directory not found")
	ErrRead              = errors.New("failed to read file")
	ErrMalformedFilename = errors.New("malformed file name")

	// DefaultExtensions is used when no extensions are given
	DefaultExtensions = []string{"jpg", "png"}
)

// MalformedFilenameError is returned for file names that don't match
// <label>_<rest>.<ext>
type MalformedFilenameError struct {
	Path string
}

func (e *MalformedFilenameError) Error() string {
	return fmt.Sprintf("malformed file name '%s': expected <label>_<name>.<ext>", filepath.Base(e.Path))
}

func (e *MalformedFilenameError) Is(target error) bool {
	return target == ErrMalformedFilename
}

// normalizeExtensions returns lower-cased extensions with leading '.'
func normalizeExtensions(exts []string) map[string]bool {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	res := map[string]bool{}
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		res[ext] = true
	}
	return res
}

// symlinks count if they point to a regular file
func isRegularFile(dir string, e os.DirEntry) bool {
	if e.Type().IsRegular() {
		return true
	}
	if e.Type()&os.ModeSymlink == 0 {
		return false
	}
	st, err := os.Stat(filepath.Join(dir, e.Name()))
	return err == nil && st.Mode().IsRegular()
}

// ListFiles returns files in dir (not recursive) whose extension is one of
// exts, compared case-insensitively. Extensions can be given with or
// without the leading '.'. Returns ErrDirectoryNotFound if dir doesn't
// exist or is not a directory.
func ListFiles(dir string, exts []string) ([]string, error) {
	st, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: '%s'", ErrDirectoryNotFound, dir)
		}
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("%w: '%s' is not a directory", ErrDirectoryNotFound, dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	allowed := normalizeExtensions(exts)
	var res []string
	for _, e := range entries {
		if !isRegularFile(dir, e) {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !allowed[ext] {
			continue
		}
		res = append(res, filepath.Join(dir, e.Name()))
	}
	sort.Strings(res)
	return res, nil
}

// ReadPayloads reads content of files, in the same order as paths.
// Fails on the first file that can't be read.
func ReadPayloads(paths []string) ([][]byte, error) {
	res := make([][]byte, 0, len(paths))
	for _, path := range paths {
		d, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w '%s': %w", ErrRead, path, err)
		}
		res = append(res, d)
	}
	return res, nil
}

// ParseLabel returns label encoded in the file name of path, which is
// the part of the base name (without extension) before the first '_'.
func ParseLabel(path string) (string, error) {
	name := filepath.Base(path)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	label, _, ok := strings.Cut(name, "_")
	if !ok || label == "" {
		return "", &MalformedFilenameError{Path: path}
	}
	return label, nil
}

// ParseLabels parses labels of all paths. A single malformed name
// fails the whole operation.
func ParseLabels(paths []string) ([]string, error) {
	res := make([]string, 0, len(paths))
	for _, path := range paths {
		label, err := ParseLabel(path)
		if err != nil {
			return nil, err
		}
		res = append(res, label)
	}
	return res, nil
}

// ReadDir reads payloads from files in dataDir and parses labels from
// names of files in annotationsDir. If annotationsDir is empty, labels
// are parsed from files in dataDir.
// The caller must check that both have the same length.
func ReadDir(dataDir string, annotationsDir string, exts []string) ([][]byte, []string, error) {
	paths, err := ListFiles(dataDir, exts)
	if err != nil {
		return nil, nil, err
	}
	payloads, err := ReadPayloads(paths)
	if err != nil {
		return nil, nil, err
	}
	if annotationsDir != "" && annotationsDir != dataDir {
		paths, err = ListFiles(annotationsDir, exts)
		if err != nil {
			return nil, nil, err
		}
	}
	labels, err := ParseLabels(paths)
	if err != nil {
		return nil, nil, err
	}
	return payloads, labels, nil
}
