package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// DefaultBaseDir is the fallback directory for file-backed storage.
const DefaultBaseDir = "./.fleetcore/state"

// fileNameSanitizer strips characters that are unsafe in file names.
var fileNameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// File is a file-backed implementation of Store. Each key maps to one file
// under the base directory. Writes go through a temp file and rename so a
// crash mid-write never leaves a torn value.
type File struct {
	baseDir string
}

// NewFile creates a file-backed store rooted at baseDir. An empty baseDir
// falls back to DefaultBaseDir. The directory is created if missing.
func NewFile(baseDir string) (*File, error) {
	if strings.TrimSpace(baseDir) == "" {
		baseDir = DefaultBaseDir
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory %s: %w", baseDir, err)
	}
	return &File{baseDir: baseDir}, nil
}

// BaseDir returns the directory backing this store.
func (f *File) BaseDir() string {
	return f.baseDir
}

// Get retrieves the value for key.
func (f *File) Get(_ context.Context, key string) ([]byte, bool, error) {
	data, err := os.ReadFile(f.pathFor(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read key %s: %w", key, err)
	}
	return data, true, nil
}

// Set writes the value for key atomically.
func (f *File) Set(_ context.Context, key string, value []byte) error {
	path := f.pathFor(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, value, 0o644); err != nil {
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to commit key %s: %w", key, err)
	}
	return nil
}

// Delete removes the key.
func (f *File) Delete(_ context.Context, key string) error {
	err := os.Remove(f.pathFor(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

// pathFor maps a key to a file path under the base directory.
func (f *File) pathFor(key string) string {
	name := sanitizeKey(key)
	return filepath.Join(f.baseDir, name)
}

// sanitizeKey converts an arbitrary key into a safe file name.
func sanitizeKey(key string) string {
	v := strings.TrimSpace(key)
	if v == "" {
		return "_empty"
	}
	v = strings.ReplaceAll(v, " ", "-")
	v = fileNameSanitizer.ReplaceAllString(v, "-")
	v = strings.Trim(v, "-._")
	if v == "" {
		return "_empty"
	}
	if len(v) > 120 {
		v = v[:120]
	}
	return v
}
