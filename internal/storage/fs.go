package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FS is a directory accepting uploads. Writes are staged in a separate
// directory and renamed into place so watchers only see finished files.
type FS struct {
	root    string // absolute
	staging string // absolute, same file system as root
}

// FSOption configures an FS.
type FSOption func(*FS)

// WithStaging stages writes in dir instead of next to the target.
func WithStaging(dir string) FSOption {
	return func(f *FS) {
		if abs, err := filepath.Abs(dir); err == nil {
			f.staging = abs
		}
	}
}

// NewFS creates a new FS rooted at the given directory.
// The directory must already exist.
func NewFS(root string, opts ...FSOption) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	f := &FS{root: abs}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Root returns the absolute root directory.
func (f *FS) Root() string {
	return f.root
}

// Resolve turns a relative path into an absolute one under root and rejects
// any result that escapes it (directory traversal).
func (f *FS) Resolve(rel string) (string, error) {
	if rel == "" {
		return f.root, nil
	}
	cleaned := filepath.Clean(rel)
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("storage: absolute paths not allowed: %s", rel)
	}
	abs := filepath.Join(f.root, cleaned)
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) && abs != f.root {
		return "", fmt.Errorf("storage: path escapes root: %s", rel)
	}
	return abs, nil
}

// Exists reports whether rel names an existing entry.
func (f *FS) Exists(rel string) bool {
	abs, err := f.Resolve(rel)
	if err != nil {
		return false
	}
	_, err = os.Stat(abs)
	return err == nil
}

// Write streams r into rel atomically and returns the number of bytes written.
func (f *FS) Write(rel string, r io.Reader) (int64, error) {
	abs, err := f.Resolve(rel)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return 0, fmt.Errorf("storage: mkdir: %w", err)
	}
	tmpDir := f.staging
	if tmpDir == "" {
		tmpDir = filepath.Dir(abs)
	} else if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return 0, fmt.Errorf("storage: mkdir staging: %w", err)
	}
	return writeAtomic(tmpDir, abs, r)
}

// Delete removes a file below root.
func (f *FS) Delete(rel string) error {
	abs, err := f.Resolve(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		return fmt.Errorf("storage: delete %s: %w", rel, err)
	}
	return nil
}

// WriteFile atomically replaces path with data: tmp file → fsync → rename.
// Parent directories are created as needed.
func WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}
	_, err := writeAtomic(dir, path, bytes.NewReader(data))
	return err
}

func writeAtomic(tmpDir, dest string, r io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(tmpDir, ".resultbox-tmp-*")
	if err != nil {
		return 0, fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	n, err := io.Copy(tmp, r)
	if err != nil {
		return 0, fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return 0, fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		var linkErr *os.LinkError
		if errors.As(err, &linkErr) {
			return 0, fmt.Errorf("storage: rename %s: %w", dest, linkErr.Err)
		}
		return 0, fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	return n, nil
}
