// Package storage enumerates watched directory trees and writes files
// atomically.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

// Lister enumerates the files below a root directory.
type Lister interface {
	// Root returns the absolute directory the listed files live under.
	Root() string
	// Files returns the absolute path of every regular file below Root.
	Files() ([]string, error)
}

// Tree is a Lister over a billy filesystem chrooted at Root.
type Tree struct {
	root string
	fs   billy.Filesystem
}

var _ Lister = (*Tree)(nil)

// NewTree lists the local directory root.
func NewTree(root string) *Tree {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = filepath.Clean(root)
	}
	return &Tree{root: abs, fs: osfs.New(abs)}
}

// NewTreeFS lists fs, reporting paths as if fs were mounted at root.
func NewTreeFS(root string, fs billy.Filesystem) *Tree {
	return &Tree{root: filepath.Clean(root), fs: fs}
}

// Root returns the absolute root directory.
func (t *Tree) Root() string {
	return t.root
}

// Files walks the tree. A missing root lists as empty.
func (t *Tree) Files() ([]string, error) {
	if _, err := t.fs.Lstat("."); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: stat %s: %w", t.root, err)
	}
	var out []string
	err := util.Walk(t.fs, ".", func(p string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			// Entries can vanish between readdir and lstat while jobs run.
			if errors.Is(walkErr, os.ErrNotExist) {
				return nil
			}
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		out = append(out, filepath.Join(t.root, p))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: walk %s: %w", t.root, err)
	}
	sort.Strings(out)
	return out, nil
}
