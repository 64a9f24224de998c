// Package manifest keeps the persisted record of known files: the dropbox
// section and the files of every job, spread over one or more backing JSON
// files.
package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/starford/resultbox/internal/storage"
)

// Store guards a Document with a single mutex. All reads, mutations and saves
// go through it. The mutex is not reentrant: exported methods lock, the
// unexported *Locked helpers expect the lock to be held.
type Store struct {
	mu  sync.Mutex
	doc *Document

	// seen is the stat of each backing file as last read or written.
	seen map[string]fs.FileInfo

	writeFile func(path string, data []byte) error
}

// Load reads every backing file that exists and registers its top-level keys
// to it. Missing files are fine; a file that is present but cannot be decoded
// aborts with apperr.ErrInvalidManifest.
func Load(files ...string) (*Store, error) {
	s := New(NewDocument(files...))
	for _, f := range files {
		data, info, err := readFile(f)
		if err != nil {
			return nil, err
		}
		if data == nil {
			continue
		}
		if err := s.doc.Decode(f, data); err != nil {
			return nil, err
		}
		s.seen[f] = info
	}
	return s, nil
}

// New wraps an existing document.
func New(doc *Document) *Store {
	return &Store{doc: doc, seen: map[string]fs.FileInfo{}, writeFile: storage.WriteFile}
}

// readFile returns nil data for a missing file.
func readFile(path string) ([]byte, fs.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("manifest: stat %s: %w", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	return data, info, nil
}

// Refresh re-reads every backing file another process has rewritten since
// this store last read or saved it. Keys of unchanged or missing files are
// kept as they are in memory. A file that fails to decode leaves the
// document untouched.
func (s *Store) Refresh() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.doc.Files() {
		info, err := os.Stat(f)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("manifest: stat %s: %w", f, err)
		}
		if !changed(s.seen[f], info) {
			continue
		}
		data, info, err := readFile(f)
		if err != nil {
			return err
		}
		if data == nil {
			continue
		}
		if err := s.doc.replaceFile(f, data); err != nil {
			return err
		}
		s.seen[f] = info
	}
	return nil
}

// changed compares two stats of a backing file. Saves replace the file by
// rename, so a rewrite shows up as a different file even when size and
// mtime happen to match.
func changed(old, cur fs.FileInfo) bool {
	return old == nil || !os.SameFile(old, cur) ||
		!old.ModTime().Equal(cur.ModTime()) || old.Size() != cur.Size()
}

// View runs fn with the document locked. fn must not retain the document.
func (s *Store) View(fn func(doc *Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.doc)
}

// Update runs fn with the document locked and, when fn reports a change,
// saves every backing file before releasing the lock.
func (s *Store) Update(fn func(doc *Document) (changed bool, err error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed, err := fn(s.doc)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return s.saveLocked()
}

// Save rewrites every backing file from the in-memory state.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

// EnsureKey adds key with value v to file unless it already holds a value.
func (s *Store) EnsureKey(key string, v Value, file string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc.Has(key) {
		return nil
	}
	return s.doc.Add(key, v, file)
}

// saveLocked writes each backing file completely; the first failure is
// returned and the remaining files are left as they were.
func (s *Store) saveLocked() error {
	for _, f := range s.doc.Files() {
		data, err := s.doc.Encode(f)
		if err != nil {
			return err
		}
		if err := s.writeFile(f, data); err != nil {
			return fmt.Errorf("manifest: save %s: %w", f, err)
		}
		if info, err := os.Stat(f); err == nil {
			s.seen[f] = info
		}
	}
	return nil
}
