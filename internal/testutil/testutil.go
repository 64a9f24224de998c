// Package testutil provides shared test helpers for setting up data
// directories, manifests and shadow table databases.
package testutil

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/starford/resultbox/internal/manifest"
	"github.com/starford/resultbox/internal/storage"
	"github.com/starford/resultbox/internal/tables"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *tables.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "resultbox-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := tables.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// DataDir is a temporary data directory with a dropbox, a results tree and
// the two manifest files.
type DataDir struct {
	Root      string
	Dropbox   string
	Results   string
	Processes string // processes manifest file
	DropFile  string // dropbox manifest file
}

// JobOutput is the output directory of job n.
func (d DataDir) JobOutput(n int) string {
	return filepath.Join(d.Results, "job"+strconv.Itoa(n))
}

// TestDataDir creates the directory layout used at runtime.
func TestDataDir(t *testing.T) DataDir {
	t.Helper()
	root := t.TempDir()
	d := DataDir{
		Root:      root,
		Dropbox:   filepath.Join(root, "dropbox"),
		Results:   filepath.Join(root, "results"),
		Processes: filepath.Join(root, "processes.json"),
		DropFile:  filepath.Join(root, "dropbox.json"),
	}
	for _, dir := range []string{d.Dropbox, d.Results, filepath.Join(root, ".tmp")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return d
}

// TestStore creates a manifest store over d with an empty dropbox and jobs
// 0..jobs-1, each with an empty file list and an output dir below Results.
func TestStore(t *testing.T, d DataDir, jobs int) *manifest.Store {
	t.Helper()
	doc := manifest.NewDocument(d.Processes, d.DropFile)
	must(t, doc.Add(manifest.KeyProcessID, manifest.Counter(max(jobs-1, 0)), d.Processes))
	must(t, doc.Add(manifest.KeyDropbox, manifest.Section{}, d.DropFile))
	for n := 0; n < jobs; n++ {
		out := d.JobOutput(n)
		if err := os.MkdirAll(out, 0o755); err != nil {
			t.Fatal(err)
		}
		must(t, doc.Add(manifest.JobKey(n), &manifest.Job{Output: out, Files: manifest.Section{}}, d.Processes))
	}
	return manifest.New(doc)
}

// TestDropbox creates a storage.FS over the dropbox dir staging in .tmp.
func TestDropbox(t *testing.T, d DataDir) *storage.FS {
	t.Helper()
	fs, err := storage.NewFS(d.Dropbox, storage.WithStaging(filepath.Join(d.Root, ".tmp")))
	if err != nil {
		t.Fatal(err)
	}
	return fs
}

// WriteFile writes data to path, creating parent directories.
func WriteFile(t *testing.T, path, data string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
