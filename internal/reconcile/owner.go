package reconcile

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/resultbox/internal/manifest"
	"github.com/starford/resultbox/internal/tables"
)

// Owner is the section a path belongs to together with the directory its
// display names are relative to.
type Owner struct {
	Key  string // "dropbox" or "process-<N>"
	Root string
	job  int
}

// files returns the live section of the owner, creating an empty job file
// list when the job has none yet. nil means the section is gone.
func (o Owner) files(doc *manifest.Document) manifest.Section {
	if o.Key == manifest.KeyDropbox {
		return doc.Dropbox()
	}
	j, ok := doc.Job(o.job)
	if !ok {
		return nil
	}
	if j.Files == nil {
		j.Files = manifest.Section{}
	}
	return j.Files
}

// TableName is the shadow table materialized for record id.
func (o Owner) TableName(id string) string {
	if o.Key == manifest.KeyDropbox {
		return tables.DropboxName(id)
	}
	return tables.JobName(o.job, id)
}

// Resolver finds the owner of a path. It runs with the manifest locked.
type Resolver interface {
	Resolve(doc *manifest.Document, path string) (Owner, bool)
}

// DropboxOwner owns everything below a single root.
type DropboxOwner struct {
	Root string
}

// Resolve implements Resolver.
func (d DropboxOwner) Resolve(_ *manifest.Document, path string) (Owner, bool) {
	if !within(d.Root, path) {
		return Owner{}, false
	}
	return Owner{Key: manifest.KeyDropbox, Root: d.Root, job: -1}, true
}

// JobOwners assigns a path to the job whose output directory contains it.
// Nested output directories resolve to the deepest one.
type JobOwners struct{}

// Resolve implements Resolver.
func (JobOwners) Resolve(doc *manifest.Document, path string) (Owner, bool) {
	best := Owner{}
	found := false
	for _, ref := range doc.Jobs() {
		out := filepath.Clean(ref.Job.Output)
		if ref.Job.Output == "" || !within(out, path) {
			continue
		}
		if !found || len(out) > len(best.Root) {
			best = Owner{Key: manifest.JobKey(ref.ID), Root: out, job: ref.ID}
			found = true
		}
	}
	return best, found
}

// within reports whether path lies strictly below root.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || filepath.IsAbs(rel) {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}
