// Package reconcile keeps manifest sections in line with the files on disk,
// either by a full pass over a directory tree or one change at a time.
package reconcile

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/starford/resultbox/internal/classify"
	"github.com/starford/resultbox/internal/manifest"
	"github.com/starford/resultbox/internal/storage"
)

// Result lists the ids touched by a directory pass.
type Result struct {
	Added    []string
	Removed  []string
	Upgraded []string
}

// Changed reports whether the pass modified the section.
func (r Result) Changed() bool {
	return len(r.Added)+len(r.Removed)+len(r.Upgraded) > 0
}

// Directory makes section match the files under tree. Records left by older
// releases are completed first, records whose file vanished are purged, and
// only then are ids allocated for new files, so freed ids are reused.
// Running it twice without filesystem changes leaves section untouched.
func Directory(tree storage.Lister, section manifest.Section, cls *classify.Classifier) (Result, error) {
	var res Result
	files, err := tree.Files()
	if err != nil {
		return res, fmt.Errorf("reconcile: list %s: %w", tree.Root(), err)
	}
	root := tree.Root()

	current := make(map[string]struct{}, len(files))
	for _, f := range files {
		current[f] = struct{}{}
	}

	for _, id := range sortedIDs(section) {
		rec := section[id]
		if rec.Classified() {
			continue
		}
		full := rec.Fullname
		if !filepath.IsAbs(full) {
			full = filepath.Join(root, full)
		}
		section[id] = cls.Record(root, full)
		res.Upgraded = append(res.Upgraded, id)
	}

	recorded := make(map[string]string, len(section))
	for _, id := range sortedIDs(section) {
		rec := section[id]
		_, live := current[rec.Fullname]
		_, dup := recorded[rec.Fullname]
		if !live || dup {
			delete(section, id)
			res.Removed = append(res.Removed, id)
			continue
		}
		recorded[rec.Fullname] = id
	}

	for _, f := range files {
		if _, ok := recorded[f]; ok {
			continue
		}
		id := manifest.NextID(section)
		section[id] = cls.Record(root, f)
		recorded[f] = id
		res.Added = append(res.Added, id)
	}
	return res, nil
}

// TreeFunc opens the tree rooted at dir.
type TreeFunc func(dir string) storage.Lister

// Startup runs Directory over the dropbox and the output directory of every
// job, then saves the manifest.
func Startup(store *manifest.Store, dropbox storage.Lister, open TreeFunc, cls *classify.Classifier, logger *slog.Logger) error {
	return store.Update(func(doc *manifest.Document) (bool, error) {
		if section := doc.Dropbox(); section != nil {
			res, err := Directory(dropbox, section, cls)
			if err != nil {
				return false, err
			}
			logResult(logger, manifest.KeyDropbox, res)
		}
		for _, ref := range doc.Jobs() {
			if ref.Job.Files == nil {
				ref.Job.Files = manifest.Section{}
			}
			if ref.Job.Output == "" {
				continue
			}
			res, err := Directory(open(ref.Job.Output), ref.Job.Files, cls)
			if err != nil {
				return false, err
			}
			logResult(logger, manifest.JobKey(ref.ID), res)
		}
		return true, nil
	})
}

func logResult(logger *slog.Logger, section string, res Result) {
	if !res.Changed() {
		return
	}
	logger.Info("reconcile: section synced",
		slog.String("section", section),
		slog.Int("added", len(res.Added)),
		slog.Int("removed", len(res.Removed)),
		slog.Int("upgraded", len(res.Upgraded)))
}

// sortedIDs returns ids in numeric order so duplicates keep the oldest id.
func sortedIDs(s manifest.Section) []string {
	entries := s.Entries()
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}
