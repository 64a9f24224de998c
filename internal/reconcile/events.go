package reconcile

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/resultbox/internal/classify"
	"github.com/starford/resultbox/internal/manifest"
)

// Change kinds reported to a Notifier.
const (
	ChangeCreated = "created"
	ChangeDeleted = "deleted"
	ChangeMoved   = "moved"
)

// Change describes one manifest mutation.
type Change struct {
	Kind    string `json:"kind"`
	Section string `json:"section"`
	ID      string `json:"id"`
	Path    string `json:"path"`
	Dest    string `json:"dest,omitempty"`
}

// Notifier is called after a mutation has been saved.
type Notifier func(Change)

// Dropper removes the shadow table of a deleted record.
type Dropper interface {
	Drop(ctx context.Context, name string) error
}

// Reconciler applies single filesystem changes below one watched root to the
// manifest. Every mutation is saved before the store lock is released.
type Reconciler struct {
	store  *manifest.Store
	owners Resolver
	cls    *classify.Classifier
	tables Dropper
	notify Notifier
	logger *slog.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithTables drops shadow tables of deleted records.
func WithTables(d Dropper) Option {
	return func(r *Reconciler) { r.tables = d }
}

// WithNotifier reports every saved change to fn.
func WithNotifier(fn Notifier) Option {
	return func(r *Reconciler) { r.notify = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// NewReconciler creates a reconciler for the paths owners can resolve.
func NewReconciler(store *manifest.Store, owners Resolver, cls *classify.Classifier, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:  store,
		owners: owners,
		cls:    cls,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// pending collects what a locked mutation did so side effects can run after
// the lock is released.
type pending struct {
	changes []Change
	drops   []string
}

// Create records path unless it has no owner or is already recorded.
func (r *Reconciler) Create(ctx context.Context, path string) error {
	var p pending
	err := r.store.Update(func(doc *manifest.Document) (bool, error) {
		return r.createLocked(doc, path, &p), nil
	})
	return r.finish(ctx, p, err)
}

// Delete forgets path and, when path was a directory, everything below it.
// Unknown paths are ignored.
func (r *Reconciler) Delete(ctx context.Context, path string) error {
	var p pending
	err := r.store.Update(func(doc *manifest.Document) (bool, error) {
		return r.deleteLocked(doc, path, &p), nil
	})
	return r.finish(ctx, p, err)
}

// Move follows a rename. Within one owner the record keeps its id and is
// reclassified by the new name; across owners it is a delete plus a create.
func (r *Reconciler) Move(ctx context.Context, src, dest string) error {
	var p pending
	err := r.store.Update(func(doc *manifest.Document) (bool, error) {
		from, srcOK := r.owners.Resolve(doc, src)
		to, destOK := r.owners.Resolve(doc, dest)
		switch {
		case !srcOK && !destOK:
			r.logger.Debug("reconcile: move outside watched roots",
				slog.String("src", src), slog.String("dest", dest))
			return false, nil
		case srcOK && destOK && from.Key == to.Key:
			return r.renameLocked(doc, from, src, dest, &p), nil
		}
		deleted := srcOK && r.deleteLocked(doc, src, &p)
		created := destOK && r.createLocked(doc, dest, &p)
		return deleted || created, nil
	})
	return r.finish(ctx, p, err)
}

func (r *Reconciler) createLocked(doc *manifest.Document, path string, p *pending) bool {
	owner, ok := r.owners.Resolve(doc, path)
	if !ok {
		return false
	}
	files := owner.files(doc)
	if files == nil {
		return false
	}
	if _, exists := files.FindByPath(path); exists {
		return false
	}
	id := manifest.NextID(files)
	files[id] = r.cls.Record(owner.Root, path)
	r.logger.Info("reconcile: assigned",
		slog.String("section", owner.Key), slog.String("id", id), slog.String("path", path))
	p.changes = append(p.changes, Change{Kind: ChangeCreated, Section: owner.Key, ID: id, Path: path})
	return true
}

func (r *Reconciler) deleteLocked(doc *manifest.Document, path string, p *pending) bool {
	owner, ok := r.owners.Resolve(doc, path)
	if !ok {
		return false
	}
	files := owner.files(doc)
	rel, _ := filepath.Rel(owner.Root, path)
	prefix := path + string(os.PathSeparator)
	changed := false
	for _, id := range sortedIDs(files) {
		rec := files[id]
		if rec.Fullname != path && rec.DisplayName != rel && !strings.HasPrefix(rec.Fullname, prefix) {
			continue
		}
		delete(files, id)
		r.logger.Info("reconcile: removed",
			slog.String("section", owner.Key), slog.String("id", id), slog.String("path", rec.Fullname))
		p.changes = append(p.changes, Change{Kind: ChangeDeleted, Section: owner.Key, ID: id, Path: rec.Fullname})
		p.drops = append(p.drops, owner.TableName(id))
		changed = true
	}
	return changed
}

func (r *Reconciler) renameLocked(doc *manifest.Document, owner Owner, src, dest string, p *pending) bool {
	files := owner.files(doc)
	if files == nil {
		return false
	}
	id, ok := files.FindByPath(src)
	if !ok {
		return r.createLocked(doc, dest, p)
	}
	if stale, exists := files.FindByPath(dest); exists && stale != id {
		delete(files, stale)
		p.drops = append(p.drops, owner.TableName(stale))
		p.changes = append(p.changes, Change{Kind: ChangeDeleted, Section: owner.Key, ID: stale, Path: dest})
	}
	files[id] = r.cls.Record(owner.Root, dest)
	r.logger.Info("reconcile: moved",
		slog.String("section", owner.Key), slog.String("id", id),
		slog.String("src", src), slog.String("dest", dest))
	p.changes = append(p.changes, Change{Kind: ChangeMoved, Section: owner.Key, ID: id, Path: src, Dest: dest})
	return true
}

// finish drops shadow tables and notifies once the save succeeded.
func (r *Reconciler) finish(ctx context.Context, p pending, err error) error {
	if err != nil {
		return err
	}
	if r.tables != nil {
		for _, name := range p.drops {
			if dropErr := r.tables.Drop(ctx, name); dropErr != nil {
				r.logger.Warn("reconcile: drop table failed",
					slog.String("table", name), slog.String("error", dropErr.Error()))
			}
		}
	}
	if r.notify != nil {
		for _, c := range p.changes {
			r.notify(c)
		}
	}
	return nil
}
