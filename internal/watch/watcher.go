// Package watch turns fsnotify notifications below a root into Created,
// Deleted and Moved events and routes them to one handler per root.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/starford/resultbox/internal/storage"
)

// DefaultMoveWindow is how long a Rename waits for the Create that completes
// the move before it is reported as a delete.
const DefaultMoveWindow = 250 * time.Millisecond

// Watcher watches one directory tree. A Watcher runs once.
type Watcher struct {
	root       string
	moveWindow time.Duration
	logger     *slog.Logger

	fw    *fsnotify.Watcher
	out   chan<- Event
	dirs  map[string]struct{}
	moved map[string]string // old dir -> new dir, until the self-move arrives
	ready chan struct{}
}

// NewWatcher creates a watcher for root. A non-positive moveWindow uses
// DefaultMoveWindow.
func NewWatcher(root string, moveWindow time.Duration, logger *slog.Logger) *Watcher {
	if moveWindow <= 0 {
		moveWindow = DefaultMoveWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		root:       filepath.Clean(root),
		moveWindow: moveWindow,
		logger:     logger,
		dirs:       make(map[string]struct{}),
		moved:      make(map[string]string),
		ready:      make(chan struct{}),
	}
}

// Root returns the watched directory.
func (w *Watcher) Root() string { return w.root }

// Ready is closed once every directory present at start is watched.
func (w *Watcher) Ready() <-chan struct{} { return w.ready }

// Run sends events to out until ctx is cancelled. out is closed when Run
// returns.
func (w *Watcher) Run(ctx context.Context, out chan<- Event) error {
	defer close(out)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	w.fw, w.out = fw, out

	if err := w.addDirs(w.root); err != nil {
		return err
	}
	close(w.ready)
	w.logger.Info("watcher: started", slog.String("root", w.root))

	// pending is the old path of a Rename still waiting for its Create.
	var pending string
	timer := time.NewTimer(w.moveWindow)
	timer.Stop()
	defer timer.Stop()
	var expired <-chan time.Time

	clearPending := func() {
		pending = ""
		timer.Stop()
		expired = nil
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher: stopped", slog.String("root", w.root))
			return nil

		case <-expired:
			src := pending
			clearPending()
			if !w.movedAway(ctx, src) {
				return nil
			}

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			sent := true
			switch {
			case ev.Has(fsnotify.Rename):
				if ev.Name == pending {
					continue
				}
				if dest, ok := w.moved[ev.Name]; ok {
					// The moved directory's own watch is gone; watch it again.
					delete(w.moved, ev.Name)
					w.rewatch(dest)
					continue
				}
				if pending != "" {
					src := pending
					clearPending()
					if !w.movedAway(ctx, src) {
						return nil
					}
				}
				pending = ev.Name
				timer.Reset(w.moveWindow)
				expired = timer.C

			case ev.Has(fsnotify.Create):
				if pending != "" {
					src := pending
					clearPending()
					sent = w.movedTo(ctx, src, ev.Name)
				} else {
					sent = w.created(ctx, ev.Name)
				}

			case ev.Has(fsnotify.Remove):
				w.forgetDirs(ev.Name)
				sent = w.emit(ctx, Event{Kind: Deleted, Path: ev.Name})
			}
			if !sent {
				return nil
			}

		case watchErr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher: error", slog.String("root", w.root), slog.String("error", watchErr.Error()))
		}
	}
}

func (w *Watcher) emit(ctx context.Context, ev Event) bool {
	select {
	case w.out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// created reports a new file, or every file of a new directory.
func (w *Watcher) created(ctx context.Context, path string) bool {
	info, err := os.Lstat(path)
	if err != nil {
		// Already gone again, e.g. a temporary file.
		return true
	}
	if !info.IsDir() {
		return w.emit(ctx, Event{Kind: Created, Path: path})
	}
	w.rewatch(path)
	files, err := storage.NewTree(path).Files()
	if err != nil {
		w.logger.Warn("watcher: list new dir failed", slog.String("path", path), slog.String("error", err.Error()))
		return true
	}
	for _, f := range files {
		if !w.emit(ctx, Event{Kind: Created, Path: f}) {
			return false
		}
	}
	return true
}

// movedTo completes a rename from src to dest. Directories expand into one
// Moved event per contained file.
func (w *Watcher) movedTo(ctx context.Context, src, dest string) bool {
	info, err := os.Lstat(dest)
	if err != nil {
		return w.emit(ctx, Event{Kind: Deleted, Path: src})
	}
	if !info.IsDir() {
		return w.emit(ctx, Event{Kind: Moved, Path: src, Dest: dest})
	}

	w.forgetDirs(src)
	w.rewatch(dest)
	w.moved[src] = dest

	files, err := storage.NewTree(dest).Files()
	if err != nil {
		w.logger.Warn("watcher: list moved dir failed", slog.String("path", dest), slog.String("error", err.Error()))
		return w.emit(ctx, Event{Kind: Deleted, Path: src})
	}
	for _, f := range files {
		rel, err := filepath.Rel(dest, f)
		if err != nil {
			continue
		}
		if !w.emit(ctx, Event{Kind: Moved, Path: filepath.Join(src, rel), Dest: f}) {
			return false
		}
	}
	return true
}

// movedAway reports a rename whose destination is outside the watched tree.
func (w *Watcher) movedAway(ctx context.Context, src string) bool {
	w.forgetDirs(src)
	return w.emit(ctx, Event{Kind: Deleted, Path: src})
}

func (w *Watcher) rewatch(dir string) {
	if err := w.addDirs(dir); err != nil {
		w.logger.Warn("watcher: add dir failed", slog.String("path", dir), slog.String("error", err.Error()))
		return
	}
	w.logger.Debug("watcher: watching dir", slog.String("path", dir))
}

// addDirs adds dir and all its subdirectories.
func (w *Watcher) addDirs(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fw.Add(path); err != nil {
			return err
		}
		w.dirs[path] = struct{}{}
		return nil
	})
}

// forgetDirs drops the watches of dir and everything below it. Paths that
// were never directories are ignored.
func (w *Watcher) forgetDirs(dir string) {
	prefix := dir + string(os.PathSeparator)
	for d := range w.dirs {
		if d != dir && !strings.HasPrefix(d, prefix) {
			continue
		}
		// The kernel may already have dropped the watch.
		_ = w.fw.Remove(d)
		delete(w.dirs, d)
	}
}
