package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/starford/resultbox/internal/apperr"
	"golang.org/x/sync/errgroup"
)

// Handler applies events of one root. *reconcile.Reconciler implements it.
type Handler interface {
	Create(ctx context.Context, path string) error
	Delete(ctx context.Context, path string) error
	Move(ctx context.Context, src, dest string) error
}

// Root is a watched directory and the handler its events are routed to.
// Name identifies the root's lock file.
type Root struct {
	Name    string
	Path    string
	Handler Handler
}

// Supervisor runs one watcher and one dispatcher per root.
type Supervisor struct {
	roots      []Root
	lockDir    string
	moveWindow time.Duration
	logger     *slog.Logger
	ready      chan struct{}
}

// NewSupervisor creates a supervisor whose root locks live in lockDir.
func NewSupervisor(lockDir string, moveWindow time.Duration, logger *slog.Logger, roots ...Root) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		roots:      roots,
		lockDir:    lockDir,
		moveWindow: moveWindow,
		logger:     logger,
		ready:      make(chan struct{}),
	}
}

// Ready is closed once every root is locked and fully watched. Changes made
// after that are delivered as events.
func (s *Supervisor) Ready() <-chan struct{} {
	return s.ready
}

// Run watches every root until ctx is cancelled or a watcher fails. Each root
// is locked exclusively for the lifetime of Run; a root locked by another
// process fails with apperr.ErrRootLocked before anything is watched.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := os.MkdirAll(s.lockDir, 0o755); err != nil {
		return fmt.Errorf("watch: lock dir: %w", err)
	}

	locks := make([]*flock.Flock, 0, len(s.roots))
	defer func() {
		for _, l := range locks {
			_ = l.Unlock()
		}
	}()
	for _, root := range s.roots {
		l := flock.New(filepath.Join(s.lockDir, root.Name+".lock"))
		ok, err := l.TryLock()
		if err != nil {
			return fmt.Errorf("watch: lock %s: %w", root.Name, err)
		}
		if !ok {
			return fmt.Errorf("watch: %s: %w", root.Name, apperr.ErrRootLocked)
		}
		locks = append(locks, l)
	}

	g, gctx := errgroup.WithContext(ctx)
	watchers := make([]*Watcher, 0, len(s.roots))
	for _, root := range s.roots {
		events := make(chan Event, 64)
		w := NewWatcher(root.Path, s.moveWindow, s.logger.With(slog.String("watch", root.Name)))
		watchers = append(watchers, w)
		g.Go(func() error {
			if err := w.Run(gctx, events); err != nil {
				return fmt.Errorf("watch: %s: %w", root.Name, err)
			}
			return nil
		})
		g.Go(func() error {
			s.dispatch(gctx, root, events)
			return nil
		})
	}
	g.Go(func() error {
		for _, w := range watchers {
			select {
			case <-w.Ready():
			case <-gctx.Done():
				return nil
			}
		}
		close(s.ready)
		return nil
	})
	return g.Wait()
}

// dispatch applies events in arrival order until the watcher closes the
// channel. Handler errors are logged and not retried.
func (s *Supervisor) dispatch(ctx context.Context, root Root, events <-chan Event) {
	for ev := range events {
		var err error
		switch ev.Kind {
		case Created:
			err = root.Handler.Create(ctx, ev.Path)
		case Deleted:
			err = root.Handler.Delete(ctx, ev.Path)
		case Moved:
			err = root.Handler.Move(ctx, ev.Path, ev.Dest)
		}
		if err != nil {
			s.logger.Error("watcher: handle event failed",
				slog.String("root", root.Name),
				slog.String("kind", ev.Kind.String()),
				slog.String("path", ev.Path),
				slog.String("error", err.Error()))
		}
	}
}
