// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mattn/go-isatty"
	"golang.org/x/sync/errgroup"

	"github.com/starford/resultbox/internal/api"
	"github.com/starford/resultbox/internal/auxproc"
	"github.com/starford/resultbox/internal/classify"
	"github.com/starford/resultbox/internal/fileservice"
	"github.com/starford/resultbox/internal/manifest"
	"github.com/starford/resultbox/internal/reconcile"
	"github.com/starford/resultbox/internal/sse"
	"github.com/starford/resultbox/internal/storage"
	"github.com/starford/resultbox/internal/tables"
	"github.com/starford/resultbox/internal/watch"
)

// NewLogger returns a text logger when stdout is a terminal and a JSON logger
// otherwise.
func NewLogger(level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// OpenManifest creates the data directories and loads the manifest, adding
// the processid and dropbox keys when they are missing.
func OpenManifest(cfg *Config) (*manifest.Store, error) {
	for _, dir := range cfg.Data.Subdirs() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	store, err := manifest.Load(cfg.Manifest.Processes, cfg.Manifest.Dropbox)
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}
	if err := store.EnsureKey(manifest.KeyProcessID, manifest.Counter(0), cfg.Manifest.Processes); err != nil {
		return nil, fmt.Errorf("init manifest: %w", err)
	}
	if err := store.EnsureKey(manifest.KeyDropbox, manifest.Section{}, cfg.Manifest.Dropbox); err != nil {
		return nil, fmt.Errorf("init manifest: %w", err)
	}
	return store, nil
}

// OpenService wires the request-side file service over an opened manifest.
func OpenService(cfg *Config, store *manifest.Store, db *tables.DB, logger *slog.Logger, opts ...fileservice.Option) (*fileservice.Service, error) {
	dropbox, err := storage.NewFS(cfg.Data.Dropbox(), storage.WithStaging(cfg.Data.Staging()))
	if err != nil {
		return nil, fmt.Errorf("init dropbox: %w", err)
	}
	return fileservice.NewService(store, db, dropbox, logger, opts...), nil
}

func openTree(dir string) storage.Lister {
	return storage.NewTree(dir)
}

// catchUp reconciles the dropbox and every job once ready is closed. Files
// created between the startup pass and the watches going live produce no
// events; this pass records them.
func catchUp(ctx context.Context, ready <-chan struct{}, store *manifest.Store, dropbox string, cls *classify.Classifier, logger *slog.Logger) error {
	select {
	case <-ready:
	case <-ctx.Done():
		return nil
	}
	if err := reconcile.Startup(store, storage.NewTree(dropbox), openTree, cls, logger); err != nil {
		return fmt.Errorf("catch-up reconcile: %w", err)
	}
	return nil
}

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config
	if app.noGUI {
		cfg.Aux.NoGUI = true
	}
	if app.cleanTables {
		cfg.CleanTables = true
	}

	logger := NewLogger(cfg.App.LogLevel)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("data_dir", cfg.Data.Dir),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	store, err := OpenManifest(cfg)
	if err != nil {
		return err
	}

	db, err := tables.Open(cfg.SQLite.Path)
	if err != nil {
		return fmt.Errorf("init tables: %w", err)
	}
	defer db.Close()

	cls := classify.New(classify.DefaultCacheSize)

	// Catch up with everything that changed while we were not running.
	if err := reconcile.Startup(store, storage.NewTree(cfg.Data.Dropbox()), openTree, cls, logger); err != nil {
		return fmt.Errorf("startup reconcile: %w", err)
	}

	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	recOpts := []reconcile.Option{
		reconcile.WithTables(db),
		reconcile.WithNotifier(broker.PublishChange),
		reconcile.WithLogger(logger),
	}
	supervisor := watch.NewSupervisor(cfg.Watch.LockDir, cfg.Watch.MoveWindow.Std(), logger,
		watch.Root{
			Name:    "dropbox",
			Path:    cfg.Data.Dropbox(),
			Handler: reconcile.NewReconciler(store, reconcile.DropboxOwner{Root: cfg.Data.Dropbox()}, cls, recOpts...),
		},
		watch.Root{
			Name:    "results",
			Path:    cfg.Data.Results(),
			Handler: reconcile.NewReconciler(store, reconcile.JobOwners{}, cls, recOpts...),
		},
	)

	svc, err := OpenService(cfg, store, db, logger)
	if err != nil {
		return err
	}
	apiRouter := api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var aux *auxproc.Set
	if !cfg.Aux.NoGUI {
		aux, err = auxproc.Start(ctx, auxproc.Config{
			Visualization: cfg.Aux.Visualization,
			FrontendDir:   cfg.Aux.FrontendDir,
			FrontendPort:  cfg.Aux.FrontendPort,
		}, logger)
		if err != nil {
			return err
		}
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return supervisor.Run(gCtx)
	})

	g.Go(func() error {
		return catchUp(gCtx, supervisor.Ready(), store, cfg.Data.Dropbox(), cls, logger)
	})

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		aux.Stop(shutdownCtx)

		// A signal does not cancel gCtx; the watchers need an error to stop.
		return errShutdown
	})

	err = g.Wait()

	if cfg.CleanTables {
		if dropErr := db.DropAll(context.Background()); dropErr != nil {
			logger.Warn("clean tables failed", slog.String("error", dropErr.Error()))
		} else {
			logger.Info("Shadow tables dropped")
		}
	}

	if err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

var errShutdown = errors.New("shutdown requested")
