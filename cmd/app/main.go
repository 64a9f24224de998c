package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/resultbox/internal"
	"github.com/starford/resultbox/internal/classify"
	"github.com/starford/resultbox/internal/fileservice"
	"github.com/starford/resultbox/internal/mcpserver"
	"github.com/starford/resultbox/internal/tables"
	pkgconfig "github.com/starford/resultbox/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadLayered(cmd.String("config"), expandHome(cmd.String("override")), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func expandHome(path string) string {
	if len(path) < 2 || path[:2] != "~/" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
		internal.WithNoGUI(cmd.Bool("no-gui")),
		internal.WithCleanTables(cmd.Bool("clean-tables")),
	}

	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}

	return nil
}

// runMCP serves the MCP tools over stdio. Logs go to stderr so they do not
// corrupt the protocol stream. The serve process owns the watchers, so every
// tool call re-reads the manifest files it has rewritten.
func runMCP(_ context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.App.LogLevel}))
	slog.SetDefault(logger)

	store, err := internal.OpenManifest(cfg)
	if err != nil {
		return err
	}
	db, err := tables.Open(cfg.SQLite.Path)
	if err != nil {
		return fmt.Errorf("init tables: %w", err)
	}
	defer db.Close()

	svc, err := internal.OpenService(cfg, store, db, logger, fileservice.WithRefresh())
	if err != nil {
		return err
	}
	return mcpserver.New(svc, classify.New(classify.DefaultCacheSize)).ServeStdio()
}

func main() {
	configFlags := []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "Path to config file",
			DefaultText: "config/config.yaml",
			Value:       "config/config.yaml",
			Sources:     cli.EnvVars("APP_CONFIG_FILE"),
		},
		&cli.StringFlag{
			Name:    "override",
			Usage:   "Per-user config file applied on top of --config when it exists",
			Value:   "~/.resultbox/config.yaml",
			Sources: cli.EnvVars("APP_CONFIG_OVERRIDE"),
		},
	}

	serveFlags := []cli.Flag{
		&cli.BoolFlag{
			Name:  "no-gui",
			Usage: "Do not start the visualization and frontend servers",
		},
		&cli.BoolFlag{
			Name:  "clean-tables",
			Usage: "Drop every shadow table on shutdown",
		},
	}

	cmd := &cli.Command{
		Name:           "resultbox",
		Usage:          "Watches pVAC-Seq inputs and results and serves them over a REST API",
		Flags:          configFlags,
		DefaultCommand: "serve",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the API server and the filesystem watchers",
				Flags:  serveFlags,
				Action: runServe,
			},
			{
				Name:  "manifest",
				Usage: "Print the manifest",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "section",
						Usage: "Only print this section (dropbox or process-N)",
					},
					&cli.StringFlag{
						Name:  "query",
						Usage: "JSONPath expression evaluated against the manifest",
					},
				},
				Action: runManifest,
			},
			{
				Name:   "mcp",
				Usage:  "Serve the MCP tools over stdio",
				Action: runMCP,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
