package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"feedplatform/internal/addins"
	"feedplatform/internal/config"
	"feedplatform/internal/fetcher"
	"feedplatform/internal/hooks"
	"feedplatform/internal/lib"
	"feedplatform/internal/lib/notify"
	"feedplatform/internal/parse"
	"feedplatform/internal/storage"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		slog.Error("feedplatform", "error", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "feedplatform",
		Usage: "Fetch feeds and reconcile their entries through addins",
		Description: `Feeds are fetched, parsed and reconciled against the database.
		What gets stored and what happens on the way is decided by the addins
		listed in the addins file.

		Settings are read from environment variables, e.g.:

		DATABASE_PATH=./data/feedplatform.db
		ADDINS_FILE=./addins.yaml
		`,
		Commands: []*cli.Command{
			runCmd(),
			updateCmd(),
			addCmd(),
			fieldsCmd(),
		},
		Action: func(ctx *cli.Context) error {
			return cli.ShowAppHelp(ctx)
		},
	}
}

// app is everything a command needs, built from the configuration.
type app struct {
	cfg    *config.Config
	log    *slog.Logger
	store  *storage.SQLite
	addins *addins.Registry
	engine *parse.Engine
}

func setup() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := newLogger(cfg.LogLevel)

	catalog, err := newCatalog(cfg)
	if err != nil {
		return nil, err
	}
	decls, err := config.LoadAddins(cfg.AddinsFile, catalog)
	if err != nil {
		return nil, fmt.Errorf("load addins: %w", err)
	}
	reg := addins.New(hooks.New(), decls...)
	schema, err := reg.Schema()
	if err != nil {
		return nil, fmt.Errorf("install addins: %w", err)
	}

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create data directory %s: %w", dir, err)
		}
	}
	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.DatabasePath, err)
	}
	store.SetSchema(schema)

	f := fetcher.New(fetcher.NewHTTPClient(cfg.FetchTimeout), fetcher.WithSchemes(cfg.AllowedSchemes...))
	engine := parse.New(store, f, reg, log,
		parse.WithUserAgent(cfg.UserAgent),
		parse.WithWorkers(cfg.Workers),
	)

	log.Debug("addins installed", "count", len(decls), "file", cfg.AddinsFile)
	return &app{cfg: cfg, log: log, store: store, addins: reg, engine: engine}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func newCatalog(cfg *config.Config) (map[string]lib.Factory, error) {
	deps := lib.Deps{Registerer: prometheus.DefaultRegisterer}
	if cfg.TelegramBotToken != "" {
		sender, err := notify.NewTelegramSender(cfg.TelegramBotToken)
		if err != nil {
			return nil, fmt.Errorf("create telegram sender: %w", err)
		}
		deps.Sender = sender
	}
	return lib.Catalog(deps), nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
