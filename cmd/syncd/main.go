package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/mattn/go-sqlite3"

	"github.com/shopmesh/syncd/internal/config"
	"github.com/shopmesh/syncd/internal/db"
	"github.com/shopmesh/syncd/internal/leader"
	"github.com/shopmesh/syncd/internal/registry"
	"github.com/shopmesh/syncd/internal/syncjob"
)

func main() {
	// Parse command-line flags
	configFile := flag.String("config", "", "Path to configuration file (TOML)")
	flag.Parse()

	// Load configuration first; the logger setup depends on it
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	slog.Info("starting syncd", "config_file", *configFile)
	slog.Info("database configuration",
		"driver", cfg.Database.Driver,
		"dsn", cfg.Database.DSN)

	// Open database connection with pool settings
	database, err := db.OpenWithConfig(cfg.Database)
	if err != nil {
		slog.Error("failed to connect to database", "error", err, "driver", cfg.Database.Driver)
		os.Exit(1)
	}
	defer database.Close()

	if !cfg.Database.SkipSchema {
		if err := database.EnsureSchema(); err != nil {
			slog.Error("failed to bootstrap schema", "error", err)
			os.Exit(1)
		}
		slog.Info("database schema ready")
	}

	syncStore := db.NewSyncStore(database)
	scheduleStore := db.NewScheduleStore(database)

	// Without a real marketplace connector configured, stage calls run
	// against the dry-run client.
	var target syncjob.TargetClient
	if cfg.DryRun.Enabled {
		slog.Info("dry-run mode, marketplace calls are simulated", "latency", cfg.DryRun.Latency)
		target = &syncjob.DryRunTarget{Logger: logger, Latency: cfg.DryRun.Latency}
	} else {
		slog.Error("no marketplace connector configured and dry_run disabled")
		os.Exit(1)
	}

	catalog := db.NewCatalog(database)

	dispatcher, err := syncjob.NewDispatcher(cfg.Dispatcher, catalog, target, syncStore, nil, logger)
	if err != nil {
		slog.Error("failed to build dispatcher", "error", err)
		os.Exit(1)
	}
	dispatcher.Start()

	reg := registry.New(cfg.Registry, scheduleStore, dispatcher, nil, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Leader.Enabled {
		// Only the lease holder runs schedules; on leadership loss the
		// registry is stopped and the process exits so a restart rejoins
		// the election cleanly.
		elector, eerr := leader.New(cfg.Leader, logger)
		if eerr != nil {
			slog.Error("failed to set up leader election", "error", eerr)
			os.Exit(1)
		}

		elector.Run(ctx,
			func(leaderCtx context.Context) {
				if err := reg.Start(); err != nil {
					slog.Error("failed to start schedule registry", "error", err)
					stop()
					return
				}
				<-leaderCtx.Done()
			},
			func() {
				reg.Shutdown()
			},
		)
	} else {
		if err := reg.Start(); err != nil {
			slog.Error("failed to start schedule registry", "error", err)
			os.Exit(1)
		}
		slog.Info("syncd is running")
		<-ctx.Done()
		reg.Shutdown()
	}

	slog.Info("shutting down gracefully")
	dispatcher.Shutdown()
	slog.Info("shutdown complete")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
