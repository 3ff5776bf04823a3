// Command syncagent keeps a live connection to the DevFlow sync server,
// translates subscription updates into domain events and optionally records
// them to PostgreSQL.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/bacoco/DevFlow-sub010/internal/config"
	"github.com/bacoco/DevFlow-sub010/internal/connection"
	"github.com/bacoco/DevFlow-sub010/internal/coordinator"
	"github.com/bacoco/DevFlow-sub010/internal/database"
	"github.com/bacoco/DevFlow-sub010/internal/events"
	"github.com/bacoco/DevFlow-sub010/internal/recorder"
	"github.com/bacoco/DevFlow-sub010/internal/status"
	"github.com/bacoco/DevFlow-sub010/internal/version"
)

func main() {
	configPath := pflag.StringP("config", "c", "configs/syncagent.yaml", "path to config file")
	envFile := pflag.String("env-file", ".env", "optional dotenv file loaded before the config")
	logLevel := pflag.String("log-level", "", "override log.level from the config")
	jsonLogs := pflag.Bool("json", false, "log as JSON instead of text")
	showVersion := pflag.BoolP("version", "v", false, "print version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	// Set up structured logging
	opts := &slog.HandlerOptions{Level: cfg.LogLevel()}
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if *jsonLogs {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	logger.Info("starting syncagent",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("syncagent failed", "error", err)
		os.Exit(1)
	}
	logger.Info("syncagent stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus(logger)
	defer bus.Close()

	manager := connection.NewManager(cfg.Connection(), bus, connection.WithLogger(logger))
	coord := coordinator.New(manager, bus, coordinator.WithLogger(logger))
	defer coord.Close()

	logEvents(bus, logger)

	statusOpts := []status.Option{status.WithLogger(logger)}

	// Optional database and recorder
	if cfg.Database.Configured() {
		logger.Info("connecting to database",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"database", cfg.Database.Name,
		)
		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()
		statusOpts = append(statusOpts, status.WithDatabase(pool))

		if cfg.Recorder.Enabled {
			if err := database.Migrate(ctx, pool); err != nil {
				return err
			}
			rec := recorder.New(recorder.Config{
				BatchSize:     cfg.Recorder.BatchSize,
				FlushInterval: cfg.Recorder.FlushInterval,
				BufferSize:    cfg.Recorder.BufferSize,
			}, bus, pool, logger)
			if err := rec.Start(ctx); err != nil {
				return fmt.Errorf("start recorder: %w", err)
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := rec.Stop(shutdownCtx); err != nil {
					logger.Warn("recorder stop", "error", err)
				}
			}()
			statusOpts = append(statusOpts, status.WithRecorder(rec))
		}
	}

	startup := newStartupSubscriptions(ctx, manager, cfg.Topics(), logger)
	startup.attach(bus)

	g, gctx := errgroup.WithContext(ctx)

	srv := status.NewServer(cfg.Status.Port, status.NewHandler(manager, coord, statusOpts...))
	g.Go(func() error { return srv.Run(gctx) })

	g.Go(func() error {
		// A failed first connect is retried by the manager itself.
		if err := manager.Connect(gctx); err != nil {
			logger.Warn("initial connect failed", "url", cfg.Server.URL, "error", err)
		}
		<-gctx.Done()
		return manager.Disconnect()
	})

	return g.Wait()
}

func logEvents(bus *events.Bus, logger *slog.Logger) {
	events.Listen(bus, func(ev connection.ReconnectionFailed) {
		logger.Error("giving up on sync server", "attempts", ev.Attempts)
	})
	events.Listen(bus, func(ev coordinator.SyncStatusChanged) {
		logger.Info("sync status", "status", ev.Status)
	})
	events.Listen(bus, func(ev coordinator.QueueFlushed) {
		logger.Info("offline changes sent", "flushed", ev.Flushed, "remaining", ev.Remaining)
	})
	bus.Subscribe(func(ev events.Event) {
		logger.Debug("event", "name", ev.EventName())
	})
}
