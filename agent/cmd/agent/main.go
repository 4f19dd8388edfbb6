package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adlens/adlens/agent/internal/bidding"
	"github.com/adlens/adlens/agent/internal/compute"
	"github.com/adlens/adlens/agent/internal/config"
	"github.com/adlens/adlens/agent/internal/memo"
	"github.com/adlens/adlens/agent/internal/shipper"
)

// flushTimeout bounds result delivery in -once mode.
const flushTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	once := flag.Bool("once", false, "run every job once and exit")
	flag.Parse()

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("adlens-agent starting", "config", *configPath, "once", *once)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	level.Set(parseLevel(cfg.Agent.LogLevel))
	slog.Info("config loaded",
		"server_endpoint", cfg.Agent.ServerEndpoint,
		"sources", len(cfg.Agent.Sources),
		"jobs", len(cfg.Agent.Jobs),
		"run_interval", cfg.Agent.RunInterval,
		"timezone", cfg.Agent.Timezone,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := memo.New(cfg.Agent.Memo)
	if err != nil {
		slog.Error("failed to build memo store", "err", err)
		os.Exit(1)
	}
	if c, ok := store.(io.Closer); ok {
		defer c.Close()
	}

	// Memo, mutations and timezone are read once; a reload only swaps
	// sources, jobs and sinks.
	engine := compute.NewEngine(compute.Options{
		Memo:     store,
		Applier:  bidding.NewApplier(bidding.NewMutator(cfg.Agent.Mutations), cfg.Agent.Mutations),
		Location: cfg.Agent.Location(),
	})

	var ship *shipper.Shipper
	if cfg.Agent.ServerEndpoint != "" {
		ship, err = shipper.New(cfg.Agent)
		if err != nil {
			slog.Error("failed to build shipper", "err", err)
			os.Exit(1)
		}
	}
	var shipFn shipFunc
	if ship != nil {
		shipFn = ship.Ship
	}

	r, err := newRunner(cfg.Agent, engine, shipFn)
	if err != nil {
		slog.Error("failed to build jobs", "err", err)
		os.Exit(1)
	}
	defer r.close()

	if len(cfg.Agent.Jobs) == 0 {
		slog.Warn("no jobs configured, agent will idle")
	}

	if *once {
		r.runOnce(ctx)
		if ship != nil {
			fctx, fcancel := context.WithTimeout(ctx, flushTimeout)
			if err := ship.Flush(fctx); err != nil {
				slog.Warn("results left unsent", "pending", ship.Pending(), "err", err)
			}
			fcancel()
		}
		slog.Info("adlens-agent finished single run")
		return
	}

	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			level.Set(parseLevel(updated.Agent.LogLevel))
			if err := r.reload(updated.Agent); err != nil {
				slog.Error("config reload rejected, keeping previous jobs", "err", err)
				return
			}
			slog.Info("config hot-reloaded", "jobs", len(updated.Agent.Jobs))
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	if ship != nil {
		go ship.Run(ctx)
	}

	// Run loop: once at startup, then every RunInterval.
	go func() {
		r.runOnce(ctx)
		ticker := time.NewTicker(cfg.Agent.RunInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.runOnce(ctx)
			}
		}
	}()

	<-ctx.Done()
	slog.Info("adlens-agent shutting down")
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
