package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adlens/adlens/pkg/types"
	"github.com/adlens/adlens/server/internal/alerts"
	"github.com/adlens/adlens/server/internal/api"
	"github.com/adlens/adlens/server/internal/auth"
	"github.com/adlens/adlens/server/internal/config"
	"github.com/adlens/adlens/server/internal/history"
	"github.com/adlens/adlens/server/internal/receiver"
	"github.com/adlens/adlens/server/internal/store"
	"github.com/adlens/adlens/server/internal/ws"
)

const (
	broadcastInterval = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("adlens-server starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	slog.Info("config loaded",
		"http_port", cfg.Server.HTTPPort,
		"auth_mode", cfg.Server.Auth.Mode,
		"result_ttl", cfg.Server.Results.TTL,
		"history", cfg.Server.Storage.Path,
		"alert_rules", len(cfg.Server.Alerts.Rules),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Latest result per job with background TTL eviction.
	st := store.New(cfg.Server.Results.TTL)
	go st.Run(ctx)

	var hist *history.Store
	if cfg.Server.Storage.Path != "" {
		hist, err = history.Open(cfg.Server.Storage.Path)
		if err != nil {
			slog.Error("failed to open history", "path", cfg.Server.Storage.Path, "err", err)
			os.Exit(1)
		}
		defer hist.Close()
		go hist.Run(ctx, cfg.Server.Storage.Retention)
	}

	alertEngine := alerts.New(cfg.Server.Alerts)

	// WebSocket hub: periodic snapshots plus a push per ingested result.
	hub := ws.New(st, alertEngine, broadcastInterval)
	go hub.Run(ctx)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           newHandler(cfg.Server, st, hist, alertEngine, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("adlens-server shutting down")
	sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer scancel()
	httpSrv.Shutdown(sctx) //nolint:errcheck
}

// newHandler mounts ingest, the REST API and the WebSocket hub behind the
// API key middleware. hist may be nil when history is disabled.
func newHandler(cfg config.ServerConfig, st *store.Store, hist *history.Store, al *alerts.Engine, hub *ws.Hub) http.Handler {
	// Keep the interfaces nil when history is off; a typed nil would not be.
	var (
		saver  receiver.Saver
		reader api.HistoryReader
	)
	if hist != nil {
		saver, reader = hist, hist
	}

	rec := receiver.New(st, saver, al)
	rec.OnResult(func(res *types.Result) { hub.Publish(res) })

	mux := http.NewServeMux()
	mux.Handle("/api/v1/ingest", rec)
	mux.Handle("/api/", api.New(st, reader, al))
	mux.Handle("/ws/results", hub)

	return auth.APIKey(cfg.Auth.Mode, cfg.Auth.EffectiveHeader(), cfg.Auth.Key())(mux)
}
