package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/toolhub/offlinesync/internal/agent"
	"github.com/toolhub/offlinesync/internal/config"
	"github.com/toolhub/offlinesync/internal/logger"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Server.LogLevel)

	a, err := agent.New(cfg, slog.Default())
	if err != nil {
		slog.Error("failed to build agent", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		slog.Error("agent start failed", "error", err)
		os.Exit(1)
	}

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: a.Handler(),
	}
	serverErr := make(chan error, 1)
	go func() {
		slog.Info("offlinesync listening", "addr", cfg.Server.Addr, "upstream", cfg.Upstream.URL, "version", cfg.Cache.Version)
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		slog.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("server shutdown incomplete", "error", err)
	}
	if err := a.Shutdown(shutdownCtx); err != nil {
		slog.Warn("agent shutdown incomplete", "error", err)
	}
}
