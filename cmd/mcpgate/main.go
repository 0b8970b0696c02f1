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

	"github.com/vocoip/mcp-test/config"
	"github.com/vocoip/mcp-test/internal/adapters"
	"github.com/vocoip/mcp-test/internal/dispatch"
	"github.com/vocoip/mcp-test/internal/logging"
	"github.com/vocoip/mcp-test/internal/observability"
	"github.com/vocoip/mcp-test/internal/registry"
	"github.com/vocoip/mcp-test/internal/server"
	"github.com/vocoip/mcp-test/internal/version"

	// Adapter types register themselves with the factory.
	_ "github.com/vocoip/mcp-test/internal/adapters/anthropic"
	_ "github.com/vocoip/mcp-test/internal/adapters/openaicompat"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		return
	}

	logging.Setup(logging.ParseLevel(*logLevel))

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}

	adapterSet, err := adapters.BuildAll(cfg.Backends)
	if err != nil {
		slog.Error("failed to build backend adapters", "error", err)
		os.Exit(1)
	}

	reg, err := registry.New(adapterSet)
	if err != nil {
		slog.Error("failed to build model registry", "error", err)
		os.Exit(1)
	}

	d := dispatch.New(reg)
	rec := observability.NewRecorder()

	srv := server.New(d, rec, &server.Config{
		MetricsEnabled: cfg.Server.MetricsEnabled,
	})

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		sig := <-quit
		slog.Info("shutting down", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	addr := ":" + cfg.Server.Port
	slog.Info("starting gateway",
		"version", version.Version,
		"addr", addr,
		"models", reg.Count(),
	)

	if err := srv.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}
