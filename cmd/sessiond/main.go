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

	"github.com/hexlattice/sessiond/internal/api"
	"github.com/hexlattice/sessiond/internal/config"
	"github.com/hexlattice/sessiond/internal/coord"
	"github.com/hexlattice/sessiond/internal/events"
	"github.com/hexlattice/sessiond/internal/provision"
	"github.com/hexlattice/sessiond/internal/queue"
	"github.com/hexlattice/sessiond/internal/storage"
	"github.com/hexlattice/sessiond/internal/storage/memory"
	"github.com/hexlattice/sessiond/internal/storage/postgres"
)

const shutdownGrace = 10 * time.Second

var (
	version = flag.Bool("version", false, "Print version and exit")
	debug   = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Println("sessiond v0.1.0")
		os.Exit(0)
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	cfg := config.FromEnv()

	logger.Info("Starting sessiond",
		"version", "0.1.0",
		"debug", *debug,
		"http_addr", cfg.HTTPAddr,
		"agent_mode", cfg.AgentMode,
		"auth_enabled", cfg.APIKey != "",
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var coordStore coord.Store
	if cfg.RedisURL != "" {
		rs, err := coord.NewRedisStore(cfg.RedisURL)
		if err != nil {
			logger.Error("Redis connection failed", "error", err)
			os.Exit(1)
		}
		coordStore = rs
		logger.Info("Coordination store: redis")
	} else {
		coordStore = coord.NewMemoryStore()
		logger.Warn("Coordination store: in-memory; workers must run in this process")
	}
	defer coordStore.Close()

	var entities storage.Store
	if cfg.DatabaseURL != "" {
		pg, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("Postgres connection failed", "error", err)
			os.Exit(1)
		}
		entities = pg
		logger.Info("Entity store: postgres")
	} else {
		entities = memory.New()
		logger.Warn("Entity store: in-memory; sessions are lost on restart")
	}
	defer entities.Close()

	var provisioner provision.Provisioner
	if cfg.ComputerUseImage == "none" {
		// COMPUTER_USE_IMAGE=none runs without a VM runtime, handing out
		// fixed VNC metadata.
		provisioner = &provision.Static{Info: provision.VMInfo{
			VNCHost:  cfg.PublicHost,
			VNCPort:  5900,
			NoVNCURL: fmt.Sprintf("http://%s:6080/vnc.html", cfg.PublicHost),
		}}
		logger.Warn("VM provisioning disabled, using static connection metadata")
	} else {
		provisioner = provision.NewDocker(cfg.ComputerUseImage, cfg.PublicHost, logger)
	}

	dispatcher := queue.NewDispatcher(coordStore)
	distributor := events.NewDistributor(entities, coordStore, logger)

	server := api.New(logger, entities, coordStore, dispatcher, distributor, provisioner, cfg)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", "error", err)
	}
	logger.Info("sessiond stopped")
}
