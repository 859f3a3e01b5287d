package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/hexlattice/sessiond/internal/agent"
	"github.com/hexlattice/sessiond/internal/config"
	"github.com/hexlattice/sessiond/internal/coord"
	"github.com/hexlattice/sessiond/internal/events"
	"github.com/hexlattice/sessiond/internal/lock"
	"github.com/hexlattice/sessiond/internal/queue"
	"github.com/hexlattice/sessiond/internal/storage"
	"github.com/hexlattice/sessiond/internal/storage/postgres"
	"github.com/hexlattice/sessiond/internal/worker"
)

var (
	version     = flag.Bool("version", false, "Print version and exit")
	debug       = flag.Bool("debug", false, "Enable debug logging")
	concurrency = flag.Int("concurrency", 1, "Number of loop instances in this process")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Println("sessionworker v0.1.0")
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

	logger.Info("Starting sessionworker",
		"version", "0.1.0",
		"debug", *debug,
		"agent_mode", cfg.AgentMode,
		"concurrency", *concurrency,
		"lock_ttl", cfg.LockTTL,
	)

	if cfg.RedisURL == "" || cfg.DatabaseURL == "" {
		logger.Error("Worker requires REDIS_URL and DATABASE_URL; in-memory backends cannot be shared across processes")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coordStore, err := coord.NewRedisStore(cfg.RedisURL)
	if err != nil {
		logger.Error("Redis connection failed", "error", err)
		os.Exit(1)
	}
	defer coordStore.Close()

	var entities storage.Store
	pg, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("Postgres connection failed", "error", err)
		os.Exit(1)
	}
	entities = pg
	defer entities.Close()

	processor, err := agent.New(agent.Mode(cfg.AgentMode), cfg.AgentEndpoint)
	if err != nil {
		logger.Error("Agent processor init failed", "error", err)
		os.Exit(1)
	}

	dispatcher := queue.NewDispatcher(coordStore)
	locks := lock.NewManager(coordStore)
	distributor := events.NewDistributor(entities, coordStore, logger)

	opts := worker.Options{
		LockTTL:           cfg.LockTTL,
		DequeueTimeout:    cfg.DequeueTimeout,
		ContentionBackoff: cfg.ContentionBackoff,
		Model:             cfg.Model,
		APIKey:            cfg.AnthropicAPIKey,
	}

	var wg sync.WaitGroup
	for i := 0; i < *concurrency; i++ {
		loop := worker.New(dispatcher, locks, entities, distributor, processor, logger.With("loop", i), opts)
		wg.Add(1)
		go func() {
			defer wg.Done()
			loop.Run(ctx)
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Shutdown signal received", "signal", sig.String())

	cancel()
	wg.Wait()
	logger.Info("sessionworker stopped")
}
