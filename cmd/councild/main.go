// councild is the deliberation engine's HTTP entrypoint: it loads
// configuration and the database, dials the gRPC backend pool, and serves
// the gin HTTP+SSE+websocket surface until a shutdown signal arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/council-engine/council/pkg/backend"
	"github.com/council-engine/council/pkg/config"
	"github.com/council-engine/council/pkg/convstore"
	"github.com/council-engine/council/pkg/database"
	"github.com/council-engine/council/pkg/httpapi"
	"github.com/council-engine/council/pkg/leaderboard"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "Path to configuration directory")
	councilsDir := flag.String("councils-dir", getEnv("COUNCILS_DIR", "./deploy/councils"), "Path to council definition directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("could not load .env file, continuing with existing environment", "path", envPath, "error", err)
	} else {
		slog.Info("loaded environment", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")

	if err := run(*configDir, *councilsDir, httpPort); err != nil {
		slog.Error("councild exited with error", "error", err)
		os.Exit(1)
	}
}

func run(configDir, councilsDir, httpPort string) error {
	ctx := context.Background()

	global, err := config.LoadGlobal(filepath.Join(configDir, "models.yaml"))
	if err != nil {
		return fmt.Errorf("load global config: %w", err)
	}
	councils, err := config.LoadCouncils(councilsDir)
	if err != nil {
		return fmt.Errorf("load councils: %w", err)
	}
	slog.Info("configuration loaded", "models", len(global.Models), "councils", len(councils))

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		return fmt.Errorf("load database config: %w", err)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("error closing database client", "error", err)
		}
	}()
	slog.Info("connected to postgres, schema migrated")

	boardStore, err := leaderboard.NewStore(ctx, dbConfig.DSN())
	if err != nil {
		return fmt.Errorf("open leaderboard store: %w", err)
	}
	defer boardStore.Close()
	board := leaderboard.New(boardStore)

	convStore, err := convstore.NewStore(ctx, dbConfig.DSN())
	if err != nil {
		return fmt.Errorf("open conversation store: %w", err)
	}
	defer convStore.Close()

	registry, closeBackends, err := buildRegistry(global)
	if err != nil {
		return fmt.Errorf("build backend registry: %w", err)
	}
	defer closeBackends()
	slog.Info("backend registry ready", "backends", registry.Available())

	server := httpapi.NewServer(httpapi.Deps{
		Registry: registry,
		Global:   global,
		Councils: councils,
		Store:    convStore,
		Board:    board,
		DBClient: dbClient,
	})

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", ":"+httpPort)
		if err := server.Start(":" + httpPort); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-sigCh:
		slog.Info("shutdown signal received", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	slog.Info("councild stopped cleanly")
	return nil
}

// buildRegistry dials one GRPCBackend per configured model, all against the
// single gRPC address the model-serving sidecar listens on (BACKEND_ADDR) —
// the model id selects which underlying model the sidecar routes to, per
// wireRequest.Model. Each backend is wrapped in the retry decorator using
// timeout_config's max_retries/retry_backoff_factor.
func buildRegistry(global *config.GlobalConfig) (*backend.Registry, func(), error) {
	addr := getEnv("BACKEND_ADDR", "localhost:9000")

	retryCfg := backend.DefaultRetryConfig()
	if global.TimeoutConfig.MaxRetries > 0 {
		retryCfg.MaxRetries = global.TimeoutConfig.MaxRetries
	}
	if global.TimeoutConfig.RetryBackoffFactor > 0 {
		retryCfg.BackoffBase = time.Duration(global.TimeoutConfig.RetryBackoffFactor * float64(time.Second))
	}

	backends := make([]backend.Backend, 0, len(global.Models))
	var conns []*backend.GRPCBackend
	for _, m := range global.Models {
		b, err := backend.NewGRPCBackend(m.ID, addr, m.ID)
		if err != nil {
			for _, c := range conns {
				_ = c.Close()
			}
			return nil, nil, fmt.Errorf("dial backend %s: %w", m.ID, err)
		}
		backends = append(backends, backend.WithRetry(b, retryCfg))
		conns = append(conns, b)
	}

	closeAll := func() {
		for _, c := range conns {
			_ = c.Close()
		}
	}
	return backend.NewRegistry(backends...), closeAll, nil
}
