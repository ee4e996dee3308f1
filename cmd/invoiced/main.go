// Invoiced is the invoice normalization daemon.
//
// It serves the correction pipeline over HTTP: documents go in, normalized
// documents with an audit trail come out, and human verdicts feed the
// vendor memory bank.
//
// Usage:
//
//	# Start with defaults (in-memory store, port 8080)
//	invoiced
//
//	# Persist memories and seed from a correction history
//	invoiced -config /etc/invoiced/config.yaml
//
//	# Configure via environment
//	INVOICED_SERVER_PORT=9191 INVOICED_STORE_PATH=/var/lib/invoiced/memories.db invoiced
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/Harsh-End-Dot/invoice-memory-agent/internal/bootstrap"
	"github.com/Harsh-End-Dot/invoice-memory-agent/internal/config"
	"github.com/Harsh-End-Dot/invoice-memory-agent/internal/logging"
	"github.com/Harsh-End-Dot/invoice-memory-agent/internal/memorybank"
	"github.com/Harsh-End-Dot/invoice-memory-agent/internal/pipeline"
	"github.com/Harsh-End-Dot/invoice-memory-agent/internal/rules"
	"github.com/Harsh-End-Dot/invoice-memory-agent/internal/server"
	"github.com/Harsh-End-Dot/invoice-memory-agent/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  invoiced           Start the invoiced daemon\n")
			fmt.Fprintf(os.Stderr, "  invoiced version   Show version information\n")
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("invoiced\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the daemon and blocks until the context is cancelled.
//
//  1. Loads and validates configuration
//  2. Initializes logger and metrics
//  3. Opens the memory store (SQLite when a path is configured)
//  4. Wires the rule registry and pipeline engine
//  5. Optionally seeds the memory bank from a bootstrap file
//  6. Starts the HTTP server and shuts it down on cancellation
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck // stderr sync failure is unactionable

	var store memorybank.Store
	if cfg.Store.Path != "" {
		sqliteStore, err := memorybank.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("open memory store: %w", err)
		}
		defer sqliteStore.Close()
		store = sqliteStore
		logger.Info("using sqlite memory store", zap.String("path", cfg.Store.Path))
	} else {
		store = memorybank.NewInMemoryStore()
		logger.Warn("using in-memory store, memories will not survive restarts")
	}

	metrics, registry := telemetry.New()

	engine, err := pipeline.NewEngine(store, rules.Builtin(), logger,
		pipeline.WithHistory(pipeline.NewHistory(cfg.History.Capacity)),
		pipeline.WithMetrics(metrics),
	)
	if err != nil {
		return fmt.Errorf("create pipeline engine: %w", err)
	}

	if cfg.Bootstrap.Path != "" {
		history, err := bootstrap.ParseFile(cfg.Bootstrap.Path)
		if err != nil {
			return fmt.Errorf("load bootstrap history: %w", err)
		}
		if _, err := bootstrap.Seed(ctx, store, history, logger); err != nil {
			return fmt.Errorf("seed memory bank: %w", err)
		}
	}

	srv, err := server.NewServer(engine, store, registry, logger, &server.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
