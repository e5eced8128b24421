// Package main is the entry point for the mantabridge S3-to-Manta gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mantabridge/mantabridge/internal/config"
	"github.com/mantabridge/mantabridge/internal/logging"
	"github.com/mantabridge/mantabridge/internal/manta"
	"github.com/mantabridge/mantabridge/internal/metrics"
	"github.com/mantabridge/mantabridge/internal/server"
)

func main() {
	configPath := flag.String("config", "mantabridge.yaml", "path to configuration file")
	port := flag.Int("port", 0, "override listening port (default: from config or 8080)")
	host := flag.String("host", "", "override listening host (default: from config or 0.0.0.0)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (default: from config or info)")
	logFormat := flag.String("log-format", "", "log format: text, json (default: from config or text)")
	shutdownTimeout := flag.Int("shutdown-timeout", 0, "graceful shutdown timeout in seconds (default: from config or 30)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Command-line flags override config file values.
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}
	if *shutdownTimeout != 0 {
		cfg.Server.ShutdownTimeoutSeconds = *shutdownTimeout
	}

	// Initialize structured logging.
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)

	// Register Prometheus collectors for the /metrics endpoint.
	metrics.Register()

	store, err := newStore(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize backing store: %v\n", err)
		os.Exit(1)
	}

	srv := server.New(cfg, store)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	// Start the server in a goroutine so we can handle shutdown signals.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("mantabridge listening", "addr", addr, "root", cfg.BucketRoot(store.User()))
		if err := srv.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// SIGTERM/SIGINT handler: stop accepting connections, wait for in-flight
	// requests with a timeout, then exit. The store holds all state; nothing
	// to clean up locally.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("Received signal, shutting down", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Shutdown error", "error", err)
		}
		slog.Info("Server stopped")

	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}
}

// newStore builds the backing store client selected by the configuration.
func newStore(cfg *config.Config) (manta.Client, error) {
	switch cfg.Store.Backend {
	case "memory":
		user := cfg.Manta.User
		if user == "" {
			user = "mantabridge"
		}
		slog.Info("Backing store initialized", "backend", "memory", "user", user)
		return manta.NewMemoryStore(user), nil
	default:
		if cfg.Manta.URL == "" {
			return nil, fmt.Errorf("manta.url is required when backend is %q", cfg.Store.Backend)
		}
		if cfg.Manta.User == "" {
			return nil, fmt.Errorf("manta.user is required when backend is %q", cfg.Store.Backend)
		}
		var keyPEM []byte
		if cfg.Manta.KeyPath != "" {
			var err error
			keyPEM, err = os.ReadFile(cfg.Manta.KeyPath)
			if err != nil {
				return nil, fmt.Errorf("reading signing key: %w", err)
			}
		}
		keyID := cfg.Manta.KeyID
		if keyID != "" {
			keyID = fmt.Sprintf("/%s/keys/%s", cfg.Manta.User, keyID)
		}
		client, err := manta.NewHTTPClient(cfg.Manta.URL, cfg.Manta.User, keyID, keyPEM)
		if err != nil {
			return nil, err
		}
		slog.Info("Backing store initialized", "backend", "manta", "url", cfg.Manta.URL, "user", cfg.Manta.User)
		return client, nil
	}
}
