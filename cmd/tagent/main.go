// Command tagent runs the per-host trusted file agent: an HTTP service that
// mediates file listing, download, and upload under a signed-request
// authorization regime, plus a CRUD surface for the ACLs behind it.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joestubbs/tagent/pkg/acl"
	"github.com/joestubbs/tagent/pkg/api"
	"github.com/joestubbs/tagent/pkg/auth"
	"github.com/joestubbs/tagent/pkg/config"
	"github.com/joestubbs/tagent/pkg/files"
	"github.com/joestubbs/tagent/pkg/store"
	"github.com/joestubbs/tagent/pkg/versioning"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "tagent: %v\n", err)
		return 1
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	version, err := versioning.Current()
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	logger.Info("tagent starting", "version", version, "root_directory", cfg.RootDirectory)

	ctx := context.Background()
	key, err := cfg.ResolvePublicKey(ctx)
	if err != nil {
		logger.Error("could not resolve public key", "error", err)
		return 1
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("could not open acl store", "database", cfg.DatabasePath, "error", err)
		return 1
	}
	defer func() { _ = st.Close() }()

	srv := api.NewServer(
		version,
		auth.NewVerifier(key),
		st,
		acl.NewEngine(st, logger),
		files.NewGate(cfg.RootDirectory),
		cfg.FilesPolicyEnforced,
		logger,
	)

	addr := fmt.Sprintf("%s:%d", cfg.Address, cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Error("could not bind", "address", addr, "error", err)
		return 1
	}
	httpSrv := &http.Server{
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("tagent serving", "address", addr, "files_policy_enforced", cfg.FilesPolicyEnforced)
		errCh <- httpSrv.Serve(listener)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			return 1
		}
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "error", err)
			return 1
		}
	}
	return 0
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
