// Command node runs a Secchiware analysis-sandbox agent: it registers with
// a C2, serves its installed test-package repository, and executes tests on
// demand. If the C2 is unreachable at startup it falls back to running
// every installed test locally and printing the resulting reports, matching
// the reference node.py's standalone behavior.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/secchiware/secchiware/internal/config"
	"github.com/secchiware/secchiware/internal/node"
	"github.com/secchiware/secchiware/pkg/testpkg"
	"github.com/secchiware/secchiware/pkg/testpkg/probes"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: node <config.yaml>")
		os.Exit(1)
	}

	cfg, err := config.LoadNode(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.TestRoot, 0o755); err != nil {
		logger.Error("failed to create test root", slog.String("error", err.Error()))
		os.Exit(1)
	}

	registry := testpkg.NewRegistry()
	if err := registry.ReloadFromDisk(cfg.TestRoot); err != nil {
		logger.Warn("failed to load installed test packages, starting empty", slog.String("error", err.Error()))
	}
	runner := testpkg.NewRunner(probes.Default())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	platform := node.Fingerprint()
	client := node.NewC2Client(cfg, logger)
	connected, err := client.Connect(ctx, platform)
	if err != nil {
		logger.Error("failed to register with c2", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if !connected {
		logger.Info("connection to c2 refused, executing installed tests standalone")
		resolved, err := testpkg.Resolve(registry.Load(), testpkg.Selector{})
		if err != nil {
			logger.Error("failed to resolve installed tests", slog.String("error", err.Error()))
			os.Exit(1)
		}
		reports := runner.Run(ctx, resolved)
		out, _ := json.MarshalIndent(reports, "", "  ")
		fmt.Println(string(out))
		return
	}

	logger.Info("connected to c2 successfully")

	server := node.NewServer(cfg, registry, runner, logger)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.ListenIP, cfg.ListenPort),
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Timeout() + 5*time.Second,
		WriteTimeout: cfg.Timeout() + 5*time.Second,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	go func() {
		logger.Info("node listening", slog.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", slog.String("error", err.Error()))
			stop()
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, unregistering from c2")
	case <-server.ShutdownRequested():
		logger.Info("c2 requested shutdown, unregistering from c2")
	}

	disconnectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Disconnect(disconnectCtx); err != nil {
		logger.Warn("failed to cleanly unregister from c2", slog.String("error", err.Error()))
	}

	shutdownCtx, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.String("error", err.Error()))
	}
}
