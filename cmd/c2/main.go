// Command c2 runs the Secchiware central orchestrator: the HTTP API Nodes
// register against and Clients drive, backed by Postgres, Redis and MinIO.
// Grounded on the teacher's central/main.go startup sequence.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/secchiware/secchiware/internal/c2"
	"github.com/secchiware/secchiware/internal/config"
	"github.com/secchiware/secchiware/internal/events"
	"github.com/secchiware/secchiware/internal/store"
	"github.com/secchiware/secchiware/pkg/broker/redisbroker"
)

func main() {
	cfg, err := config.LoadC2()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	logger.Info("starting secchiware c2", slog.String("log_level", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.New(ctx, cfg.PostgresDSN, logger)
	if err != nil {
		logger.Error("failed to initialize postgres store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()

	b, err := redisbroker.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Error("failed to initialize redis broker", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer b.Close()

	pub, err := events.NewPublisher(cfg.RabbitMQURL, logger)
	if err != nil {
		logger.Error("failed to initialize event publisher", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pub.Close()

	repo, err := c2.NewRepository(cfg.TestsPath, cfg.MinIOEndpoint, cfg.MinIOAccessKey, cfg.MinIOSecretKey, cfg.MinIOBucketName, cfg.MinIOUseSSL, b, logger)
	if err != nil {
		logger.Error("failed to initialize test-package repository", slog.String("error", err.Error()))
		os.Exit(1)
	}

	server := c2.NewServer(cfg, db, b, repo, pub, logger)
	logger.Info("c2 router configured")

	sweeper := c2.NewSweeper(server, cfg.LivenessInterval, logger)
	go sweeper.Run(ctx)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.RequestTimeout + 5*time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	go func() {
		logger.Info("c2 listening", slog.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", slog.String("error", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.String("error", err.Error()))
	} else {
		logger.Info("server gracefully stopped")
	}
}
