package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docq"
	"github.com/kailas-cloud/docq/internal/config"
	logpkg "github.com/kailas-cloud/docq/internal/logger"
	chiTransport "github.com/kailas-cloud/docq/internal/transport/chi"
	"github.com/kailas-cloud/docq/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting docq API server",
		zap.Stringer("version", version.Get()),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.Strings("db_addrs", cfg.Database.Addrs),
	)

	client, err := docq.New(clientOptions(cfg, logger)...)
	if err != nil {
		logger.Fatal("Failed to create client", zap.Error(err))
	}
	defer client.Close()
	logger.Info("Connected to database", zap.String("database", client.Database()))

	server := chiTransport.NewServer(client, chiTransport.Config{
		MaxPageSize: cfg.HTTP.MaxPageSize,
		APIKeys:     cfg.HTTP.APIKeys,
		Gatherer:    prometheus.DefaultGatherer,
	}, logger)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.Handler(),
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// clientOptions maps server configuration onto SDK options.
func clientOptions(cfg config.Config, logger *zap.Logger) []docq.Option {
	db := cfg.Database
	var opts []docq.Option
	switch db.Driver {
	case "redis":
		opts = append(opts, docq.WithRedis(db.Addrs[0], db.Password))
	case "valkey":
		opts = append(opts, docq.WithValkey(db.Addrs[0], db.Password))
	default:
		opts = append(opts, docq.WithMemory(db.Name))
	}
	return append(opts,
		docq.WithDatabase(db.Name),
		docq.WithKeyPrefix(db.KeyPrefix),
		docq.WithReadinessTimeout(time.Duration(db.ReadinessTimeout)*time.Second),
		docq.WithLazyLoading(cfg.Query.LazyLoading),
		docq.WithQueryLogging(cfg.Query.Logging),
		docq.WithSideLoadConcurrency(cfg.Query.SideLoadConcurrency),
		docq.WithLogger(logger),
		docq.WithPrometheus(prometheus.DefaultRegisterer),
	)
}
