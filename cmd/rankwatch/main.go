// Package main wires together the rank-check service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rankwatch/rankwatch/internal/api"
	"github.com/rankwatch/rankwatch/internal/batch"
	"github.com/rankwatch/rankwatch/internal/clock/system"
	"github.com/rankwatch/rankwatch/internal/config"
	"github.com/rankwatch/rankwatch/internal/dispatcher"
	"github.com/rankwatch/rankwatch/internal/logging"
	"github.com/rankwatch/rankwatch/internal/queue"
	"github.com/rankwatch/rankwatch/internal/serp"
	"github.com/rankwatch/rankwatch/internal/storage/postgres"
	"github.com/rankwatch/rankwatch/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()

	store, err := postgres.NewProjectStore(ctx, postgres.ProjectStoreConfig{
		DSN:      cfg.DB.DSN,
		MaxConns: int32(cfg.DB.MaxConns),
		MinConns: int32(cfg.DB.MinConns),
	})
	if err != nil {
		logger.Fatal("connect postgres failed", zap.Error(err))
	}
	defer store.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() {
		if closeErr := redisClient.Close(); closeErr != nil {
			logger.Error("redis close failed", zap.Error(closeErr))
		}
	}()
	jobQueue := queue.NewRedis(redisClient, queue.RedisConfig{}, clock, logger.Named("queue"))

	// Anything a previous process left in flight goes back to pending.
	recovered, err := jobQueue.Recover(ctx)
	if err != nil {
		logger.Fatal("queue recovery failed", zap.Error(err))
	}
	if recovered > 0 {
		logger.Info("recovered in-flight jobs", zap.Int("count", recovered))
	}

	searchClient := serp.New(serp.Config{
		Endpoint:  cfg.Serp.Endpoint,
		APIKey:    cfg.Serp.APIKey,
		MaxPages:  cfg.Serp.MaxPages,
		PerPage:   cfg.Serp.PerPage,
		PageDelay: cfg.PageDelay(),
		Timeout:   cfg.SerpTimeout(),
	}, logger.Named("serp"))

	workerCfg := worker.Config{
		RetryCooldown:    cfg.RetryCooldown(),
		PolitenessBase:   cfg.PolitenessBase(),
		PolitenessJitter: cfg.PolitenessJitter(),
	}
	var workers []*worker.Worker
	for i := 0; i < cfg.Worker.Concurrency; i++ {
		workers = append(workers, worker.New(
			jobQueue,
			store,
			searchClient,
			clock,
			workerCfg,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	dispatch := dispatcher.New(jobQueue, workers)

	submitter := batch.NewSubmitter(store, dispatch, clock, logger.Named("submitter"))
	ready := func(ctx context.Context) error {
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		return nil
	}
	apiServer := api.NewServer(submitter, ready, api.Config{
		RequestTimeout: cfg.ServerTimeout(),
	}, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("dispatcher started", zap.Int("workers", cfg.Worker.Concurrency))
		dispatch.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
