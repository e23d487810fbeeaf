package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"habitflow/config"
	"habitflow/internal/api"
	"habitflow/internal/cache"
	"habitflow/internal/engine"
	"habitflow/internal/httpserver"
	"habitflow/internal/service"
	"habitflow/pkg/logger"
	"habitflow/pkg/mq"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting habitd...",
		zap.String("api_base_url", cfg.API.BaseURL),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.Duration("sync_interval", cfg.Sync.Interval()),
	)

	tz := time.Local
	if cfg.Sync.Timezone != "" {
		loc, err := time.LoadLocation(cfg.Sync.Timezone)
		if err != nil {
			log.Fatal("Invalid sync timezone", zap.String("timezone", cfg.Sync.Timezone), zap.Error(err))
		}
		tz = loc
	}

	client := api.NewClient(cfg.API.BaseURL, cfg.API.Token, cfg.API.Timeout())

	// Cache backend
	var (
		store       cache.Store
		sharedGuard *engine.SharedGuard
	)
	switch cfg.Cache.Backend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store = cache.NewRedisStore(rdb, cfg.Cache.TTL(), cfg.Cache.Grace(), nil, log)
		sharedGuard = engine.NewSharedGuard(rdb, cfg.Cache.TTL())
		log.Info("Using redis cache backend", zap.String("addr", cfg.Redis.Addr))
	default:
		store = cache.NewMemoryStore(cfg.Cache.TTL(), cfg.Cache.Grace(), cfg.Cache.MaxEntries, nil)
	}

	// MQ Publisher (optional; events are best-effort)
	var publisher *mq.Publisher
	if cfg.MQ.URL != "" {
		p, err := mq.NewPublisher(cfg.MQ.URL)
		if err != nil {
			log.Warn("Failed to init MQ publisher, events disabled", zap.Error(err))
		} else {
			publisher = p
			defer publisher.Close()
		}
	}

	svc := service.New(client, store, publisher, sharedGuard, tz, nil, log)
	defer svc.Close()

	// Refresh loop - recomputes snapshots and drives completion detection
	log.Info("Starting refresh loop...", zap.Duration("interval", cfg.Sync.Interval()))
	refreshCtx, refreshCancel := context.WithCancel(context.Background())
	defer refreshCancel()

	go func() {
		ticker := time.NewTicker(cfg.Sync.Interval())
		defer ticker.Stop()

		runPass := func() {
			ctx, cancel := context.WithTimeout(refreshCtx, cfg.Sync.Interval())
			defer cancel()
			if err := svc.RefreshAll(ctx); err != nil {
				log.Error("Refresh pass failed", zap.Error(err))
			}
		}

		// Run immediately on startup
		runPass()

		for {
			select {
			case <-refreshCtx.Done():
				log.Info("Refresh loop stopped")
				return
			case <-ticker.C:
				runPass()
			}
		}
	}()

	// HTTP Server (health + metrics)
	port := cfg.Server.Port
	if port == "" {
		port = "8080"
	}

	ready := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, err := svc.Overview(ctx)
		return err
	}

	router := httpserver.NewRouter(log, publisher, ready)
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	go func() {
		log.Info("HTTP server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	log.Info("habitd is fully initialized and running")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down habitd gracefully...")

	refreshCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		log.Info("HTTP server stopped")
	}

	log.Info("habitd shutdown complete")
}
