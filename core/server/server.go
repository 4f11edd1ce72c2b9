package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/troy-samuels/tutor-space-sub004/core/cache"
	"github.com/troy-samuels/tutor-space-sub004/core/config"
	"github.com/troy-samuels/tutor-space-sub004/core/crypto"
	"github.com/troy-samuels/tutor-space-sub004/core/database"
	"github.com/troy-samuels/tutor-space-sub004/core/logger"
	"github.com/troy-samuels/tutor-space-sub004/core/utils"
	"github.com/troy-samuels/tutor-space-sub004/modules/calendar"
	"github.com/troy-samuels/tutor-space-sub004/modules/calendar/tasks"
)

// Run boots the calendar sync service: HTTP API, background worker and the
// periodic cache warmer. It blocks until SIGINT/SIGTERM.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Init(cfg.Server.LogLevel, cfg.Server.LogFormat)

	db, err := database.InitDB(cfg.Database)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer db.SQLx().Close()

	memo, redisClient, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		// The busy-window memo is an optimization; the service still works
		// without it. The asynq worker does need redis though.
		logger.Warn("redis unavailable, memoization disabled", "error", err)
		memo = cache.NoopCache{}
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	cipher, err := crypto.NewTokenCipher(cfg.Calendar.TokenEncryptionKey)
	if err != nil {
		return fmt.Errorf("init token cipher: %w", err)
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	queue := asynq.NewClient(redisOpt)
	defer queue.Close()

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{
		Generator: utils.GenerateID,
	}))

	mux := asynq.NewServeMux()
	calendar.Init(e, db, memo, cipher, queue, mux)

	worker := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Calendar.WorkerConcurrency,
		Logger:      logger.Asynq(),
	})

	errCh := make(chan error, 2)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		logger.Info("http server starting", "addr", addr)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	go func() {
		logger.Info("worker starting", "concurrency", cfg.Calendar.WorkerConcurrency)
		if err := worker.Run(mux); err != nil {
			errCh <- fmt.Errorf("worker: %w", err)
		}
	}()

	stopWarmer := startCacheWarmer(queue, cfg.Calendar.WarmCacheInterval)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		logger.Error("fatal component error", "error", err)
	}

	stopWarmer()
	worker.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// startCacheWarmer enqueues a warm-cache task on a fixed interval so the
// durable event cache stays fresh even for tutors nobody is querying.
func startCacheWarmer(queue *asynq.Client, interval time.Duration) func() {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				if _, err := queue.Enqueue(tasks.NewWarmCacheTask()); err != nil {
					logger.Warn("failed to enqueue warm cache task", "error", err)
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		ticker.Stop()
		close(done)
	}
}
