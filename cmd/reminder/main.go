// Command reminder 消费提醒 Stream 并发送到期邮件。
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"preptracker/internal/config"
	"preptracker/internal/pkg/logger"
	"preptracker/internal/pkg/notify"
	"preptracker/internal/pkg/queue"
	"preptracker/internal/pkg/ratelimit"
	"preptracker/internal/pkg/taskqueue"
	"preptracker/internal/reminder"
	"preptracker/internal/store"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// 所有 reminder 进程共享同一个发信令牌桶。
const sendRateLimitKey = "preptracker:ratelimit:mail"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	appLogger := logger.NewDefault(cfg.App.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, appLogger); err != nil {
		appLogger.Error("reminder service failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	appLogger.Info("reminder service stopped")
}

func run(ctx context.Context, cfg *config.Config, appLogger *slog.Logger) error {
	db, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	consumerID := consumerName()
	consumer, err := taskqueue.NewConsumer(rdb, appLogger, cfg.Reminder.Stream, cfg.Reminder.Group, consumerID,
		taskqueue.WithMaxRetry(cfg.Reminder.MaxRetry))
	if err != nil {
		return fmt.Errorf("init consumer: %w", err)
	}

	notifier := notify.NewEmailNotifier(&cfg.Email, appLogger)
	if !notifier.Configured() {
		appLogger.Warn("smtp not configured, reminders will be acknowledged without sending")
	}

	worker := reminder.NewWorker(
		consumer,
		queue.NewQueue(appLogger, cfg.Reminder.Workers, cfg.Reminder.QueueCapacity),
		store.New(db),
		notifier,
		ratelimit.NewRedisRateLimiter(rdb, appLogger, sendRateLimitKey, cfg.Reminder.SendRate, cfg.Reminder.SendBurst),
		appLogger,
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              cfg.Reminder.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("PANIC in reminder worker: %v", r)
			}
		}()
		appLogger.Info("starting reminder consumer",
			slog.String("consumer", consumerID),
			slog.String("stream", cfg.Reminder.Stream),
			slog.Int("workers", cfg.Reminder.Workers))
		return worker.Run(gctx)
	})
	g.Go(func() error {
		appLogger.Info("metrics server listening", slog.String("addr", cfg.Reminder.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func consumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "reminder"
	}
	return host + "-" + uuid.NewString()[:8]
}
