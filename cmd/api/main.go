// Command api 运行 PrepTracker 的 HTTP API 与提醒扫描。
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

	"preptracker/internal/api"
	"preptracker/internal/config"
	"preptracker/internal/pkg/logger"
	"preptracker/internal/pkg/tracing"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

const serviceName = "preptracker-api"

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

	if err := serve(ctx, cfg, appLogger); err != nil {
		appLogger.Error("api server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	appLogger.Info("api server stopped")
}

func serve(ctx context.Context, cfg *config.Config, appLogger *slog.Logger) error {
	shutdownTracing, err := tracing.Init(ctx, appLogger, serviceName, cfg.App.Env)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	srv, err := api.NewServer(ctx, cfg, appLogger)
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}
	defer func() {
		if err := srv.Close(); err != nil {
			appLogger.Error("close resources failed", slog.String("error", err.Error()))
		}
	}()

	if cfg.App.SeedDemo {
		if err := srv.SeedDemoData(ctx); err != nil {
			return fmt.Errorf("seed demo data: %w", err)
		}
		appLogger.Info("demo data ready")
	}

	httpServer := &http.Server{
		Addr:              cfg.App.HTTPAddr,
		Handler:           otelhttp.NewHandler(srv.Router(), serviceName),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	srv.StartScheduler(gctx)
	g.Go(func() error {
		appLogger.Info("api server listening", slog.String("addr", cfg.App.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("shutting down api server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return errors.Join(
			httpServer.Shutdown(shutdownCtx),
			shutdownTracing(shutdownCtx),
		)
	})
	return g.Wait()
}
