package main // Entry point package

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/account-service/internal/cache"
	"github.com/iliyamo/account-service/internal/config"
	"github.com/iliyamo/account-service/internal/database"
	"github.com/iliyamo/account-service/internal/directory"
	"github.com/iliyamo/account-service/internal/handler"
	"github.com/iliyamo/account-service/internal/isolation"
	"github.com/iliyamo/account-service/internal/logger"
	"github.com/iliyamo/account-service/internal/metrics"
	"github.com/iliyamo/account-service/internal/middleware"
	"github.com/iliyamo/account-service/internal/queue"
	"github.com/iliyamo/account-service/internal/repository"
	"github.com/iliyamo/account-service/internal/router"
	"github.com/iliyamo/account-service/internal/service"
	"github.com/iliyamo/account-service/internal/telemetry"
)

const serviceName = "account-service"

func main() {
	cfg := config.Load() // Load environment config

	zl, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, zl); err != nil {
		zl.Fatal("server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, zl *zap.Logger) error {
	providers, shutdownTelemetry, err := telemetry.Setup(ctx, serviceName, cfg.OTelEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			zl.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	sink, err := metrics.NewOtelSink(providers.Meter.Meter(serviceName))
	if err != nil {
		return err
	}

	iso, err := config.LoadIsolationConfig()
	if err != nil {
		return err
	}
	exec := isolation.NewExecutor(iso.Limits(),
		isolation.WithSink(sink),
		isolation.WithLogger(zl),
		isolation.WithTracer(providers.Tracer.Tracer(serviceName)),
	)

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName, cfg.DBMaxOpenConns)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := database.EnsureSchema(ctx, db); err != nil {
		return err
	}

	cacheClient, dirClient, err := config.NewRedisClient()
	if err != nil {
		return err
	}
	defer cacheClient.Close()
	if dirClient != cacheClient {
		defer dirClient.Close()
	}

	index := directory.NewRedisIndex(dirClient)
	var dir service.Directory = index
	if cfg.DirectoryMode == config.DirectoryModeAMQP {
		pub := queue.NewPublisher(cfg.AMQPURL, zl)
		defer pub.Close()
		dir = pub

		consumer := queue.NewConsumer(cfg.AMQPURL, index, zl)
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				zl.Error("directory consumer stopped", zap.Error(err))
			}
		}()
	}

	accounts := service.NewAccountsManager(
		repository.NewAccountRepo(db),
		dir,
		cache.NewRedisCache(cacheClient, cacheClient),
		exec, sink, zl,
	)

	e := echo.New() // Create Echo instance
	e.HideBanner = true
	router.RegisterRoutes(e, handler.Ready(map[string]handler.Pinger{
		"store":     db.PingContext,
		"directory": func(ctx context.Context) error { return dirClient.Ping(ctx).Err() },
	}))
	router.RegisterAdmin(e,
		handler.NewAdminHandler(accounts, cfg.RebuildBatch, zl),
		cfg.AdminJWTSecret,
		middleware.AdminRateLimit(config.LoadRateLimitConfig(), cacheClient, zl),
	)

	addr := ":" + cfg.Port
	zl.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env), zap.String("directory_mode", cfg.DirectoryMode))

	errc := make(chan error, 1)
	go func() { errc <- e.Start(addr) }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(sctx)
}
