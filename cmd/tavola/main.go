package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"tavola/internal/amqp"
	"tavola/internal/cache"
	"tavola/internal/cli"
	apphttp "tavola/internal/http"
	"tavola/internal/log"
	"tavola/internal/services"
)

var version = "dev"

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg.LogLevel)
	flush := cli.InitSentry(logger, cfg, version)
	defer flush()

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	reportCache := cache.NewLRUCache[any](cfg.ReportCacheSize, cfg.ReportCacheTTL)
	cacheManager := cache.NewManager(logger)
	cacheManager.Register(reportCache)
	cacheManager.StartCleanup(time.Minute)

	reports := services.NewReportService(repo, reportCache, logger)

	var publisher services.EventPublisher
	if cfg.AMQPEnabled() {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", log.FieldError, err.Error())
			os.Exit(1)
		}
		defer client.Close()
		publisher = client
		logger.Info("AMQP publishing enabled", "exchange", cfg.AMQPExchange)
	} else {
		logger.Info("AMQP disabled - no AMQP_URL provided, snapshots refresh on the worker sweep only")
	}
	records := services.NewRecordService(repo, publisher, reports, logger)

	srv := apphttp.NewServer(apphttp.Options{
		Addr:               ":" + cfg.Port,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Reports:            reports,
		Records:            records,
		Directory:          repo,
		CacheStats:         reportCache.Stats,
		TrustedProxies:     cfg.TrustedProxies,
		Logger:             logger,
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err.Error())
		}
		cacheManager.Stop()
	})

	logger.Info("Starting tavola server", "port", cfg.Port, "version", version)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err.Error(), "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
