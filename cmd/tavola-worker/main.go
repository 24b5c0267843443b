package main

import (
	"context"
	"errors"
	"os"
	"time"

	"tavola/internal/amqp"
	"tavola/internal/cli"
	"tavola/internal/log"
	"tavola/internal/services"
	gsheet "tavola/internal/sheets/google"
	"tavola/internal/worker"
)

var version = "dev"

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg.LogLevel).WithComponent(log.ComponentWorker)
	flush := cli.InitSentry(logger, cfg, version)
	defer flush()

	logger.Info("Starting tavola-worker", "version", version)

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	// The worker never serves reports, so it keeps no report cache.
	reports := services.NewReportService(repo, nil, logger)

	var exporter services.Exporter
	if cfg.SheetsEnabled() {
		creds, err := cfg.GoogleCredentials()
		if err != nil {
			logger.Error("Failed to read Google credentials", log.FieldError, err.Error())
			os.Exit(1)
		}
		sheets, err := gsheet.New(context.Background(), cfg.GoogleSpreadsheetID, creds, logger)
		if err != nil {
			logger.Error("Failed to initialize Google Sheets exporter", log.FieldError, err.Error())
			os.Exit(1)
		}
		exporter = sheets
		logger.Info("Google Sheets export enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		logger.Info("Google Sheets disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	refresher := services.NewSnapshotRefresher(reports, repo, exporter, logger)
	w := worker.NewRefreshWorker(refresher, logger)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	if cfg.AMQPEnabled() {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", log.FieldError, err.Error())
			os.Exit(1)
		}
		defer client.Close()

		go func() {
			if err := client.ConsumeWithRetry(ctx, w.HandleEvent); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Event consumption stopped", log.FieldError, err.Error())
			}
		}()
		logger.Info("Consuming record events", "queue", cfg.AMQPQueue)
	} else {
		logger.Info("AMQP disabled - refreshing on the periodic sweep only")
	}

	if err := w.Run(ctx, cfg.SnapshotInterval); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Refresh loop failed", log.FieldError, err.Error())
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped gracefully")
}
