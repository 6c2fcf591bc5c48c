package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"news_ingest/internal/analysis"
	"news_ingest/internal/apify"
	"news_ingest/internal/config"
	"news_ingest/internal/dedupe"
	"news_ingest/internal/normalize"
	"news_ingest/internal/queue"
	"news_ingest/internal/reconcile"
	"news_ingest/internal/service"
	"news_ingest/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := setupLogger("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	rabbitMQ, err := queue.NewRabbitMQ(queue.Config{
		URL:        cfg.RabbitMQ.URL,
		Exchange:   cfg.RabbitMQ.Exchange,
		RoutingKey: cfg.RabbitMQ.RoutingKey,
		QueueName:  cfg.RabbitMQ.QueueName,
	}, logger)
	if err != nil {
		logger.Error("failed to connect to rabbitmq", "error", err)
		os.Exit(1)
	}
	defer rabbitMQ.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis is optional: without it the article unique constraint still
	// dedupes, just with more write pressure.
	var seen service.SeenCache
	if cfg.Ingest.DedupeEnabled {
		cache, err := dedupe.NewCache(ctx, dedupe.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.SeenTTL,
		})
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer cache.Close()
		seen = cache
	}

	analyzer := analysis.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.BaseURL, logger)
	if !analyzer.Ready() {
		logger.Warn("analysis disabled, articles will not be enriched")
	}

	// Initialize stores
	ledger := postgres.NewDeliveryStore(db)
	articleStore := postgres.NewArticleStore(db)
	entityStore := postgres.NewEntityStore(db)
	txManager := postgres.NewTransactionManager(db)

	datasets := apify.New(apify.Config{
		BaseURL:        cfg.Apify.BaseURL,
		Token:          cfg.Apify.Token,
		PageSize:       cfg.Apify.PageSize,
		Timeout:        cfg.Apify.Timeout,
		MaxAttempts:    cfg.Apify.Retry.MaxAttempts,
		InitialBackoff: cfg.Apify.Retry.InitialBackoff,
		MaxBackoff:     cfg.Apify.Retry.MaxBackoff,
	}, logger)

	ingestService := service.NewIngestService(
		articleStore,
		entityStore,
		txManager,
		seen,
		analyzer,
		logger,
	)

	dispatchService := service.NewDispatchService(
		ledger,
		datasets,
		normalize.New(nil),
		ingestService,
		logger,
		cfg.Ingest,
	)

	reconciler := reconcile.NewReconciler(ledger, rabbitMQ, cfg.Reconcile, logger)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	go func() {
		if err := reconciler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("reconciler error", "error", err)
		}
	}()

	logger.Info("starting dispatch worker",
		"queue", cfg.RabbitMQ.QueueName,
		"max_items_per_run", cfg.Ingest.MaxItemsPerRun,
	)

	if err := rabbitMQ.Consume(ctx, dispatchService); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("consumer error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
