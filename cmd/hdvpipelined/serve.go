package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/hdvpipeline/internal/cache"
	"github.com/sawpanic/hdvpipeline/internal/capture"
	"github.com/sawpanic/hdvpipeline/internal/config"
	"github.com/sawpanic/hdvpipeline/internal/consumer"
	"github.com/sawpanic/hdvpipeline/internal/health"
	"github.com/sawpanic/hdvpipeline/internal/pricing"
	"github.com/sawpanic/hdvpipeline/internal/protocol"
	"github.com/sawpanic/hdvpipeline/internal/queue"
	"github.com/sawpanic/hdvpipeline/internal/scheduler"
	"github.com/sawpanic/hdvpipeline/internal/storage/postgres"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the capture-to-persistence pipeline until terminated",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	configureLogging(cfg.Log)

	db, err := postgres.Connect(postgres.Config{
		DSN:          cfg.Storage.DSN,
		MaxOpenConns: cfg.Storage.MaxOpenConns,
		QueryTimeout: time.Duration(cfg.Storage.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	schemaCtx, schemaCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer schemaCancel()
	if err := postgres.ApplySchema(schemaCtx, db, time.Duration(cfg.Storage.TimeoutSeconds)*time.Second); err != nil {
		return err
	}

	txTimeout := time.Duration(cfg.Storage.TimeoutSeconds) * time.Second
	itemsRepo := postgres.NewItemsRepo(db, txTimeout)
	priceEntriesRepo := postgres.NewPriceEntriesRepo(db, txTimeout)
	subCategoriesRepo := postgres.NewSubCategoriesRepo(db, txTimeout)

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	metricsRegistry := health.NewMetricsRegistry(reg)
	captureCounters := health.NewCaptureCounters(metricsRegistry)

	itemCache := cache.New("items", cache.Config{
		TTL: cfg.Cache.Items.TTL(), MaxSize: cfg.Cache.Items.MaxSize, RecordStats: cfg.Cache.Items.RecordStats,
	}).WithMetrics(metricsRegistry)
	latestPriceCache := cache.New("latestPrices", cache.Config{
		TTL: cfg.Cache.LatestPrices.TTL(), MaxSize: cfg.Cache.LatestPrices.MaxSize, RecordStats: cfg.Cache.LatestPrices.RecordStats,
	}).WithMetrics(metricsRegistry)
	itemsWithPricesCache := cache.New("itemsWithPrices", cache.Config{
		TTL: cfg.Cache.ItemsWithPrices.TTL(), MaxSize: cfg.Cache.ItemsWithPrices.MaxSize, RecordStats: cfg.Cache.ItemsWithPrices.RecordStats,
	}).WithMetrics(metricsRegistry)
	if cfg.Cache.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Cache.Redis.Addr, DB: cfg.Cache.Redis.DB})
		defer rdb.Close()
		itemCache.WithRedis(rdb, cfg.Cache.Items.TTL())
		latestPriceCache.WithRedis(rdb, cfg.Cache.LatestPrices.TTL())
		itemsWithPricesCache.WithRedis(rdb, cfg.Cache.ItemsWithPrices.TTL())
	}

	priceService := pricing.New(itemsRepo, priceEntriesRepo, subCategoriesRepo, itemCache, latestPriceCache, itemsWithPricesCache, txTimeout,
		time.Duration(cfg.Protocol.DedupWindowMinutes)*time.Minute,
		protocol.MessageIDs{
			PriceList:           cfg.Protocol.PriceListMessageID,
			CategoryDescription: cfg.Protocol.CategoryDescriptionMessageID,
			CompressedContainer: cfg.Protocol.CompressedContainerMessageID,
		}, cfg.Protocol.MaxDecompressionRatio)

	packetQueue := queue.New(cfg.Queue.Capacity)

	var captureTask *capture.Capture
	if cfg.Capture.Enabled {
		captureCfg := capture.Config{
			InterfaceName: cfg.Capture.Interface,
			Port:          cfg.Capture.Port,
			BPFExpression: cfg.Capture.BPFExpression,
			SnapLen:       cfg.Capture.SnapLen,
			Timeout:       cfg.Capture.Timeout(),
			Promiscuous:   cfg.Capture.Promiscuous,
			OfferTimeout:  cfg.Queue.OfferTimeout(),
		}
		captureTask = capture.New(captureCfg, packetQueue, captureCounters)
	}

	consumerTask := consumer.New(packetQueue, priceService, consumer.Config{
		BatchSize:   cfg.Consumer.BatchSize,
		PollTimeout: cfg.Consumer.PollTimeout(),
		Breaker: consumer.BreakerConfig{
			Threshold: cfg.Consumer.Breaker.Threshold,
			Cooldown:  cfg.Consumer.Breaker.Cooldown(),
		},
	}).WithMetrics(metricsRegistry)

	schedulerTask := scheduler.New(consumerTask, packetQueue, scheduler.Config{
		Interval:           cfg.Processing.Interval(),
		QueueWarnThreshold: cfg.Processing.QueueWarnThreshold,
		DrainWorkers:       cfg.Processing.DrainWorkers,
	})

	reporter := health.NewReporter(cfg.Capture.Enabled, captureTask, captureCounters, packetQueue, consumerTask,
		map[string]*cache.TTLCache{
			"items":           itemCache,
			"itemsWithPrices": itemsWithPricesCache,
			"latestPrices":    latestPriceCache,
		})
	healthServer := health.NewServer(cfg.Metrics.ListenAddr, reporter, reg, schedulerTask)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := healthServer.Start(); err != nil {
			log.Error().Err(err).Msg("health/metrics server stopped")
		}
	}()

	// Queue depth/utilisation monitor: independent of both the capture
	// drop path and the scheduler's tick cadence (spec §4.5/§5).
	go packetQueue.Monitor(ctx, cfg.Processing.Interval(), cfg.Processing.QueueWarnThreshold, metricsRegistry)

	if captureTask != nil {
		if err := captureTask.Start(ctx); err != nil {
			return err
		}
	}

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		schedulerTask.Run(ctx)
	}()

	log.Info().Msg("hdvpipelined running, press Ctrl+C to stop")
	<-ctx.Done()
	log.Info().Msg("shutdown signal received, draining")

	// Ordered shutdown (spec §12): stop capture first so nothing new
	// enters the queue, let the scheduler's in-flight tick finish, then
	// run one final consumer drain before closing the store and cache.
	if captureTask != nil {
		captureTask.Stop()
	}
	<-schedulerDone

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer drainCancel()
	if n, err := consumerTask.Drain(drainCtx); err != nil {
		log.Error().Err(err).Int("persisted", n).Msg("final drain ended with an error")
	} else {
		log.Info().Int("persisted", n).Msg("final drain complete")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
		log.Warn().Err(err).Msg("health server shutdown error")
	}

	return nil
}

func configureLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}
