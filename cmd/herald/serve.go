package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"herald-go/internal/api"
	"herald-go/internal/banner"
	"herald-go/internal/campaign"
	"herald-go/internal/channel"
	"herald-go/internal/config"
	"herald-go/internal/jobqueue"
	jobmem "herald-go/internal/jobqueue/memory"
	jobredis "herald-go/internal/jobqueue/redis"
	"herald-go/internal/queue"
	kafkaqueue "herald-go/internal/queue/kafka"
	memoryqueue "herald-go/internal/queue/memory"
	"herald-go/internal/receipt"
	"herald-go/internal/segment"
	"herald-go/internal/store"
	memorystor "herald-go/internal/store/memory"
	postgresstor "herald-go/internal/store/postgres"
	redisstor "herald-go/internal/store/redis"
)

const receiptBufferSize = 10000

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server, job workers and receipt processor",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		banner.Print(os.Stdout)
		return serve(cfg, logger)
	},
}

func serve(cfg *config.Config, logger *slog.Logger) error {
	logger.Info("configuration loaded",
		"path", configPath,
		"storage_mode", cfg.Storage.Mode,
	)

	deps, cleanup, err := initDependencies(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize dependencies", "error", err)
		return err
	}
	defer cleanup()

	// Create context that listens for shutdown signals
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// workers tracks the goroutines that use the stores; cleanup closes
	// the stores only after they return.
	var workers sync.WaitGroup
	workers.Add(3)

	go func() {
		defer workers.Done()
		if err := deps.processor.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Error("receipt processor error", "error", err)
			cancel()
		}
	}()

	go func() {
		defer workers.Done()
		if err := deps.jobs.Start(ctx, deps.campaigns.Handle); err != nil && ctx.Err() == nil {
			logger.Error("job workers error", "error", err)
			cancel()
		}
	}()

	go func() {
		defer workers.Done()
		deps.sweeper.Run(ctx)
	}()

	go func() {
		if err := deps.server.Start(); err != nil {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	logger.Info("Herald started",
		"address", cfg.Server.Address(),
		"storage_mode", cfg.Storage.Mode,
		"auth_enabled", cfg.Auth.Enabled,
	)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer shutdownCancel()

	if err := deps.server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	if err := deps.processor.Stop(); err != nil {
		logger.Error("receipt processor shutdown error", "error", err)
	}

	if !waitGroupWithin(shutdownCtx, &workers) {
		logger.Warn("background workers still running at shutdown deadline")
	}

	logger.Info("Herald stopped")
	return nil
}

// waitGroupWithin waits for wg until ctx is done. It reports whether wg
// finished first.
func waitGroupWithin(ctx context.Context, wg *sync.WaitGroup) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// dependencies holds the long-running components started by serve.
type dependencies struct {
	server    *api.Server
	processor *receipt.Processor
	campaigns *campaign.Service
	sweeper   *campaign.Sweeper
	jobs      jobqueue.Queue
}

// initDependencies creates and wires all service dependencies based on config.
// Returns the dependencies and a cleanup function.
func initDependencies(cfg *config.Config, logger *slog.Logger) (*dependencies, func(), error) {
	var (
		contactRepo   store.ContactRepository
		segmentRepo   store.SegmentRepository
		campaignRepo  store.CampaignRepository
		executionRepo store.ExecutionRepository
		locker        store.Locker
		jobs          jobqueue.Queue
		producer      queue.Producer
		consumer      queue.Consumer
		cleanupFuncs  []func()
	)

	cleanup := func() {
		for i := len(cleanupFuncs) - 1; i >= 0; i-- {
			cleanupFuncs[i]()
		}
	}

	jobOpts := jobqueue.OptionsFromConfig(&cfg.Scheduler)

	if cfg.Storage.UseMemory() {
		logger.Info("initializing in-memory storage")

		contactRepo = memorystor.NewContactRepository()
		segmentRepo = memorystor.NewSegmentRepository()
		memExecutions := memorystor.NewExecutionRepository()
		executionRepo = memExecutions
		campaignRepo = memorystor.NewCampaignRepository(memExecutions)

		memLocker := memorystor.NewLocker()
		locker = memLocker
		cleanupFuncs = append(cleanupFuncs, func() { _ = memLocker.Close() })

		memJobs := jobmem.NewQueue(jobOpts, logger)
		jobs = memJobs
		cleanupFuncs = append(cleanupFuncs, func() { _ = memJobs.Close() })

		memQueue := memoryqueue.NewQueue(receiptBufferSize, logger)
		producer = memQueue
		consumer = memQueue
		cleanupFuncs = append(cleanupFuncs, func() { _ = memQueue.Close() })
	} else {
		logger.Info("initializing production storage (Kafka, Redis, PostgreSQL)")

		ctx := context.Background()
		db, err := postgresstor.NewDB(ctx, &cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		cleanupFuncs = append(cleanupFuncs, db.Close)

		if err := db.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, err
		}
		logger.Info("database migrations completed")

		contactRepo = postgresstor.NewContactRepository(db)
		segmentRepo = postgresstor.NewSegmentRepository(db)
		campaignRepo = postgresstor.NewCampaignRepository(db)
		executionRepo = postgresstor.NewExecutionRepository(db)

		redisClient, err := redisstor.NewClient(&cfg.Redis)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		cleanupFuncs = append(cleanupFuncs, func() { _ = redisClient.Close() })

		locker = redisstor.NewLocker(redisClient, cfg.Redis.KeyPrefix, logger)

		redisJobs := jobredis.NewQueue(redisClient, cfg.Redis.KeyPrefix, jobOpts, logger)
		jobs = redisJobs
		cleanupFuncs = append(cleanupFuncs, func() { _ = redisJobs.Close() })

		kafkaProducer := kafkaqueue.NewProducer(&cfg.Kafka)
		producer = kafkaProducer
		cleanupFuncs = append(cleanupFuncs, func() { _ = kafkaProducer.Close() })

		// The consumer is closed by the processor's Stop.
		consumer = kafkaqueue.NewConsumer(&cfg.Kafka, logger)
	}

	segmentService := segment.NewService(segmentRepo, contactRepo, locker, logger)

	// Initialize channel sender (stubbed for now)
	sender := channel.NewStubSender(logger)

	campaignService := campaign.NewService(
		campaignRepo,
		executionRepo,
		contactRepo,
		segmentService,
		jobs,
		sender,
		locker,
		logger,
	)

	ingester := receipt.NewIngester(producer, logger)
	processor := receipt.NewProcessor(consumer, executionRepo, campaignService, locker, logger)

	server := api.NewServer(api.ServerDeps{
		Config:          &cfg.Server,
		Auth:            &cfg.Auth,
		Logger:          logger,
		ContactHandler:  api.NewContactHandler(contactRepo, logger),
		SegmentHandler:  api.NewSegmentHandler(segmentService, logger),
		CampaignHandler: api.NewCampaignHandler(campaignService, logger),
		ReceiptHandler:  api.NewReceiptHandler(ingester, logger),
	})

	return &dependencies{
		server:    server,
		processor: processor,
		campaigns: campaignService,
		sweeper:   campaign.NewSweeper(campaignService, cfg.Scheduler.SweepInterval, logger),
		jobs:      jobs,
	}, cleanup, nil
}
