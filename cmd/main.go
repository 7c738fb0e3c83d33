package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/joho/godotenv"

	"contralock/internal/config"
	"contralock/internal/database"
	"contralock/internal/handlers"
	"contralock/internal/ledger"
	"contralock/internal/lifecycle"
	"contralock/internal/logger"
	"contralock/internal/money"
	"contralock/internal/outbox"
	"contralock/internal/queue"
	"contralock/internal/routes"
	"contralock/internal/scheduler"
	"contralock/internal/services"
	"contralock/internal/workers"
)

func main() {
	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config: %v", err)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		logger.Fatal("failed to initialize logger: %v", err)
	}
	logger.SetDefault(log)
	defer log.Sync()

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatal("failed to connect to database: %v", err)
	}
	defer database.Close(db)

	if err := database.Migrate(db); err != nil {
		log.Fatal("failed to migrate database: %v", err)
	}
	log.Info("database connected and migrated")

	fees, err := money.NewFeeSchedule(cfg.Policy.PlatformFeeRate, cfg.Policy.ProcessorFeeRate)
	if err != nil {
		log.Fatal("invalid fee configuration: %v", err)
	}
	ledgerSvc := ledger.NewService(db, log, fees)

	pollInterval, err := time.ParseDuration(cfg.Queue.PollInterval)
	if err != nil {
		log.Fatal("invalid queue poll interval %q: %v", cfg.Queue.PollInterval, err)
	}
	jobs := queue.NewService(db, log, pollInterval)
	for _, q := range []struct {
		name        string
		concurrency int
	}{
		{lifecycle.EmailQueue, cfg.Queue.EmailConcurrency},
		{lifecycle.PaymentQueue, cfg.Queue.PaymentConcurrency},
		{lifecycle.DisputeQueue, cfg.Queue.DisputeConcurrency},
	} {
		if err := jobs.CreateQueue(q.name, q.concurrency); err != nil {
			log.Fatal("failed to create queue %s: %v", q.name, err)
		}
	}

	milestones := lifecycle.NewMilestoneController(db, log, jobs, cfg.Policy, cfg.Queue)
	disputes := lifecycle.NewDisputeController(db, log, jobs, cfg.Policy, cfg.Queue)

	notifier := services.NewNotificationService(db, log, cfg.ResendAPIKey, cfg.NotifyFromEmail)
	paystack := services.NewPaystackService(cfg.PaystackSecret)

	var rail services.PaymentRail
	if cfg.PaystackSecret != "" {
		rail = paystack
	} else {
		log.Warn("no payment rail configured, settlements run against the stub")
		rail = &services.StubRail{}
	}

	workers.RegisterAll(jobs,
		workers.NewPaymentWorker(ledgerSvc, rail, log),
		workers.NewDisputeWorker(db, log, cfg.Policy, notifier),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := jobs.Start(ctx); err != nil {
		log.Fatal("failed to start queue service: %v", err)
	}

	var publisher outbox.Publisher = outbox.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher = outbox.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaEventsTopic)
		log.Info("publishing domain events to kafka topic %s", cfg.KafkaEventsTopic)
	}
	defer publisher.Close()

	bridge := outbox.NewNotificationBridge(db, log, notifier)
	dispatcher := outbox.NewDispatcher(db, log, publisher, bridge)

	sched, err := scheduler.NewManager(log, milestones, dispatcher)
	if err != nil {
		log.Fatal("failed to create scheduler: %v", err)
	}
	if err := sched.Start(); err != nil {
		log.Fatal("failed to start scheduler: %v", err)
	}

	app := fiber.New(fiber.Config{
		AppName:   "Contralock API v1.0",
		BodyLimit: 10 * 1024 * 1024,
	})
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${method} ${path} (${latency})\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))

	handler := handlers.New(db, log, ledgerSvc, milestones, disputes, jobs, paystack, notifier)
	routes.Setup(app, handler, db, cfg.JWTSecret)

	go func() {
		log.Info("server listening on :%s", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Error("server stopped: %v", err)
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error("http shutdown failed: %v", err)
	}
	if err := sched.Shutdown(); err != nil {
		log.Error("scheduler shutdown failed: %v", err)
	}
	if err := jobs.Shutdown(shutdownCtx); err != nil {
		log.Error("queue shutdown failed: %v", err)
	}
	log.Info("bye")
}
