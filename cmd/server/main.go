package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/foodhub-delivery/service-routing/internal/application"
	"github.com/foodhub-delivery/service-routing/internal/config"
	runDomain "github.com/foodhub-delivery/service-routing/internal/domain/run"
	routingEvents "github.com/foodhub-delivery/service-routing/internal/events"
	"github.com/foodhub-delivery/service-routing/internal/handler"
	"github.com/foodhub-delivery/service-routing/internal/metrics"
	"github.com/foodhub-delivery/service-routing/internal/platform/database"
	"github.com/foodhub-delivery/service-routing/internal/platform/health"
	"github.com/foodhub-delivery/service-routing/internal/platform/kafka"
	"github.com/foodhub-delivery/service-routing/internal/platform/logger"
	"github.com/foodhub-delivery/service-routing/internal/platform/middleware"
	"github.com/foodhub-delivery/service-routing/internal/repository"
	"github.com/foodhub-delivery/service-routing/internal/tracking"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const serviceName = "service-routing"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewNamed(cfg.AppEnv, serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting service-routing",
		zap.String("port", cfg.Port),
		zap.Duration("poll_interval", cfg.Tracking.PollInterval),
	)

	// Connect to database
	dbConfig := database.PostgresConfig{
		Host:     cfg.DBConfig.Host,
		Port:     cfg.DBConfig.Port,
		User:     cfg.DBConfig.User,
		Password: cfg.DBConfig.Password,
		DBName:   cfg.DBConfig.DBName,
		SSLMode:  cfg.DBConfig.SSLMode,
	}
	db, err := database.Connect(dbConfig, log)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}

	// Run database migrations
	if cfg.AppEnv == "development" {
		if err := db.AutoMigrate(&repository.RunModel{}, &repository.OrderModel{}, &repository.DriverModel{}); err != nil {
			log.Fatal("failed to run auto-migration", zap.Error(err))
		}
		log.Info("database migration completed (dev auto-migrate)")
	} else {
		if err := database.RunMigrations(dbConfig.DatabaseURL(), cfg.MigrationsPath, log); err != nil {
			log.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	// Initialize metrics
	collector := metrics.NewCollector(cfg.Tracking.PollInterval)

	// Initialize Kafka producer
	kafkaProducer := kafka.NewProducer(cfg.KafkaConfig.Brokers, log)
	defer func() { _ = kafkaProducer.Close() }()

	// Initialize Redis location cache
	rdb := tracking.NewRedisClient(cfg.RedisConfig.Addr, cfg.RedisConfig.Password, cfg.RedisConfig.DB)
	defer func() { _ = rdb.Close() }()
	locations := tracking.NewLocationCache(rdb, cfg.Tracking.LocationStaleAfter)

	// Initialize NATS driver notifier
	notifier, err := tracking.NewNATSNotifier(cfg.NATSConfig.URL, serviceName, cfg.NATSConfig.LogSubjects, log, collector)
	if err != nil {
		log.Fatal("failed to connect to nats", zap.Error(err))
	}
	defer notifier.Close()

	// Initialize repositories
	runRepo := repository.NewGormRunRepository(db)
	store := repository.NewGormFulfillmentStore(db)

	// Initialize run tracker and application service
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracker := application.NewTracker(application.ControllerDeps{
		Repo:            runRepo,
		Positions:       locations,
		Store:           store,
		Notifier:        notifier,
		Events:          kafkaProducer,
		Clock:           application.SystemClock{},
		Metrics:         collector,
		Logger:          log,
		PollInterval:    cfg.Tracking.PollInterval,
		AverageSpeedKmh: cfg.Tracking.AverageSpeedKmh,
	})
	runService := application.NewRunService(ctx, tracker, locations, runDomain.Policy{
		DeviationThresholdKm: cfg.Tracking.DeviationThresholdKm,
		UrgencyWindow:        cfg.Tracking.UrgencyWindow,
	})

	// Resume runs that were active before the last shutdown
	if _, err := runService.Resume(ctx); err != nil {
		log.Error("failed to resume active runs", zap.Error(err))
	}

	// Initialize and start order event consumer in a goroutine
	groupID := cfg.KafkaConfig.GroupPrefix + "routing-service"
	orderConsumer := routingEvents.NewOrderEventConsumer(
		cfg.KafkaConfig.Brokers,
		groupID,
		runService,
		log,
	)
	defer func() { _ = orderConsumer.Close() }()

	go func() {
		log.Info("starting order event consumer")
		if err := orderConsumer.Start(ctx); err != nil && err != context.Canceled {
			log.Error("order event consumer error", zap.Error(err))
		}
	}()

	// Initialize HTTP handlers
	runHandler := handler.NewRunHandler(runService)
	adminRunHandler := handler.NewAdminRunHandler(runService)

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	// Apply global middleware
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.LoggerMiddleware(log))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware())

	// Register health check routes
	healthHandler := health.NewHandler(db, serviceName)
	healthHandler.AddCheck("redis", locations.Ping)
	healthHandler.AddCheck("nats", notifier.Ping)
	healthHandler.RegisterRoutes(router)

	router.GET("/metrics", gin.WrapH(collector.Handler()))

	// Register routes
	runHandler.RegisterRoutes(&router.RouterGroup)
	adminRunHandler.RegisterRoutes(&router.RouterGroup)

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info("HTTP server starting", zap.String("addr", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down service-routing...")

	// Shutdown HTTP server with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server forced shutdown", zap.Error(err))
	}

	// Stop the consumer and every run controller; runs stay persisted and resume on restart
	cancel()
	tracker.Shutdown()

	log.Info("service-routing stopped")
}
