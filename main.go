// Package main provides the main entry point for the ZapCast campaign engine
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
	"github.com/zapcast/zapcast/app/consumer"
	"github.com/zapcast/zapcast/app/handlers"
	"github.com/zapcast/zapcast/app/middleware"
	"github.com/zapcast/zapcast/app/router"
	"github.com/zapcast/zapcast/app/scheduler"
	"github.com/zapcast/zapcast/app/services"
	businessflow "github.com/zapcast/zapcast/business_flow"
	"github.com/zapcast/zapcast/config"
	"github.com/zapcast/zapcast/repository"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Application represents the main application structure
type Application struct {
	router    router.Router
	config    *config.ProductionConfig
	server    *fiber.App
	stopFuncs []func()
}

func main() {
	log.Println("Starting ZapCast application...")

	cfg, err := config.LoadProductionConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	app, err := initializeApplication(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	app.router.SetupRoutes()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := app.server.Listen(address); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-sigChan
	log.Println("Shutting down gracefully...")

	for _, fn := range app.stopFuncs {
		fn()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := app.server.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// initializeDatabase initializes the database connection with connection pooling
func initializeDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Printf("Database connection established with %d max open connections, %d max idle connections",
		cfg.MaxOpenConns, cfg.MaxIdleConns)

	return db, nil
}

// initializeCache initializes the Redis client and verifies connectivity
func initializeCache(cfg config.CacheConfig) (*redis.Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opt.DB = cfg.RedisDB

	rc := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Printf("Redis connection established (db=%d)", cfg.RedisDB)
	return rc, nil
}

// initializeApplication wires repositories, flows, schedulers and the router
func initializeApplication(cfg *config.ProductionConfig) (*Application, error) {
	var stopFuncs []func()

	db, err := initializeDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}

	rc, err := initializeCache(cfg.Cache)
	if err != nil {
		return nil, err
	}

	// Repositories
	campaignRepo := repository.NewCampaignRepository(db)
	messageRepo := repository.NewOutboundMessageRepository(db)
	contactRepo := repository.NewContactRepository(db)
	channelRepo := repository.NewChannelRepository(db)
	assignmentRepo := repository.NewChannelAssignmentRepository(db)
	conversationRepo := repository.NewConversationStateRepository(db)
	followUpRepo := repository.NewFollowUpRepository(db)
	inboundRepo := repository.NewInboundMessageRepository(db)

	// Services
	tokenService, err := services.NewTokenService(cfg.JWT)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}
	sender := services.NewHTTPChannelGateway(cfg.Gateway)

	// Business flows
	compileFlow := businessflow.NewCompileFlow(campaignRepo, contactRepo, messageRepo, conversationRepo, db, rc, &cfg.Cache)
	controlFlow := businessflow.NewCampaignControlFlow(campaignRepo, messageRepo, conversationRepo, compileFlow, db)
	ledger := businessflow.NewChannelLedger(assignmentRepo, channelRepo, messageRepo, db)
	conversationFlow := businessflow.NewConversationFlow(conversationRepo, messageRepo, contactRepo, db)
	followUpFlow := businessflow.NewFollowUpFlow(followUpRepo, campaignRepo, messageRepo, inboundRepo, db)
	inboundFlow := businessflow.NewInboundFlow(contactRepo, campaignRepo, conversationRepo, messageRepo, inboundRepo, conversationFlow, followUpFlow)

	// Background workers
	dispatch := scheduler.NewDispatchScheduler(campaignRepo, messageRepo, contactRepo, ledger, conversationFlow, followUpFlow, sender, db, cfg.Scheduler)
	stopFuncs = append(stopFuncs, dispatch.Start(context.Background()))

	followUps := scheduler.NewFollowUpScheduler(followUpRepo, campaignRepo, contactRepo, messageRepo, followUpFlow, conversationFlow, ledger, sender, db, cfg.Scheduler)
	stopFuncs = append(stopFuncs, followUps.Start(context.Background()))

	health := scheduler.NewChannelHealthMonitor(channelRepo, sender, rc, cfg.Cache, cfg.Scheduler)
	healthStop, err := health.Start(context.Background())
	if err != nil {
		return nil, err
	}
	stopFuncs = append(stopFuncs, healthStop)

	if cfg.AMQP.Enabled {
		inboundConsumer := consumer.NewInboundConsumer(cfg.AMQP, inboundFlow, cfg.Scheduler.LogDir)
		stopFuncs = append(stopFuncs, inboundConsumer.Start(context.Background()))
	}

	// HTTP layer
	campaignHandler := handlers.NewCampaignHandler(controlFlow, compileFlow)
	channelHandler := handlers.NewChannelHandler(ledger, channelRepo)
	followUpHandler := handlers.NewFollowUpHandler(followUpFlow)
	inboundHandler := handlers.NewInboundHandler(inboundFlow)

	authMiddleware := middleware.NewAuthMiddleware(tokenService)
	apiKey := middleware.NewAPIKeyMiddleware(cfg.Security)

	appRouter := router.NewFiberRouter(cfg, campaignHandler, channelHandler, followUpHandler, inboundHandler, authMiddleware, apiKey)

	return &Application{
		router:    appRouter,
		config:    cfg,
		server:    appRouter.GetApp(),
		stopFuncs: stopFuncs,
	}, nil
}
