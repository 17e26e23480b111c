// Package main provides the main entry point for the WhatsApp relay
//
// @title WhatsApp Relay API
// @version 1.0
// @description Relays text messages through a linked WhatsApp account
// @BasePath /
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/amirphl/wa-relay/app/handlers"
	"github.com/amirphl/wa-relay/app/middleware"
	"github.com/amirphl/wa-relay/app/router"
	"github.com/amirphl/wa-relay/app/scheduler"
	"github.com/amirphl/wa-relay/app/services"
	businessflow "github.com/amirphl/wa-relay/business_flow"
	"github.com/amirphl/wa-relay/config"
	"github.com/amirphl/wa-relay/repository"
	"github.com/amirphl/wa-relay/utils"
	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// mockPhoneNumber is the account the mock client pretends to link
const mockPhoneNumber = "15550000000"

// Application represents the main application structure
type Application struct {
	router   router.Router
	config   *config.ProductionConfig
	server   *fiber.App
	sessions businessflow.SessionManager

	// stopFuncs run in order on shutdown, before the session is torn down
	stopFuncs []func()
	// closers run last, after the session manager has shut down
	closers []func() error
}

func main() {
	issueFor := flag.String("issue-token", "", "print an API token for the named client and exit")
	flag.Parse()

	// Load production configuration
	cfg, err := config.LoadProductionConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if *issueFor != "" {
		token, err := issueToken(cfg.JWT, *issueFor)
		if err != nil {
			log.Fatalf("Failed to issue token: %v", err)
		}
		fmt.Println(token)
		return
	}

	accessLog := initializeLogging(cfg.Logging)
	log.Printf("Starting WhatsApp relay %s (%s, commit %s)...", cfg.Deployment.Version, cfg.Deployment.Environment, cfg.Deployment.CommitHash)

	// Initialize application
	app, err := initializeApplication(cfg, accessLog)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	// Setup routes
	app.router.SetupRoutes()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		log.Printf("Server starting on %s", address)

		if err := app.server.Listen(address, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown signal
	sig := <-sigChan
	log.Printf("Received %s, shutting down gracefully...", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Stop taking requests first so no send starts against a closing session
	if err := app.server.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	// Stop background workers
	for _, fn := range app.stopFuncs {
		fn()
	}

	if err := app.sessions.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down WhatsApp session: %v", err)
	}

	for _, closeFn := range app.closers {
		if err := closeFn(); err != nil {
			log.Printf("Error releasing resource: %v", err)
		}
	}

	log.Println("Server stopped")
}

// initializeLogging routes the standard logger to stdout, a rotating file, or both.
// The returned writer receives HTTP access logs.
func initializeLogging(cfg config.LoggingConfig) io.Writer {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.LUTC)

	if cfg.Output != "file" && cfg.Output != "both" {
		return os.Stdout
	}

	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
		log.Printf("Failed to create log directory, logging to stdout only: %v", err)
		return os.Stdout
	}

	var out io.Writer = &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
	if cfg.Output == "both" {
		out = io.MultiWriter(os.Stdout, out)
	}

	log.SetOutput(out)
	return out
}

// initializeDatabase initializes the database connection with connection pooling
func initializeDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.New(log.Default(), logger.Config{
			SlowThreshold:             cfg.SlowQueryTime,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying sql.DB for connection pooling configuration
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	// Configure connection pooling
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// Test the connection
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Printf("Database connection established with %d max open connections, %d max idle connections",
		cfg.MaxOpenConns, cfg.MaxIdleConns)

	return db, nil
}

// initializeCache initializes the Cache client and verifies connectivity
func initializeCache(cfg config.CacheConfig) (*redis.Client, error) {
	if !cfg.Enabled || cfg.Provider != "redis" {
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	// Override DB if provided in config
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

// startCacheHealthMonitor starts a background goroutine that periodically pings Redis
// to detect connectivity issues. The returned cancel function stops the monitor.
func startCacheHealthMonitor(parent context.Context, client *redis.Client, interval time.Duration) func() {
	monitorCtx, cancel := context.WithCancel(parent)
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				ctx, c := context.WithTimeout(context.Background(), 3*time.Second)
				if err := client.Ping(ctx).Err(); err != nil {
					log.Printf("Redis healthcheck failed: %v", err)
				}
				c()
			}
		}
	}()
	return cancel
}

// initializeClientFactory picks the automated session client implementation
func initializeClientFactory(cfg *config.ProductionConfig) (services.ClientFactory, func() error) {
	switch cfg.WhatsApp.ClientProvider {
	case "mock":
		log.Printf("Using mock WhatsApp client (pairing delay %s)", cfg.WhatsApp.MockPairingDelay)
		return services.NewMockClientFactory(cfg.WhatsApp.MockPairingDelay, mockPhoneNumber), func() error { return nil }
	default:
		factory := services.NewWhatsmeowClientFactory(services.WhatsmeowConfig{
			StoreDialect: cfg.WhatsApp.StoreDialect,
			AuthPath:     cfg.WhatsApp.AuthPath,
			PostgresDSN:  cfg.Database.DSN(),
			LogLevel:     cfg.WhatsApp.ClientLogLevel,
		})
		log.Printf("Using whatsmeow client with %s credential store", cfg.WhatsApp.StoreDialect)
		return factory, factory.Close
	}
}

// initializeSendGuard shares duplicate-send claims through Redis when it is available
func initializeSendGuard(cfg config.CacheConfig, rc *redis.Client) services.SendGuard {
	if rc != nil {
		return services.NewRedisSendGuard(rc, cfg.RedisPrefix, cfg.DefaultTTL)
	}
	return services.NewMemorySendGuard(cfg.DefaultTTL, utils.SystemClock())
}

// initializeApplication initializes the main application components
func initializeApplication(cfg *config.ProductionConfig, accessLog io.Writer) (*Application, error) {
	var stopFuncs []func()
	var closers []func() error

	// Initialize database
	db, err := initializeDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}
	closers = append(closers, func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})

	rc, err := initializeCache(cfg.Cache)
	if err != nil {
		return nil, err
	}
	if rc != nil {
		stopFuncs = append(stopFuncs, startCacheHealthMonitor(context.Background(), rc, cfg.Cache.CleanupInterval))
		closers = append(closers, rc.Close)
	}

	// Initialize repositories
	sessionRepo := repository.NewWhatsAppSessionRepository(db)
	messageRepo := repository.NewOutboundMessageRepository(db)

	// Initialize services
	factory, closeFactory := initializeClientFactory(cfg)
	closers = append(closers, closeFactory)
	guard := initializeSendGuard(cfg.Cache, rc)
	clock := utils.SystemClock()

	var tokenService services.TokenService
	if cfg.JWT.SecretKey != "" {
		tokenService, err = services.NewTokenService(cfg.JWT.TokenTTL, cfg.JWT.Issuer, cfg.JWT.Audience, cfg.JWT.SecretKey)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize token service: %w", err)
		}
		log.Printf("Token service initialized with issuer: %s, audience: %s", cfg.JWT.Issuer, cfg.JWT.Audience)
	}

	// Initialize flows
	sessionManager := businessflow.NewSessionManager(
		businessflow.SessionManagerConfig{
			SessionName:    cfg.WhatsApp.SessionName,
			ReconnectDelay: cfg.WhatsApp.ReconnectDelay,
			StoreTimeout:   cfg.WhatsApp.StoreTimeout,
		},
		factory,
		sessionRepo,
		clock,
	)

	dispatchFlow := businessflow.NewDispatchFlow(
		businessflow.DispatchConfig{
			SendTimeout:     cfg.WhatsApp.SendTimeout,
			BulkDelay:       cfg.WhatsApp.BulkSendDelay,
			StoreTimeout:    cfg.WhatsApp.StoreTimeout,
			ContactsLimit:   cfg.WhatsApp.ContactsLimit,
			BulkMaxMessages: cfg.WhatsApp.BulkMaxMessages,
		},
		sessionManager,
		messageRepo,
		guard,
		clock,
	)

	restoreCtx, restoreCancel := context.WithTimeout(context.Background(), cfg.WhatsApp.StoreTimeout)
	defer restoreCancel()
	if err := sessionManager.Restore(restoreCtx, cfg.WhatsApp.AutoConnect); err != nil {
		// The relay still serves; the session row is rewritten on the next transition
		log.Printf("Failed to restore WhatsApp session %s: %v", cfg.WhatsApp.SessionName, err)
	}

	// Initialize handlers
	whatsappHandler := handlers.NewWhatsAppHandler(sessionManager, dispatchFlow)

	// Initialize auth middleware
	authMiddleware := middleware.NewAuthMiddleware(tokenService, cfg.Security.APIKeyHeader, cfg.Security.AllowedAPIKeys)

	// Initialize router
	appRouter := router.NewFiberRouter(cfg, whatsappHandler, authMiddleware, accessLog)

	if cfg.Outbox.Enabled {
		batchSize := cfg.Outbox.BatchSize
		if batchSize > cfg.WhatsApp.BulkMaxMessages {
			batchSize = cfg.WhatsApp.BulkMaxMessages
		}
		outbox := scheduler.NewOutboxScheduler(
			messageRepo,
			dispatchFlow,
			sessionManager,
			scheduler.OutboxConfig{
				SessionName: cfg.WhatsApp.SessionName,
				Interval:    cfg.Outbox.Interval,
				BatchSize:   batchSize,
			},
			scheduler.NewOutboxLogger(cfg.Outbox.LogPath),
		)
		stopFuncs = append(stopFuncs, outbox.Start(context.Background()))
	}

	application := &Application{
		router:    appRouter,
		config:    cfg,
		server:    appRouter.GetApp(),
		sessions:  sessionManager,
		stopFuncs: stopFuncs,
		closers:   closers,
	}

	return application, nil
}

// issueToken signs an API token for client with the configured JWT settings
func issueToken(cfg config.JWTConfig, client string) (string, error) {
	tokens, err := services.NewTokenService(cfg.TokenTTL, cfg.Issuer, cfg.Audience, cfg.SecretKey)
	if err != nil {
		return "", err
	}
	return tokens.GenerateToken(client)
}
