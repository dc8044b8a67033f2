package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-migrate/migrate/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rabbitmq/amqp091-go"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	ginprometheus "github.com/zsais/go-gin-prometheus"

	"dream-server/internal/config"
	"dream-server/internal/handler"
	"dream-server/internal/logger"
	"dream-server/internal/messaging"
	"dream-server/internal/middleware"
	"dream-server/internal/repository"
	"dream-server/internal/service"
	"dream-server/internal/ws"
)

func main() {
	// --- Configuration ---
	_ = godotenv.Load()
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// --- Logger Setup ---
	log, err := logger.New(logger.Config{
		Level:    cfg.LogLevel,
		Encoding: "json",
	})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	zap.ReplaceGlobals(log)
	zap.L().Info("Configuration loaded", zap.String("env", cfg.Env))

	// The websocket layer logs with zerolog.
	wsLogger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	// --- External Connections ---
	pgPool, err := setupPostgres(cfg)
	if err != nil {
		zap.L().Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer pgPool.Close()
	zap.L().Info("Connected to PostgreSQL")

	if err := runMigrations(cfg); err != nil {
		zap.L().Fatal("Failed to run migrations", zap.Error(err))
	}
	zap.L().Info("Database migrations applied")

	redisClient, err := setupRedis(cfg)
	if err != nil {
		zap.L().Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	zap.L().Info("Connected to Redis")

	mqConn, err := connectRabbitMQ(cfg.RabbitMQURL, log)
	if err != nil {
		zap.L().Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer mqConn.Close()
	zap.L().Info("Connected to RabbitMQ")

	mqChannel, err := mqConn.Channel()
	if err != nil {
		zap.L().Fatal("Failed to open RabbitMQ channel", zap.Error(err))
	}
	defer mqChannel.Close()

	// --- Dependency Injection ---
	styleRepo := repository.NewPgStyleRepository(pgPool, log)
	sequenceRepo := repository.NewPgSequenceRepository(pgPool, log)
	imageRefRepo := repository.NewPgImageReferenceRepository(pgPool, log)
	dynamicConfigRepo := repository.NewPgDynamicConfigRepository(pgPool, log)

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := service.EnsurePlaceholder(startupCtx, cfg, imageRefRepo, log); err != nil {
		startupCancel()
		zap.L().Fatal("Failed to provision placeholder image", zap.Error(err))
	}
	startupCancel()

	styleResolver := service.NewStyleResolver(styleRepo, redisClient, cfg.StyleCacheTTL, log)

	analyzer, err := service.NewCharacterAnalyzer(cfg, log)
	if err != nil {
		zap.L().Fatal("Failed to create character analyzer", zap.Error(err))
	}

	synthesizer, err := service.NewImageSynthesizer(cfg, imageRefRepo, log)
	if err != nil {
		zap.L().Fatal("Failed to create image synthesizer", zap.Error(err))
	}

	rulesService := service.NewRulesService(dynamicConfigRepo, cfg.DefaultGlobalRules(), log)

	notifier, err := messaging.NewRabbitMQProgressPublisher(mqChannel, cfg.ProgressQueueName, log)
	if err != nil {
		zap.L().Fatal("Failed to create progress publisher", zap.Error(err))
	}

	orchestrator := service.NewOrchestrator(cfg, styleResolver, analyzer, synthesizer,
		sequenceRepo, imageRefRepo, notifier, rulesService, log)

	connectionManager := ws.NewConnectionManager(wsLogger)
	wsHandler := ws.NewWebSocketHandler(connectionManager, cfg.JWTSecret, wsLogger)
	progressConsumer := messaging.NewProgressConsumer(mqConn, connectionManager, cfg.ProgressQueueName, log)

	sequenceHandler := handler.NewSequenceHandler(cfg, orchestrator, imageRefRepo, log)

	// --- HTTP Server Setup (Gin) ---
	gin.SetMode(gin.ReleaseMode)
	if cfg.Env == "development" {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.RedirectTrailingSlash = true
	router.Use(middleware.ZapLogger(log))
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	corsConfig.AllowCredentials = true
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	healthHandler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	router.GET("/health", healthHandler)
	router.HEAD("/health", healthHandler)

	router.Static(strings.TrimSuffix(cfg.ImagePublicBaseURL, "/"), cfg.ImageSavePath)
	router.GET("/ws", gin.WrapF(wsHandler.ServeWS))
	sequenceHandler.RegisterRoutes(router, middleware.Auth(cfg.JWTSecret, log))

	p := ginprometheus.NewPrometheus("gin")
	p.Use(router)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Run ---
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eg, egCtx := errgroup.WithContext(rootCtx)

	eg.Go(func() error {
		zap.L().Info("Starting HTTP server", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		if err := progressConsumer.StartConsuming(); err != nil {
			return fmt.Errorf("progress consumer: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		rulesService.StartRefreshing(egCtx, cfg.RulesRefreshEvery)
		return nil
	})

	eg.Go(func() error {
		<-egCtx.Done()
		zap.L().Info("Shutting down...")

		progressConsumer.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Error("HTTP server forced to shutdown", zap.Error(err))
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		zap.L().Fatal("Service stopped with error", zap.Error(err))
	}
	zap.L().Info("Server exiting")
}

// runMigrations applies all pending SQL migrations at startup.
func runMigrations(cfg *config.Config) error {
	sourceURL := "file://" + cfg.MigrationsDir
	m, err := migrate.New(sourceURL, cfg.GetDSN())
	if err != nil {
		return fmt.Errorf("failed to init migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// setupPostgres initializes the PostgreSQL connection pool with retry logic.
func setupPostgres(cfg *config.Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("unable to parse postgres config: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.DBMaxConns)
	poolConfig.MaxConnIdleTime = cfg.DBIdleTimeout

	var pool *pgxpool.Pool
	var lastErr error
	maxRetries := 50
	retryDelay := 3 * time.Second

	zap.L().Info("Attempting to connect to PostgreSQL",
		zap.Int("max_retries", maxRetries),
		zap.Duration("retry_delay", retryDelay))

	for i := 0; i < maxRetries; i++ {
		attempt := i + 1
		connectCtx, connectCancel := context.WithTimeout(context.Background(), 5*time.Second)
		pool, err = pgxpool.NewWithConfig(connectCtx, poolConfig)
		connectCancel()

		if err != nil {
			lastErr = fmt.Errorf("unable to create postgres connection pool (attempt %d/%d): %w", attempt, maxRetries, err)
			zap.L().Warn("Postgres connection pool creation failed, retrying...",
				zap.Int("attempt", attempt), zap.Error(err))
			if i < maxRetries-1 {
				time.Sleep(retryDelay)
			}
			continue
		}

		pingCtx, pingCancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = pool.Ping(pingCtx)
		pingCancel()

		if err == nil {
			zap.L().Info("Successfully connected and pinged PostgreSQL", zap.Int("attempt", attempt))
			return pool, nil
		}

		pool.Close()
		lastErr = fmt.Errorf("unable to ping postgres database (attempt %d/%d): %w", attempt, maxRetries, err)
		zap.L().Warn("Postgres ping failed, retrying...",
			zap.Int("attempt", attempt), zap.Error(err))
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}

	return nil, fmt.Errorf("failed to connect to postgres after %d attempts: %w", maxRetries, lastErr)
}

// setupRedis initializes the Redis client with retry logic.
func setupRedis(cfg *config.Config) (*redis.Client, error) {
	redisOpts := &redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	}

	var client *redis.Client
	var lastErr error
	maxRetries := 50
	retryDelay := 3 * time.Second

	for i := 0; i < maxRetries; i++ {
		attempt := i + 1
		client = redis.NewClient(redisOpts)

		pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, err := client.Ping(pingCtx).Result()
		pingCancel()

		if err == nil {
			zap.L().Info("Successfully connected and pinged Redis", zap.Int("attempt", attempt))
			return client, nil
		}

		client.Close()
		lastErr = fmt.Errorf("unable to ping redis (attempt %d/%d): %w", attempt, maxRetries, err)
		zap.L().Warn("Redis ping failed, retrying...",
			zap.Int("attempt", attempt), zap.Error(err))
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}

	return nil, fmt.Errorf("failed to connect to redis after %d attempts: %w", maxRetries, lastErr)
}

// connectRabbitMQ dials RabbitMQ with retry logic and logs unexpected
// connection closes.
func connectRabbitMQ(url string, log *zap.Logger) (*amqp091.Connection, error) {
	var conn *amqp091.Connection
	var err error
	maxRetries := 50
	retryDelay := 5 * time.Second

	log.Info("Attempting to connect to RabbitMQ",
		zap.String("url", maskRabbitMQURL(url)),
		zap.Int("max_retries", maxRetries),
		zap.Duration("retry_delay", retryDelay))

	for i := 0; i < maxRetries; i++ {
		attempt := i + 1
		conn, err = amqp091.Dial(url)
		if err == nil {
			log.Info("Successfully connected to RabbitMQ", zap.Int("attempt", attempt))
			go func() {
				notifyClose := make(chan *amqp091.Error)
				conn.NotifyClose(notifyClose)
				if closeErr := <-notifyClose; closeErr != nil {
					log.Error("RabbitMQ connection closed unexpectedly", zap.Error(closeErr))
				} else {
					log.Info("RabbitMQ connection closed gracefully")
				}
			}()
			return conn, nil
		}
		log.Warn("RabbitMQ connection failed, retrying...",
			zap.Int("attempt", attempt), zap.Error(err))
		time.Sleep(retryDelay)
	}

	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxRetries, err)
}

// maskRabbitMQURL hides the credentials part of an AMQP URL for logging.
func maskRabbitMQURL(urlStr string) string {
	schemaIdx := strings.Index(urlStr, "://")
	atIdx := strings.LastIndex(urlStr, "@")
	if schemaIdx == -1 || atIdx == -1 || atIdx < schemaIdx {
		return urlStr
	}
	return urlStr[:schemaIdx+3] + "***" + urlStr[atIdx:]
}
