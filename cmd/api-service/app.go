package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	_ "github.com/lib/pq" // PostgreSQL driver

	"drip/internal/account"
	"drip/internal/broker"
	"drip/internal/config"
	"drip/internal/constants"
	"drip/internal/enrollment"
	"drip/internal/event"
	"drip/internal/gateway"
	"drip/internal/journey"
	"drip/internal/logger"
	"drip/internal/message"
	"drip/internal/reconciler"
	"drip/internal/suppression"
	"drip/pkg/bootstrap"
	"drip/pkg/crypto"
	"drip/pkg/health"
	"drip/pkg/metrics"
	"drip/pkg/middleware"
	"drip/pkg/ratelimit"
)

type App struct {
	config      *config.Config
	logger      logger.Logger
	dbConnector *bootstrap.DatabaseConnector
	db          *sql.DB
	redisClient *redis.Client
	producer    *broker.KafkaProducer
	server      *http.Server
	router      *gin.Engine
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		config:      cfg,
		logger:      log,
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := a.initRouter(); err != nil {
		return fmt.Errorf("failed to initialize router: %w", err)
	}

	if err := a.initServer(); err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.db = db

	redisClient, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		return err
	}
	a.redisClient = redisClient

	return nil
}

func (a *App) initRouter() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(middleware.RecoveryMiddleware(a.logger))
	router.Use(middleware.LoggerMiddleware(a.logger))
	router.Use(middleware.RequestIDMiddleware())

	if a.config.API.RateLimit.Enabled {
		rateLimitConfig := ratelimit.RateLimitConfig{
			RPS:             a.config.API.RateLimit.RPS,
			Burst:           a.config.API.RateLimit.Burst,
			CleanupInterval: time.Duration(a.config.API.RateLimit.CleanupInterval) * time.Second,
			MaxAge:          time.Duration(a.config.API.RateLimit.MaxAge) * time.Second,
		}
		router.Use(ratelimit.RateLimitMiddleware(rateLimitConfig))
		a.logger.Infow("Rate limiting enabled", "rps", rateLimitConfig.RPS, "burst", rateLimitConfig.Burst)
	}

	cipher, err := crypto.NewCipher(a.config.Encryption.Key)
	if err != nil {
		return fmt.Errorf("failed to initialize cipher: %w", err)
	}

	accountRepo := account.NewRepository(a.db)
	journeyRepo := journey.NewRepository(a.db)
	enrollmentRepo := enrollment.NewRepository(a.db)
	messageRepo := message.NewRepository(a.db)
	suppressionRepo := suppression.NewRepository(a.db)
	eventRepo := event.NewRepository(a.db)
	webhookRepo := reconciler.NewRepository(a.db)

	credentials := account.NewCredentialResolver(cipher, a.config.Gateway.SystemAPIKey)
	gatewayClient := gateway.NewClient(a.config.Gateway, a.config.CircuitBreaker, a.logger)
	idemCache := enrollment.NewIdempotencyCache(a.redisClient)

	journeySvc := journey.NewService(journeyRepo, a.logger)
	enrollmentSvc := enrollment.NewService(
		enrollmentRepo, journeyRepo, suppressionRepo, eventRepo, idemCache, a.logger)

	a.producer = broker.NewKafkaProducer(a.config.Broker.Kafka, a.logger)
	var producer broker.Producer
	if a.producer != nil {
		producer = a.producer
		a.logger.Infow("Delivery event producer initialized",
			"topic", a.config.Broker.Kafka.DeliveryEventsTopic)
	}

	reconcilerSvc := reconciler.NewService(
		webhookRepo, messageRepo, enrollmentRepo, suppressionRepo,
		eventRepo, journeyRepo, producer, a.logger)

	verifier, err := reconciler.NewVerifier(a.config.Webhook.SigningSecret)
	if err != nil {
		return fmt.Errorf("failed to initialize webhook verifier: %w", err)
	}

	journeyHandler := journey.NewHandler(journeySvc, a.logger)
	enrollmentHandler := enrollment.NewHandler(enrollmentSvc, a.logger)
	accountHandler := account.NewHandler(accountRepo, credentials, gatewayClient, a.logger)
	webhookHandler := reconciler.NewHandler(reconcilerSvc, verifier, a.logger)

	v1 := router.Group("/v1", account.AuthMiddleware(accountRepo))
	journeyHandler.RegisterRoutes(v1)
	enrollmentHandler.RegisterRoutes(v1)
	accountHandler.RegisterRoutes(v1)

	enrollmentHandler.RegisterPublicRoutes(router)
	webhookHandler.RegisterRoutes(router)

	metrics.RegisterAPIMetrics()

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewPostgreSQLChecker(a.db))
	healthRegistry.Register(health.NewRedisChecker(a.redisClient))

	router.GET("/health", func(c *gin.Context) {
		h := healthRegistry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.router = router
	return nil
}

func (a *App) initServer() error {
	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.config.Server.Port),
		Handler:      a.router,
		ReadTimeout:  a.config.Server.ReadTimeoutSeconds,
		WriteTimeout: a.config.Server.WriteTimeoutSeconds,
	}
	return nil
}

func (a *App) Run(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		a.logger.InfowCtx(ctx, "Server listening", "port", a.config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return a.Shutdown(ctx)
	case err := <-errChan:
		return err
	}
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.InfowCtx(ctx, "Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()

	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
		}
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("producer close error: %w", err))
		}
	}

	dbErrs := a.dbConnector.ShutdownDatabases(a.redisClient, a.db)
	errs = append(errs, dbErrs...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	a.logger.InfowCtx(ctx, "Server exited successfully")
	return nil
}
