package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

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
	"drip/internal/scheduler"
	"drip/internal/suppression"
	"drip/pkg/bootstrap"
	"drip/pkg/crypto"
	"drip/pkg/health"
	"drip/pkg/metrics"
)

type App struct {
	config      *config.Config
	logger      logger.Logger
	dbConnector *bootstrap.DatabaseConnector
	db          *sql.DB
	producer    *broker.KafkaProducer
	scheduler   *scheduler.Scheduler
	sweeper     *reconciler.Sweeper
	server      *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		config:      cfg,
		logger:      log,
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.db = db

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

	processor := scheduler.NewProcessor(
		enrollmentRepo, journeyRepo, messageRepo, suppressionRepo, eventRepo,
		accountRepo, credentials, gatewayClient, a.config.Scheduler, a.logger)
	a.scheduler = scheduler.New(enrollmentRepo, processor, a.config.Scheduler, a.logger)

	a.producer = broker.NewKafkaProducer(a.config.Broker.Kafka, a.logger)
	var producer broker.Producer
	if a.producer != nil {
		producer = a.producer
	}

	reconcilerSvc := reconciler.NewService(
		webhookRepo, messageRepo, enrollmentRepo, suppressionRepo,
		eventRepo, journeyRepo, producer, a.logger)
	a.sweeper = reconciler.NewSweeper(webhookRepo, reconcilerSvc, a.config.Webhook, a.logger)

	metrics.RegisterSchedulerMetrics()
	a.initServer()

	return nil
}

// initServer exposes health and metrics only; the scheduler takes no
// inbound traffic.
func (a *App) initServer() {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewPostgreSQLChecker(a.db))

	router.GET("/health", func(c *gin.Context) {
		h := healthRegistry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.config.Server.Port),
		Handler: router,
	}
}

func (a *App) Run(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		a.logger.InfowCtx(ctx, "Server listening", "port", a.config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.scheduler.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		a.sweeper.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		wg.Wait()
		return a.Shutdown(ctx)
	case err := <-errChan:
		return err
	}
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.InfowCtx(ctx, "Shutting down scheduler service")

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

	dbErrs := a.dbConnector.ShutdownDatabases(nil, a.db)
	errs = append(errs, dbErrs...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	a.logger.InfowCtx(ctx, "Scheduler service exited successfully")
	return nil
}
