package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/grigta/hotspot/pkg/cache"
	"github.com/grigta/hotspot/pkg/config"
	"github.com/grigta/hotspot/pkg/crypto"
	"github.com/grigta/hotspot/pkg/database"
	"github.com/grigta/hotspot/pkg/logger"
	"github.com/grigta/hotspot/pkg/messaging"
	"github.com/grigta/hotspot/pkg/middleware"
	"github.com/grigta/hotspot/services/billing-service/internal/handlers"
	"github.com/grigta/hotspot/services/billing-service/internal/models"
	"github.com/grigta/hotspot/services/billing-service/internal/repository"
	"github.com/grigta/hotspot/services/billing-service/internal/service"
)

const scheduledSweepTimeout = 30 * time.Minute

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", logger.Err(err))
	}

	log := logger.New(cfg.App.LogLevel, cfg.App.LogFormat).WithField("service", cfg.App.Name)
	logger.SetDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize MongoDB
	db, err := database.NewMongoDB(cfg.Database.URI, cfg.Database.DBName, cfg.Database.Timeout)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB", logger.Err(err))
	}
	defer db.Close()

	if err := db.EnsureIndexes(ctx, repository.Indexes()); err != nil {
		log.Warn("Failed to ensure indexes", logger.Err(err))
	}

	// Initialize Redis
	var rateCache service.RateCache
	if cfg.Redis.Enabled {
		redisCache, err := cache.NewRedisCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Warn("Redis unavailable, commission rates will not be cached", logger.Err(err))
		} else {
			defer redisCache.Close()
			rateCache = redisCache
		}
	}

	// Initialize RabbitMQ
	var publisher messaging.Publisher = messaging.NopPublisher{}
	if cfg.RabbitMQ.Enabled {
		mq, err := messaging.NewRabbitMQ(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
		if err != nil {
			log.Warn("RabbitMQ unavailable, voucher events disabled", logger.Err(err))
		} else {
			defer mq.Close()
			publisher = mq
		}
	}

	var encryptor *crypto.Encryptor
	if cfg.Encryption.Key != "" {
		encryptor, err = crypto.NewEncryptor(cfg.Encryption.Key)
		if err != nil {
			log.Fatal("Invalid encryption key", logger.Err(err))
		}
	}

	var notifier service.Notifier = service.NopNotifier{}
	if cfg.Telegram.BotToken != "" {
		tn, err := service.NewTelegramNotifier(cfg.Telegram.BotToken, log)
		if err != nil {
			log.Warn("Telegram notifications disabled", logger.Err(err))
		} else {
			notifier = tn
		}
	}

	// Initialize repositories
	mdb := db.GetDatabase()
	voucherRepo := repository.NewVoucherRepository(mdb)
	routerRepo := repository.NewRouterRepository(mdb)
	accountRepo := repository.NewAccountRepository(mdb)
	sysConfigRepo := repository.NewSystemConfigRepository(mdb)
	transactionRepo := repository.NewTransactionRepository(mdb)
	auditRepo := repository.NewAuditLogRepository(mdb)
	webhookLogRepo := repository.NewWebhookLogRepository(mdb)

	// Initialize services
	metrics := service.NewMetrics(prometheus.DefaultRegisterer)
	events := service.NewEventPublisher(publisher, log)

	providers := service.NewProviderRegistry(encryptor)
	providers.Register(models.ProviderMikroTik, service.NewMikroTikClient(cfg.Routers.RequestTimeout, cfg.Routers.InsecureSkipVerify, log))
	providers.Register(models.ProviderUniFi, service.NewUniFiClient(cfg.Routers.RequestTimeout, cfg.Routers.InsecureSkipVerify, log))

	commission := service.NewCommissionResolver(
		accountRepo,
		sysConfigRepo,
		rateCache,
		cfg.Billing.CommissionCacheTTL,
		cfg.Billing.DefaultCommissionRate,
		log,
	)

	paymentService := service.NewPaymentService(
		voucherRepo,
		routerRepo,
		accountRepo,
		transactionRepo,
		auditRepo,
		webhookLogRepo,
		commission,
		events,
		notifier,
		metrics,
		service.PaymentConfig{
			AmountTolerance: cfg.Billing.AmountTolerance,
			Currency:        cfg.Billing.Currency,
		},
		log,
	)

	voucherService := service.NewVoucherService(voucherRepo, routerRepo, auditRepo, providers, events, metrics, log)
	sweeper := service.NewExpirySweeper(voucherRepo, routerRepo, auditRepo, providers, events, metrics, log)

	var scheduler *service.SweepScheduler
	if cfg.Sweep.Enabled {
		scheduler = service.NewSweepScheduler(sweeper, cfg.Sweep.Schedule, scheduledSweepTimeout, log)
		if err := scheduler.Start(); err != nil {
			log.Fatal("Failed to start sweep scheduler", logger.Err(err))
		}
	}

	// HTTP server
	if !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logger.GinMiddleware(cfg.App.Name, log))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.CORS.AllowOrigins...)))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health", func(c *gin.Context) {
		if err := db.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	httpHandler := handlers.NewHTTPHandler(paymentService, voucherService, sweeper, log)
	httpHandler.RegisterWebhookRoutes(router)

	if cfg.JWT.Secret == "" {
		log.Warn("JWT secret not configured, admin API disabled")
	} else {
		var extra []gin.HandlerFunc
		if cfg.RateLimit.Enabled {
			limiter := middleware.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
			defer limiter.Stop()
			extra = append(extra, limiter.Middleware())
		}
		httpHandler.RegisterAdminRoutes(router, middleware.NewAuthMiddleware(cfg.JWT.Secret), extra...)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("HTTP server listening", logger.Field{Key: "port", Value: cfg.App.Port})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server failed", logger.Err(err))
		}
	}()

	// Wait for termination signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down billing-service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", logger.Err(err))
	}

	if scheduler != nil {
		select {
		case <-scheduler.Stop().Done():
		case <-shutdownCtx.Done():
			log.Error("Shutdown timeout exceeded while waiting for sweep")
		}
	}

	log.Info("Billing-service shutdown complete")
}
