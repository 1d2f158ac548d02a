package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/grigta/hotspot/pkg/crypto"
	"github.com/grigta/hotspot/pkg/database"
	"github.com/grigta/hotspot/pkg/logger"
	"github.com/grigta/hotspot/pkg/messaging"
	"github.com/grigta/hotspot/services/billing-service/internal/config"
	"github.com/grigta/hotspot/services/billing-service/internal/models"
	"github.com/grigta/hotspot/services/billing-service/internal/repository"
	"github.com/grigta/hotspot/services/billing-service/internal/service"
)

func main() {
	os.Exit(run())
}

// run performs one expiry sweep. It returns 1 only when the sweep could not
// start or was interrupted; per-voucher failures are reported in the summary.
func run() int {
	cfg, err := config.LoadSweeperConfig(os.Getenv("SWEEPER_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Expiry sweep failed: %v\n", err)
		return 1
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat).WithField("service", "voucher-sweeper")
	logger.SetDefault(log)

	db, err := database.NewMongoDB(cfg.MongoURI, cfg.DatabaseName, cfg.MongoTimeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Expiry sweep failed: %v\n", err)
		return 1
	}
	defer db.Close()

	var publisher messaging.Publisher = messaging.NopPublisher{}
	if cfg.RabbitMQURL != "" {
		mq, err := messaging.NewRabbitMQ(cfg.RabbitMQURL, cfg.Exchange)
		if err != nil {
			log.Warn("RabbitMQ unavailable, expiry events disabled", logger.Err(err))
		} else {
			defer mq.Close()
			publisher = mq
		}
	}

	var remover service.HotspotUserRemover
	if !cfg.Routers.SkipRemoval {
		var encryptor *crypto.Encryptor
		if cfg.EncryptionKey != "" {
			encryptor, err = crypto.NewEncryptor(cfg.EncryptionKey)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Expiry sweep failed: %v\n", err)
				return 1
			}
		}
		providers := service.NewProviderRegistry(encryptor)
		providers.Register(models.ProviderMikroTik, service.NewMikroTikClient(cfg.Routers.RequestTimeout, cfg.Routers.InsecureSkipVerify, log))
		providers.Register(models.ProviderUniFi, service.NewUniFiClient(cfg.Routers.RequestTimeout, cfg.Routers.InsecureSkipVerify, log))
		remover = providers
	}

	mdb := db.GetDatabase()
	sweeper := service.NewExpirySweeper(
		repository.NewVoucherRepository(mdb),
		repository.NewRouterRepository(mdb),
		repository.NewAuditLogRepository(mdb),
		remover,
		service.NewEventPublisher(publisher, log),
		service.NewMetrics(prometheus.NewRegistry()),
		log,
	)
	sweeper.SetProgressOutput(os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.RunTimeout)
	defer cancel()

	fmt.Printf("Starting voucher expiry sweep at %s\n", time.Now().Format(time.RFC3339))

	result, err := sweeper.Run(ctx)
	if result == nil {
		fmt.Fprintf(os.Stderr, "Expiry sweep failed: %v\n", err)
		return 1
	}

	fmt.Println(result.Summary())

	if err != nil {
		fmt.Fprintf(os.Stderr, "Expiry sweep interrupted: %v\n", err)
		return 1
	}
	return 0
}
