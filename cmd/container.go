package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"github.com/bwmarrin/snowflake"
	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-tap-payments/app/cache"
	"github.com/vibast-solutions/ms-go-tap-payments/app/ledger"
	"github.com/vibast-solutions/ms-go-tap-payments/app/notify"
	"github.com/vibast-solutions/ms-go-tap-payments/app/repository"
	"github.com/vibast-solutions/ms-go-tap-payments/app/service"
	"github.com/vibast-solutions/ms-go-tap-payments/config"
)

type container struct {
	cfg        *config.Config
	broker     notify.Broker
	payments   *service.PaymentService
	settlement *service.SettlementWorker
	webhooks   *service.WebhookService
}

func mustCreateContainer() (*container, func()) {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configureLogging(cfg); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}

	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		logrus.WithError(err).Fatal("Failed to ping database")
	}

	store, broker, closeBackend, err := newCacheBackend(cfg.Redis)
	if err != nil {
		_ = db.Close()
		logrus.WithError(err).Fatal("Failed to create cache backend")
	}

	node, err := snowflake.NewNode(cfg.App.NodeID)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to create intent id generator")
	}

	cardRepo := repository.NewCardRepository(db)
	merchantRepo := repository.NewMerchantRepository(db)
	txRepo := repository.NewTransactionRepository(db)
	eventRepo := repository.NewTransactionEventRepository(db)
	jobRepo := repository.NewSettlementJobRepository(db)
	alertRepo := repository.NewReviewAlertRepository(db)
	subRepo := repository.NewWebhookSubscriptionRepository(db)
	deliveryRepo := repository.NewWebhookDeliveryRepository(db)

	ledgerClient := ledger.NewGatewayClient(ledger.GatewayConfig{
		BaseURL:     cfg.Ledger.BaseURL,
		APIKey:      cfg.Ledger.APIKey,
		HTTPTimeout: cfg.Ledger.HTTPTimeout,
		PollEvery:   cfg.Ledger.PollEvery,
	})

	webhookService := service.NewWebhookService(subRepo, deliveryRepo, cfg.Webhooks)
	fanout := service.NewFanout(broker, subRepo, webhookService)
	engine := service.NewAuthorizationEngine(store, cardRepo, merchantRepo, node, cfg.Authorization)

	c := &container{
		cfg:      cfg,
		broker:   broker,
		webhooks: webhookService,
		payments: service.NewPaymentService(engine, txRepo, eventRepo, jobRepo, merchantRepo, fanout, cfg.Settlement),
		settlement: service.NewSettlementWorker(
			jobRepo,
			txRepo,
			eventRepo,
			cardRepo,
			merchantRepo,
			alertRepo,
			store,
			ledgerClient,
			fanout,
			cfg.Settlement,
		),
	}

	cleanup := func() {
		if err := closeBackend(); err != nil {
			logrus.WithError(err).Warn("Failed to close cache backend")
		}
		if err := db.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close database")
		}
	}

	return c, cleanup
}

// newCacheBackend builds the decision cache and the live event broker. Both share one
// Redis client unless the in-process backend is configured.
func newCacheBackend(cfg config.RedisConfig) (cache.Store, notify.Broker, func() error, error) {
	if cfg.Backend == config.CacheBackendMemory {
		logrus.Warn("Using the in-process cache backend, state is not shared with other processes")
		return cache.NewMemoryStore(), notify.NewHub(), func() error { return nil }, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, nil, nil, err
	}
	return cache.NewRedisStore(client), notify.NewRedisBroker(client), client.Close, nil
}

func configureLogging(cfg *config.Config) error {
	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Log.Level))
	if err != nil {
		return err
	}
	logrus.SetLevel(level)

	switch strings.ToLower(strings.TrimSpace(cfg.Log.Format)) {
	case "", "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unsupported log format %q", cfg.Log.Format)
	}
	logrus.SetOutput(os.Stdout)
	return nil
}

func workerID(job string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s-%s-%d", job, host, os.Getpid())
}
