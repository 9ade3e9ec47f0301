// Package app assembles the settlement core from configuration. Both the
// HTTP service and the operator CLI start from Build.
package app

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"reseller/internal/contributor"
	"reseller/internal/currency"
	"reseller/internal/domain"
	"reseller/internal/gateway"
	"reseller/internal/notification"
	"reseller/internal/repository/postgres"
	"reseller/internal/revenueshare"
	"reseller/internal/wallet"
	"reseller/internal/withdrawal"
	"reseller/pkg/cache"
	"reseller/pkg/config"
	"reseller/pkg/logger"
	"reseller/pkg/mailer"
)

type App struct {
	DB    *sqlx.DB
	Redis *redis.Client

	Currencies   *currency.Service
	Wallets      *wallet.Service
	Payouts      *withdrawal.Service
	Contributors *contributor.Service
	Engine       *revenueshare.Engine
	Audit        *postgres.AuditRepository
	// Notifier is nil when SMTP is not configured.
	Notifier *notification.Service

	cache *cache.RedisCache
}

// Build connects to postgres and redis and wires every service. The revenue
// share engine is registered as an observer of withdrawal settlement.
func Build(cfg *config.Config, log logger.Logger) (*App, error) {
	db, err := postgres.Connect(cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		return nil, err
	}
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	redisCache, err := cache.NewRedisCache(cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		db.Close()
		return nil, err
	}
	rdb := redisCache.Client()

	currencyRepo := postgres.NewCurrencyRepository(db)
	walletRepo := postgres.NewWalletRepository(db)
	withdrawalRepo := postgres.NewWithdrawalRepository(db)
	configRepo := postgres.NewContributorConfigRepository(db)
	settingsRepo := postgres.NewSettingsRepository(db)
	paymentRepo := postgres.NewContributorPaymentRepository(db)
	reportRepo := postgres.NewReportRepository(db)

	currencies := currency.NewService(currencyRepo, cache.NewFromClient(rdb, "currency:"), cfg.Redis.CurrencyTTL, log)
	wallets := wallet.NewService(walletRepo, currencies, log)

	signer := gateway.NewSigner(cfg.Gateway.SharedSecret)
	gatewayClient := gateway.NewHTTPClient(gateway.HTTPClientConfig{
		BaseURL: cfg.Gateway.BaseURL,
		APIKey:  cfg.Gateway.APIKey,
		Secret:  cfg.Gateway.SharedSecret,
		Timeout: cfg.Gateway.Timeout,
	}, log)

	payouts := withdrawal.NewService(withdrawalRepo, wallets, currencies, gatewayClient, signer, withdrawal.Config{
		MaxAttempts:    cfg.Gateway.MaxAttempts,
		RetryBackoff:   cfg.Gateway.RetryBackoff,
		AttemptTimeout: cfg.Gateway.Timeout,
		CallbackWindow: cfg.Settlement.CallbackWindow,
		ExpiryWindow:   cfg.Settlement.ExpiryWindow,
		BatchSize:      cfg.Settlement.SweepBatchSize,
	}, log)

	contributors := contributor.NewService(configRepo, settingsRepo, currencies, log)

	engine := revenueshare.NewEngine(
		configRepo,
		settingsRepo,
		paymentRepo,
		reportRepo,
		payouts,
		currencies,
		revenueshare.NewRedisLocker(rdb, log),
		revenueshare.Config{
			Operator:  domain.Operator(cfg.RevenueShare.DefaultOperator),
			LockTTL:   cfg.RevenueShare.RunLockTTL,
			MaxPayout: cfg.RevenueShare.MaxPayout,
			Location:  cfg.RevenueShare.Location(),
		},
		log,
	)
	payouts.Observe(engine)

	var notifier *notification.Service
	if cfg.SMTP.Host != "" {
		notifier = notification.NewService(mailer.New(mailer.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			UseTLS:   cfg.SMTP.UseTLS,
		}), currencies, 256, log)
		notifier.Start(context.Background())
		payouts.Observe(notifier)
	}

	return &App{
		DB:           db,
		Redis:        rdb,
		Currencies:   currencies,
		Wallets:      wallets,
		Payouts:      payouts,
		Contributors: contributors,
		Engine:       engine,
		Audit:        postgres.NewAuditRepository(db),
		Notifier:     notifier,
		cache:        redisCache,
	}, nil
}

// Close flushes queued notifications before closing connections.
func (a *App) Close() {
	if a.Notifier != nil {
		a.Notifier.Close()
	}
	_ = a.cache.Close()
	_ = a.DB.Close()
}
