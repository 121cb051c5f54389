package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/vetstack/practice-payments-api/internal/billing"
	"github.com/vetstack/practice-payments-api/internal/config"
	"github.com/vetstack/practice-payments-api/internal/crypto"
	"github.com/vetstack/practice-payments-api/internal/database"
	"github.com/vetstack/practice-payments-api/internal/email"
	"github.com/vetstack/practice-payments-api/internal/jobs"
	"github.com/vetstack/practice-payments-api/internal/logger"
	"github.com/vetstack/practice-payments-api/internal/payment"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.L().Fatal("failed to load configuration", zap.Error(err))
	}

	logger.Init(string(cfg.Environment))
	defer logger.Sync()
	log := logger.L()

	ctx := context.Background()

	platformDB, err := sql.Open("pgx", cfg.PlatformDatabaseURL)
	if err != nil {
		log.Fatal("unable to open platform database", zap.Error(err))
	}
	defer platformDB.Close()

	tenantDB, err := sql.Open("pgx", cfg.TenantDatabaseURL)
	if err != nil {
		log.Fatal("unable to open tenant database", zap.Error(err))
	}
	defer tenantDB.Close()

	if err := platformDB.PingContext(ctx); err != nil {
		log.Fatal("unable to ping platform database", zap.Error(err))
	}
	log.Info("connected to platform database")

	cipher, err := crypto.NewCipher(cfg.CredentialEncryptionKey)
	if err != nil {
		log.Fatal("invalid credential encryption key", zap.Error(err))
	}

	registry := payment.NewRegistry()
	registry.Register(payment.NewStripeAdapter())
	registry.Register(payment.NewPaystackAdapter(cfg.PaystackBaseURL))

	platform := database.NewPlatformStore(platformDB)

	billingService := billing.NewService(billing.ServiceConfig{
		Tenants:             database.NewTenantStore(tenantDB),
		Platform:            platform,
		Cipher:              cipher,
		Registry:            registry,
		Notifier:            email.NewService(cfg),
		PaymentEnvironment:  string(cfg.PaymentEnvironment),
		StripeWebhookSecret: cfg.StripeWebhookSecret,
	})

	c := cron.New(cron.WithSeconds())

	// Pending transaction reconciliation, every 10 minutes.
	_, err = c.AddFunc("0 */10 * * * *", func() {
		if err := jobs.ReconcilePendingTransactions(ctx, platform, billingService, cfg.PendingReconcileAfterMinutes); err != nil {
			log.Error("reconciliation run failed", zap.Error(err))
		}
	})
	if err != nil {
		log.Fatal("failed to schedule reconciliation job", zap.Error(err))
	}

	c.Start()
	log.Info("scheduler started",
		zap.Int("pending_reconcile_after_minutes", cfg.PendingReconcileAfterMinutes))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down scheduler")
	stopCtx := c.Stop()
	<-stopCtx.Done()
	log.Info("scheduler stopped")
}
