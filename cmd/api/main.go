package main

import (
	"context"
	"database/sql"
	"net/http"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vetstack/practice-payments-api/internal/billing"
	"github.com/vetstack/practice-payments-api/internal/config"
	"github.com/vetstack/practice-payments-api/internal/crypto"
	"github.com/vetstack/practice-payments-api/internal/database"
	"github.com/vetstack/practice-payments-api/internal/email"
	"github.com/vetstack/practice-payments-api/internal/idempotency"
	"github.com/vetstack/practice-payments-api/internal/logger"
	"github.com/vetstack/practice-payments-api/internal/payment"
)

type apiConfig struct {
	billing  *billing.Service
	registry *payment.Registry
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.L().Fatal("failed to load configuration", zap.Error(err))
	}

	logger.Init(string(cfg.Environment))
	defer logger.Sync()
	log := logger.L()

	ctx := context.Background()

	platformDB, err := openDatabase(ctx, cfg.PlatformDatabaseURL)
	if err != nil {
		log.Fatal("unable to connect to platform database", zap.Error(err))
	}
	defer platformDB.Close()

	tenantDB, err := openDatabase(ctx, cfg.TenantDatabaseURL)
	if err != nil {
		log.Fatal("unable to connect to tenant database", zap.Error(err))
	}
	defer tenantDB.Close()

	log.Info("connected to databases")

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatal("unable to parse Redis URL", zap.Error(err))
	}
	redisClient := redis.NewClient(opt)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("unable to connect to Redis", zap.Error(err))
	}
	log.Info("connected to Redis")

	cipher, err := crypto.NewCipher(cfg.CredentialEncryptionKey)
	if err != nil {
		log.Fatal("invalid credential encryption key", zap.Error(err))
	}

	registry := payment.NewRegistry()
	registry.Register(payment.NewStripeAdapter())
	registry.Register(payment.NewPaystackAdapter(cfg.PaystackBaseURL))
	log.Info("payment adapters registered", zap.Strings("providers", registry.Codes()))

	billingService := billing.NewService(billing.ServiceConfig{
		Tenants:             database.NewTenantStore(tenantDB),
		Platform:            database.NewPlatformStore(platformDB),
		Cipher:              cipher,
		Registry:            registry,
		Idempotency:         idempotency.NewStore(redisClient),
		Notifier:            email.NewService(cfg),
		PaymentEnvironment:  string(cfg.PaymentEnvironment),
		CallbackURL:         cfg.AppURL + "/billing/callback",
		StripeWebhookSecret: cfg.StripeWebhookSecret,
	})

	api := &apiConfig{
		billing:  billingService,
		registry: registry,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/payments", api.createPaymentHandler)
	mux.HandleFunc("POST /api/v1/payments/marketplace", api.createMarketplacePaymentHandler)
	mux.HandleFunc("GET /api/v1/payments/{id}/verify", api.verifyPaymentHandler)

	// Webhook routes carry no auth; the payload signature is the auth.
	mux.HandleFunc("POST /api/v1/webhooks/stripe", api.stripeWebhookHandler)
	mux.HandleFunc("POST /api/v1/webhooks/paystack", api.paystackWebhookHandler)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "ok"})
	})

	handler := middlewareCors(loggingMiddleware(mux))

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handler,
	}

	log.Info("server starting", zap.String("port", cfg.Port))
	if err := server.ListenAndServe(); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}

func openDatabase(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
