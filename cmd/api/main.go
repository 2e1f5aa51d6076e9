package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"univapay-integration-demo/internal/client"
	"univapay-integration-demo/internal/config"
	"univapay-integration-demo/internal/logger"
	"univapay-integration-demo/internal/repository"
	"univapay-integration-demo/internal/server"
	"univapay-integration-demo/internal/service"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// load .env into os.Environ
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found (ok in prod)")
	}

	cfg := &config.Config{}
	if err := env.Parse(cfg); err != nil {
		fmt.Printf("Failed to parse config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Printf("Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	db := client.InitSQLiteClient(cfg.DatabaseURL)
	univapayClient := client.NewUnivapayClient(&cfg.Univapay)

	tokenRepo := repository.NewTokenRepository(db, cfg.Univapay.TokenTTL)
	paymentRepo := repository.NewPaymentRepository(db)
	providerPaymentRepo := repository.NewProviderPaymentRepository(db)
	webhookEventRepo := repository.NewWebhookEventRepository(db)

	mergeService := service.NewMergeService(db, providerPaymentRepo, paymentRepo, log)
	checkoutService := service.NewCheckoutService(
		db, univapayClient,
		tokenRepo, paymentRepo, providerPaymentRepo,
		mergeService,
		log,
	)
	webhookService := service.NewWebhookService(cfg.Univapay.WebhookSecret, webhookEventRepo, mergeService, log)
	authService := service.NewAuthService(cfg.Auth)

	pollCtx, stopPoller := context.WithCancel(context.Background())
	if cfg.Univapay.Poll.Enable {
		poller := service.NewPoller(
			cfg.Univapay.Poll, cfg.Univapay.HTTPTimeout,
			univapayClient, providerPaymentRepo, mergeService,
			log,
		)
		go poller.Run(pollCtx)
	}

	srv := server.NewServer(db, authService, checkoutService, webhookService)
	serverAddr := cfg.HTTP.Host + ":" + cfg.HTTP.Port

	log.Info("starting HTTP server", zap.String("addr", serverAddr))
	go func() {
		if err := srv.Start(serverAddr); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	<-sigChan
	log.Info("signal received, starting graceful shutdown")

	stopPoller()
	if err := srv.Shutdown(); err != nil {
		log.Fatal("HTTP server shutdown error", zap.Error(err))
	}
}
