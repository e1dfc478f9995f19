package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/serviapp/escrow-backend/internal/config"
	"github.com/serviapp/escrow-backend/internal/db"
	"github.com/serviapp/escrow-backend/internal/gateway"
	"github.com/serviapp/escrow-backend/internal/goroutine"
	httpHandlers "github.com/serviapp/escrow-backend/internal/http/handlers"
	httpRouter "github.com/serviapp/escrow-backend/internal/http/router"
	"github.com/serviapp/escrow-backend/internal/logger"
	"github.com/serviapp/escrow-backend/internal/repository"
	"github.com/serviapp/escrow-backend/internal/service"
	"github.com/serviapp/escrow-backend/internal/storage"
	"github.com/serviapp/escrow-backend/internal/ws"
)

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}

	if cfg.Env == "development" {
		logger.Init("debug")
		logger.SetTextFormatter()
	} else {
		logger.Init("info")
	}

	// Подключение к базе и миграции.
	dbConn, err := db.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("main: ошибка подключения к базе: %v", err)
	}
	defer safeClose(dbConn)

	if err := db.RunMigrations(ctx, dbConn, cfg.MigrationsPath); err != nil {
		log.Fatalf("main: ошибка миграций: %v", err)
	}

	// Вспомогательные сервисы.
	tokenManager := service.NewTokenManager(cfg.JWTSecret, cfg.RefreshSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)

	evidenceStorage, err := storage.NewEvidenceStorage(cfg.EvidencePath, cfg.EvidenceMaxUploadMB)
	if err != nil {
		log.Fatalf("main: не удалось подготовить файловое хранилище: %v", err)
	}

	gatewayClient := gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewayAPIKey, cfg.GatewayTimeout)

	// Репозитории.
	userRepo := repository.NewUserRepository(dbConn)
	offerRepo := repository.NewOfferRepository(dbConn)
	escrowRepo := repository.NewEscrowRepository(dbConn)
	disputeRepo := repository.NewDisputeRepository(dbConn)

	// Вебсокеты.
	hub := ws.NewHub()
	goroutine.SafeGoWithContext(ctx, hub.Run)

	// Сервисы.
	authService := service.NewAuthService(userRepo, tokenManager)
	offerService := service.NewOfferService(offerRepo)
	escrowService := service.NewEscrowService(escrowRepo, gatewayClient, hub)
	paymentService := service.NewPaymentService(escrowRepo, gatewayClient, hub)
	disputeService := service.NewDisputeService(disputeRepo, escrowRepo, escrowService, evidenceStorage)

	// Фоновый повтор выплат, зависших после сбоя рельса.
	goroutine.SafeGoWithContext(ctx, func(ctx context.Context) {
		escrowService.RunPayoutRetrier(ctx, cfg.PayoutRetryInterval)
	})

	// HTTP хэндлеры.
	authHandler := httpHandlers.NewAuthHandler(authService)
	offerHandler := httpHandlers.NewOfferHandler(offerService)
	jobHandler := httpHandlers.NewJobHandler(escrowService, paymentService)
	webhookHandler := httpHandlers.NewWebhookHandler(paymentService, cfg.GatewayWebhookSecret)
	disputeHandler := httpHandlers.NewDisputeHandler(disputeService)
	adminHandler := httpHandlers.NewAdminHandler(escrowService, disputeService)
	wsHandler := httpHandlers.NewWSHandler(hub, tokenManager)
	healthHandler := httpHandlers.NewHealthHandler(dbConn)

	// Роутер.
	engine := httpRouter.SetupRouter(cfg, authHandler, offerHandler, jobHandler, webhookHandler,
		disputeHandler, adminHandler, wsHandler, healthHandler, tokenManager)

	server := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: engine,
	}

	// Завершаем сервер при получении сигнала.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("main: ошибка остановки http сервера: %v", err)
		}
	}()

	log.Printf("main: HTTP сервер запущен на порту %s", cfg.HTTPPort)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("main: сервер завершился с ошибкой: %v", err)
	}
}

// safeClose закрывает соединение с базой.
func safeClose(db *sqlx.DB) {
	if err := db.Close(); err != nil {
		log.Printf("main: ошибка закрытия базы: %v", err)
	}
}
