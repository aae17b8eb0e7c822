// Package main запускает HTTP-сервер магазина кодов: вебхук платёжного
// шлюза, внутренний API и фоновую обработку недоставленных заказов.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/codeshop-system/internal/config"
	"github.com/mmeshcher/codeshop-system/internal/delivery"
	"github.com/mmeshcher/codeshop-system/internal/handler"
	"github.com/mmeshcher/codeshop-system/internal/ledger"
	"github.com/mmeshcher/codeshop-system/internal/middleware"
	"github.com/mmeshcher/codeshop-system/internal/notify"
	"github.com/mmeshcher/codeshop-system/internal/order"
	"github.com/mmeshcher/codeshop-system/internal/payment"
	"github.com/mmeshcher/codeshop-system/internal/repository"
	"github.com/mmeshcher/codeshop-system/internal/secret"
	"github.com/mmeshcher/codeshop-system/internal/stock"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	var cipher stock.Cipher
	if cfg.EncryptStockCodes {
		c, err := secret.NewCipher(cfg.EncryptionKey)
		if err != nil {
			sugar.Fatalw("cipher initialization error", "error", err.Error())
		}
		cipher = c
	} else {
		sugar.Warn("stock code encryption is disabled, codes will be stored in plaintext")
	}

	notifier := notify.NewLogNotifier(logger)

	ledgerSvc := ledger.New(repo, logger)
	stockSvc := stock.NewService(repo, cipher, notifier, logger, cfg.LowStockThreshold)
	orderSvc := order.NewService(repo, ledgerSvc, stockSvc, cfg.Packages(), cfg.MaxCodesPerOrder, logger)

	paymentClient := payment.NewClient(cfg.MidtransServerKey, cfg.MidtransIsProduction)
	reconciler := payment.NewReconciler(repo, paymentClient, notifier, logger, cfg.MidtransServerKey)

	var deliver delivery.Func
	if cfg.DeliveryURL != "" {
		deliver = delivery.WithRetry(
			delivery.NewHTTPDeliverer(cfg.DeliveryURL).Deliver,
			cfg.DeliveryRetryAttempts,
			5*time.Second,
			repo,
			notifier,
			logger,
		)
	} else {
		sugar.Warn("delivery URL is not set, orders will wait for manual delivery")
	}

	adminAuth := middleware.NewAdminAuth(cfg.AdminToken)
	h := handler.NewHandler(reconciler, orderSvc, stockSvc, ledgerSvc, deliver, logger, adminAuth, cfg.RunAddress)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск фоновой обработки недоставленных заказов
	g.Go(func() error {
		orderSvc.StartPendingSweep(ctx, deliver, cfg.PendingSweepInterval)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting codeshop server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
