// Package main starts the HTTP server of the settlement service.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/akarpenko/settlement-system/internal/config"
	"github.com/akarpenko/settlement-system/internal/handler"
	"github.com/akarpenko/settlement-system/internal/metrics"
	"github.com/akarpenko/settlement-system/internal/middleware"
	"github.com/akarpenko/settlement-system/internal/notification"
	"github.com/akarpenko/settlement-system/internal/repository"
	"github.com/akarpenko/settlement-system/internal/service"
)

func main() {
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	notifier, err := notification.New(ctx, notification.Config{
		CredentialsBase64: cfg.FirebaseCredsB64,
		CredentialsFile:   cfg.FirebaseCredsFile,
	}, logger)
	if err != nil {
		sugar.Fatalw("firebase initialization error", "error", err.Error())
	}
	if notifier == nil {
		sugar.Info("push notifications disabled: no firebase credentials")
	}

	var svcNotifier service.Notifier
	if notifier != nil {
		svcNotifier = notifier
	}

	svc := service.NewService(repo, svcNotifier, logger)
	defer svc.Close()

	metrics.Init()

	auth := middleware.NewAuth(cfg.JWTSecret)
	h := handler.NewHandler(svc, logger, auth)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Periodic pending-funds release sweep
	g.Go(func() error {
		svc.StartReleaseSweep(ctx, cfg.ReleaseInterval)
		return nil
	})

	// HTTP server
	g.Go(func() error {
		sugar.Infow("starting settlement server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown on context cancellation (signal or failure in
	// another goroutine)
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
