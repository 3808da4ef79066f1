package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tapit-auth/internal/app"
	"tapit-auth/internal/config"
	"tapit-auth/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	logger.Init()
	defer logger.Sync()

	cfg := config.Load()
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialize app", map[string]any{
			"error": err.Error(),
		})
	}

	runErr := make(chan error, 1)
	go func() {
		runErr <- application.Run(ctx)
	}()

	logger.Info("tapit-auth started", map[string]any{
		"port": cfg.AppPort,
	})

	select {
	case <-ctx.Done(): // wait for Ctrl+C
		logger.Info("shutdown signal received", nil)
	case err := <-runErr:
		if err != nil {
			logger.Error("server failed", map[string]any{
				"error": err.Error(),
			})
		}
	}

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("graceful shutdown failed", map[string]any{
			"error": err.Error(),
		})
	}

	logger.Info("tapit-auth stopped cleanly", nil)
}
