package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"unitledger/internal/cli"
	apphttp "unitledger/internal/http"
	"unitledger/internal/ledger"
	"unitledger/internal/log"
)

func main() {
	cli.LoadEnvFile()

	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	cfg := cli.LoadAndValidateConfig(logger)

	ctx, stop := cli.SignalContext(context.Background())
	defer stop()

	var notifier ledger.Notifier
	publisher := cli.ConnectNotifier(ctx, logger, cfg)
	if publisher != nil {
		notifier = publisher
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Warn("AMQP close error", log.FieldError, err)
			}
		}()
	}

	opened, err := cli.OpenLedger(ctx, logger, cfg, notifier)
	if err != nil {
		logger.Error("Failed to open ledger", log.FieldError, err, log.FieldErrorType, log.ErrorTypeStorage)
		os.Exit(1)
	}
	defer func() {
		if err := opened.Close(); err != nil {
			logger.Warn("Backend cleanup error", log.FieldError, err)
		}
	}()

	srv := apphttp.NewServer(":"+cfg.Port, opened.Store, apphttp.Options{
		Currency:           cfg.CurrencyCode,
		MaxAttachmentBytes: cfg.MaxAttachmentBytes,
		Logger:             logger,
	})

	// Configure server timeouts and limits
	srv.ReadTimeout = 30 * time.Second
	srv.WriteTimeout = 30 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting unitledger server",
			"port", cfg.Port,
			"backend", cfg.DataBackend,
			"currency", cfg.CurrencyCode,
			"amqp", notifier != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}
