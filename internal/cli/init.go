// Package cli provides the startup steps of cmd/unitledger: environment,
// logging, configuration, ledger wiring and signal handling.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"unitledger/internal/amqp"
	"unitledger/internal/backend"
	"unitledger/internal/config"
	"unitledger/internal/ledger"
	"unitledger/internal/log"
	"unitledger/internal/storage"
)

// SetupLogger builds the process logger at levelName and makes it the
// slog default.
func SetupLogger(levelName string) *log.Logger {
	cfg := log.DefaultConfig()
	cfg.Level = log.ParseLevel(levelName)
	logger := log.New(cfg)
	log.SetDefault(logger)
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on validation failure.
func LoadAndValidateConfig(logger *log.Logger) *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err, log.FieldErrorType, log.ErrorTypeConfiguration)
		os.Exit(1)
	}
	return cfg
}

// ConnectNotifier dials the AMQP broker when one is configured. A broker
// that cannot be reached is logged and the ledger runs without events.
func ConnectNotifier(ctx context.Context, logger *log.Logger, cfg *config.Config) *amqp.Client {
	if !cfg.AMQPEnabled() {
		return nil
	}
	client, err := amqp.NewClient(ctx, cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRoutingKey, logger)
	if err != nil {
		logger.WarnContext(ctx, "AMQP unavailable, ledger events disabled",
			log.FieldError, err, log.FieldErrorType, log.ErrorTypeNetwork)
		return nil
	}
	return client
}

// Ledger is an opened ledger and the resources behind it.
type Ledger struct {
	Store   *ledger.Store
	Backend *backend.BackendResult
}

// Close releases the slot backend.
func (l *Ledger) Close() error {
	return l.Backend.Close()
}

// OpenLedger creates the configured slot backend and loads the ledger from
// it. notifier may be nil.
func OpenLedger(ctx context.Context, logger *log.Logger, cfg *config.Config, notifier ledger.Notifier) (*Ledger, error) {
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	result, err := backend.NewFactory(logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		return nil, fmt.Errorf("create %s backend: %w", backendCfg.Type, err)
	}

	opts := []ledger.Option{ledger.WithLogger(logger)}
	if notifier != nil {
		opts = append(opts, ledger.WithNotifier(notifier))
	}
	store := ledger.New(ctx, storage.NewAdapter(result.Slot, cfg.LedgerSlot, logger), opts...)

	logger.InfoContext(ctx, "Ledger opened",
		"backend", backendCfg.Type.String(),
		log.FieldSlot, cfg.LedgerSlot,
		log.FieldRecordCount, store.Len())
	return &Ledger{Store: store, Backend: result}, nil
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
