package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"

	"github.com/gigharbour/phonefactor/internal/verify/provider"
	"github.com/gigharbour/phonefactor/internal/verify/service"
	redisdrv "github.com/gigharbour/phonefactor/internal/verify/store/drivers/redis"
	sqlitedrv "github.com/gigharbour/phonefactor/internal/verify/store/drivers/sqlite"
	"github.com/gigharbour/phonefactor/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"
)

// Application is the verifyd daemon: it owns the challenge and factor
// stores, the out-of-band verification components, and the housekeeping
// loop. The provider-native managers need an identity provider and a UI,
// so the embedding presentation layer constructs those itself.
type Application struct {
	cfg    Config
	logger *slog.Logger

	challenges *redisdrv.Store
	factors    *sqlitedrv.Store

	hostVerify   *service.HostVerificationManager
	housekeeping *service.HousekeepingService
}

// New creates an Application with all dependencies initialized and
// migrations applied.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "verifyd",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	app.challenges = redisdrv.NewStore(rdb)

	if err := app.challenges.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisAddr, err)
	}

	factors, err := sqlitedrv.NewStore(cfg.DatabaseFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open factors database: %w", err)
	}
	app.factors = factors

	if err := app.factors.ApplyMigrations(); err != nil {
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	// No SMS gateway is configured here yet; the log-only sender keeps the
	// daemon usable for local development.
	issuer := &service.OutOfBandIssuer{
		Challenges:  app.challenges,
		SMS:         &provider.LogSender{Logger: app.logger},
		TTL:         cfg.ChallengeTTL,
		SendTimeout: cfg.DeliveryTimeout,
		MaxAttempts: cfg.MaxAttempts,
		ResendEvery: cfg.ResendEvery,
		ResendBurst: cfg.ResendBurst,
	}
	var receipts *service.ReceiptSigner
	if cfg.ReceiptSecret != "" {
		receipts = &service.ReceiptSigner{
			Secret: []byte(cfg.ReceiptSecret),
			Issuer: cfg.ReceiptIssuer,
			TTL:    cfg.ReceiptTTL,
		}
	} else {
		app.logger.Warn("no receipt secret configured, verification receipts disabled")
	}

	confirmer := &service.OutOfBandConfirmer{
		Challenges: app.challenges,
		Factors:    app.factors,
		Purpose:    "hosting",
		Receipts:   receipts,
	}
	app.hostVerify = service.NewHostVerificationManager(issuer, confirmer)

	app.housekeeping = service.NewHousekeepingService(app.challenges, app.logger, cfg.HousekeepingInterval)

	return app, nil
}

// HostVerification returns the out-of-band hosting-verification manager.
func (app *Application) HostVerification() *service.HostVerificationManager {
	return app.hostVerify
}

// Run starts the housekeeping loop and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.housekeeping.Start()

	app.logger.Info("verifyd starting", "version", BuildVersion)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	sig := <-shutdown
	app.logger.Info("shutdown signal received", "signal", sig)

	return app.Shutdown()
}

// Shutdown stops the housekeeping loop and releases store resources.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down verifyd...")

	app.housekeeping.Stop()

	if err := app.challenges.Close(); err != nil {
		app.logger.Error("error closing challenge store", "error", err)
	}
	if err := app.factors.Close(); err != nil {
		app.logger.Error("error closing factors database", "error", err)
	}

	app.logger.Info("verifyd stopped")
	return nil
}
