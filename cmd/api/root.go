package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/gatekeep/gatekeep-go/internal/config"
	"github.com/gatekeep/gatekeep-go/internal/crypto"
	"github.com/gatekeep/gatekeep-go/internal/logging"
	"github.com/gatekeep/gatekeep-go/internal/metrics"
	"github.com/gatekeep/gatekeep-go/internal/notify"
	"github.com/gatekeep/gatekeep-go/internal/repository"
	"github.com/gatekeep/gatekeep-go/internal/service"
)

const serviceName = "gatekeep"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           serviceName,
		Short:         "Account and password-reset API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
	root.AddCommand(newServeCmd(), newMigrateCmd(), newPurgeCmd())
	return root
}

// app holds the dependencies shared by the subcommands.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	issuer  *crypto.TokenIssuer
	auth    *service.AuthService
	close   func()
}

func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logging.SetDefault(serviceName, cfg.LogFormat, cfg.LogLevel), nil
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	sink, err := newSink(ctx, cfg, logger)
	if err != nil {
		closeStore()
		return nil, err
	}

	m := metrics.New()
	issuer := crypto.NewTokenIssuer(cfg.JWTSecret, cfg.JWTExpiry)
	auth, err := service.NewAuthService(
		store,
		crypto.NewArgon2idHasher(crypto.DefaultHashParams()),
		issuer,
		service.NewResetTokenManager(cfg.ResetTokenTTL),
		sink,
		service.Options{
			PublicBaseURL:        cfg.PublicBaseURL,
			ConcealUnknownEmails: cfg.ConcealUnknownEmails,
			Logger:               logger,
			Metrics:              m,
		},
	)
	if err != nil {
		closeStore()
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, metrics: m, issuer: issuer, auth: auth, close: closeStore}, nil
}

func openStore(cfg config.Config, logger *slog.Logger) (repository.Store, func(), error) {
	if cfg.StoreDriver == config.StoreMemory {
		logger.Warn("using in-memory store, data is lost on exit")
		return repository.NewMemoryStore(), func() {}, nil
	}

	if cfg.AutoMigrate {
		if err := migrateUp(cfg.DatabaseDSN, logger); err != nil {
			return nil, nil, err
		}
	}

	db, err := repository.NewDB(cfg.DatabaseDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	return repository.NewUserRepository(db), func() {
		if err := db.Close(); err != nil {
			logger.Warn("closing database", "error", err)
		}
	}, nil
}

func newSink(ctx context.Context, cfg config.Config, logger *slog.Logger) (service.Notifier, error) {
	if cfg.MailDriver != config.MailSES {
		return notify.NewLogSink(logger, cfg.IsDevelopment()), nil
	}

	client, err := notify.NewSESClient(ctx, cfg.AWSRegion, cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey)
	if err != nil {
		return nil, err
	}
	limiter := rate.NewLimiter(rate.Limit(cfg.MailRatePerSecond), cfg.MailBurst)
	return notify.NewSESMailer(client, cfg.MailFrom, limiter, cfg.ResetTokenTTL), nil
}
