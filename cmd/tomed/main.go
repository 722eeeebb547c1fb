// Command tomed runs the wiki backend server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tomewiki/tome/pkg/api"
	"github.com/tomewiki/tome/pkg/config"
	"github.com/tomewiki/tome/pkg/credentials"
	"github.com/tomewiki/tome/pkg/observability"
	"github.com/tomewiki/tome/pkg/roles"
	"github.com/tomewiki/tome/pkg/session"
	"github.com/tomewiki/tome/pkg/storage"
	"github.com/tomewiki/tome/pkg/users"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, nil).WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, nil)

	db, err := storage.Connect(cfg.Storage)
	if err != nil {
		logger.WithError(err).Error("failed to connect to postgres")
		os.Exit(1)
	}
	defer db.Close()

	ctx := context.Background()
	if err := storage.Migrate(ctx, db); err != nil {
		logger.WithError(err).Error("failed to run migrations")
		os.Exit(1)
	}

	sessions, err := session.NewStore(cfg.Storage, cfg.Session)
	if err != nil {
		logger.WithError(err).Error("failed to connect to redis")
		os.Exit(1)
	}

	roleStore := roles.NewStore(db)
	if err := roleStore.InitDefaults(ctx); err != nil {
		logger.WithError(err).Error("failed to bootstrap built-in roles")
		os.Exit(1)
	}
	defaults, err := roles.ResolveDefaults(ctx, roleStore)
	if err != nil {
		logger.WithError(err).Error("failed to resolve built-in roles")
		os.Exit(1)
	}

	hasher := credentials.NewHasher(cfg.Auth.BcryptCost)
	userStore := users.NewStore(db, hasher)

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	}

	server := api.NewServer(*cfg, api.Deps{
		DB:       db,
		Sessions: sessions,
		Users:    userStore,
		Roles:    roleStore,
		Defaults: defaults,
		Hasher:   hasher,
		Logger:   logger,
		Metrics:  metrics,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.WithError(err).Error("server failed")
			os.Exit(1)
		}
	case sig := <-sigCh:
		logger.WithField("signal", sig.String()).Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("graceful shutdown failed")
			os.Exit(1)
		}
	}
}
