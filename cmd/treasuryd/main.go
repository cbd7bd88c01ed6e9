// Package main runs the treasury daemon: the ledger and loan services, the
// balance cache janitor, the overdue-loan sweeper and the REST API.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/selco13/treasury/infra/rowstore"
	app "github.com/selco13/treasury/internal/app"
	"github.com/selco13/treasury/internal/app/httpapi"
	ledgersvc "github.com/selco13/treasury/internal/app/services/ledger"
	"github.com/selco13/treasury/internal/app/storage/remote"
	"github.com/selco13/treasury/internal/config"
	"github.com/selco13/treasury/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/treasury.yaml", "Path to config file")
	envFile := flag.String("env", ".env", "Path to .env file with deployment secrets")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		logger.NewDefault("treasuryd").WithError(err).Warnf("load env file %s", *envFile)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.NewDefault("treasuryd").WithError(err).Error("load configuration")
		os.Exit(1)
	}

	log := logger.New(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}).WithField("component", "treasuryd")

	var stores app.Stores
	var limits ledgersvc.RateLimitTracker
	if strings.EqualFold(cfg.Store.Backend, "remote") {
		client, err := rowstore.New(rowstore.Config{
			BaseURL:           cfg.Store.BaseURL,
			APIKey:            cfg.Store.APIKey,
			Timeout:           cfg.Store.StoreTimeout(),
			MaxRetries:        cfg.Store.MaxRetries,
			RequestsPerSecond: cfg.Store.RequestsPerSecond,
		}, log)
		if err != nil {
			log.WithError(err).Error("configure remote store")
			os.Exit(1)
		}
		store := remote.New(client, cfg.Store.Tables)
		stores = app.Stores{
			Accounts:     store,
			Transactions: store,
			Loans:        store,
			Incidents:    store,
			Budget:       store,
		}
		limits = client
		log.WithField("base_url", cfg.Store.BaseURL).Info("using remote tabular store")
	} else {
		log.Warn("using in-memory store; data will not survive a restart")
	}

	application, err := app.New(stores, app.Options{
		RateLimits:    limits,
		CacheTTL:      cfg.Cache.CacheTTL(),
		SweepSchedule: cfg.Loans.SweepSchedule,
	}, log)
	if err != nil {
		log.WithError(err).Error("build application")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.WithError(err).Error("start application")
		os.Exit(1)
	}

	server := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: httpapi.NewHandler(application, httpapi.Config{
			JWTSecret:         cfg.Server.JWTSecret,
			RequestsPerMinute: cfg.Server.RequestsPerMinute,
		}, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("treasury API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-errCh:
		log.WithError(err).Error("server failed")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("application shutdown")
	}
	log.Info("treasury daemon stopped")
}
