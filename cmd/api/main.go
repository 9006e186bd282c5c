package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/Dan9191/finpay/internal/collections"
	"github.com/Dan9191/finpay/internal/config"
	"github.com/Dan9191/finpay/internal/handler"
	"github.com/Dan9191/finpay/internal/integrations/keyrate"
	"github.com/Dan9191/finpay/internal/ledger"
	"github.com/Dan9191/finpay/internal/loans"
	"github.com/Dan9191/finpay/internal/metrics"
	"github.com/Dan9191/finpay/internal/notify"
	"github.com/Dan9191/finpay/internal/repository"
	"github.com/Dan9191/finpay/internal/repository/memory"
	"github.com/Dan9191/finpay/internal/service"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	logLevel, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	store, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	// Initialize layers
	m := metrics.NewCollector()
	svc := service.NewService(store, logger, cfg)
	l := ledger.New(store, logger, m, ledger.Options{
		EnforceFunds:     cfg.EnforceFunds,
		UtilityMerchants: cfg.UtilityMerchantIDs,
		OperationTimeout: cfg.OperationTimeout,
	})
	ls := loans.NewServicer(store, logger, m, cfg.OperationTimeout)
	rates := keyrate.NewClient(cfg.KeyRateURL, 10*time.Second, logger)
	h := handler.NewHandler(svc, l, ls, rates, store, logger)

	job := collections.New(ls, notify.New(cfg, logger), logger, collections.Options{
		Schedule:     cfg.CollectionsSchedule,
		ReminderDays: cfg.ReminderDays,
		AutoDisburse: cfg.AutoDisburse,
	})
	if err := job.Start(); err != nil {
		logger.Fatalf("Failed to schedule collections: %v", err)
	}

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      handler.NewRouter(h, svc, m, logger),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.OperationTimeout + 5*time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Starting server on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-stop:
		logger.Infof("Received %s, shutting down", sig)
	case err := <-errCh:
		logger.Errorf("Server failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Server shutdown: %v", err)
	}
	job.Stop(ctx)
	logger.Info("Server stopped")
}

// openStore returns the store selected by STORE_DRIVER. The postgres store is
// migrated before use.
func openStore(cfg *config.Config, logger *logrus.Logger) (repository.Store, error) {
	switch cfg.StoreDriver {
	case "memory":
		logger.Warn("Using in-memory store; data is lost on exit")
		return memory.New(), nil
	case "postgres":
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	db, err := sql.Open("postgres", cfg.DBConn)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := repository.RunMigrations(cfg.DBConn, cfg.MigrationsDir); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("Migrations applied")
	return repository.NewPostgres(db, cfg.DBStatementTimeout, cfg.DBLockTimeout), nil
}
