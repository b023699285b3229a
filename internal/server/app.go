// Package server assembles the passkeeper server: configuration, logging,
// the connection pool and migrations, the user service and the HTTP
// endpoint, and stops them in order on a termination signal.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/passkeeper/internal/logging"
	"github.com/dmitrijs2005/passkeeper/internal/server/config"
	"github.com/dmitrijs2005/passkeeper/internal/server/httpserver"
	"github.com/dmitrijs2005/passkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/passkeeper/internal/server/services"
	"github.com/redis/go-redis/v9"
)

type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB
	cache  *redis.Client
	http   *httpserver.Server
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.New(os.Stdout, cfg.LogLevel)

	db, err := repomanager.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseDSN, cfg.DBMaxOpenConns)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)

	rm, err := repomanager.NewRepositoryManager(cfg.DatabaseDriver)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := rm.WithLogger(logger).RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	us, err := services.NewUserService(db, rm, cfg, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	var cache *redis.Client
	if cfg.RedisURL != "" {
		cache, err = httpserver.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			// login still works, just without a rate limit
			logger.Warn(ctx, "redis unavailable, login rate limiting disabled", "error", err.Error())
			cache = nil
		}
	}

	return &App{
		config: cfg,
		logger: logger,
		db:     db,
		cache:  cache,
		http:   httpserver.New(cfg, us, cache, logger),
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		sig := <-sigs
		app.logger.Info(context.Background(), "signal received", "signal", sig.String())
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.http.Listen(); err != nil {
		app.logger.Error(ctx, "http server stopped", "error", err.Error())
		cancelFunc()
	}
}

// Run serves until ctx is cancelled or a termination signal arrives, then
// drains in-flight requests within ShutdownTimeout and releases the pool.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "addr", app.config.HTTPAddr, "driver", app.config.DatabaseDriver)

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	<-ctx.Done()
	app.logger.Info(context.Background(), "Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := app.http.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	wg.Wait()

	if app.cache != nil {
		if err := app.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if err := app.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("db close: %w", err))
	}

	app.logger.Info(context.Background(), "Stopped")
	return errors.Join(errs...)
}
