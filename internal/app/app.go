package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/eppraise/eppraise/internal/config"
	"github.com/eppraise/eppraise/internal/ebay"
	"github.com/eppraise/eppraise/internal/handlers"
	"github.com/eppraise/eppraise/internal/model"
	"github.com/eppraise/eppraise/internal/reconcile"
	"github.com/eppraise/eppraise/internal/router"
	"github.com/eppraise/eppraise/internal/store"
	"github.com/eppraise/eppraise/internal/telemetry"
	"github.com/eppraise/eppraise/internal/tracker"
)

// App represents the main application
type App struct {
	config    *config.Config
	logger    *zap.Logger
	telemetry *telemetry.Telemetry
	store     store.Store
	service   *tracker.Service
	server    *http.Server
}

// NewApp builds the record store, search client, update driver and HTTP
// server from cfg. A missing or invalid eBay config leaves search disabled
// rather than failing, so read-only commands still work.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	// Initialize telemetry
	tel, err := telemetry.NewTelemetry(logger)
	if err != nil {
		return nil, err
	}

	// Use the factory to create the record store
	factory := store.NewDbProviderFactory(logger, tel)
	st, err := factory.CreateProvider(cfg.StoreJSON(), model.Schema)
	if err != nil {
		return nil, err
	}

	var (
		search ebay.Searcher
		driver *reconcile.Driver
	)
	if ebayCfg, err := config.LoadEbay(cfg.EbayConfigPath); err != nil {
		logger.Warn("search disabled", zap.String("path", cfg.EbayConfigPath), zap.Error(err))
	} else {
		client, err := ebay.NewClient(ebayCfg, logger, ebay.Options{Meter: tel.Meter})
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		search = client
		driver, err = reconcile.NewDriver(st, client, logger,
			reconcile.WithMaxRetries(cfg.MaxRetries),
			reconcile.WithMeter(tel.Meter),
		)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
	}
	svc := tracker.NewService(st, search, driver, logger)

	// Initialize router with handlers
	var limiter = rate.NewLimiter(rate.Limit(cfg.RPSLimit), cfg.RPSBurst)

	handlerList := []router.Handler{
		handlers.NewWatchHandler(svc),
	}

	appRouter := router.NewRouter(limiter, tel, logger, handlerList)
	server := appRouter.CreateServer(":" + cfg.Port)

	return &App{
		config:    cfg,
		logger:    logger,
		telemetry: tel,
		store:     st,
		service:   svc,
		server:    server,
	}, nil
}

// Service exposes the application service to one-shot commands.
func (app *App) Service() *tracker.Service {
	return app.service
}

// Close releases the record store and flushes telemetry.
func (app *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return errors.Join(app.store.Close(), app.telemetry.Provider.Shutdown(ctx))
}

// Start starts the application server
func (app *App) start() error {
	app.logger.Info("starting server", zap.String("port", app.config.Port))

	go func() {
		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Fatal("server failed to start", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the application
func (app *App) stop() error {
	app.logger.Info("shutting down server...")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.server.Shutdown(shutdownCtx); err != nil {
		app.logger.Error("server forced to shutdown", zap.Error(err))
		return err
	}

	app.logger.Info("server exited gracefully")
	return nil
}

// Run starts the application and waits for shutdown signals
func (app *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return app.serve(ctx)
}

// serve runs the HTTP server and, when search is configured, the update
// scheduler until ctx is done.
func (app *App) serve(ctx context.Context) error {
	if err := app.start(); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := app.service.Update(ctx)
		switch {
		case errors.Is(err, tracker.ErrSearchDisabled):
			app.logger.Info("update scheduler not started, search is disabled")
			return
		case err != nil && ctx.Err() == nil:
			app.logger.Error("initial update pass failed", zap.Error(err))
		}
		schedule(ctx, app.config.UpdateInterval, app.service.Update, app.logger)
	}()

	<-ctx.Done()
	<-done
	return app.stop()
}

// UpdateFunc runs one reconciliation pass.
type UpdateFunc func(ctx context.Context) (reconcile.Report, error)

// schedule calls update once per interval until ctx is done. Passes run on
// this goroutine, so a slow pass delays the next tick instead of overlapping
// it.
func schedule(ctx context.Context, interval time.Duration, update UpdateFunc, logger *zap.Logger) {
	logger = logger.Named("scheduler")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("update scheduler started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			logger.Info("update scheduler stopped")
			return
		case <-ticker.C:
			// A tick and cancellation can be ready together.
			if ctx.Err() != nil {
				logger.Info("update scheduler stopped")
				return
			}
			report, err := update(ctx)
			if ctx.Err() != nil {
				logger.Info("update scheduler stopped")
				return
			}
			if err != nil {
				logger.Error("update pass failed", zap.Error(err))
				continue
			}
			logger.Debug("update pass done", zap.Any("report", report))
		}
	}
}
