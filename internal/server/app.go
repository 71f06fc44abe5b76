// Package server builds the unfurl pipeline from configuration and runs the
// HTTP surface.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/unfurl/internal/api"
	"github.com/JakeFAU/unfurl/internal/config"
	"github.com/JakeFAU/unfurl/internal/fetch"
	collyfetcher "github.com/JakeFAU/unfurl/internal/fetcher/colly"
	"github.com/JakeFAU/unfurl/internal/fetcher/httpclient"
	"github.com/JakeFAU/unfurl/internal/id/uuid"
	"github.com/JakeFAU/unfurl/internal/logging"
	"github.com/JakeFAU/unfurl/internal/policy/ratelimit"
	"github.com/JakeFAU/unfurl/internal/service"
	"github.com/JakeFAU/unfurl/internal/unfurl"
)

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	table     *service.Table
	dispatch  *fetch.Dispatcher
	unfurler  *unfurl.Unfurler
	apiServer *api.Server
}

// Build creates the application's dependencies. userAgent identifies
// outbound requests.
func Build(cfg config.Config, userAgent string) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return BuildWithLogger(cfg, userAgent, logger, nil)
}

// BuildWithLogger is Build with an explicit logger. A nil fetcher selects the
// transport named by cfg.HTTP.Client.
func BuildWithLogger(cfg config.Config, userAgent string, logger *zap.Logger, fetcher fetch.Fetcher) (*App, error) {
	app := &App{cfg: cfg, logger: logger}
	app.logger.Debug("building application dependencies")

	routes, err := setupRoutes(app)
	if err != nil {
		return nil, err
	}
	app.table, err = service.NewTable(routes, cfg.Services, userAgent, logger.Named("service"))
	if err != nil {
		return nil, fmt.Errorf("routing table init failed: %w", err)
	}

	if fetcher == nil {
		fetcher = setupFetcher(app, userAgent)
	}
	app.dispatch = setupDispatcher(app, fetcher)
	app.unfurler = unfurl.New(app.table, app.dispatch, logger.Named("unfurl"))
	app.apiServer = api.NewServer(app.unfurler, app.table, logger.Named("api"))
	return app, nil
}

func setupRoutes(app *App) (service.Routes, error) {
	routes, err := service.DefaultRoutes()
	if err != nil {
		return nil, fmt.Errorf("built-in routes: %w", err)
	}
	if app.cfg.Routes == "" {
		return routes, nil
	}
	extra, err := service.LoadRoutesFile(app.cfg.Routes)
	if err != nil {
		return nil, err
	}
	app.logger.Debug("merged routes document",
		zap.String("path", app.cfg.Routes),
		zap.Int("domains", len(extra)),
	)
	return routes.Merge(extra), nil
}

func setupFetcher(app *App, userAgent string) fetch.Fetcher {
	switch app.cfg.HTTP.Client {
	case config.ClientColly:
		app.logger.Debug("using colly fetcher")
		return collyfetcher.New(collyfetcher.Config{
			UserAgent:    userAgent,
			Timeout:      app.cfg.HTTP.Timeout,
			MaxBodyBytes: app.cfg.HTTP.MaxBodyBytes,
		})
	default:
		app.logger.Debug("using net/http fetcher")
		return httpclient.New(nil, httpclient.Config{MaxBodyBytes: app.cfg.HTTP.MaxBodyBytes})
	}
}

func setupDispatcher(app *App, fetcher fetch.Fetcher) *fetch.Dispatcher {
	var limiter fetch.Limiter
	if app.cfg.Dispatch.RateLimitPerHost > 0 {
		limiter = ratelimit.New(ratelimit.Config{
			DefaultRPS:   app.cfg.Dispatch.RateLimitPerHost,
			DefaultBurst: app.cfg.Dispatch.RateLimitBurst,
		})
		app.logger.Debug("rate limiter enabled",
			zap.Float64("rps_per_host", app.cfg.Dispatch.RateLimitPerHost),
			zap.Int("burst", app.cfg.Dispatch.RateLimitBurst),
		)
	}
	return fetch.New(fetcher, limiter, uuid.New(), fetch.Config{
		Concurrency: app.cfg.Dispatch.Concurrency,
		Timeout:     app.cfg.HTTP.Timeout,
	}, app.logger.Named("dispatch"))
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Table returns the routing table.
func (a *App) Table() *service.Table {
	return a.table
}

// Unfurler returns the document pipeline.
func (a *App) Unfurler() *unfurl.Unfurler {
	return a.unfurler
}

// Handler returns the HTTP handler served by Run.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves the HTTP API and blocks until the context is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.Close()

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close stops the dispatcher and flushes the logger.
func (a *App) Close() {
	a.dispatch.Close()
	a.logger.Debug("shutdown complete")
	_ = a.logger.Sync()
}
