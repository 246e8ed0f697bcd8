// Package server initializes and runs the tagify HTTP server.
// It opens the database, applies migrations, seeds the default accounts,
// builds the session codecs of both trust domains and serves the API until
// the process is signalled.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/tagify/internal/cryptox"
	"github.com/dmitrijs2005/tagify/internal/logging"
	"github.com/dmitrijs2005/tagify/internal/server/config"
	"github.com/dmitrijs2005/tagify/internal/server/health"
	"github.com/dmitrijs2005/tagify/internal/server/httpapi"
	"github.com/dmitrijs2005/tagify/internal/server/metrics"
	"github.com/dmitrijs2005/tagify/internal/server/models"
	"github.com/dmitrijs2005/tagify/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/tagify/internal/server/services"
	"github.com/dmitrijs2005/tagify/internal/server/session"
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	metrics  *metrics.Prometheus
	monitor  *health.Monitor
	accounts *services.AccountService
	handler  http.Handler
}

// NewApp connects to the database and wires every component. The returned
// App owns the pool; Run closes it.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger, err := logging.New(c.LogBackend, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("logger init error: %w", err)
	}

	db, err := repomanager.Open(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	app, err := newApp(ctx, c, logger, db, repomanager.NewPostgresRepositoryManager())
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return app, nil
}

func newApp(ctx context.Context, c *config.Config, logger logging.Logger, db *sql.DB, rm repomanager.RepositoryManager) (*App, error) {
	if err := rm.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	m := metrics.NewPrometheus()
	if err := m.RegisterDB(db); err != nil {
		return nil, fmt.Errorf("metrics init error: %w", err)
	}

	hasher := cryptox.NewHasher(cryptox.DefaultParams, c.HashConcurrency)
	as, err := services.NewAccountService(db, rm, hasher, logger, m)
	if err != nil {
		return nil, fmt.Errorf("account service init error: %w", err)
	}

	created, err := as.EnsureAccounts(ctx, defaultAccounts(c)...)
	if err != nil {
		return nil, fmt.Errorf("default accounts error: %w", err)
	}
	if created > 0 {
		logger.Info(ctx, "default accounts created", "count", created)
	}

	userCodec, adminCodec, err := newCodecs(c)
	if err != nil {
		return nil, fmt.Errorf("session init error: %w", err)
	}

	monitor := health.NewMonitor(db, logger.With("module", "health"), m, 5*time.Second)

	handler := httpapi.NewRouter(httpapi.Deps{
		Accounts:     as,
		Store:        rm.Users(db),
		UserCodec:    userCodec,
		AdminCodec:   adminCodec,
		Logger:       logger,
		Metrics:      m,
		Health:       monitor,
		MaxBodyBytes: c.MaxBodyBytes,
	})

	return &App{
		config:   c,
		logger:   logger,
		db:       db,
		metrics:  m,
		monitor:  monitor,
		accounts: as,
		handler:  handler,
	}, nil
}

// defaultAccounts lists the configured bootstrap accounts. Entries with an
// empty username are skipped.
func defaultAccounts(c *config.Config) []services.NewAccount {
	var out []services.NewAccount
	if c.DefaultAdmin.Username != "" {
		out = append(out, services.NewAccount{
			Username: c.DefaultAdmin.Username,
			Password: c.DefaultAdmin.Password,
			Nickname: c.DefaultAdmin.Nickname,
			Role:     models.RoleAdmin,
		})
	}
	if c.DefaultUser.Username != "" {
		out = append(out, services.NewAccount{
			Username: c.DefaultUser.Username,
			Password: c.DefaultUser.Password,
			Nickname: c.DefaultUser.Nickname,
			Role:     models.RoleUser,
		})
	}
	return out
}

// newCodecs builds the cookie codecs of the user and admin domains.
func newCodecs(c *config.Config) (user, admin *session.Codec, err error) {
	userKey, adminKey, err := c.SessionKeys()
	if err != nil {
		return nil, nil, err
	}
	sameSite, err := c.SameSiteMode()
	if err != nil {
		return nil, nil, err
	}

	base := session.Config{
		Path:     "/",
		Domain:   c.CookieDomain,
		Secure:   c.SecureCookie,
		MaxAge:   c.SessionMaxAge,
		SameSite: sameSite,
	}

	uc := base
	uc.Name = c.UserCookieName
	user, err = session.NewCodec(userKey, session.ScopeUser, uc)
	if err != nil {
		return nil, nil, fmt.Errorf("user codec: %w", err)
	}

	ac := base
	ac.Name = c.AdminCookieName
	admin, err = session.NewCodec(adminKey, session.ScopeAdmin, ac)
	if err != nil {
		return nil, nil, fmt.Errorf("admin codec: %w", err)
	}
	return user, admin, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// serveHTTP serves until ctx is done, then drains in-flight requests for at
// most ShutdownTimeout.
func (app *App) serveHTTP(ctx context.Context, cancelFunc context.CancelFunc) {
	srv := &http.Server{
		Addr:              app.config.EndpointAddrHTTP,
		Handler:           app.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		app.logger.Info(ctx, "Starting HTTP server", "address", app.config.EndpointAddrHTTP)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error(ctx, "http server error", "error", err)
			cancelFunc()
		}
	}()

	<-ctx.Done()
	app.logger.Info(context.Background(), "Stopping HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.logger.Error(shutdownCtx, "http shutdown error", "error", err)
	}
	<-done
}

// Run serves until a signal arrives or the server fails, then releases
// every resource.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	if err := app.monitor.Start(ctx, app.config.HealthCheckSchedule); err != nil {
		return fmt.Errorf("health monitor: %w", err)
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.serveHTTP(ctx, cancelFunc)
	}()

	wg.Wait()

	app.monitor.Stop()
	err := app.db.Close()

	app.logger.Info(context.Background(), "App stopped")
	if s, ok := app.logger.(interface{ Sync() error }); ok {
		_ = s.Sync()
	}
	return err
}
