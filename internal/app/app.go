package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"auth0session-go/internal/auth"
	"auth0session-go/internal/browser"
	"auth0session-go/internal/config"
	"auth0session-go/internal/session"
	"auth0session-go/internal/storage"
)

// Application holds all the major components of the client.
type Application struct {
	Config        *config.Config
	Logger        *logrus.Logger
	Session       *session.Session
	Refresher     *session.Refresher
	Browser       *browser.System
	Dispatcher    *browser.Dispatcher
	MetricsServer *http.Server

	closeStore      func() error
	metricsListener net.Listener
	cancel          context.CancelFunc
	wg              sync.WaitGroup
}

// New creates and initializes a new Application instance. browserOpts are
// passed to the system browser after the options derived from cfg.
func New(cfg *config.Config, logger *logrus.Logger, browserOpts ...browser.SystemOption) (*Application, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	// Setup: Storage
	var (
		secure     storage.SecureStore
		settings   storage.SettingsStore
		closeStore = func() error { return nil }
	)
	if cfg.Storage.Ephemeral {
		mem := storage.NewMemoryStore()
		secure, settings = mem, mem
	} else {
		dbCfg := storage.DefaultConfig()
		dbCfg.Path = cfg.Storage.Path
		db, err := storage.OpenDatabase(dbCfg, []byte(cfg.Storage.EncryptionKey))
		if err != nil {
			return nil, fmt.Errorf("failed to open storage: %w", err)
		}
		secure, settings = db, db
		closeStore = db.Close
	}

	// Setup: Browser
	sysOpts := []browser.SystemOption{
		browser.WithLogger(logger.WithField("component", "browser")),
		browser.WithCallbackTimeout(cfg.Browser.CallbackTimeout.Duration),
	}
	var dispatcher *browser.Dispatcher
	if cfg.Browser.Mode == config.BrowserModeDeepLink {
		dispatcher = browser.NewDispatcher()
		sysOpts = append(sysOpts, browser.WithDispatcher(dispatcher))
	}
	sys := browser.NewSystem(append(sysOpts, browserOpts...)...)

	// Setup: Session
	sessOpts := []session.Option{
		session.WithLogger(logger),
		session.WithBrowser(sys),
		session.WithURLOpener(browser.OpenURL),
		session.WithHTTPTimeout(cfg.HTTP.Timeout.Duration),
		session.WithBrowserOptions(auth.BrowserOptions{
			EphemeralSession: cfg.Browser.EphemeralSession,
			Timeout:          cfg.Browser.CallbackTimeout.Duration,
		}),
	}
	if cfg.Browser.VerifierLength > 0 {
		sessOpts = append(sessOpts, session.WithVerifierLength(cfg.Browser.VerifierLength))
	}
	if dispatcher != nil {
		sessOpts = append(sessOpts,
			session.WithRedirectSource(dispatcher),
			session.WithDeepLinkGrace(cfg.Browser.DeepLinkGrace.Duration))
	}

	sess, err := session.New(cfg.Auth0Config(), secure, settings, sessOpts...)
	if err != nil {
		_ = closeStore()
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	app := &Application{
		Config:     cfg,
		Logger:     logger,
		Session:    sess,
		Refresher:  session.NewRefresher(sess, cfg.Refresh.Interval.Duration, cfg.Refresh.Skew.Duration),
		Browser:    sys,
		Dispatcher: dispatcher,
		closeStore: closeStore,
	}

	// Setup: HTTP Server for metrics
	if cfg.Metrics.Addr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		app.MetricsServer = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return app, nil
}

// Start begins background refresh and serves metrics when configured.
func (a *Application) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	if a.MetricsServer != nil {
		l, err := net.Listen("tcp", a.MetricsServer.Addr)
		if err != nil {
			a.cancel()
			return fmt.Errorf("failed to listen for metrics: %w", err)
		}
		a.metricsListener = l
		a.Logger.WithField("addr", l.Addr().String()).Info("serving metrics")

		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := a.MetricsServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.Logger.WithError(err).Error("metrics server stopped")
			}
		}()
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.Refresher.Run(ctx)
	}()

	return nil
}

// MetricsAddr returns the bound metrics address, or "" when not serving.
func (a *Application) MetricsAddr() string {
	if a.metricsListener == nil {
		return ""
	}
	return a.metricsListener.Addr().String()
}

// Stop gracefully shuts down the application's services.
func (a *Application) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}

	var errs []error

	if a.MetricsServer != nil && a.metricsListener != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := a.MetricsServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}

	a.wg.Wait()

	a.Session.Close()
	a.Browser.Close()

	if err := a.closeStore(); err != nil {
		errs = append(errs, fmt.Errorf("closing storage: %w", err))
	}

	return errors.Join(errs...)
}
