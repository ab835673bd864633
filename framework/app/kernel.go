package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/km-arc/go-ioc/framework/config"
	"github.com/km-arc/go-ioc/framework/container"
	"github.com/km-arc/go-ioc/framework/logging"
	"github.com/km-arc/go-ioc/framework/metrics"
	"github.com/km-arc/go-ioc/framework/providers"
	"github.com/km-arc/go-ioc/framework/routing"
)

// Application is the top-level application container.
// It embeds the IoC Container and ProviderRegistry so user code can
// call container helpers and app.Register() directly,
// exactly like $app in Laravel's bootstrap/app.php.
type Application struct {
	*container.Container
	Providers *container.ProviderRegistry

	cfg    *config.Config
	log    *zap.Logger
	server *http.Server
}

// New loads the configuration, builds the logger and metrics recorder the
// container reports to, and registers the framework providers.
func New(envFiles ...string) (*Application, error) {
	cfg := config.Load(envFiles...)
	return NewWithConfig(cfg)
}

// NewWithConfig is New for an already loaded configuration.
func NewWithConfig(cfg *config.Config) (*Application, error) {
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	var rec metrics.Recorder = metrics.Noop
	if cfg.Metrics.Enabled {
		p, err := metrics.NewPrometheus(reg, cfg.Metrics.Namespace)
		if err != nil {
			return nil, err
		}
		rec = p
	}

	opts, err := container.FromConfig(cfg.IoC)
	if err != nil {
		return nil, err
	}
	c := container.New(append(opts, container.WithLogger(log), container.WithMetrics(rec))...)

	a := &Application{
		Container: c,
		Providers: container.NewProviderRegistry(c),
		cfg:       cfg,
		log:       log,
	}

	// Framework core providers, registered before any user provider.
	for _, p := range []container.ServiceProvider{
		&providers.ConfigServiceProvider{Config: cfg},
		&providers.LoggingServiceProvider{Logger: log},
		&providers.MetricsServiceProvider{Registry: reg, Recorder: rec},
		&providers.RoutingServiceProvider{},
	} {
		if err := a.Providers.Register(p); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Register adds a ServiceProvider to the application.
func (a *Application) Register(provider container.ServiceProvider) error {
	return a.Providers.Register(provider)
}

// Boot runs the Boot() phase on all providers.
func (a *Application) Boot() error {
	return a.Providers.Boot()
}

// Config returns the configuration the application was built with.
func (a *Application) Config() *config.Config { return a.cfg }

// Logger returns the application logger.
func (a *Application) Logger() *zap.Logger { return a.log }

// Router resolves *routing.Router from the container.
func (a *Application) Router() (*routing.Router, error) {
	return container.Resolve[*routing.Router](a.Container)
}

// Handler boots the application if needed and returns the router.
func (a *Application) Handler() (http.Handler, error) {
	if !a.Providers.Booted() {
		if err := a.Boot(); err != nil {
			return nil, err
		}
	}
	return a.Router()
}

// Run boots the application (if needed) and serves HTTP on APP_PORT until
// ctx is cancelled, then shuts down.
func (a *Application) Run(ctx context.Context) error {
	h, err := a.Handler()
	if err != nil {
		return err
	}
	a.server = &http.Server{
		Addr:              ":" + a.cfg.App.Port,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.log.Info("server starting",
		zap.String("app", a.cfg.App.Name),
		zap.String("addr", a.server.Addr),
		zap.String("env", a.cfg.App.Env))

	errc := make(chan error, 1)
	go func() { errc <- a.server.ListenAndServe() }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.Shutdown(shutdownCtx)
	}
}

// Shutdown stops the HTTP server, if running, and disposes the container.
func (a *Application) Shutdown(ctx context.Context) error {
	var err error
	if a.server != nil {
		err = a.server.Shutdown(ctx)
	}
	return multierr.Append(err, a.Container.Dispose())
}

// Environment returns APP_ENV value.
func (a *Application) Environment() string { return a.cfg.App.Env }
func (a *Application) IsLocal() bool       { return a.Environment() == "local" }
func (a *Application) IsProduction() bool  { return a.Environment() == "production" }
func (a *Application) IsTesting() bool     { return a.Environment() == "testing" }
