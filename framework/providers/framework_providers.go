package providers

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/km-arc/go-ioc/framework/config"
	"github.com/km-arc/go-ioc/framework/container"
	"github.com/km-arc/go-ioc/framework/metrics"
	"github.com/km-arc/go-ioc/framework/registration"
	"github.com/km-arc/go-ioc/framework/routing"
)

// ── ConfigServiceProvider ─────────────────────────────────────────────────────

// ConfigServiceProvider binds the loaded application configuration.
//
// Registered services:
//   - *config.Config
//   - config.AppConfig
//
// Laravel equivalent:
//
//	// Illuminate\Foundation\Bootstrap\LoadConfiguration
//	$app->singleton('config', fn() => new Repository($items));
type ConfigServiceProvider struct {
	container.BaseProvider
	Config *config.Config
}

func (p *ConfigServiceProvider) Register(app *container.Container) error {
	cfg := p.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := container.Instance(app, cfg); err != nil {
		return err
	}
	return container.Instance(app, cfg.App)
}

// ── LoggingServiceProvider ────────────────────────────────────────────────────

// LoggingServiceProvider binds the application logger.
//
// Registered services:
//   - *zap.Logger
type LoggingServiceProvider struct {
	container.BaseProvider
	Logger *zap.Logger
}

func (p *LoggingServiceProvider) Register(app *container.Container) error {
	log := p.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return container.Instance(app, log, registration.WithoutDisposalTracking())
}

// Boot flushes buffered log entries when the container is disposed.
func (p *LoggingServiceProvider) Boot(app *container.Container) error {
	log, err := container.Resolve[*zap.Logger](app)
	if err != nil {
		return err
	}
	app.Root().TrackDisposable(syncer{log})
	return nil
}

type syncer struct{ log *zap.Logger }

func (s syncer) Dispose() error {
	_ = s.log.Sync()
	return nil
}

// ── MetricsServiceProvider ────────────────────────────────────────────────────

// MetricsServiceProvider binds the Prometheus registry and the container's
// recorder.
//
// Registered services:
//   - *prometheus.Registry, prometheus.Gatherer, prometheus.Registerer
//   - metrics.Recorder
type MetricsServiceProvider struct {
	container.BaseProvider
	Registry *prometheus.Registry
	Recorder metrics.Recorder
}

func (p *MetricsServiceProvider) Register(app *container.Container) error {
	reg := p.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	rec := p.Recorder
	if rec == nil {
		rec = metrics.Noop
	}
	for _, err := range []error{
		container.Instance(app, reg),
		container.Instance[prometheus.Gatherer](app, reg),
		container.Instance[prometheus.Registerer](app, reg),
		container.Instance(app, rec),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}

// ── RoutingServiceProvider ────────────────────────────────────────────────────

// RoutingServiceProvider registers the HTTP router. Every request handled by
// it runs in its own resolution scope.
//
// Registered services:
//   - *routing.Router (singleton)
//
// Laravel equivalent:
//
//	// Illuminate\Routing\RoutingServiceProvider
//	$app->singleton('router', fn($app) => new Router($app['events'], $app));
type RoutingServiceProvider struct {
	container.BaseProvider
}

func (p *RoutingServiceProvider) Register(app *container.Container) error {
	return container.Provide[*routing.Router](app, func(log *zap.Logger) *routing.Router {
		return routing.New(app, log)
	}, registration.Singleton())
}
