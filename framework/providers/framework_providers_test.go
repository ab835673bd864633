package providers_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/km-arc/go-ioc/framework/config"
	"github.com/km-arc/go-ioc/framework/container"
	"github.com/km-arc/go-ioc/framework/metrics"
	"github.com/km-arc/go-ioc/framework/providers"
	"github.com/km-arc/go-ioc/framework/routing"
)

func boot(t *testing.T, ps ...container.ServiceProvider) *container.Container {
	t.Helper()
	c := container.New()
	t.Cleanup(func() { _ = c.Dispose() })
	reg := container.NewProviderRegistry(c)
	for _, p := range ps {
		require.NoError(t, reg.Register(p))
	}
	require.NoError(t, reg.Boot())
	return c
}

func TestConfigServiceProvider(t *testing.T) {
	cfg := config.Default()
	cfg.App.Name = "Providers"
	c := boot(t, &providers.ConfigServiceProvider{Config: cfg})

	got, err := container.Resolve[*config.Config](c)
	require.NoError(t, err)
	assert.Same(t, cfg, got)

	app, err := container.Resolve[config.AppConfig](c)
	require.NoError(t, err)
	assert.Equal(t, "Providers", app.Name)
}

func TestConfigServiceProvider_DefaultsWithoutConfig(t *testing.T) {
	c := boot(t, &providers.ConfigServiceProvider{})

	got, err := container.Resolve[*config.Config](c)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), got)
}

func TestLoggingServiceProvider(t *testing.T) {
	log := zap.NewExample()
	c := boot(t, &providers.LoggingServiceProvider{Logger: log})

	got, err := container.Resolve[*zap.Logger](c)
	require.NoError(t, err)
	assert.Same(t, log, got)
}

func TestMetricsServiceProvider(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := metrics.NewPrometheus(reg, "test")
	require.NoError(t, err)
	c := boot(t, &providers.MetricsServiceProvider{Registry: reg, Recorder: rec})

	gatherer, err := container.Resolve[prometheus.Gatherer](c)
	require.NoError(t, err)
	assert.Same(t, reg, gatherer)

	registerer, err := container.Resolve[prometheus.Registerer](c)
	require.NoError(t, err)
	assert.Same(t, reg, registerer)

	got, err := container.Resolve[metrics.Recorder](c)
	require.NoError(t, err)
	assert.Same(t, rec, got)
}

func TestMetricsServiceProvider_Noop(t *testing.T) {
	c := boot(t, &providers.MetricsServiceProvider{})

	got, err := container.Resolve[metrics.Recorder](c)
	require.NoError(t, err)
	assert.Equal(t, metrics.Noop, got)
}

func TestRoutingServiceProvider_NeedsLogger(t *testing.T) {
	c := boot(t, &providers.RoutingServiceProvider{})
	_, err := container.Resolve[*routing.Router](c)
	assert.Error(t, err, "the router is built with the bound logger")

	c = boot(t, &providers.LoggingServiceProvider{}, &providers.RoutingServiceProvider{})
	r1, err := container.Resolve[*routing.Router](c)
	require.NoError(t, err)
	r2, err := container.Resolve[*routing.Router](c)
	require.NoError(t, err)
	assert.Same(t, r1, r2)
}
