package app_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/km-arc/go-ioc/framework/app"
	"github.com/km-arc/go-ioc/framework/config"
	"github.com/km-arc/go-ioc/framework/container"
	"github.com/km-arc/go-ioc/framework/core"
	"github.com/km-arc/go-ioc/framework/registration"
	"github.com/km-arc/go-ioc/framework/routing"
)

type greeter struct {
	App config.AppConfig `ioc:""`
}

type greetingProvider struct{ container.BaseProvider }

func (p *greetingProvider) Register(a *container.Container) error {
	return container.RegisterType[*greeter, *greeter](a, registration.InNamedScope(routing.RequestScope))
}

func (p *greetingProvider) Boot(a *container.Container) error {
	router, err := container.Resolve[*routing.Router](a)
	if err != nil {
		return err
	}
	router.Get("/hello", routing.Inject(func(g *greeter, w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("hello from " + g.App.Name))
	}))
	return nil
}

func newApp(t *testing.T) *app.Application {
	t.Helper()
	cfg := config.Default()
	cfg.App.Name = "Kernel"
	cfg.App.Env = "testing"
	cfg.Metrics.Enabled = true
	a, err := app.NewWithConfig(cfg)
	require.NoError(t, err)
	return a
}

func TestApplication_FrameworkServices(t *testing.T) {
	a := newApp(t)
	defer a.Shutdown(context.Background())

	cfg, err := container.Resolve[*config.Config](a)
	require.NoError(t, err)
	assert.Same(t, a.Config(), cfg)

	log, err := container.Resolve[*zap.Logger](a)
	require.NoError(t, err)
	assert.Same(t, a.Logger(), log)

	r1, err := a.Router()
	require.NoError(t, err)
	r2, err := a.Router()
	require.NoError(t, err)
	assert.Same(t, r1, r2)

	gatherer, err := container.Resolve[prometheus.Gatherer](a)
	require.NoError(t, err)
	families, err := gatherer.Gather()
	require.NoError(t, err)
	var found bool
	for _, f := range families {
		if f.GetName() == "ioc_registrations_total" {
			found = true
		}
	}
	assert.True(t, found, "the container reports to the registry it binds")
}

func TestApplication_HandlerServesProviderRoutes(t *testing.T) {
	a := newApp(t)
	defer a.Shutdown(context.Background())
	require.NoError(t, a.Register(&greetingProvider{}))

	h, err := a.Handler()
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/hello", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "hello from Kernel", rr.Body.String())
}

func TestApplication_ShutdownDisposesContainer(t *testing.T) {
	a := newApp(t)
	require.NoError(t, a.Shutdown(context.Background()))

	_, err := container.Resolve[*config.Config](a)
	assert.ErrorIs(t, err, core.ErrScopeDisposed)
}

func TestApplication_RunStopsWithContext(t *testing.T) {
	a := newApp(t)
	a.Config().App.Port = "0"
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, a.Run(ctx))
}

func TestApplication_Environment(t *testing.T) {
	a := newApp(t)
	defer a.Shutdown(context.Background())

	assert.Equal(t, "testing", a.Environment())
	assert.True(t, a.IsTesting())
	assert.False(t, a.IsLocal())
	assert.False(t, a.IsProduction())
}

func TestApplication_RejectsBadConfig(t *testing.T) {
	cfg := config.Default()
	cfg.IoC.DefaultLifetime = "forever"
	_, err := app.NewWithConfig(cfg)
	assert.Error(t, err)
}
