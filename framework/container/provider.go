package container

import (
	"reflect"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/km-arc/go-ioc/framework/core"
	"github.com/km-arc/go-ioc/framework/resolution"
	"github.com/km-arc/go-ioc/framework/typeinfo"
)

// ── ServiceProvider interface ─────────────────────────────────────────────────

// ServiceProvider groups related registrations.
//
// Every provider must implement at minimum Register().
// Boot() is called after ALL providers have been registered, making it safe
// to resolve other services inside Boot().
//
//	type StoreProvider struct{ container.BaseProvider }
//
//	func (p *StoreProvider) Register(app *container.Container) error {
//	    return container.Provide[Store](app, NewSQLStore, registration.Singleton())
//	}
//
//	func (p *StoreProvider) Boot(app *container.Container) error {
//	    store, err := container.Resolve[Store](app)
//	    if err != nil {
//	        return err
//	    }
//	    return store.Migrate()
//	}
type ServiceProvider interface {
	// Register adds registrations to the container.
	// Do NOT resolve other services here; use Boot() for that.
	Register(app *Container) error

	// Boot is called after all providers are registered.
	// Safe to resolve and use any service here.
	Boot(app *Container) error

	// Provides returns the service types this provider registers.
	// Used for deferred (lazy) provider loading.
	// Return nil / empty slice if the provider is always eager.
	Provides() []reflect.Type

	// IsDeferred returns true if this provider should be loaded lazily,
	// only when one of its Provides() types is first requested.
	IsDeferred() bool
}

// ── BaseProvider ──────────────────────────────────────────────────────────────

// BaseProvider is an embeddable struct that provides no-op implementations
// of Boot(), Provides(), and IsDeferred().
// Embed it in your provider and only override what you need.
//
//	type MyProvider struct{ container.BaseProvider }
//	func (p *MyProvider) Register(app *container.Container) error { ... }
type BaseProvider struct{}

func (p *BaseProvider) Boot(_ *Container) error  { return nil }
func (p *BaseProvider) Provides() []reflect.Type { return nil }
func (p *BaseProvider) IsDeferred() bool         { return false }

// ── ProviderRegistry ──────────────────────────────────────────────────────────

// ProviderRegistry manages registration and booting of ServiceProviders,
// including deferred (lazy) providers.
type ProviderRegistry struct {
	app *Container

	mu         sync.Mutex
	eager      []ServiceProvider
	registered map[ServiceProvider]bool
	booted     bool
}

// NewProviderRegistry creates a registry bound to app.
func NewProviderRegistry(app *Container) *ProviderRegistry {
	return &ProviderRegistry{
		app:        app,
		registered: make(map[ServiceProvider]bool),
	}
}

// Register adds a provider and calls its Register() method (unless deferred).
func (r *ProviderRegistry) Register(provider ServiceProvider) error {
	r.mu.Lock()
	if r.registered[provider] {
		r.mu.Unlock()
		return nil
	}
	r.registered[provider] = true

	if provider.IsDeferred() {
		r.mu.Unlock()
		// Load the provider the first time one of its types is requested.
		r.app.RegisterResolver(&deferredResolver{registry: r, provider: provider})
		return nil
	}

	r.eager = append(r.eager, provider)
	booted := r.booted
	r.mu.Unlock()

	if err := provider.Register(r.app); err != nil {
		return err
	}
	// If already booted, boot this provider immediately
	if booted {
		return provider.Boot(r.app)
	}
	return nil
}

// Boot calls Boot() on all eager providers.
// Must be called after ALL providers have been registered.
func (r *ProviderRegistry) Boot() error {
	r.mu.Lock()
	if r.booted {
		r.mu.Unlock()
		return nil
	}
	r.booted = true
	eager := slices.Clone(r.eager)
	r.mu.Unlock()

	for _, provider := range eager {
		if err := provider.Boot(r.app); err != nil {
			return err
		}
	}
	return nil
}

// Booted returns true if Boot() has been called.
func (r *ProviderRegistry) Booted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.booted
}

// Providers returns all registered eager providers.
func (r *ProviderRegistry) Providers() []ServiceProvider {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.eager)
}

// ── deferred loading ──────────────────────────────────────────────────────────

// deferredResolver answers requests for the types of a deferred provider by
// registering the provider and resolving again.
type deferredResolver struct {
	registry *ProviderRegistry
	provider ServiceProvider

	once sync.Once
	err  error
}

func (d *deferredResolver) provides(t reflect.Type) bool {
	return slices.Contains(d.provider.Provides(), t)
}

func (d *deferredResolver) CanUse(_ *resolution.Context, info *typeinfo.Info) bool {
	return d.provides(info.Type)
}

func (d *deferredResolver) CanLookup(_ *resolution.Context, info *typeinfo.Info) bool {
	return d.provides(info.Type)
}

func (d *deferredResolver) Build(s *resolution.Strategy, ctx *resolution.Context, info *typeinfo.Info) (resolution.Service, error) {
	d.once.Do(func() { d.err = d.load() })
	if d.err != nil {
		return resolution.Service{}, d.err
	}
	if !ctx.Container().Registry.Contains(info.Type, "") {
		return resolution.Service{}, &core.ResolutionError{
			Type:   info.Type,
			Name:   info.Name,
			Reason: reflect.TypeOf(d.provider).String() + " did not register it",
			Err:    core.ErrUnresolvable,
		}
	}
	return s.Build(ctx, info)
}

func (d *deferredResolver) load() error {
	app := d.registry.app
	if err := d.provider.Register(app); err != nil {
		return err
	}
	app.opts.logger.Debug("deferred provider loaded", zap.String("provider", reflect.TypeOf(d.provider).String()))

	d.registry.mu.Lock()
	booted := d.registry.booted
	d.registry.mu.Unlock()
	if booted {
		return d.provider.Boot(app)
	}
	return nil
}
