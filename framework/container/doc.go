// Package container provides a runtime IoC (Inversion of Control) container
// and Service Provider system for Go.
//
// # Overview
//
// The container maps service types onto constructors, struct types,
// factories or pre-built values, and composes object graphs on request.
// Constructor parameters and struct fields tagged `ioc:""` are resolved as
// dependencies. Resolution is compiled into construction plans that are
// cached per request shape and dropped on every mutation.
//
// # Container Lifecycle
//
//  1. Create: c := container.New(opts...)
//  2. Register providers: registry.Register(&MyProvider{})
//  3. Boot: registry.Boot(), after which everything is safe to resolve
//  4. Serve requests, one scope per unit of work
//  5. Dispose: c.Dispose()
//
// # Registrations
//
//	// Constructor; parameters are dependencies
//	container.Provide[Store](c, NewSQLStore, registration.Singleton())
//
//	// Struct type; tagged fields are injected
//	container.RegisterType[Store, *MemoryStore](c, registration.Scoped())
//
//	// Pre-built value
//	container.Instance[*config.Config](c, cfg)
//
//	// Factory running against the resolving scope
//	c.RegisterFactory(reflect.TypeFor[Clock](), func(r core.Resolver) (any, error) {
//	    return systemClock{}, nil
//	})
//
//	// Open generic; every Repo[T] is built from the template
//	c.RegisterOpenGeneric(reflect.TypeFor[*Repo[any]]())
//
// # Resolving
//
//	store, err := container.Resolve[Store](c)
//	primary, err := container.ResolveNamed[Store](c, "primary")
//	stores, err := container.ResolveAll[Store](c)
//
//	// Wrappers are answered without registrations of their own
//	lazy, err := container.Resolve[core.Lazy[Store]](c)
//	factory, err := container.Resolve[func(string) (Store, error)](c)
//	tagged, err := container.ResolveAll[core.Metadata[Store, Region]](c)
//
// # Scopes
//
//	s := c.BeginScope("request")
//	defer s.Dispose()
//	uow, err := container.Resolve[*UnitOfWork](s)
//
// # Contextual Registration
//
//	c.When(reflect.TypeFor[*PhotoController]()).
//	    Needs(reflect.TypeFor[Filesystem]()).
//	    Give(NewS3Filesystem)
//
// # Decorators
//
//	// Decorators registered later wrap the ones registered earlier.
//	container.Decorate[Store](c, func(inner Store) Store { return &CachedStore{inner} })
//
// # Service Providers
//
//	type AppServiceProvider struct{ container.BaseProvider }
//
//	func (p *AppServiceProvider) Register(app *container.Container) error {
//	    return container.Provide[Mailer](app, mail.NewSMTP, registration.Singleton())
//	}
//
//	registry := container.NewProviderRegistry(c)
//	registry.Register(&AppServiceProvider{})
//	registry.Boot()
//
// # Deferred Providers
//
//	type HeavyProvider struct{ container.BaseProvider }
//
//	func (p *HeavyProvider) IsDeferred() bool         { return true }
//	func (p *HeavyProvider) Provides() []reflect.Type { return []reflect.Type{reflect.TypeFor[Heavy]()} }
//	func (p *HeavyProvider) Register(app *container.Container) error {
//	    return container.Provide[Heavy](app, heavySetup) // only on first request for Heavy
//	}
package container
