package container

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/km-arc/go-ioc/framework/cache"
	"github.com/km-arc/go-ioc/framework/core"
	"github.com/km-arc/go-ioc/framework/immutable"
	"github.com/km-arc/go-ioc/framework/registration"
	"github.com/km-arc/go-ioc/framework/resolution"
	"github.com/km-arc/go-ioc/framework/scope"
	"github.com/km-arc/go-ioc/framework/typeinfo"
)

// ── Container ─────────────────────────────────────────────────────────────────

// Container owns a registration repository, a construction-plan cache and
// the root of a resolution scope tree.
//
// It supports:
//   - Register / RegisterInstance / RegisterFactory / RegisterOpenGeneric
//   - Resolve / ResolveNamed / ResolveWith / ResolveOrDefault / ResolveAll
//   - Decorate / ReMap / ReMapDecorator
//   - Contextual registration (when A needs B, give it C)
//   - Child containers and nested scopes
//
// Every method is safe for concurrent use. Reads never block; mutations are
// published through atomic swaps.
type Container struct {
	cc     *resolution.ContainerContext
	root   *scope.Scope
	plans  *cache.Plans
	parent *Container
	opts   options

	version  atomic.Uint64
	children *immutable.Atom[immutable.Bucket[*Container]]
	disposed atomic.Bool
}

var _ core.Resolver = (*Container)(nil)

// New creates an empty container.
func New(opts ...Option) *Container {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return newContainer(o, nil)
}

func newContainer(o options, parent *Container) *Container {
	if r, ok := o.introspector.(typeinfo.Reflector); ok {
		r.NameAsDependency = o.nameAsDependency
		o.introspector = r
	}
	c := &Container{
		parent:   parent,
		opts:     o,
		plans:    cache.New(o.recorder),
		children: immutable.NewAtom(immutable.NewBucket[*Container]()),
	}
	c.root = scope.NewRoot(engine{c}, scope.WithLogger(o.logger), scope.WithObserver(o.recorder))

	cc := &resolution.ContainerContext{
		Registry:   registration.NewRepository(o.policy),
		Decorators: registration.NewRepository(registration.PreserveBoth),
		Rules:      registration.NewRuleSets(o.universalName, o.nameAsDependency),
		Options: resolution.Options{
			LifetimeValidation:         o.lifetimeValidation,
			UnknownTypeResolution:      o.unknownTypes,
			CircularDependencyTracking: o.cycleTracking,
			DefaultLifetime:            o.defaultLifetime,
			Introspector:               o.introspector,
		},
		Root:     c.root,
		Strategy: resolution.NewStrategy(),
		Seq:      &registration.Sequence{},
		Logger:   o.logger,
		Version:  c.Version,
		Register: func(reg *registration.Registration) error {
			_, err := c.add(reg)
			return err
		},
	}
	if parent != nil {
		cc.Parent = parent.cc
		cc.Seq = parent.cc.Seq
	}
	c.cc = cc.Init()
	return c
}

// CreateChild returns a container whose unresolved requests fall back to c.
// The child shares c's ID sequence and inherits its options unless opts
// change them.
func (c *Container) CreateChild(opts ...Option) *Container {
	o := c.opts
	for _, opt := range opts {
		opt(&o)
	}
	child := newContainer(o, c)
	c.children.Swap(func(old immutable.Bucket[*Container]) (immutable.Bucket[*Container], bool) {
		return old.Add(child), true
	})
	return child
}

// Parent returns the container c was created from, or nil.
func (c *Container) Parent() *Container { return c.parent }

// Root returns the root resolution scope.
func (c *Container) Root() *scope.Scope { return c.root }

// Version counts the mutations of c and its ancestors.
func (c *Container) Version() uint64 {
	v := c.version.Load()
	if c.parent != nil {
		v += c.parent.Version()
	}
	return v
}

// invalidate records a mutation: the version moves on and every cached plan
// of c and its descendants is dropped.
func (c *Container) invalidate() {
	c.version.Add(1)
	c.dropPlans()
	c.opts.logger.Debug("plan cache invalidated", zap.Uint64("version", c.Version()))
}

// dropPlans clears the plan caches of c and every container below it.
func (c *Container) dropPlans() {
	c.plans.Invalidate()
	for _, child := range c.children.Load().Items() {
		child.dropPlans()
	}
}

// ── Registration ──────────────────────────────────────────────────────────────

// Register maps service onto impl. impl is either a constructor func
// returning the service (optionally with an error) or the reflect.Type of a
// struct implementation whose tagged fields are injected.
//
//	c.Register(reflect.TypeFor[Store](), NewSQLStore, registration.Singleton())
//	c.Register(reflect.TypeFor[Store](), reflect.TypeFor[*MemoryStore]())
func (c *Container) Register(service reflect.Type, impl any, opts ...registration.Option) error {
	reg, err := newRegistration(service, impl)
	if err != nil {
		return c.rejected(err)
	}
	_, err = c.add(reg.Apply(opts...))
	return err
}

// RegisterInstance registers a pre-built value. Disposable values are
// disposed with the container unless registration.WithoutDisposalTracking
// is given.
func (c *Container) RegisterInstance(service reflect.Type, v any, opts ...registration.Option) error {
	reg, err := registration.FromInstance(service, v)
	if err != nil {
		return c.rejected(err)
	}
	reg.Apply(opts...)
	changed, err := c.add(reg)
	if err == nil && changed && !reg.WithoutDisposalTracking {
		c.root.TrackDisposable(v)
	}
	return err
}

// RegisterFactory registers a function building the service from the scope
// it is resolved in.
func (c *Container) RegisterFactory(service reflect.Type, f core.Factory, opts ...registration.Option) error {
	reg, err := registration.FromFactory(service, f)
	if err != nil {
		return c.rejected(err)
	}
	_, err = c.add(reg.Apply(opts...))
	return err
}

// RegisterOpenGeneric registers a generic struct for every instantiation of
// its definition. sample is any instantiation, e.g.
// reflect.TypeFor[*Repo[any]]().
func (c *Container) RegisterOpenGeneric(sample reflect.Type, opts ...registration.Option) error {
	reg, err := registration.FromTemplate(sample)
	if err != nil {
		return c.rejected(err)
	}
	_, err = c.add(reg.Apply(opts...))
	return err
}

// RegisterGenericFactory registers fn as the producer of every
// instantiation of sample's generic definition.
func (c *Container) RegisterGenericFactory(sample reflect.Type, fn registration.GenericFactory, opts ...registration.Option) error {
	reg, err := registration.FromGenericFactory(sample, fn)
	if err != nil {
		return c.rejected(err)
	}
	_, err = c.add(reg.Apply(opts...))
	return err
}

// Decorate wraps every resolved service with impl, which takes the service
// as a dependency. Decorators registered later end up outermost.
func (c *Container) Decorate(service reflect.Type, impl any, opts ...registration.Option) error {
	reg, err := newRegistration(service, impl)
	if err != nil {
		return c.rejected(err)
	}
	reg.IsDecorator = true
	_, err = c.addDecorator(reg.Apply(opts...))
	return err
}

// ReMap replaces every registration of service with impl. It fails with
// core.ErrInvalidRegistration when service has no registration yet.
func (c *Container) ReMap(service reflect.Type, impl any, opts ...registration.Option) error {
	reg, err := newRegistration(service, impl)
	if err != nil {
		return c.rejected(err)
	}
	return c.remap(c.cc.Registry, reg.Apply(opts...))
}

// ReMapDecorator replaces every decorator of service with impl.
func (c *Container) ReMapDecorator(service reflect.Type, impl any, opts ...registration.Option) error {
	reg, err := newRegistration(service, impl)
	if err != nil {
		return c.rejected(err)
	}
	reg.IsDecorator = true
	return c.remap(c.cc.Decorators, reg.Apply(opts...))
}

// RegisterResolver adds a custom source of plans, consulted before the
// parent container and unknown-type fallbacks.
func (c *Container) RegisterResolver(r resolution.Resolver) {
	c.cc.Strategy.RegisterResolver(r)
	c.invalidate()
}

// Registrations lists every registration of c ordered by ID.
func (c *Container) Registrations() []*registration.Registration {
	return c.cc.Registry.All()
}

// Decorators lists every decorator registration of c ordered by ID.
func (c *Container) Decorators() []*registration.Registration {
	return c.cc.Decorators.All()
}

// IsRegistered reports whether service has a registration in c, named name
// when name is set.
func (c *Container) IsRegistered(service reflect.Type, name string) bool {
	return c.cc.Registry.Contains(service, name)
}

func newRegistration(service reflect.Type, impl any) (*registration.Registration, error) {
	switch v := impl.(type) {
	case reflect.Type:
		return registration.FromType(service, v)
	case nil:
		return nil, &core.RegistrationError{Service: service, Reason: "implementation is nil", Err: core.ErrInvalidRegistration}
	}
	return registration.FromConstructor(service, impl)
}

func (c *Container) stamp(reg *registration.Registration) {
	reg.ID = c.cc.Seq.Next()
	reg.Order = reg.ID
}

func (c *Container) add(reg *registration.Registration) (bool, error) {
	if c.disposed.Load() {
		return false, core.ErrContainerDisposed
	}
	c.stamp(reg)
	existed := c.occupied(c.cc.Registry, reg)
	changed, err := c.cc.Registry.AddOrUpdate(reg)
	if err != nil {
		return false, c.rejected(err)
	}
	c.recordAdd(reg, changed, existed)
	return changed, nil
}

func (c *Container) addDecorator(reg *registration.Registration) (bool, error) {
	if c.disposed.Load() {
		return false, core.ErrContainerDisposed
	}
	c.stamp(reg)
	changed, err := c.cc.Decorators.AddOrUpdate(reg)
	if err != nil {
		return false, c.rejected(err)
	}
	c.recordAdd(reg, changed, false)
	return changed, nil
}

func (c *Container) remap(repo *registration.Repository, reg *registration.Registration) error {
	if c.disposed.Load() {
		return core.ErrContainerDisposed
	}
	c.stamp(reg)
	if !repo.AddOrRemap(reg, true) {
		return c.rejected(&core.RegistrationError{
			Service: reg.ServiceType,
			Impl:    reg.ImplType,
			Name:    reg.Name,
			Reason:  "nothing to remap",
			Err:     core.ErrInvalidRegistration,
		})
	}
	c.opts.recorder.Registered("remapped")
	c.opts.logger.Info("remapped", zap.Stringer("registration", reg))
	c.invalidate()
	return nil
}

// occupied reports whether reg's slot is taken. It only feeds logs and
// metrics, so a concurrent writer may make it stale.
func (c *Container) occupied(repo *registration.Repository, reg *registration.Registration) bool {
	disc := reg.Discriminator()
	for _, r := range repo.ForType(reg.ServiceType) {
		if !r.OpenGeneric && r.Discriminator() == disc {
			return true
		}
	}
	return false
}

func (c *Container) recordAdd(reg *registration.Registration, changed, existed bool) {
	switch {
	case !changed:
		c.opts.recorder.Registered("skipped")
		c.opts.logger.Debug("registration skipped", zap.Stringer("registration", reg))
		return
	case existed:
		c.opts.recorder.Registered("replaced")
		c.opts.logger.Info("registration replaced", zap.Stringer("registration", reg))
	default:
		c.opts.recorder.Registered("added")
		c.opts.logger.Debug("registered", zap.Stringer("registration", reg))
	}
	c.invalidate()
}

func (c *Container) rejected(err error) error {
	c.opts.recorder.Registered("rejected")
	c.opts.logger.Warn("registration rejected", zap.Error(err))
	return err
}

// ── Resolution ────────────────────────────────────────────────────────────────

// Resolve builds the service registered for t in the root scope.
func (c *Container) Resolve(t reflect.Type, opts ...core.ResolveOption) (any, error) {
	return c.root.Resolve(t, opts...)
}

// ResolveNamed resolves the registration of t called name.
func (c *Container) ResolveNamed(t reflect.Type, name string, opts ...core.ResolveOption) (any, error) {
	return c.root.Resolve(t, append(opts, core.WithName(name))...)
}

// ResolveWith resolves t using overrides in place of registrations for this
// call only. Calls with overrides never touch the plan cache.
func (c *Container) ResolveWith(t reflect.Type, overrides []any, opts ...core.ResolveOption) (any, error) {
	return c.root.Resolve(t, append(opts, core.WithOverrides(overrides...))...)
}

// ResolveOrDefault is Resolve returning nil instead of an unresolvable error.
func (c *Container) ResolveOrDefault(t reflect.Type, opts ...core.ResolveOption) (any, error) {
	return c.root.ResolveOrDefault(t, opts...)
}

// ResolveAll builds every registration of t in registration order.
func (c *Container) ResolveAll(t reflect.Type, opts ...core.ResolveOption) ([]any, error) {
	return c.root.ResolveAll(t, opts...)
}

// CanResolve reports whether t could be resolved. It builds nothing and
// writes no cache.
func (c *Container) CanResolve(t reflect.Type, opts ...core.ResolveOption) bool {
	return c.root.CanResolve(t, opts...)
}

// BeginScope opens a resolution scope under the root scope.
func (c *Container) BeginScope(name string) *scope.Scope {
	return c.root.Begin(name)
}

// PutInstanceInScope makes v the answer to requests for service named name
// made in s or its children. v is disposed with s unless
// withoutDisposalTracking is set.
func (c *Container) PutInstanceInScope(s *scope.Scope, service reflect.Type, v any, name string, withoutDisposalTracking bool) error {
	return s.PutInstance(service, name, v, !withoutDisposalTracking)
}

// ── Activation ────────────────────────────────────────────────────────────────

// BuildUp injects the tagged fields of the struct v points to from the root
// scope. v itself stays owned by the caller.
func (c *Container) BuildUp(v any) error {
	if c.disposed.Load() {
		return core.ErrContainerDisposed
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("container: BuildUp needs a non-nil struct pointer, got %T", v)
	}
	inject, err := c.cc.Strategy.BuildUp(resolution.NewContext(c.cc, c.root, core.NewRequest()), rv.Type())
	if err == nil {
		err = inject(core.NewRuntime(c.root, nil), rv)
	}
	c.observe(err)
	return err
}

// Activate builds t, a struct type or a pointer to one, whether or not it
// is registered. args answer the dependencies they are assignable to ahead
// of registrations. Nothing is registered or cached.
//
//	h, err := c.Activate(reflect.TypeFor[*ReportHandler](), clock)
func (c *Container) Activate(t reflect.Type, args ...any) (any, error) {
	if c.disposed.Load() {
		return nil, core.ErrContainerDisposed
	}
	reg, err := registration.FromType(t, t)
	if err != nil {
		return nil, err
	}
	plan, err := c.cc.Strategy.Activate(resolution.NewContext(c.cc, c.root, core.NewRequest()), reg, args)
	var v any
	if err == nil {
		v, err = plan(core.NewRuntime(c.root, nil))
	}
	c.observe(err)
	return v, err
}

// Dispose disposes the root scope and every child container. Later calls
// return nil.
func (c *Container) Dispose() error {
	if !c.disposed.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	for _, child := range c.children.Load().Items() {
		err = multierr.Append(err, child.Dispose())
	}
	if c.parent != nil {
		c.parent.children.Swap(func(old immutable.Bucket[*Container]) (immutable.Bucket[*Container], bool) {
			i := old.IndexFunc(func(x *Container) bool { return x == c })
			if i < 0 {
				return old, false
			}
			return immutable.NewBucket(slices.Delete(old.Items(), i, i+1)...), true
		})
	}
	c.plans.Invalidate()
	err = multierr.Append(err, c.root.Dispose())
	c.opts.logger.Debug("container disposed", zap.String("root", c.root.ID()))
	return err
}

// ── engine ────────────────────────────────────────────────────────────────────

// engine answers the resolve calls of c's scopes.
type engine struct{ c *Container }

func (e engine) Resolve(s core.Scope, t reflect.Type, req core.Request) (any, error) {
	v, err := e.c.resolve(s, t, req)
	e.c.observe(err)
	return v, err
}

func (e engine) ResolveOrDefault(s core.Scope, t reflect.Type, req core.Request) (any, error) {
	v, err := e.c.resolve(s, t, req)
	if core.IsUnresolvable(err) {
		e.c.opts.recorder.Resolved("default")
		return nil, nil
	}
	e.c.observe(err)
	return v, err
}

func (e engine) ResolveAll(s core.Scope, t reflect.Type, req core.Request) ([]any, error) {
	if e.c.disposed.Load() {
		return nil, core.ErrContainerDisposed
	}
	plan, err := e.c.plan(s, t, req, true)
	if err != nil {
		e.c.observe(err)
		return nil, err
	}
	v, err := plan(core.NewRuntime(s, core.NewRequestContext(req.Overrides)).Continue(req.Chain))
	e.c.observe(err)
	if err != nil {
		return nil, err
	}
	return v.([]any), nil
}

func (e engine) CanResolve(s core.Scope, t reflect.Type, req core.Request) bool {
	if e.c.disposed.Load() {
		return false
	}
	ctx := resolution.NewContext(e.c.cc, s, req)
	return e.c.cc.Strategy.CanResolve(ctx, typeinfo.Of(t, req.Name))
}

func (c *Container) resolve(s core.Scope, t reflect.Type, req core.Request) (any, error) {
	if c.disposed.Load() {
		return nil, core.ErrContainerDisposed
	}
	plan, err := c.plan(s, t, req, false)
	if err != nil {
		return nil, err
	}
	return plan(core.NewRuntime(s, core.NewRequestContext(req.Overrides)).Continue(req.Chain))
}

// plan returns the cached plan for the request or builds one. Requests
// carrying overrides, and requests made in scopes holding put values, are
// built fresh every time.
func (c *Container) plan(s core.Scope, t reflect.Type, req core.Request, all bool) (core.Plan, error) {
	cacheable := len(req.Overrides) == 0 && !s.HasScopedInstances()
	var (
		key cache.Key
		gen uint64
	)
	if cacheable {
		key = cache.NewKey(t, req.Name, req.Behavior, resolution.ScopeNames(s), s.ParentScope() == nil, all)
		plan, g, ok := c.plans.Get(key)
		if ok {
			return plan, nil
		}
		gen = g
	}

	_, span := c.opts.tracer.Start(context.Background(), "ioc.build_plan", trace.WithAttributes(
		attribute.String("ioc.type", t.String()),
		attribute.String("ioc.name", req.Name),
		attribute.Bool("ioc.all", all),
	))
	defer span.End()

	ctx := resolution.NewContext(c.cc, s, req)
	info := typeinfo.Of(t, req.Name)
	var plan core.Plan
	if all {
		items, err := c.cc.Strategy.BuildAll(ctx, info)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		plan = collect(items)
	} else {
		svc, err := c.cc.Strategy.Build(ctx, info)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		plan = svc.Plan
	}

	if cacheable {
		c.plans.Put(key, plan, gen)
	}
	c.opts.logger.Debug("plan built",
		zap.Stringer("type", t),
		zap.String("name", req.Name),
		zap.Bool("cached", cacheable))
	return plan, nil
}

func collect(items []resolution.Service) core.Plan {
	return func(rt *core.Runtime) (any, error) {
		out := make([]any, 0, len(items))
		for _, item := range items {
			v, err := item.Plan(rt)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}
}

func (c *Container) observe(err error) {
	switch {
	case err == nil:
		c.opts.recorder.Resolved("ok")
	case core.IsUnresolvable(err):
		c.opts.recorder.Resolved("unresolvable")
	default:
		c.opts.recorder.Resolved("error")
	}
}

// ── Generics helpers ──────────────────────────────────────────────────────────

// Resolve resolves T from r, a container or a scope.
//
//	store, err := container.Resolve[Store](c)
func Resolve[T any](r core.Resolver, opts ...core.ResolveOption) (T, error) {
	var zero T
	v, err := r.Resolve(reflect.TypeFor[T](), opts...)
	if err != nil || v == nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("container: Resolve[%s]: resolved to %T", reflect.TypeFor[T](), v)
	}
	return typed, nil
}

// Activate builds an unregistered T with args ahead of registrations.
func Activate[T any](c *Container, args ...any) (T, error) {
	var zero T
	v, err := c.Activate(reflect.TypeFor[T](), args...)
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}

// ResolveNamed resolves the registration of T called name.
func ResolveNamed[T any](r core.Resolver, name string, opts ...core.ResolveOption) (T, error) {
	return Resolve[T](r, append(opts, core.WithName(name))...)
}

// ResolveAll resolves every registration of T.
func ResolveAll[T any](r core.Resolver, opts ...core.ResolveOption) ([]T, error) {
	vs, err := r.ResolveAll(reflect.TypeFor[T](), opts...)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(vs))
	for _, v := range vs {
		typed, ok := v.(T)
		if !ok {
			return nil, fmt.Errorf("container: ResolveAll[%s]: resolved to %T", reflect.TypeFor[T](), v)
		}
		out = append(out, typed)
	}
	return out, nil
}

// MustResolve is Resolve panicking on error.
//
//	// Instead of: store, err := container.Resolve[Store](c)
//	// Write:      store := container.MustResolve[Store](c)
func MustResolve[T any](r core.Resolver, opts ...core.ResolveOption) T {
	v, err := Resolve[T](r, opts...)
	if err != nil {
		panic(err)
	}
	return v
}

// RegisterType maps service S onto the struct implementation I.
//
//	container.RegisterType[Store, *MemoryStore](c, registration.Singleton())
func RegisterType[S, I any](c *Container, opts ...registration.Option) error {
	return c.Register(reflect.TypeFor[S](), reflect.TypeFor[I](), opts...)
}

// Provide registers ctor, a func returning S or (S, error), as the
// constructor of S.
func Provide[S any](c *Container, ctor any, opts ...registration.Option) error {
	return c.Register(reflect.TypeFor[S](), ctor, opts...)
}

// Decorate wraps S with ctor, a func taking the decorated S.
func Decorate[S any](c *Container, ctor any, opts ...registration.Option) error {
	return c.Decorate(reflect.TypeFor[S](), ctor, opts...)
}

// Instance registers v as the instance of S.
func Instance[S any](c *Container, v S, opts ...registration.Option) error {
	return c.RegisterInstance(reflect.TypeFor[S](), v, opts...)
}
