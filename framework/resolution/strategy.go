package resolution

import (
	"reflect"
	"slices"

	"github.com/km-arc/go-ioc/framework/core"
	"github.com/km-arc/go-ioc/framework/immutable"
	"github.com/km-arc/go-ioc/framework/lifetime"
	"github.com/km-arc/go-ioc/framework/registration"
	"github.com/km-arc/go-ioc/framework/typeinfo"
)

// Service is a built plan together with the registration it came from,
// when there is one.
type Service struct {
	Plan         core.Plan
	Registration *registration.Registration
}

// Resolver is a last-chance source of plans consulted when neither the
// registry nor a wrapper can answer a request.
type Resolver interface {
	CanUse(ctx *Context, info *typeinfo.Info) bool
	Build(s *Strategy, ctx *Context, info *typeinfo.Info) (Service, error)
}

// EnumerableResolver is a Resolver that can also answer collection requests.
type EnumerableResolver interface {
	Resolver
	BuildAll(s *Strategy, ctx *Context, info *typeinfo.Info) ([]Service, error)
}

// Lookup is implemented by resolvers that can answer CanResolve without
// building anything.
type Lookup interface {
	CanLookup(ctx *Context, info *typeinfo.Info) bool
}

// lastChance is the number of built-in resolvers custom ones are inserted before.
const lastChance = 4

// Strategy builds construction plans.
type Strategy struct {
	wrappers  []wrapper
	resolvers *immutable.Atom[immutable.Bucket[Resolver]]
}

// NewStrategy returns a strategy with the built-in wrappers and resolvers.
func NewStrategy() *Strategy {
	return &Strategy{
		wrappers: []wrapper{sliceWrapper{}, lazyWrapper{}, funcWrapper{}, metadataWrapper{}, keyValueWrapper{}},
		resolvers: immutable.NewAtom(immutable.NewBucket[Resolver](
			optionalResolver{},
			defaultValueResolver{},
			parentResolver{},
			unknownTypeResolver{},
		)),
	}
}

// RegisterResolver adds r ahead of the built-in last-chance resolvers and
// after every resolver registered before it.
func (s *Strategy) RegisterResolver(r Resolver) {
	s.resolvers.Swap(func(old immutable.Bucket[Resolver]) (immutable.Bucket[Resolver], bool) {
		return old.Insert(old.Len()-lastChance, r), true
	})
}

// Build produces the plan answering info.
func (s *Strategy) Build(ctx *Context, info *typeinfo.Info) (Service, error) {
	t := info.Type

	// Identity.
	switch t {
	case core.ResolverType:
		return Service{Plan: resolverPlan}, nil
	case core.ScopeType:
		return Service{Plan: scopePlan}, nil
	case core.RequestContextType:
		return Service{Plan: requestPlan}, nil
	}

	if !ctx.topLevel {
		// Arguments of an enclosing factory func.
		if fi, ai, ok := ctx.boundArgument(t); ok {
			return Service{Plan: func(rt *core.Runtime) (any, error) { return rt.Arg(fi, ai), nil }}, nil
		}
		// The next layer of a decorator chain.
		if stack, ok := ctx.remaining.Get(t); ok && len(stack) > 0 {
			return s.buildDecorator(ctx.withRemaining(t, stack[1:]), stack, info)
		}
	}

	if ctx.override(t, info.Name) {
		name := info.Name
		return Service{Plan: func(rt *core.Runtime) (any, error) {
			v, _ := rt.Request.Override(t, name)
			return v, nil
		}}, nil
	}

	if ctx.scope != nil && ctx.scope.HasScopedInstances() {
		if _, ok := ctx.scope.ScopedInstance(t, info.Name); ok {
			return Service{Plan: scopedInstancePlan(t, info.Name)}, nil
		}
	}

	if ctx.behavior.Has(core.BehaviorCurrent) {
		if reg := ctx.cc.Registry.BestMatch(info, ctx, ctx.ruleSet(false)); reg != nil {
			return s.BuildRegistration(ctx, reg, info)
		}
	}

	for _, w := range s.wrappers {
		if inner, ok := w.unwrap(info); ok {
			return w.build(s, ctx, info, inner)
		}
	}

	for _, r := range s.resolvers.Load().Items() {
		if r.CanUse(ctx, info) {
			return r.Build(s, ctx, info)
		}
	}
	return Service{}, unresolvable(info, "")
}

// BuildAll produces one plan per registration answering info, in
// registration order.
func (s *Strategy) BuildAll(ctx *Context, info *typeinfo.Info) ([]Service, error) {
	var regs []*registration.Registration
	if ctx.behavior.Has(core.BehaviorCurrent) {
		regs = ctx.cc.Registry.AllMatches(info, ctx, ctx.cc.Rules.Enumerable)
	}
	if len(regs) == 0 {
		for _, w := range s.wrappers {
			if inner, ok := w.unwrap(info); ok {
				if ew, ok := w.(enumerableWrapper); ok {
					return ew.buildAll(s, ctx, info, inner)
				}
			}
		}
		for _, r := range s.resolvers.Load().Items() {
			if er, ok := r.(EnumerableResolver); ok && r.CanUse(ctx, info) {
				return er.BuildAll(s, ctx, info)
			}
		}
		return nil, nil
	}

	stack, decorated := ctx.remaining.Get(info.Type)
	out := make([]Service, 0, len(regs))
	for _, reg := range regs {
		var (
			svc Service
			err error
		)
		if decorated && len(stack) > 0 && !ctx.topLevel {
			// A decorator asking for every decorated service gets each one
			// wrapped by the rest of its chain.
			chain := append(slices.Clone(stack[:len(stack)-1]), reg)
			svc, err = s.buildDecorator(ctx.withRemaining(info.Type, chain[1:]), chain, info)
		} else {
			svc, err = s.BuildRegistration(ctx, reg, info)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, svc)
	}
	return out, nil
}

// CanResolve reports whether info could be resolved, without building
// anything or touching any cache.
func (s *Strategy) CanResolve(ctx *Context, info *typeinfo.Info) bool {
	t := info.Type
	switch t {
	case core.ResolverType, core.ScopeType, core.RequestContextType:
		return true
	}
	if ctx.override(t, info.Name) {
		return true
	}
	if ctx.scope != nil && ctx.scope.HasScopedInstances() {
		if _, ok := ctx.scope.ScopedInstance(t, info.Name); ok {
			return true
		}
	}
	if ctx.behavior.Has(core.BehaviorCurrent) && ctx.cc.Registry.BestMatch(info, ctx, ctx.ruleSet(false)) != nil {
		return true
	}
	for _, w := range s.wrappers {
		if inner, ok := w.unwrap(info); ok {
			return w.canResolve(s, ctx, info, inner)
		}
	}
	for _, r := range s.resolvers.Load().Items() {
		if l, ok := r.(Lookup); ok && l.CanLookup(ctx, info) {
			return true
		}
	}
	return false
}

// ── Registrations ─────────────────────────────────────────────────────────────

// BuildRegistration builds reg for info: open generics are closed over the
// requested type, decorators are applied and the lifetime wraps the result.
func (s *Strategy) BuildRegistration(ctx *Context, reg *registration.Registration, info *typeinfo.Info) (Service, error) {
	reg, err := s.close(ctx, reg, info.Type)
	if err != nil {
		return Service{}, err
	}

	for _, t := range []reflect.Type{info.Type, reg.ImplType} {
		if ctx.isDecorating(t) {
			continue
		}
		decorators := s.decoratorsFor(ctx, t, info)
		if len(decorators) == 0 {
			continue
		}
		stack := append(decorators, reg)
		return s.buildDecorator(ctx.beginDecorating(t, stack[1:]), stack, info.WithType(t))
	}

	plan, err := s.buildWithLifetime(ctx, reg, info, reg.Lifetime, reg.ID)
	return Service{Plan: plan, Registration: reg}, err
}

func (s *Strategy) close(ctx *Context, reg *registration.Registration, t reflect.Type) (*registration.Registration, error) {
	if !reg.OpenGeneric {
		return reg, nil
	}
	closed, err := reg.Close(t, ctx.cc.Seq)
	if err != nil {
		return nil, err
	}
	if reg.Promote && ctx.cc.Register != nil && !ctx.cc.Registry.Contains(t, closed.Name) {
		if err := ctx.cc.Register(closed); err != nil {
			return nil, err
		}
	}
	return closed, nil
}

// decoratorsFor lists the decorators of t, most recently registered first.
func (s *Strategy) decoratorsFor(ctx *Context, t reflect.Type, info *typeinfo.Info) []*registration.Registration {
	decorators := ctx.cc.Decorators.AllMatches(info.WithType(t).WithName(""), ctx, ctx.ruleSet(true))
	slices.Reverse(decorators)
	return decorators
}

// buildDecorator builds the front of a decorator chain. The last element of
// the chain is the decorated registration; when it is reached it is built
// like any other registration.
func (s *Strategy) buildDecorator(ctx *Context, chain []*registration.Registration, info *typeinfo.Info) (Service, error) {
	front, base := chain[0], chain[len(chain)-1]
	if len(chain) == 1 {
		return s.BuildRegistration(ctx, front, info)
	}

	dec, err := s.close(ctx, front, info.Type)
	if err != nil {
		return Service{}, err
	}
	life := lifetime.Inherit(dec.Lifetime, base.Lifetime)
	plan, err := s.buildWithLifetime(ctx, dec, info, life, ctx.cc.decoratorKey(dec.ID, base.ID))
	return Service{Plan: plan, Registration: base}, err
}

func (s *Strategy) buildWithLifetime(ctx *Context, reg *registration.Registration, info *typeinfo.Info, life lifetime.Descriptor, key uint64) (core.Plan, error) {
	if ctx.cc.Options.CircularDependencyTracking && ctx.isBuilding(reg.ID) {
		return nil, &core.CycleError{Path: info.Path() + " -> " + reg.ImplType.String()}
	}
	if life == nil || life.LifeSpan() == lifetime.SpanEmpty {
		life = ctx.cc.Options.DefaultLifetime
	}

	if !reg.IsLifetimeManaged() {
		return s.activate(ctx.withBuilding(reg.ID).Dependency(lifetime.SpanTransient), reg, info)
	}
	raw, err := s.activate(ctx.withBuilding(reg.ID).Dependency(life.LifeSpan()), reg, info)
	if err != nil {
		return nil, err
	}
	return life.Apply(raw, lifetime.Target{
		RegistrationID:    key,
		ServiceType:       info.Type,
		Root:              ctx.cc.Root,
		Validate:          ctx.cc.Options.LifetimeValidation,
		RequestedFromRoot: ctx.fromRoot,
		ParentLifeSpan:    ctx.parentLifeSpan,
		Path:              info.Path(),
	})
}

// ── helpers ───────────────────────────────────────────────────────────────────

func resolverPlan(rt *core.Runtime) (any, error) { return rt.Resolver(), nil }
func scopePlan(rt *core.Runtime) (any, error)    { return rt.Scope, nil }
func requestPlan(rt *core.Runtime) (any, error)  { return rt.Request, nil }

func scopedInstancePlan(t reflect.Type, name string) core.Plan {
	return func(rt *core.Runtime) (any, error) {
		if v, ok := rt.Scope.ScopedInstance(t, name); ok {
			return v, nil
		}
		return nil, &core.ResolutionError{Type: t, Name: name, Err: core.ErrUnresolvable, Reason: "value is not in scope"}
	}
}

func unresolvable(info *typeinfo.Info, reason string) error {
	return &core.ResolutionError{
		Type:   info.Type,
		Name:   info.Name,
		Path:   info.Path(),
		Reason: reason,
		Err:    core.ErrUnresolvable,
	}
}
