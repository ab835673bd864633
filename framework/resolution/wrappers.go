package resolution

import (
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/km-arc/go-ioc/framework/core"
	"github.com/km-arc/go-ioc/framework/typeinfo"
)

// wrapper recognises a generic shape around a service type, resolves the
// inner type and adapts the result.
type wrapper interface {
	unwrap(info *typeinfo.Info) (inner *typeinfo.Info, ok bool)
	build(s *Strategy, ctx *Context, info, inner *typeinfo.Info) (Service, error)
	canResolve(s *Strategy, ctx *Context, info, inner *typeinfo.Info) bool
}

// enumerableWrapper can also adapt every item of a collection request,
// as in []Lazy[T].
type enumerableWrapper interface {
	wrapper
	buildAll(s *Strategy, ctx *Context, info, inner *typeinfo.Info) ([]Service, error)
}

var errorType = reflect.TypeFor[error]()

// ── []T ───────────────────────────────────────────────────────────────────────

type sliceWrapper struct{}

func (sliceWrapper) unwrap(info *typeinfo.Info) (*typeinfo.Info, bool) {
	if info.Type.Kind() != reflect.Slice {
		return nil, false
	}
	return info.WithType(info.Type.Elem()), true
}

func (sliceWrapper) build(s *Strategy, ctx *Context, info, inner *typeinfo.Info) (Service, error) {
	items, err := s.BuildAll(ctx, inner)
	if err != nil {
		return Service{}, err
	}
	return Service{Plan: slicePlan(info.Type, items)}, nil
}

func (sliceWrapper) canResolve(*Strategy, *Context, *typeinfo.Info, *typeinfo.Info) bool {
	return true
}

func slicePlan(t reflect.Type, items []Service) core.Plan {
	return func(rt *core.Runtime) (any, error) {
		out := reflect.MakeSlice(t, len(items), len(items))
		for i, item := range items {
			v, err := item.Plan(rt)
			if err != nil {
				return nil, err
			}
			out.Index(i).Set(valueOf(v, t.Elem()))
		}
		return out.Interface(), nil
	}
}

// ── deferred inner plans ──────────────────────────────────────────────────────

type versioned struct {
	version uint64
	plan    core.Plan
}

// deferred builds the inner plan of a Lazy or func on first invocation and
// rebuilds it whenever the container changed since, so a func resolved
// before a replacement produces the replacement afterwards. Deferring also
// lets a service depend on a Lazy of itself.
type deferred struct {
	s     *Strategy
	ctx   *Context
	info  *typeinfo.Info
	args  []reflect.Type
	fixed core.Plan
	cur   atomic.Pointer[versioned]
}

func (d *deferred) plan() (core.Plan, error) {
	if d.fixed != nil {
		return d.fixed, nil
	}
	v := d.ctx.cc.Version()
	if cur := d.cur.Load(); cur != nil && cur.version == v {
		return cur.plan, nil
	}
	ctx := d.ctx.detached()
	if d.args != nil {
		ctx = ctx.withFrame(d.args)
	}
	svc, err := d.s.Build(ctx, d.info)
	if err != nil {
		return nil, err
	}
	d.cur.Store(&versioned{version: v, plan: svc.Plan})
	return svc.Plan, nil
}

// ── Lazy[T] ───────────────────────────────────────────────────────────────────

type lazyWrapper struct{}

func (lazyWrapper) unwrap(info *typeinfo.Info) (*typeinfo.Info, bool) {
	if !core.IsLazy(info.Type) {
		return nil, false
	}
	return info.WithType(info.Type.Out(0)), true
}

func (lazyWrapper) canResolve(s *Strategy, ctx *Context, _, inner *typeinfo.Info) bool {
	return s.CanResolve(ctx, inner)
}

func (w lazyWrapper) build(s *Strategy, ctx *Context, info, inner *typeinfo.Info) (Service, error) {
	if !s.CanResolve(ctx, inner) {
		return Service{}, unresolvable(inner, "required by "+info.Type.String())
	}
	return Service{Plan: lazyPlan(info.Type, &deferred{s: s, ctx: ctx, info: inner})}, nil
}

func (w lazyWrapper) buildAll(s *Strategy, ctx *Context, info, inner *typeinfo.Info) ([]Service, error) {
	items, err := s.BuildAll(ctx, inner)
	if err != nil {
		return nil, err
	}
	out := make([]Service, len(items))
	for i, item := range items {
		out[i] = Service{Plan: lazyPlan(info.Type, &deferred{fixed: item.Plan}), Registration: item.Registration}
	}
	return out, nil
}

func lazyPlan(t reflect.Type, d *deferred) core.Plan {
	elem := t.Out(0)
	return func(rt *core.Runtime) (any, error) {
		var (
			once sync.Once
			res  reflect.Value
			rerr error
		)
		fn := reflect.MakeFunc(t, func([]reflect.Value) []reflect.Value {
			once.Do(func() {
				var v any
				p, err := d.plan()
				if err == nil {
					v, err = p(rt)
				}
				res, rerr = valueOf(v, elem), err
			})
			return []reflect.Value{res, errorValue(rerr)}
		})
		return fn.Interface(), nil
	}
}

// ── func(args...) T ───────────────────────────────────────────────────────────

type funcWrapper struct{}

func (funcWrapper) unwrap(info *typeinfo.Info) (*typeinfo.Info, bool) {
	t := info.Type
	if t.Kind() != reflect.Func || core.IsLazy(t) || t.IsVariadic() || t.NumIn() > 3 {
		return nil, false
	}
	switch {
	case t.NumOut() == 1:
	case t.NumOut() == 2 && t.Out(1) == errorType:
	default:
		return nil, false
	}
	return info.WithType(t.Out(0)), true
}

func funcArgs(t reflect.Type) []reflect.Type {
	args := make([]reflect.Type, t.NumIn())
	for i := range args {
		args[i] = t.In(i)
	}
	return args
}

func (funcWrapper) canResolve(s *Strategy, ctx *Context, info, inner *typeinfo.Info) bool {
	return s.CanResolve(ctx.withFrame(funcArgs(info.Type)), inner)
}

func (w funcWrapper) build(s *Strategy, ctx *Context, info, inner *typeinfo.Info) (Service, error) {
	args := funcArgs(info.Type)
	if !s.CanResolve(ctx.withFrame(args), inner) {
		return Service{}, unresolvable(inner, "required by "+info.Type.String())
	}
	return Service{Plan: funcPlan(info.Type, &deferred{s: s, ctx: ctx, info: inner, args: args})}, nil
}

func (w funcWrapper) buildAll(s *Strategy, ctx *Context, info, inner *typeinfo.Info) ([]Service, error) {
	items, err := s.BuildAll(ctx.withFrame(funcArgs(info.Type)), inner)
	if err != nil {
		return nil, err
	}
	out := make([]Service, len(items))
	for i, item := range items {
		out[i] = Service{Plan: funcPlan(info.Type, &deferred{fixed: item.Plan}), Registration: item.Registration}
	}
	return out, nil
}

// funcPlan produces a func of type t. The single-result form panics when
// the service cannot be built; the (T, error) form returns the error.
func funcPlan(t reflect.Type, d *deferred) core.Plan {
	elem := t.Out(0)
	withErr := t.NumOut() == 2
	return func(rt *core.Runtime) (any, error) {
		fn := reflect.MakeFunc(t, func(in []reflect.Value) []reflect.Value {
			args := make([]any, len(in))
			for i, a := range in {
				args[i] = a.Interface()
			}
			var v any
			p, err := d.plan()
			if err == nil {
				v, err = p(rt.WithArgs(args))
			}
			if withErr {
				return []reflect.Value{valueOf(v, elem), errorValue(err)}
			}
			if err != nil {
				panic(err)
			}
			return []reflect.Value{valueOf(v, elem)}
		})
		return fn.Interface(), nil
	}
}

func errorValue(err error) reflect.Value {
	if err == nil {
		return reflect.Zero(errorType)
	}
	return reflect.ValueOf(&err).Elem()
}

// ── Metadata[T, M] ────────────────────────────────────────────────────────────

type metadataWrapper struct{}

func (metadataWrapper) unwrap(info *typeinfo.Info) (*typeinfo.Info, bool) {
	if !core.IsMetadata(info.Type) {
		return nil, false
	}
	return info.WithType(info.Type.Field(0).Type), true
}

func metadataContext(ctx *Context, t reflect.Type) *Context {
	return ctx.withRequiredMetadata(t.Field(1).Type)
}

func (metadataWrapper) canResolve(s *Strategy, ctx *Context, info, inner *typeinfo.Info) bool {
	return s.CanResolve(metadataContext(ctx, info.Type), inner)
}

func (metadataWrapper) build(s *Strategy, ctx *Context, info, inner *typeinfo.Info) (Service, error) {
	svc, err := s.Build(metadataContext(ctx, info.Type), inner)
	if err != nil {
		return Service{}, err
	}
	return Service{Plan: pairPlan(info.Type, svc, metadataOf), Registration: svc.Registration}, nil
}

func (metadataWrapper) buildAll(s *Strategy, ctx *Context, info, inner *typeinfo.Info) ([]Service, error) {
	items, err := s.BuildAll(metadataContext(ctx, info.Type), inner)
	if err != nil {
		return nil, err
	}
	for i, item := range items {
		items[i].Plan = pairPlan(info.Type, item, metadataOf)
	}
	return items, nil
}

func metadataOf(svc Service) any {
	if svc.Registration == nil {
		return nil
	}
	return svc.Registration.Metadata
}

// ── KeyValue[K, T] ────────────────────────────────────────────────────────────

type keyValueWrapper struct{}

func (keyValueWrapper) unwrap(info *typeinfo.Info) (*typeinfo.Info, bool) {
	if !core.IsKeyValue(info.Type) {
		return nil, false
	}
	return info.WithType(info.Type.Field(1).Type), true
}

func (keyValueWrapper) canResolve(s *Strategy, ctx *Context, _, inner *typeinfo.Info) bool {
	return s.CanResolve(ctx, inner)
}

func (keyValueWrapper) build(s *Strategy, ctx *Context, info, inner *typeinfo.Info) (Service, error) {
	svc, err := s.Build(ctx, inner)
	if err != nil {
		return Service{}, err
	}
	return Service{Plan: pairPlan(info.Type, svc, nameOf), Registration: svc.Registration}, nil
}

func (keyValueWrapper) buildAll(s *Strategy, ctx *Context, info, inner *typeinfo.Info) ([]Service, error) {
	items, err := s.BuildAll(ctx, inner)
	if err != nil {
		return nil, err
	}
	for i, item := range items {
		items[i].Plan = pairPlan(info.Type, item, nameOf)
	}
	return items, nil
}

func nameOf(svc Service) any {
	if svc.Registration == nil {
		return ""
	}
	return svc.Registration.Name
}

// pairPlan fills a Metadata or KeyValue struct. The service goes into the
// field of the inner type and extra(svc) into the other one.
func pairPlan(t reflect.Type, svc Service, extra func(Service) any) core.Plan {
	serviceField, extraField := 0, 1
	if core.IsKeyValue(t) {
		serviceField, extraField = 1, 0
	}
	data := extra(svc)
	inner := svc.Plan
	return func(rt *core.Runtime) (any, error) {
		v, err := inner(rt)
		if err != nil {
			return nil, err
		}
		out := reflect.New(t).Elem()
		out.Field(serviceField).Set(valueOf(v, t.Field(serviceField).Type))
		if data != nil {
			out.Field(extraField).Set(valueOf(data, t.Field(extraField).Type))
		}
		return out.Interface(), nil
	}
}
