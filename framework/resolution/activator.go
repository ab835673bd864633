package resolution

import (
	"fmt"
	"reflect"

	"github.com/km-arc/go-ioc/framework/core"
	"github.com/km-arc/go-ioc/framework/lifetime"
	"github.com/km-arc/go-ioc/framework/registration"
	"github.com/km-arc/go-ioc/framework/typeinfo"
)

type memberPlan struct {
	index []int
	typ   reflect.Type
	plan  core.Plan
}

// activate builds the raw plan of reg: the one that constructs a fresh
// instance every time it runs. ctx is already the dependency context.
func (s *Strategy) activate(ctx *Context, reg *registration.Registration, info *typeinfo.Info) (core.Plan, error) {
	switch reg.Kind {
	case registration.KindInstance:
		return core.Constant(reg.Instance), nil

	case registration.KindFactory:
		factory := reg.Factory
		return func(rt *core.Runtime) (any, error) {
			v, err := factory(rt.Resolver())
			if err != nil {
				return nil, constructionError(reg, err)
			}
			return finish(rt, reg, v)
		}, nil

	case registration.KindConstructor:
		return s.activateConstructor(ctx, reg, info)

	case registration.KindStruct:
		members, err := s.members(ctx, reg.ImplType, info)
		if err != nil {
			return nil, err
		}
		impl := reg.ImplType
		ptr := impl.Kind() == reflect.Pointer
		if ptr {
			impl = impl.Elem()
		}
		return func(rt *core.Runtime) (any, error) {
			v := reflect.New(impl)
			if err := inject(rt, v, members); err != nil {
				return nil, err
			}
			if ptr {
				return finish(rt, reg, v.Interface())
			}
			return finish(rt, reg, v.Elem().Interface())
		}, nil
	}
	return nil, fmt.Errorf("resolution: unknown registration kind %s", reg.Kind)
}

func (s *Strategy) activateConstructor(ctx *Context, reg *registration.Registration, info *typeinfo.Info) (core.Plan, error) {
	fn := reg.Constructor
	ft := fn.Type()
	parent := info.WithType(reg.ImplType)

	params := ctx.cc.Options.Introspector.Params(ft, parent)
	args := make([]core.Plan, len(params))
	for i, p := range params {
		svc, err := s.Build(ctx, p)
		if err != nil {
			return nil, err
		}
		args[i] = svc.Plan
	}

	var members []memberPlan
	if typeinfo.HasMembers(reg.ImplType) && reg.ImplType.Kind() == reflect.Pointer {
		var err error
		if members, err = s.members(ctx, reg.ImplType, info); err != nil {
			return nil, err
		}
	}

	return func(rt *core.Runtime) (any, error) {
		in := make([]reflect.Value, len(args))
		for i, arg := range args {
			v, err := arg(rt)
			if err != nil {
				return nil, err
			}
			in[i] = valueOf(v, ft.In(i))
		}
		out := fn.Call(in)
		if len(out) == 2 && !out[1].IsNil() {
			return nil, constructionError(reg, out[1].Interface().(error))
		}
		if len(members) > 0 && !out[0].IsNil() {
			if err := inject(rt, out[0], members); err != nil {
				return nil, err
			}
		}
		return finish(rt, reg, out[0].Interface())
	}, nil
}

// members builds a plan per injectable field of impl.
func (s *Strategy) members(ctx *Context, impl reflect.Type, info *typeinfo.Info) ([]memberPlan, error) {
	fields, err := ctx.cc.Options.Introspector.Members(impl, info.WithType(impl))
	if err != nil {
		return nil, &core.RegistrationError{Service: info.Type, Impl: impl, Reason: err.Error(), Err: core.ErrInvalidRegistration}
	}
	out := make([]memberPlan, 0, len(fields))
	for _, f := range fields {
		svc, err := s.Build(ctx, f.Info)
		if err != nil {
			return nil, err
		}
		out = append(out, memberPlan{index: f.Index, typ: f.Info.Type, plan: svc.Plan})
	}
	return out, nil
}

// inject sets the members of the struct v points to. A nil result leaves
// the field untouched.
func inject(rt *core.Runtime, v reflect.Value, members []memberPlan) error {
	elem := v.Elem()
	for _, m := range members {
		val, err := m.plan(rt)
		if err != nil {
			return err
		}
		if val == nil {
			continue
		}
		elem.FieldByIndex(m.index).Set(valueOf(val, m.typ))
	}
	return nil
}

// finish runs the post-construction hooks of reg on a new instance.
func finish(rt *core.Runtime, reg *registration.Registration, v any) (any, error) {
	if reg.Initializer != nil {
		if err := reg.Initializer(v, rt.Resolver()); err != nil {
			return nil, constructionError(reg, err)
		}
	}
	if !reg.WithoutDisposalTracking {
		rt.Scope.TrackDisposable(v)
	}
	if reg.Finalizer != nil {
		fin := reg.Finalizer
		rt.Scope.TrackDisposable(finalizer(func() error {
			fin(v)
			return nil
		}))
	}
	return v, nil
}

// Activate builds the plan constructing reg, which need not be registered.
// args answer the dependencies they are assignable to before overrides and
// registrations do.
func (s *Strategy) Activate(ctx *Context, reg *registration.Registration, args []any) (core.Plan, error) {
	types := make([]reflect.Type, len(args))
	for i, a := range args {
		if a == nil {
			return nil, fmt.Errorf("resolution: argument %d for %s is nil", i, reg.ImplType)
		}
		types[i] = reflect.TypeOf(a)
	}
	raw, err := s.activate(ctx.withFrame(types).Dependency(lifetime.SpanTransient), reg, typeinfo.Of(reg.ServiceType, ""))
	if err != nil {
		return nil, err
	}
	return func(rt *core.Runtime) (any, error) { return raw(rt.WithArgs(args)) }, nil
}

// BuildUp returns the func injecting the members of a struct reached
// through ptr, a pointer type.
func (s *Strategy) BuildUp(ctx *Context, ptr reflect.Type) (func(*core.Runtime, reflect.Value) error, error) {
	members, err := s.members(ctx.Dependency(lifetime.SpanTransient), ptr, typeinfo.Of(ptr, ""))
	if err != nil {
		return nil, err
	}
	return func(rt *core.Runtime, v reflect.Value) error { return inject(rt, v, members) }, nil
}

type finalizer func() error

func (f finalizer) Dispose() error { return f() }

// valueOf converts a plan result into an argument of type t.
func valueOf(v any, t reflect.Type) reflect.Value {
	if v == nil {
		return reflect.Zero(t)
	}
	rv := reflect.ValueOf(v)
	if !rv.Type().AssignableTo(t) && rv.Type().ConvertibleTo(t) {
		return rv.Convert(t)
	}
	return rv
}

func constructionError(reg *registration.Registration, err error) error {
	return fmt.Errorf("ioc: constructing %s: %w", reg, err)
}
