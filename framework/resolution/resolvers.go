package resolution

import (
	"reflect"

	"go.uber.org/zap"

	"github.com/km-arc/go-ioc/framework/core"
	"github.com/km-arc/go-ioc/framework/registration"
	"github.com/km-arc/go-ioc/framework/typeinfo"
)

// ── optional members ──────────────────────────────────────────────────────────

// optionalResolver answers members tagged optional with nothing, leaving
// the field at its zero value.
type optionalResolver struct{}

func (optionalResolver) CanUse(_ *Context, info *typeinfo.Info) bool    { return info.Optional }
func (optionalResolver) CanLookup(_ *Context, info *typeinfo.Info) bool { return info.Optional }

func (optionalResolver) Build(*Strategy, *Context, *typeinfo.Info) (Service, error) {
	return Service{Plan: core.Constant(nil)}, nil
}

// ── default values ────────────────────────────────────────────────────────────

// defaultValueResolver answers members carrying a default= tag value.
type defaultValueResolver struct{}

func (defaultValueResolver) CanUse(_ *Context, info *typeinfo.Info) bool    { return info.HasDefault }
func (defaultValueResolver) CanLookup(_ *Context, info *typeinfo.Info) bool { return info.HasDefault }

func (defaultValueResolver) Build(_ *Strategy, _ *Context, info *typeinfo.Info) (Service, error) {
	return Service{Plan: core.Constant(info.Default)}, nil
}

// ── parent containers ─────────────────────────────────────────────────────────

// parentResolver delegates to the parent container chain. With
// BehaviorParentDependency the parent's registration is built here, so its
// dependencies come from the requesting container.
type parentResolver struct{}

func (parentResolver) CanUse(ctx *Context, info *typeinfo.Info) bool {
	parent := ctx.cc.Parent
	if parent == nil || !ctx.behavior.Has(core.BehaviorParent) {
		return false
	}
	return parent.Strategy.CanResolve(ctx.ForContainer(parent), info)
}

func (r parentResolver) CanLookup(ctx *Context, info *typeinfo.Info) bool { return r.CanUse(ctx, info) }

func (parentResolver) Build(s *Strategy, ctx *Context, info *typeinfo.Info) (Service, error) {
	if ctx.behavior.Has(core.BehaviorParentDependency) {
		if reg := parentRegistration(ctx, info); reg != nil {
			return s.BuildRegistration(ctx, reg, info)
		}
	}
	parent := ctx.cc.Parent
	return parent.Strategy.Build(ctx.ForContainer(parent), info)
}

func (parentResolver) BuildAll(s *Strategy, ctx *Context, info *typeinfo.Info) ([]Service, error) {
	parent := ctx.cc.Parent
	if !ctx.behavior.Has(core.BehaviorParentDependency) {
		return parent.Strategy.BuildAll(ctx.ForContainer(parent), info)
	}
	for p := parent; p != nil; p = p.Parent {
		regs := p.Registry.AllMatches(info, ctx, ctx.cc.Rules.Enumerable)
		if len(regs) == 0 {
			continue
		}
		out := make([]Service, 0, len(regs))
		for _, reg := range regs {
			svc, err := s.BuildRegistration(ctx, reg, info)
			if err != nil {
				return nil, err
			}
			out = append(out, svc)
		}
		return out, nil
	}
	return nil, nil
}

func parentRegistration(ctx *Context, info *typeinfo.Info) *registration.Registration {
	for p := ctx.cc.Parent; p != nil; p = p.Parent {
		if reg := p.Registry.BestMatch(info, ctx, ctx.ruleSet(false)); reg != nil {
			return reg
		}
	}
	return nil
}

// ── unknown concrete types ────────────────────────────────────────────────────

// unknownTypeResolver registers unregistered struct types on first request
// when the container allows it. The new registration uses the default
// lifetime and is visible to every later request.
type unknownTypeResolver struct{}

func (unknownTypeResolver) CanUse(ctx *Context, info *typeinfo.Info) bool {
	return ctx.cc.Options.UnknownTypeResolution && ctx.cc.Register != nil && isConcrete(info.Type)
}

func (r unknownTypeResolver) CanLookup(ctx *Context, info *typeinfo.Info) bool {
	return r.CanUse(ctx, info)
}

func (unknownTypeResolver) Build(s *Strategy, ctx *Context, info *typeinfo.Info) (Service, error) {
	reg, err := registration.FromType(info.Type, info.Type)
	if err != nil {
		return Service{}, err
	}
	reg.Lifetime = ctx.cc.Options.DefaultLifetime
	if err := ctx.cc.Register(reg); err != nil {
		return Service{}, err
	}
	// A concurrent request may have registered the type first.
	if got := ctx.cc.Registry.BestMatch(info.WithName(""), ctx, ctx.ruleSet(false)); got != nil {
		reg = got
	}
	ctx.cc.Logger.Debug("registered unknown type", zap.Stringer("type", info.Type))
	return s.BuildRegistration(ctx, reg, info)
}

func isConcrete(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct && !core.IsMetadata(t) && !core.IsKeyValue(t)
}
