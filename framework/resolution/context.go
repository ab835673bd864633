package resolution

import (
	"reflect"
	"slices"

	"go.uber.org/zap"

	"github.com/km-arc/go-ioc/framework/core"
	"github.com/km-arc/go-ioc/framework/immutable"
	"github.com/km-arc/go-ioc/framework/lifetime"
	"github.com/km-arc/go-ioc/framework/registration"
	"github.com/km-arc/go-ioc/framework/typeinfo"
)

// Options are the container switches the strategy honours.
type Options struct {
	LifetimeValidation         bool
	UnknownTypeResolution      bool
	CircularDependencyTracking bool
	DefaultLifetime            lifetime.Descriptor
	Introspector               typeinfo.Introspector
}

// ContainerContext is everything a container shares with the plans built
// for it. Child containers point at their parent's context.
type ContainerContext struct {
	Registry   *registration.Repository
	Decorators *registration.Repository
	Rules      registration.RuleSets
	Options    Options
	Root       core.Scope
	Parent     *ContainerContext
	Strategy   *Strategy
	Seq        *registration.Sequence
	Logger     *zap.Logger

	// Version reports the container's mutation counter.
	Version func() uint64
	// Register adds a registration discovered while building, such as a
	// promoted open generic instantiation or an unknown concrete type.
	Register func(reg *registration.Registration) error

	decoratorKeys *immutable.Atom[immutable.Tree[[2]uint64, uint64]]
}

// Init fills the defaults of a ContainerContext assembled by a container.
func (cc *ContainerContext) Init() *ContainerContext {
	if cc.Logger == nil {
		cc.Logger = zap.NewNop()
	}
	if cc.Options.Introspector == nil {
		cc.Options.Introspector = typeinfo.Reflector{}
	}
	if cc.Options.DefaultLifetime == nil {
		cc.Options.DefaultLifetime = lifetime.Transient
	}
	if cc.Version == nil {
		cc.Version = func() uint64 { return 0 }
	}
	cc.decoratorKeys = immutable.NewAtom(immutable.Tree[[2]uint64, uint64]{})
	return cc
}

// decoratorKey returns the scope cache key of decorator dec applied on top
// of base. A decorator shares its instances per decorated registration.
func (cc *ContainerContext) decoratorKey(dec, base uint64) uint64 {
	k := [2]uint64{dec, base}
	if id, ok := cc.decoratorKeys.Load().Get(k); ok {
		return id
	}
	tree, _ := cc.decoratorKeys.Swap(func(old immutable.Tree[[2]uint64, uint64]) (immutable.Tree[[2]uint64, uint64], bool) {
		if _, ok := old.Get(k); ok {
			return old, false
		}
		return old.AddOrUpdate(k, cc.Seq.Next(), nil), true
	})
	return tree.GetOrDefault(k)
}

// ── Context ───────────────────────────────────────────────────────────────────

type frame struct {
	types []reflect.Type
	used  []bool
}

type decoratorStack = []*registration.Registration

// Context is the state threaded through one plan build. It is never
// mutated: every With method returns a modified copy. The only exception
// is the used flags of argument frames, which belong to a single build.
type Context struct {
	cc    *ContainerContext
	scope core.Scope

	scopeNames []string
	frames     []*frame
	remaining  immutable.Tree[reflect.Type, decoratorStack]
	decorating immutable.Tree[reflect.Type, bool]
	building   immutable.Tree[uint64, bool]
	overrides  []core.Override

	topLevel         bool
	fromRoot         bool
	behavior         core.Behavior
	parentLifeSpan   int
	requiredMetadata reflect.Type
}

var _ registration.Context = (*Context)(nil)

// NewContext starts a top-level build for a request made on s.
func NewContext(cc *ContainerContext, s core.Scope, req core.Request) *Context {
	return &Context{
		cc:             cc,
		scope:          s,
		scopeNames:     ScopeNames(s),
		overrides:      req.Overrides,
		topLevel:       true,
		fromRoot:       s != nil && s.ParentScope() == nil,
		behavior:       req.Behavior,
		parentLifeSpan: lifetime.SpanTransient,
	}
}

// ScopeNames lists the names of s and its ancestors, innermost first.
func ScopeNames(s core.Scope) []string {
	var out []string
	for cur := s; cur != nil; cur = cur.ParentScope() {
		if n := cur.Name(); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func (c *Context) Container() *ContainerContext   { return c.cc }
func (c *Context) Scope() core.Scope              { return c.scope }
func (c *Context) ScopeNames() []string           { return c.scopeNames }
func (c *Context) RequiredMetadata() reflect.Type { return c.requiredMetadata }
func (c *Context) Behavior() core.Behavior        { return c.behavior }
func (c *Context) IsTopLevel() bool               { return c.topLevel }
func (c *Context) RequestedFromRoot() bool        { return c.fromRoot }
func (c *Context) Overrides() []core.Override     { return c.overrides }

func (c *Context) ruleSet(decorator bool) []registration.Rule {
	switch {
	case decorator:
		return c.cc.Rules.Decorator
	case c.topLevel:
		return c.cc.Rules.TopLevel
	}
	return c.cc.Rules.Dependency
}

func (c *Context) copy() *Context {
	n := *c
	return &n
}

// Dependency returns the context used for the dependencies of a service
// living for lifeSpan.
func (c *Context) Dependency(lifeSpan int) *Context {
	n := c.copy()
	n.topLevel = false
	n.requiredMetadata = nil
	n.parentLifeSpan = max(c.parentLifeSpan, lifeSpan)
	return n
}

// ForContainer returns the context for delegating the request to another
// container of the family.
func (c *Context) ForContainer(cc *ContainerContext) *Context {
	n := c.copy()
	n.cc = cc
	return n
}

func (c *Context) withFrame(types []reflect.Type) *Context {
	n := c.copy()
	n.frames = append(slices.Clip(c.frames), &frame{types: types, used: make([]bool, len(types))})
	return n
}

func (c *Context) withRequiredMetadata(t reflect.Type) *Context {
	n := c.copy()
	n.requiredMetadata = t
	return n
}

func (c *Context) beginDecorating(t reflect.Type, rest decoratorStack) *Context {
	n := c.copy()
	n.decorating = c.decorating.AddOrUpdate(t, true, nil)
	n.remaining = c.remaining.AddOrUpdate(t, rest, nil)
	return n
}

func (c *Context) withRemaining(t reflect.Type, rest decoratorStack) *Context {
	n := c.copy()
	if len(rest) == 0 {
		n.remaining, _ = c.remaining.Remove(t)
	} else {
		n.remaining = c.remaining.AddOrUpdate(t, rest, nil)
	}
	return n
}

func (c *Context) isDecorating(t reflect.Type) bool {
	_, ok := c.decorating.Get(t)
	return ok
}

func (c *Context) isBuilding(id uint64) bool {
	_, ok := c.building.Get(id)
	return ok
}

// detached forgets the registrations under construction. Deferred builds
// run after the enclosing build has finished.
func (c *Context) detached() *Context {
	n := c.copy()
	n.building = immutable.Tree[uint64, bool]{}
	return n
}

func (c *Context) withBuilding(id uint64) *Context {
	n := c.copy()
	n.building = c.building.AddOrUpdate(id, true, nil)
	return n
}

// boundArgument looks for a factory argument that can satisfy t, searching
// the innermost frame first. Within a frame the first unused argument wins;
// once all are used the last one is reused.
func (c *Context) boundArgument(t reflect.Type) (frameIndex, argIndex int, ok bool) {
	for fi := len(c.frames) - 1; fi >= 0; fi-- {
		f := c.frames[fi]
		last := -1
		for ai, at := range f.types {
			if at != t && !at.AssignableTo(t) {
				continue
			}
			if !f.used[ai] {
				f.used[ai] = true
				return fi, ai, true
			}
			last = ai
		}
		if last >= 0 {
			return fi, last, true
		}
	}
	return 0, 0, false
}

func (c *Context) override(t reflect.Type, name string) bool {
	for _, o := range c.overrides {
		if o.Matches(t, name) {
			return true
		}
	}
	return false
}
