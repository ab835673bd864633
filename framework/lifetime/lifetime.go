package lifetime

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/km-arc/go-ioc/framework/core"
)

// Life-span values. A longer-lived service must not capture a shorter-lived
// one, and a decorator without a lifetime of its own inherits the one of
// the service it decorates.
const (
	SpanEmpty     = -1
	SpanTransient = 0
	SpanScoped    = 10
	SpanSingleton = 20
)

// Target is what a descriptor needs to know about the plan it wraps.
type Target struct {
	RegistrationID uint64
	ServiceType    reflect.Type
	// Root is the root scope of the container owning the registration.
	Root core.Scope
	// Validate turns on lifetime validation.
	Validate bool
	// RequestedFromRoot is set when the request was made on a root scope.
	RequestedFromRoot bool
	// ParentLifeSpan is the life-span of the service that asked for this
	// one, or SpanTransient for a top-level request.
	ParentLifeSpan int
	// Path describes the request chain for error messages.
	Path string
}

// Descriptor turns a raw construction plan into a lifetime-managed one.
type Descriptor interface {
	Name() string
	LifeSpan() int
	Apply(plan core.Plan, t Target) (core.Plan, error)
}

// ScopeNamed is implemented by descriptors bound to named scopes.
type ScopeNamed interface {
	ScopeNames() []string
}

// ── Empty / Transient ─────────────────────────────────────────────────────────

type empty struct{}

// Empty declares no lifetime; decorators use it to inherit one.
var Empty Descriptor = empty{}

func (empty) Name() string                                   { return "Empty" }
func (empty) LifeSpan() int                                  { return SpanEmpty }
func (empty) Apply(p core.Plan, _ Target) (core.Plan, error) { return p, nil }

type transient struct{}

// Transient builds a new instance every time the plan runs.
var Transient Descriptor = transient{}

func (transient) Name() string                                   { return "Transient" }
func (transient) LifeSpan() int                                  { return SpanTransient }
func (transient) Apply(p core.Plan, _ Target) (core.Plan, error) { return p, nil }

// ── Scoped ────────────────────────────────────────────────────────────────────

type scoped struct{}

// Scoped caches one instance per resolution scope.
var Scoped Descriptor = scoped{}

func (scoped) Name() string  { return "Scoped" }
func (scoped) LifeSpan() int { return SpanScoped }

func (s scoped) Apply(p core.Plan, t Target) (core.Plan, error) {
	if err := validate(s, t); err != nil {
		return nil, err
	}
	if t.Validate && t.RequestedFromRoot {
		return nil, &core.LifetimeError{
			Type:     t.ServiceType,
			Lifetime: s.Name(),
			Path:     t.Path,
			Reason:   "resolved from the root scope, which would extend it to the container's lifetime",
		}
	}
	id, path := t.RegistrationID, t.Path
	return func(rt *core.Runtime) (any, error) {
		return cached(rt, rt.Scope, id, path, func() (any, error) { return p(rt) })
	}, nil
}

// ── Singleton ─────────────────────────────────────────────────────────────────

type singleton struct{}

// Singleton caches one instance in the root scope of the owning container.
var Singleton Descriptor = singleton{}

func (singleton) Name() string  { return "Singleton" }
func (singleton) LifeSpan() int { return SpanSingleton }

func (s singleton) Apply(p core.Plan, t Target) (core.Plan, error) {
	if err := validate(s, t); err != nil {
		return nil, err
	}
	if t.Root == nil {
		return nil, fmt.Errorf("lifetime: singleton %s has no root scope", t.ServiceType)
	}
	id, root, path := t.RegistrationID, t.Root, t.Path
	return func(rt *core.Runtime) (any, error) {
		return cached(rt, root, id, path, func() (any, error) { return p(rt.WithScope(root)) })
	}, nil
}

// ── Named scope ───────────────────────────────────────────────────────────────

type namedScope struct{ name string }

// NamedScope caches one instance in the nearest enclosing scope called name.
// Registrations using it are only eligible inside such a scope.
func NamedScope(name string) Descriptor { return namedScope{name: name} }

func (n namedScope) Name() string         { return "NamedScope(" + n.name + ")" }
func (namedScope) LifeSpan() int          { return SpanScoped }
func (n namedScope) ScopeNames() []string { return []string{n.name} }

func (n namedScope) Apply(p core.Plan, t Target) (core.Plan, error) {
	if err := validate(n, t); err != nil {
		return nil, err
	}
	id, name, st, path := t.RegistrationID, n.name, t.ServiceType, t.Path
	return func(rt *core.Runtime) (any, error) {
		s, ok := rt.Scope.NamedScope(name)
		if !ok {
			return nil, &core.ResolutionError{
				Type:   st,
				Err:    core.ErrUnresolvable,
				Reason: fmt.Sprintf("no enclosing scope named %q", name),
			}
		}
		return cached(rt, s, id, path, func() (any, error) { return p(rt.WithScope(s)) })
	}, nil
}

// ── helpers ───────────────────────────────────────────────────────────────────

// cached returns the instance id of s, building it on first use. A build
// that asks for its own instance again on the same chain is a cycle.
func cached(rt *core.Runtime, s core.Scope, id uint64, path string, build func() (any, error)) (any, error) {
	chain := rt.Chain()
	if !chain.Enter(s, id) {
		return nil, &core.CycleError{Path: path}
	}
	defer chain.Leave(s, id)
	return s.GetOrAddScoped(id, build)
}

// validate rejects a dependency that would be captured by a longer-lived parent.
func validate(d Descriptor, t Target) error {
	if !t.Validate || d.LifeSpan() <= SpanTransient || t.ParentLifeSpan <= d.LifeSpan() {
		return nil
	}
	return &core.LifetimeError{
		Type:     t.ServiceType,
		Lifetime: d.Name(),
		Path:     t.Path,
		Reason:   fmt.Sprintf("captured by a parent with a longer life-span (%d > %d)", t.ParentLifeSpan, d.LifeSpan()),
	}
}

// Inherit returns the lifetime a decorator runs under: its own, unless it
// declares none, in which case the decorated service's.
func Inherit(decorator, decorated Descriptor) Descriptor {
	if decorator == nil || decorator.LifeSpan() == SpanEmpty {
		return decorated
	}
	return decorator
}

// Parse maps a configuration value onto a descriptor.
func Parse(s string) (Descriptor, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "transient":
		return Transient, nil
	case "scoped":
		return Scoped, nil
	case "singleton":
		return Singleton, nil
	}
	return nil, fmt.Errorf("lifetime: unknown lifetime %q", s)
}
