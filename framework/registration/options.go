package registration

import (
	"reflect"

	"github.com/km-arc/go-ioc/framework/core"
	"github.com/km-arc/go-ioc/framework/lifetime"
	"github.com/km-arc/go-ioc/framework/typeinfo"
)

// Option configures a registration.
//
//	c.Register(reflect.TypeFor[Store](), NewSQLStore,
//	    registration.WithName("primary"),
//	    registration.Singleton(),
//	)
type Option func(*Registration)

// Apply runs opts against r and returns it.
func (r *Registration) Apply(opts ...Option) *Registration {
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WithName sets the registration name.
func WithName(name string) Option {
	return func(r *Registration) { r.Name = name }
}

// WithLifetime sets the lifetime descriptor.
func WithLifetime(d lifetime.Descriptor) Option {
	return func(r *Registration) { r.Lifetime = d }
}

// Singleton shares one instance per container.
func Singleton() Option { return WithLifetime(lifetime.Singleton) }

// Scoped shares one instance per resolution scope.
func Scoped() Option { return WithLifetime(lifetime.Scoped) }

// Transient builds a new instance for every request.
func Transient() Option { return WithLifetime(lifetime.Transient) }

// InNamedScope shares one instance per scope called name, and limits the
// registration to requests made inside such a scope.
func InNamedScope(name string) Option { return WithLifetime(lifetime.NamedScope(name)) }

// WithMetadata attaches a value readable through core.Metadata.
func WithMetadata(v any) Option {
	return func(r *Registration) { r.Metadata = v }
}

// WhenDependantIs restricts the registration to dependencies of parent.
func WhenDependantIs(parent reflect.Type) Option {
	return func(r *Registration) { r.Conditions.Parents = append(r.Conditions.Parents, parent) }
}

// WhenHas restricts the registration to members tagged with marker.
func WhenHas(marker string) Option {
	return func(r *Registration) { r.Conditions.Markers = append(r.Conditions.Markers, marker) }
}

// When restricts the registration with a custom predicate.
func When(pred func(*typeinfo.Info) bool) Option {
	return func(r *Registration) { r.Conditions.Predicates = append(r.Conditions.Predicates, pred) }
}

// ReplaceExisting replaces a registration occupying the same slot whatever
// the container's conflict policy.
func ReplaceExisting() Option {
	return func(r *Registration) { r.ReplaceExisting = true }
}

// ReplaceOnlyIfExists updates an existing slot in place and is a no-op when
// the slot is empty.
func ReplaceOnlyIfExists() Option {
	return func(r *Registration) { r.ReplaceOnlyIfExists = true }
}

// WithoutDisposalTracking keeps instances out of the scope's disposal list.
func WithoutDisposalTracking() Option {
	return func(r *Registration) { r.WithoutDisposalTracking = true }
}

// WithInitializer runs fn on every new instance before it is handed out.
func WithInitializer(fn func(instance any, r core.Resolver) error) Option {
	return func(r *Registration) { r.Initializer = fn }
}

// WithFinalizer runs fn when the owning scope is disposed.
func WithFinalizer(fn func(instance any)) Option {
	return func(r *Registration) { r.Finalizer = fn }
}

// WithConstraint restricts type parameter index of an open generic.
func WithConstraint(index int, cs ...typeinfo.Constraint) Option {
	return func(r *Registration) {
		if r.Constraints == nil {
			r.Constraints = make(map[int][]typeinfo.Constraint)
		}
		r.Constraints[index] = append(r.Constraints[index], cs...)
	}
}

// Promoted makes closed instantiations of an open generic permanent
// registrations of their own.
func Promoted() Option {
	return func(r *Registration) { r.Promote = true }
}

// ── Conditions ────────────────────────────────────────────────────────────────

// Conditions restrict when a registration may satisfy a dependency. Any
// single satisfied condition makes the registration eligible.
type Conditions struct {
	Parents    []reflect.Type
	Markers    []string
	Predicates []func(*typeinfo.Info) bool
}

// IsEmpty reports whether no condition was declared.
func (c Conditions) IsEmpty() bool {
	return len(c.Parents) == 0 && len(c.Markers) == 0 && len(c.Predicates) == 0
}

// SatisfiedBy evaluates the conditions against a dependency request.
func (c Conditions) SatisfiedBy(info *typeinfo.Info) bool {
	if c.IsEmpty() {
		return true
	}
	for _, p := range c.Parents {
		if info.ParentType != nil && (info.ParentType == p || typeinfo.Implements(info.ParentType, p)) {
			return true
		}
	}
	for _, m := range c.Markers {
		if info.HasMarker(m) {
			return true
		}
	}
	for _, pred := range c.Predicates {
		if pred(info) {
			return true
		}
	}
	return false
}
