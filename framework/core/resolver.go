package core

import (
	"io"
	"reflect"
)

// Behavior selects which containers a request may be answered from.
type Behavior uint8

const (
	// BehaviorCurrent looks at the container the request was made on.
	BehaviorCurrent Behavior = 1 << iota
	// BehaviorParent falls back to the parent container chain.
	BehaviorParent
	// BehaviorParentDependency builds registrations found in a parent
	// container with the dependencies of the requesting container.
	BehaviorParentDependency

	BehaviorDefault = BehaviorCurrent | BehaviorParent
)

// Has reports whether every flag in f is set.
func (b Behavior) Has(f Behavior) bool { return b&f == f }

// Request carries the per-call options of a resolve call.
type Request struct {
	Name      string
	Overrides []Override
	Behavior  Behavior
	// Chain is the build chain of the call this one is nested in.
	Chain *Chain
}

// ResolveOption customises a resolve call.
type ResolveOption func(*Request)

// WithName asks for the registration with the given name.
func WithName(name string) ResolveOption {
	return func(r *Request) { r.Name = name }
}

// WithOverrides supplies values that win over registrations for this call
// only. Values that are not already an Override match by type alone.
func WithOverrides(values ...any) ResolveOption {
	return func(r *Request) {
		for _, v := range values {
			if o, ok := v.(Override); ok {
				r.Overrides = append(r.Overrides, o)
				continue
			}
			r.Overrides = append(r.Overrides, Override{Value: v})
		}
	}
}

// WithBehavior changes which containers are consulted.
func WithBehavior(b Behavior) ResolveOption {
	return func(r *Request) { r.Behavior = b }
}

// OnChain nests the call in the build chain c.
func OnChain(c *Chain) ResolveOption {
	return func(r *Request) { r.Chain = c }
}

// NewRequest applies opts over the defaults.
func NewRequest(opts ...ResolveOption) Request {
	r := Request{Behavior: BehaviorDefault}
	for _, opt := range opts {
		opt(&r)
	}
	if r.Behavior == 0 {
		r.Behavior = BehaviorDefault
	}
	return r
}

// Resolver resolves services. Every Scope is a Resolver, and a constructor
// may take a Resolver parameter to receive the scope it is built in.
type Resolver interface {
	Resolve(t reflect.Type, opts ...ResolveOption) (any, error)
	ResolveOrDefault(t reflect.Type, opts ...ResolveOption) (any, error)
	ResolveAll(t reflect.Type, opts ...ResolveOption) ([]any, error)
	CanResolve(t reflect.Type, opts ...ResolveOption) bool
}

// Scope is a node of the resolution scope tree. It owns the instances of
// scoped registrations and the disposables created inside it.
type Scope interface {
	Resolver

	ID() string
	Name() string
	ParentScope() Scope

	// GetOrAddScoped returns the instance cached under key, running build at
	// most once per scope to create it.
	GetOrAddScoped(key uint64, build func() (any, error)) (any, error)
	// NamedScope finds the nearest scope, starting with this one, named name.
	NamedScope(name string) (Scope, bool)
	// ScopedInstance finds a value put into this scope or one of its parents.
	ScopedInstance(t reflect.Type, name string) (any, bool)
	// HasScopedInstances reports whether this scope chain holds put values.
	HasScopedInstances() bool
	// TrackDisposable registers v to be disposed with the scope.
	TrackDisposable(v any)

	BeginScope(name string) Scope
	Dispose() error
}

// Factory builds an instance using the resolver of the scope it runs in.
type Factory func(r Resolver) (any, error)

// Disposable is implemented by services that release resources when their
// owning scope is disposed. io.Closer values are tracked as well.
type Disposable interface {
	Dispose() error
}

// IsDisposable reports whether v needs disposal tracking.
func IsDisposable(v any) bool {
	switch v.(type) {
	case Disposable, io.Closer:
		return true
	}
	return false
}

// DisposeValue releases v if it is disposable.
func DisposeValue(v any) error {
	switch d := v.(type) {
	case Disposable:
		return d.Dispose()
	case io.Closer:
		return d.Close()
	}
	return nil
}

var (
	ResolverType       = reflect.TypeFor[Resolver]()
	ScopeType          = reflect.TypeFor[Scope]()
	RequestContextType = reflect.TypeFor[*RequestContext]()
)
